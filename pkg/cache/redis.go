package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// redisStore is the subset of pkg/redis.Client used by the cache.
type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// BreakerSettings tunes the circuit breaker in front of Redis.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	Cooldown            time.Duration
}

// RedisCache stores values in Redis behind a circuit breaker so an outage
// fails fast instead of stalling every request on dial timeouts.
type RedisCache struct {
	client  redisStore
	breaker *gobreaker.CircuitBreaker[any]
}

func NewRedisCache(client redisStore, settings BreakerSettings, logg *logger.Logger) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client required for cache")
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = defaultBreakerFailures
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = defaultBreakerCooldown
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "cache circuit breaker state changed")
		},
	})

	return &RedisCache{client: client, breaker: breaker}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.execute(func() (any, error) {
		value, err := c.client.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		if err != nil {
			return nil, err
		}
		return []byte(value), nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.execute(func() (any, error) {
		return nil, c.client.Set(ctx, key, value, ttl)
	})
	return err
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.execute(func() (any, error) {
		return nil, c.client.Del(ctx, keys...)
	})
	return err
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	out, err := c.execute(func() (any, error) {
		return c.client.Incr(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// State exposes the breaker state for readiness reporting.
func (c *RedisCache) State() string {
	return c.breaker.State().String()
}

func (c *RedisCache) execute(fn func() (any, error)) (any, error) {
	out, err := c.breaker.Execute(fn)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ErrMiss):
		return nil, ErrMiss
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
