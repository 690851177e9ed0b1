// Package bootstrap assembles the lifecycle engine and its collaborators from
// config so every binary wires the same graph.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/cache"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/events"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
	"github.com/angelmondragon/entitlements-backend/pkg/retry"
)

const memoryCacheCleanup = time.Minute

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// Runtime holds the wired services. Close releases what Build opened; the
// DB and Redis clients stay with the caller.
type Runtime struct {
	Cache         cache.Cache
	Transport     events.Transport
	Metrics       *metrics.LifecycleMetrics
	Plans         *plans.Service
	Subscriptions subscriptions.Service

	closeEvents func() error
}

// NeedsRedis reports whether cfg selects a backend that only Redis can serve.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.Cache.Backend == config.CacheBackendRedis || cfg.Events.Backend == config.EventsBackendRedis
}

// ConnectRedis dials Redis when it is configured or required. It returns nil
// when neither holds.
func ConnectRedis(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*redis.Client, error) {
	if cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		if NeedsRedis(cfg) {
			return nil, fmt.Errorf("%s or %s is required for the selected backends", config.EnvRedisURL, config.EnvRedisAddr)
		}
		return nil, nil
	}
	return redis.New(ctx, cfg.Redis, logg)
}

func Build(ctx context.Context, p Params) (*Runtime, error) {
	if p.Config == nil {
		return nil, errors.New("config is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.DB == nil {
		return nil, errors.New("database client is required")
	}
	cfg, logg := p.Config, p.Logger

	reg := p.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	lifecycleMetrics := metrics.NewLifecycleMetrics(reg)

	backend, err := newCacheBackend(cfg, p.Redis, logg)
	if err != nil {
		return nil, err
	}

	eventDeps := events.Deps{Logger: logg}
	if p.Redis != nil {
		eventDeps.Redis = p.Redis
	}
	transport, closeEvents, err := events.Open(ctx, cfg, eventDeps)
	if err != nil {
		return nil, fmt.Errorf("open event channel: %w", err)
	}

	planService, err := plans.NewService(plans.ServiceParams{
		Repo:      plans.NewRepository(p.DB.DB()),
		Cache:     cache.NewFailOpen(backend, "plans", logg, lifecycleMetrics),
		Namespace: cache.NewNamespace(backend, plans.NamespaceName),
		PlanTTL:   cfg.Cache.PlanTTL,
		StatsTTL:  cfg.Cache.StatsTTL,
		Logger:    logg,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("build plan service: %w", err), closeEvents())
	}

	retrier := retry.New(retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, retry.WithObserver(func(err error, attempt int, wait time.Duration) {
		logg.WarnErr(logg.WithFields(context.Background(), map[string]any{
			"attempt": attempt,
			"wait":    wait.String(),
		}), "store operation failed, retrying", err)
	}))

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Store:            subscriptions.NewRepository(p.DB.DB()),
		Plans:            plans.NewRepository(p.DB.DB()),
		Cache:            cache.NewFailOpen(backend, "subscriptions", logg, lifecycleMetrics),
		Events:           events.NewEmitter(transport, logg, lifecycleMetrics),
		Retry:            retrier,
		Logger:           logg,
		Metrics:          lifecycleMetrics,
		CacheTTL:         cfg.Cache.SubscriptionTTL,
		RevalidateExpiry: cfg.Cache.RevalidateExpiry,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("build subscription service: %w", err), closeEvents())
	}

	return &Runtime{
		Cache:         backend,
		Transport:     transport,
		Metrics:       lifecycleMetrics,
		Plans:         planService,
		Subscriptions: subscriptionService,
		closeEvents:   closeEvents,
	}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.closeEvents == nil {
		return nil
	}
	return r.closeEvents()
}

func newCacheBackend(cfg *config.Config, client *redis.Client, logg *logger.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		if client == nil {
			return nil, errors.New("redis client required for redis cache backend")
		}
		return cache.NewRedisCache(client, cache.BreakerSettings{
			ConsecutiveFailures: cfg.Cache.BreakerFailures,
			Cooldown:            cfg.Cache.BreakerCooldown,
		}, logg)
	case config.CacheBackendMemory:
		return cache.NewMemoryCache(memoryCacheCleanup), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
