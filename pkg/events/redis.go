package events

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type redisPubSub interface {
	Publish(ctx context.Context, channel string, payload any) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// RedisBus fans events out over Redis PUBLISH/SUBSCRIBE. Messages sent while
// no subscriber is connected are lost.
type RedisBus struct {
	client redisPubSub
	logg   *logger.Logger
}

func NewRedisBus(client redisPubSub, logg *logger.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, errors.New("redis client required for event bus")
	}
	return &RedisBus{client: client, logg: logg}, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, err := b.client.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	ps, err := b.client.Subscribe(ctx, topics...)
	if err != nil {
		return err
	}
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription channel closed")
			}
			b.dispatch(ctx, msg.Channel, []byte(msg.Payload), h)
		}
	}
}

func (b *RedisBus) dispatch(ctx context.Context, topic string, payload []byte, h Handler) {
	env, err := Decode(payload)
	if err != nil {
		if b.logg != nil {
			b.logg.WarnErr(b.logg.WithField(ctx, "topic", topic), "dropping undecodable event", err)
		}
		return
	}
	if err := h(ctx, env); err != nil && b.logg != nil {
		b.logg.WarnErr(b.logg.WithFields(ctx, map[string]any{"topic": topic, "event_id": env.EventID}), "event handler failed", err)
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBus) Close() error {
	return nil
}
