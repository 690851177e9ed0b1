package events

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/pubsub"
)

// Transport is a backend able to both publish and subscribe.
type Transport interface {
	Publisher
	Subscriber
}

// noopTransport publishes into the void and never delivers.
type noopTransport struct {
	NoopPublisher
}

func (noopTransport) Subscribe(ctx context.Context, _ []string, _ Handler) error {
	<-ctx.Done()
	return nil
}

// Deps carries the shared clients a transport may reuse.
type Deps struct {
	Redis  redisPubSub
	Logger *logger.Logger
}

// Open builds the transport selected by cfg.Events.Backend. The returned
// closer releases transport-owned connections only.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (Transport, func() error, error) {
	switch cfg.Events.Backend {
	case config.EventsBackendRedis:
		bus, err := NewRedisBus(deps.Redis, deps.Logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	case config.EventsBackendRabbitMQ:
		bus, err := NewAMQPBus(ctx, AMQPConfig{
			URL:      cfg.Events.AMQPURL,
			Exchange: cfg.Events.AMQPExchange,
			Queue:    cfg.Events.AMQPQueue,
		}, deps.Logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, deps.Logger)
		if err != nil {
			return nil, nil, err
		}
		bus, err := NewPubSubBus(client, deps.Logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		closer := func() error {
			return multierr.Combine(bus.Close(), client.Close())
		}
		return bus, closer, nil
	case config.EventsBackendInProcess:
		bus := NewInProcessBus(deps.Logger)
		return bus, bus.Close, nil
	case config.EventsBackendNoop:
		return noopTransport{}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}
