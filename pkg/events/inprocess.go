package events

import (
	"context"
	"sync"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// InProcessBus dispatches synchronously to handlers in the same process.
// Handler failures are logged and never reported to the publisher.
type InProcessBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logg     *logger.Logger
}

func NewInProcessBus(logg *logger.Logger) *InProcessBus {
	return &InProcessBus{handlers: map[string][]Handler{}, logg: logg}
}

func (b *InProcessBus) Publish(ctx context.Context, topic string, payload []byte) error {
	env, err := Decode(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, env); err != nil && b.logg != nil {
			b.logg.WarnErr(b.logg.WithField(ctx, "topic", topic), "in-process handler failed", err)
		}
	}
	return nil
}

// Subscribe registers h for topics and blocks until ctx is done.
func (b *InProcessBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	b.Register(topics, h)
	<-ctx.Done()
	return nil
}

// Register adds h without blocking.
func (b *InProcessBus) Register(topics []string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		b.handlers[topic] = append(b.handlers[topic], h)
	}
}

func (b *InProcessBus) Close() error {
	return nil
}

// NoopPublisher accepts and discards everything.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
