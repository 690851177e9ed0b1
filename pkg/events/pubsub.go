package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/pubsub"
)

// ErrTopicMissing is returned when the Pub/Sub topic for a lifecycle topic
// has not been provisioned.
var ErrTopicMissing = errors.New("pubsub topic not provisioned")

// PubSubBus carries lifecycle events over Google Cloud Pub/Sub. Each
// lifecycle topic maps to its own Pub/Sub topic; the listener reads one
// subscription and filters on the topic attribute.
type PubSubBus struct {
	client     *pubsub.Client
	logg       *logger.Logger
	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func NewPubSubBus(client *pubsub.Client, logg *logger.Logger) (*PubSubBus, error) {
	if client == nil {
		return nil, errors.New("pubsub client required for event bus")
	}
	return &PubSubBus{client: client, logg: logg, publishers: map[string]*gcppubsub.Publisher{}}, nil
}

func (b *PubSubBus) publisher(topic string) *gcppubsub.Publisher {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.publishers[topic]; ok {
		return p
	}
	p := b.client.Publisher(topic)
	if p != nil {
		b.publishers[topic] = p
	}
	return p
}

func (b *PubSubBus) Publish(ctx context.Context, topic string, payload []byte) error {
	p := b.publisher(topic)
	if p == nil {
		return fmt.Errorf("pubsub publisher unavailable for %s", topic)
	}
	res := p.Publish(ctx, &gcppubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"topic": topic},
	})
	if _, err := res.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrTopicMissing, b.client.TopicID(topic))
		}
		return fmt.Errorf("pubsub publish %s: %w", topic, err)
	}
	return nil
}

func (b *PubSubBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	sub := b.client.Subscription()
	if sub == nil {
		return errors.New("pubsub subscription not configured")
	}
	wanted := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		wanted[t] = struct{}{}
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if _, ok := wanted[msg.Attributes["topic"]]; !ok {
			msg.Ack()
			return
		}
		env, err := Decode(msg.Data)
		if err != nil {
			b.warn(ctx, msg.Attributes["topic"], "dropping undecodable event", err)
			msg.Ack()
			return
		}
		if err := h(ctx, env); err != nil {
			b.warn(ctx, env.Topic, "event handler failed", err)
		}
		msg.Ack()
	})
}

func (b *PubSubBus) warn(ctx context.Context, topic, msg string, err error) {
	if b.logg == nil {
		return
	}
	b.logg.WarnErr(b.logg.WithField(ctx, "topic", topic), msg, err)
}

// Close flushes pending publishes. The underlying client is owned by the caller.
func (b *PubSubBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, p := range b.publishers {
		p.Stop()
		delete(b.publishers, topic)
	}
	return nil
}
