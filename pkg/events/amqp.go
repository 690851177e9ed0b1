package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	DefaultExchange = "entitlements.lifecycle"
	DefaultQueue    = "entitlements.lifecycle.listener"
)

// AMQPConfig configures the RabbitMQ transport.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// AMQPBus publishes to a topic exchange keyed by lifecycle topic and consumes
// from a durable queue bound to the requested topics.
type AMQPBus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	logg     *logger.Logger
	mu       sync.Mutex
}

func NewAMQPBus(ctx context.Context, cfg AMQPConfig, logg *logger.Logger) (*AMQPBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", cfg.Exchange), "rabbitmq event bus connected")
	}

	return &AMQPBus{conn: conn, channel: ch, exchange: cfg.Exchange, queue: cfg.Queue, logg: logg}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.channel.PublishWithContext(ctx, b.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", topic, err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, topics []string, h Handler) error {
	b.mu.Lock()
	if _, err := b.channel.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, topic := range topics {
		if err := b.channel.QueueBind(b.queue, topic, b.exchange, false, nil); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("bind %s: %w", topic, err)
		}
	}
	if err := b.channel.Qos(1, 0, false); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := b.channel.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			b.process(ctx, msg, h)
		}
	}
}

func (b *AMQPBus) process(ctx context.Context, msg amqp.Delivery, h Handler) {
	env, err := Decode(msg.Body)
	if err != nil {
		b.warn(ctx, msg.RoutingKey, "dropping undecodable event", err)
		_ = msg.Nack(false, false)
		return
	}
	if err := h(ctx, env); err != nil {
		b.warn(ctx, msg.RoutingKey, "event handler failed", err)
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

func (b *AMQPBus) warn(ctx context.Context, topic, msg string, err error) {
	if b.logg == nil {
		return
	}
	b.logg.WarnErr(b.logg.WithField(ctx, "topic", topic), msg, err)
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.channel != nil {
		err = multierr.Append(err, b.channel.Close())
	}
	if b.conn != nil {
		err = multierr.Append(err, b.conn.Close())
	}
	return err
}
