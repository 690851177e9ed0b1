// Package events carries subscription lifecycle notifications. Delivery is
// best-effort and at-most-once from the producer's point of view: nothing is
// persisted for subscribers that are not listening.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const envelopeVersion = 1

// Envelope is the wire format shared by every backend.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// SubscriptionEvent is the data carried on every lifecycle topic.
type SubscriptionEvent struct {
	UserID         string         `json:"userId"`
	SubscriptionID string         `json:"subscriptionId"`
	PlanID         string         `json:"planId,omitempty"`
	Updates        map[string]any `json:"updates,omitempty"`
}

// Publisher sends an encoded envelope on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Handler processes one received envelope.
type Handler func(ctx context.Context, env Envelope) error

// Subscriber delivers envelopes for the given topics to h until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, h Handler) error
}

// Encode wraps data in a new envelope for topic.
func Encode(topic string, data any, occurredAt time.Time) ([]byte, Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode %s data: %w", topic, err)
	}
	env := Envelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		Topic:      topic,
		OccurredAt: occurredAt.UTC(),
		Data:       raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode %s envelope: %w", topic, err)
	}
	return payload, env, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" || env.Topic == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event id or topic")
	}
	return env, nil
}

// DecodeSubscriptionEvent unpacks the lifecycle data of env.
func DecodeSubscriptionEvent(env Envelope) (SubscriptionEvent, error) {
	var data SubscriptionEvent
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return SubscriptionEvent{}, fmt.Errorf("decode %s data: %w", env.Topic, err)
	}
	return data, nil
}
