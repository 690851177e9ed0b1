package events

import (
	"context"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

const defaultEmitTimeout = 3 * time.Second

// Outcome is the result of a best-effort emit.
type Outcome string

const (
	OutcomeDelivered Outcome = metrics.EventDelivered
	OutcomeDropped   Outcome = metrics.EventDropped
)

// Emitter turns every publish into an explicit delivered/dropped outcome. It
// never returns an error, so a broken channel cannot fail a transition.
type Emitter struct {
	publisher Publisher
	logg      *logger.Logger
	metrics   *metrics.LifecycleMetrics
	timeout   time.Duration
	now       func() time.Time
}

type EmitterOption func(*Emitter)

func WithEmitTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithEmitClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEmitter(publisher Publisher, logg *logger.Logger, m *metrics.LifecycleMetrics, opts ...EmitterOption) *Emitter {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	e := &Emitter{
		publisher: publisher,
		logg:      logg,
		metrics:   m,
		timeout:   defaultEmitTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit publishes data on topic. The publish is detached from ctx
// cancellation and bounded by the emitter timeout.
func (e *Emitter) Emit(ctx context.Context, topic string, data any) Outcome {
	payload, env, err := Encode(topic, data, e.now())
	if err != nil {
		return e.drop(ctx, topic, "", err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.publisher.Publish(pubCtx, topic, payload); err != nil {
		return e.drop(ctx, topic, env.EventID, err)
	}
	e.metrics.ObserveEvent(topic, metrics.EventDelivered)
	return OutcomeDelivered
}

func (e *Emitter) drop(ctx context.Context, topic, eventID string, err error) Outcome {
	e.metrics.ObserveEvent(topic, metrics.EventDropped)
	if e.logg != nil {
		ctx = e.logg.WithFields(ctx, map[string]any{"topic": topic, "event_id": eventID})
		e.logg.WarnErr(ctx, "lifecycle event dropped", err)
	}
	return OutcomeDropped
}
