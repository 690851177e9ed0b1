package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/events"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/retry"
)

const defaultResubscribeCooldown = 30 * time.Second

// Listener logs every lifecycle event seen on the channel. Missed events are
// not replayed.
type Listener struct {
	subscriber events.Subscriber
	logg       *logger.Logger
	retry      *retry.Retrier
	cooldown   time.Duration
}

type ListenerOption func(*Listener)

// WithListenerRetry sets the backoff used between subscribe attempts.
func WithListenerRetry(r *retry.Retrier) ListenerOption {
	return func(l *Listener) {
		l.retry = r
	}
}

// WithResubscribeCooldown sets the pause after retries are exhausted.
func WithResubscribeCooldown(d time.Duration) ListenerOption {
	return func(l *Listener) {
		l.cooldown = d
	}
}

func NewListener(subscriber events.Subscriber, logg *logger.Logger, opts ...ListenerOption) (*Listener, error) {
	if subscriber == nil {
		return nil, errors.New("subscriber required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	l := &Listener{subscriber: subscriber, logg: logg, cooldown: defaultResubscribeCooldown}
	for _, opt := range opts {
		opt(l)
	}
	if l.retry == nil {
		l.retry = retry.New(retry.DefaultPolicy(),
			retry.WithClassifier(func(error) bool { return true }),
			retry.WithObserver(func(err error, attempt int, wait time.Duration) {
				ctx := logg.WithFields(context.Background(), map[string]any{"attempt": attempt, "wait": wait.String()})
				logg.WarnErr(ctx, "lifecycle subscription dropped, resubscribing", err)
			}),
		)
	}
	if l.cooldown <= 0 {
		l.cooldown = defaultResubscribeCooldown
	}
	return l, nil
}

// Run blocks until ctx ends. A failed or closed subscription is retried with
// backoff and then again after the cooldown, so the channel never takes the
// process down with it.
func (l *Listener) Run(ctx context.Context) error {
	topics := lo.Map(enums.LifecycleTopics, func(t enums.LifecycleTopic, _ int) string { return t.String() })
	l.logg.Info(l.logg.WithField(ctx, "topics", topics), "lifecycle listener started")

	for {
		err := l.retry.Do(ctx, func(ctx context.Context) error {
			return l.subscriber.Subscribe(ctx, topics, l.Handle)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logg.Error(ctx, "lifecycle subscription failed", err)
		} else {
			l.logg.Warn(ctx, "lifecycle subscription closed")
		}

		timer := time.NewTimer(l.cooldown)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Handle logs one envelope. Undecodable data is reported to the transport.
func (l *Listener) Handle(ctx context.Context, env events.Envelope) error {
	data, err := events.DecodeSubscriptionEvent(env)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"topic":           env.Topic,
		"event_id":        env.EventID,
		"occurred_at":     env.OccurredAt,
		"user_id":         data.UserID,
		"subscription_id": data.SubscriptionID,
	}
	if data.PlanID != "" {
		fields["plan_id"] = data.PlanID
	}
	if len(data.Updates) > 0 {
		fields["updates"] = data.Updates
	}
	l.logg.Info(l.logg.WithFields(ctx, fields), "lifecycle event received")
	return nil
}
