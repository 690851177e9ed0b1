// Package retry wraps single store calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMultiplier   = 2.0
)

// Policy controls how a failing operation is retried. MaxRetries counts
// retries after the first attempt.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// Observer is invoked before each wait with the failure, the 1-based attempt
// that failed and the delay before the next attempt.
type Observer func(err error, attempt int, wait time.Duration)

type Option func(*Retrier)

// WithObserver registers a callback fired on every retried failure.
func WithObserver(obs Observer) Option {
	return func(r *Retrier) {
		r.observer = obs
	}
}

// WithTimer swaps the timer used to wait between attempts.
func WithTimer(timer backoff.Timer) Option {
	return func(r *Retrier) {
		r.timer = timer
	}
}

// WithClassifier overrides which errors stop retrying immediately.
func WithClassifier(retryable func(error) bool) Option {
	return func(r *Retrier) {
		r.retryable = retryable
	}
}

type Retrier struct {
	policy    Policy
	observer  Observer
	timer     backoff.Timer
	retryable func(error) bool
}

func New(policy Policy, opts ...Option) *Retrier {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultInitialDelay
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = DefaultMultiplier
	}
	r := &Retrier{policy: policy, retryable: pkgerrors.IsRetryable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultPolicy mirrors the store defaults: 3 retries from 500ms doubling.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, InitialDelay: DefaultInitialDelay, Multiplier: DefaultMultiplier}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op until it succeeds, a non-retryable error is returned, the
// context ends, or retries are exhausted. The last error is returned as is.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !r.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if r.observer != nil {
			r.observer(err, attempt, wait)
		}
	}

	return backoff.RetryNotifyWithTimer(operation, r.backOff(ctx), notify, r.timer)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialDelay
	exp.Multiplier = r.policy.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Hour
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxRetries)), ctx)
}
