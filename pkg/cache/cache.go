// Package cache provides the advisory key-value layer in front of the store.
// Nothing in here is authoritative: callers go through FailOpen so that an
// unavailable backend degrades to store-only reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// ErrUnavailable marks backend failures, including an open circuit.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache is implemented by every backend.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// GetJSON decodes the value stored at key into T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (*T, error) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var out T
	if err := decode(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return &out, nil
}

func decode(raw []byte, out any) error {
	return json.Unmarshal(raw, out)
}

// SetJSON encodes value as JSON and stores it with ttl.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
