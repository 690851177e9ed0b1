package cache

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

// FailOpen wraps a Cache so that no backend failure ever reaches the caller.
// A failed read is a miss and failed writes are logged and dropped.
type FailOpen struct {
	backend Cache
	name    string
	logg    *logger.Logger
	metrics *metrics.LifecycleMetrics
}

func NewFailOpen(backend Cache, name string, logg *logger.Logger, m *metrics.LifecycleMetrics) *FailOpen {
	return &FailOpen{backend: backend, name: name, logg: logg, metrics: m}
}

// Get returns the raw value and whether it was found.
func (f *FailOpen) Get(ctx context.Context, key string) ([]byte, bool) {
	if f == nil || f.backend == nil {
		return nil, false
	}
	raw, err := f.backend.Get(ctx, key)
	switch {
	case err == nil:
		f.metrics.ObserveCacheLookup(f.name, metrics.CacheHit)
		return raw, true
	case errors.Is(err, ErrMiss):
		f.metrics.ObserveCacheLookup(f.name, metrics.CacheMiss)
	default:
		f.metrics.ObserveCacheLookup(f.name, metrics.CacheError)
		f.warn(ctx, key, "cache get failed, treating as miss", err)
	}
	return nil, false
}

// GetJSON decodes a hit into out. Undecodable entries count as misses.
func (f *FailOpen) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := f.Get(ctx, key)
	if !ok {
		return false
	}
	if err := decode(raw, out); err != nil {
		f.warn(ctx, key, "cache value undecodable, treating as miss", err)
		return false
	}
	return true
}

func (f *FailOpen) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if f == nil || f.backend == nil {
		return
	}
	if err := SetJSON(ctx, f.backend, key, value, ttl); err != nil {
		f.warn(ctx, key, "cache set failed", err)
	}
}

func (f *FailOpen) Delete(ctx context.Context, keys ...string) {
	if f == nil || f.backend == nil {
		return
	}
	if err := f.backend.Delete(ctx, keys...); err != nil {
		f.warn(ctx, keys, "cache delete failed", err)
	}
}

func (f *FailOpen) warn(ctx context.Context, key any, msg string, err error) {
	if f.logg == nil {
		return
	}
	ctx = f.logg.WithFields(ctx, map[string]any{"cache": f.name, "cache_key": key})
	f.logg.WarnErr(ctx, msg, err)
}
