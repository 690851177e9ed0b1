package cache

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local backend for single-instance runs and tests.
type MemoryCache struct {
	store *gocache.Cache
}

func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryCache{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := c.store.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	switch v := value.(type) {
	case []byte:
		return v, nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	default:
		return nil, ErrMiss
	}
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.store.Set(key, stored, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.store.Delete(key)
	}
	return nil
}

func (c *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	_ = c.store.Add(key, int64(0), gocache.NoExpiration)
	return c.store.IncrementInt64(key, 1)
}
