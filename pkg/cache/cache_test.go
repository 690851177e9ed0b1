package cache

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

type fakeRedis struct {
	data  map[string]string
	calls int
	err   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) Incr(_ context.Context, key string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

type record struct {
	ID     string
	Status string
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	if _, err := c.Get(ctx, "subscription:u1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := SetJSON(ctx, c, "subscription:u1", record{ID: "s1", Status: "ACTIVE"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := GetJSON[record](ctx, c, "subscription:u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s1" || got.Status != "ACTIVE" {
		t.Fatalf("unexpected value %+v", got)
	}
	if err := c.Delete(ctx, "subscription:u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "subscription:u1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryCacheHonoursTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	if err := c.Set(ctx, "health:check", []byte("{}"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := c.Get(ctx, "health:check"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestMemoryCacheIncr(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "plans:version")
		if err != nil || got != want {
			t.Fatalf("expected %d, got %d err=%v", want, got, err)
		}
	}
	raw, err := c.Get(ctx, "plans:version")
	if err != nil || string(raw) != "3" {
		t.Fatalf("expected counter readable as 3, got %q err=%v", raw, err)
	}
}

func TestRedisCacheMissIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	c, err := NewRedisCache(store, BreakerSettings{ConsecutiveFailures: 2, Cooldown: time.Minute}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
			t.Fatalf("expected miss, got %v", err)
		}
	}
	if c.State() != "closed" {
		t.Fatalf("misses must not trip the breaker, state=%s", c.State())
	}
}

func TestRedisCacheBreakerOpensAndFailsFast(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	store.err = errors.New("dial tcp: connection refused")
	c, err := NewRedisCache(store, BreakerSettings{ConsecutiveFailures: 2, Cooldown: time.Minute}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := c.Set(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	if c.State() != "open" {
		t.Fatalf("expected open breaker, got %s", c.State())
	}

	before := store.calls
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable while open, got %v", err)
	}
	if store.calls != before {
		t.Fatalf("open breaker must not reach redis")
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, ErrUnavailable
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error { return ErrUnavailable }
func (brokenCache) Delete(context.Context, ...string) error                  { return ErrUnavailable }
func (brokenCache) Incr(context.Context, string) (int64, error)              { return 0, ErrUnavailable }

func TestFailOpenSwallowsBackendFailures(t *testing.T) {
	ctx := context.Background()
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	m := metrics.NewLifecycleMetrics(prometheus.NewRegistry())
	f := NewFailOpen(brokenCache{}, "subscription", logg, m)

	var out record
	if f.GetJSON(ctx, "subscription:u1", &out) {
		t.Fatal("expected broken cache to read as miss")
	}
	f.SetJSON(ctx, "subscription:u1", record{ID: "s1"}, time.Minute)
	f.Delete(ctx, "subscription:u1")

	if !bytes.Contains(buf.Bytes(), []byte("cache set failed")) || !bytes.Contains(buf.Bytes(), []byte("cache delete failed")) {
		t.Fatalf("expected failures to be logged, got %s", buf.String())
	}
}

func TestFailOpenDecodesHits(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(time.Minute)
	f := NewFailOpen(mem, "subscription", nil, nil)
	f.SetJSON(ctx, "subscription:u1", record{ID: "s1", Status: "ACTIVE"}, time.Minute)

	var out record
	if !f.GetJSON(ctx, "subscription:u1", &out) || out.ID != "s1" {
		t.Fatalf("expected hit, got %+v", out)
	}

	_ = mem.Set(ctx, "subscription:u2", []byte("not-json"), time.Minute)
	if f.GetJSON(ctx, "subscription:u2", &out) {
		t.Fatal("undecodable entry must read as miss")
	}
}

func TestNamespaceBumpOrphansKeys(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache(time.Minute)
	ns := NewNamespace(mem, "plans")

	before := ns.Key(ctx, "list", "1", "10", "all")
	if before != "plans:v0:list:1:10:all" {
		t.Fatalf("unexpected key %s", before)
	}
	if _, err := ns.Bump(ctx); err != nil {
		t.Fatalf("bump: %v", err)
	}
	after := ns.Key(ctx, "list", "1", "10", "all")
	if after != "plans:v1:list:1:10:all" {
		t.Fatalf("unexpected key after bump %s", after)
	}
}

func TestNamespaceVersionDegradesOnFailure(t *testing.T) {
	ns := NewNamespace(brokenCache{}, "plans")
	if got := ns.Key(context.Background(), "stats"); got != "plans:v0:stats" {
		t.Fatalf("unexpected key %s", got)
	}
}
