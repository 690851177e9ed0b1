package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/cache"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/events"
	"github.com/angelmondragon/entitlements-backend/pkg/retry"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		NowFunc: db.NowUTC,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// countingStore records calls and can fail updates for chosen ids.
type countingStore struct {
	Store
	mu          sync.Mutex
	findOnes    int
	writes      int
	failUpdates map[uuid.UUID]error
	afterScan   func(ctx context.Context, subs []models.Subscription)
	// failReload fails reads by id once an update on that id has landed.
	failReload error
	updated    map[uuid.UUID]bool
}

func (c *countingStore) FindOne(ctx context.Context, filter Filter) (*models.Subscription, error) {
	c.mu.Lock()
	c.findOnes++
	failReload := c.failReload != nil && filter.ID != uuid.Nil && c.updated[filter.ID]
	c.mu.Unlock()
	if failReload {
		return nil, c.failReload
	}
	return c.Store.FindOne(ctx, filter)
}

func (c *countingStore) FindMany(ctx context.Context, filter Filter) ([]models.Subscription, error) {
	subs, err := c.Store.FindMany(ctx, filter)
	if err == nil && c.afterScan != nil {
		c.afterScan(ctx, subs)
	}
	return subs, err
}

func (c *countingStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Store.WithinTx(ctx, fn)
}

func (c *countingStore) UpdateMany(ctx context.Context, filter Filter, patch Patch) (int64, error) {
	c.mu.Lock()
	c.writes++
	err := c.failUpdates[filter.ID]
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	affected, err := c.Store.UpdateMany(ctx, filter, patch)
	if err == nil && affected > 0 && filter.ID != uuid.Nil {
		c.mu.Lock()
		if c.updated == nil {
			c.updated = map[uuid.UUID]bool{}
		}
		c.updated[filter.ID] = true
		c.mu.Unlock()
	}
	return affected, err
}

func (c *countingStore) UpdateByID(ctx context.Context, id uuid.UUID, patch Patch, guard ...enums.SubscriptionStatus) (*models.Subscription, error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Store.UpdateByID(ctx, id, patch, guard...)
}

func (c *countingStore) findCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findOnes
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, cache.ErrUnavailable }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return cache.ErrUnavailable
}
func (brokenCache) Delete(context.Context, ...string) error     { return cache.ErrUnavailable }
func (brokenCache) Incr(context.Context, string) (int64, error) { return 0, cache.ErrUnavailable }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error { return errors.New("channel down") }
func (failingPublisher) Close() error                                  { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc    Service
	store  *countingStore
	plans  plans.Repository
	cache  cache.Cache
	clock  *clock
	mu     sync.Mutex
	topics []string
}

type harnessOption func(*ServiceParams, *harness)

func withCacheBackend(backend cache.Cache) harnessOption {
	return func(p *ServiceParams, h *harness) {
		h.cache = backend
		p.Cache = cache.NewFailOpen(backend, CacheName, nil, nil)
	}
}

func withPublisher(pub events.Publisher) harnessOption {
	return func(p *ServiceParams, _ *harness) {
		p.Events = events.NewEmitter(pub, nil, nil)
	}
}

func withRevalidation() harnessOption {
	return func(p *ServiceParams, _ *harness) {
		p.RevalidateExpiry = true
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	conn := newTestDB(t)
	h := &harness{
		store: &countingStore{Store: NewRepository(conn), failUpdates: map[uuid.UUID]error{}},
		plans: plans.NewRepository(conn),
		clock: &clock{now: baseTime},
	}

	bus := events.NewInProcessBus(nil)
	bus.Register(lifecycleTopicNames(), func(_ context.Context, env events.Envelope) error {
		h.mu.Lock()
		h.topics = append(h.topics, env.Topic)
		h.mu.Unlock()
		return nil
	})

	backend := cache.NewMemoryCache(time.Minute)
	h.cache = backend
	params := ServiceParams{
		Store:  h.store,
		Plans:  h.plans,
		Cache:  cache.NewFailOpen(backend, CacheName, nil, nil),
		Events: events.NewEmitter(bus, nil, nil, events.WithEmitClock(h.clock.Now)),
		Retry:  retry.New(retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, Multiplier: 2}),
		Now:    h.clock.Now,
	}
	for _, opt := range opts {
		opt(&params, h)
	}

	svc, err := NewService(params)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func lifecycleTopicNames() []string {
	out := make([]string, 0, len(enums.LifecycleTopics))
	for _, topic := range enums.LifecycleTopics {
		out = append(out, topic.String())
	}
	return out
}

func (h *harness) seenTopics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.topics...)
}

func (h *harness) plan(t *testing.T, name string, days int, active bool) *models.Plan {
	t.Helper()
	plan := &models.Plan{Name: name, Price: decimal.NewFromInt(10), DurationDays: days, IsActive: active}
	require.NoError(t, h.plans.Create(context.Background(), plan))
	return plan
}

func (h *harness) countActive(t *testing.T, userID string) int {
	t.Helper()
	subs, err := h.store.Store.FindMany(context.Background(), Filter{
		UserID:   userID,
		Statuses: []enums.SubscriptionStatus{enums.SubscriptionStatusActive},
	})
	require.NoError(t, err)
	return len(subs)
}

func TestCreateComputesTermAndPopulatesPlan(t *testing.T) {
	h := newHarness(t)
	plan := h.plan(t, "Basic", 30, true)

	sub, err := h.svc.Create(context.Background(), CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.AutoRenew)
	assert.True(t, sub.StartDate.Equal(baseTime))
	assert.True(t, sub.EndDate.Equal(baseTime.AddDate(0, 0, 30)))
	require.NotNil(t, sub.Plan)
	assert.Equal(t, "Basic", sub.Plan.Name)
	assert.Equal(t, []string{"subscription.created"}, h.seenTopics())
}

func TestCreateRejectsMissingOrInactivePlanWithoutWriting(t *testing.T) {
	h := newHarness(t)
	inactive := h.plan(t, "Legacy", 30, false)

	for _, planID := range []uuid.UUID{inactive.ID, uuid.New()} {
		_, err := h.svc.Create(context.Background(), CreateInput{UserID: "u1", PlanID: planID})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePlanNotFound), "got %v", err)
	}
	assert.Zero(t, h.store.writes)
	assert.Empty(t, h.seenTopics())
}

func TestCreateSupersedesPreviousActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	basic := h.plan(t, "Basic", 30, true)
	pro := h.plan(t, "Pro", 60, true)

	first, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: basic.ID})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: pro.ID, AutoRenew: true})
	require.NoError(t, err)

	assert.Equal(t, 1, h.countActive(t, "u1"))

	old, err := h.store.Store.FindOne(ctx, Filter{ID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, old.Status)

	current, err := h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.True(t, current.AutoRenew)
}

type racingStore struct {
	Store
}

// WithinTx hides the supersede step, as if a concurrent create inserted its
// ACTIVE row after this one looked.
func (r racingStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return r.Store.WithinTx(ctx, func(tx Store) error {
		return fn(blindSupersede{Store: tx})
	})
}

type blindSupersede struct {
	Store
}

func (blindSupersede) UpdateMany(context.Context, Filter, Patch) (int64, error) { return 0, nil }

func TestConcurrentCreateConflictsOnActiveIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)

	_, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	racer, err := NewService(ServiceParams{
		Store: racingStore{Store: h.store.Store},
		Plans: h.plans,
		Retry: retry.New(retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2}),
		Now:   h.clock.Now,
	})
	require.NoError(t, err)

	_, err = racer.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Equal(t, 1, h.countActive(t, "u1"))
}

func TestGetReadsThroughCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)
	_, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)
	require.NoError(t, h.cache.Delete(ctx, CacheKey("u1")))

	before := h.store.findCount()
	first, err := h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, h.store.findCount())

	second, err := h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, h.store.findCount(), "second read must be served from cache")
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Plan)
	assert.Equal(t, plan.ID, second.Plan.ID)
}

func TestGetSurvivesCacheOutage(t *testing.T) {
	h := newHarness(t, withCacheBackend(brokenCache{}))
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)

	created, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = h.svc.Cancel(ctx, "u1")
	require.NoError(t, err)
}

func TestGetMissingSubscription(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Get(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestGetTrustsCacheUntilSwept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Basic", 1, true)
	_, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	got, err := h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, got.Status, "cached record is returned verbatim")

	_, err = h.svc.ProcessExpired(ctx)
	require.NoError(t, err)
	got, err = h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusExpired, got.Status)
}

func TestGetRevalidatesPastDueCacheEntries(t *testing.T) {
	h := newHarness(t, withRevalidation())
	ctx := context.Background()
	plan := h.plan(t, "Basic", 1, true)
	_, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	before := h.store.findCount()
	h.clock.Advance(48 * time.Hour)
	_, err = h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, h.store.findCount(), "past-due cached entry should fall through to the store")
}

func TestUpdateChangingPlanRecomputesEndDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	basic := h.plan(t, "Basic", 30, true)
	pro := h.plan(t, "Pro", 90, true)

	created, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: basic.ID})
	require.NoError(t, err)

	h.clock.Advance(10 * 24 * time.Hour)
	updated, err := h.svc.Update(ctx, "u1", UpdateInput{PlanID: &pro.ID})
	require.NoError(t, err)

	want := h.clock.Now().AddDate(0, 0, 90)
	assert.WithinDuration(t, want, updated.EndDate, time.Second)
	assert.WithinDuration(t, created.StartDate, updated.StartDate, time.Second)
	assert.Equal(t, pro.ID, updated.PlanID)
	require.NotNil(t, updated.Plan)
	assert.Equal(t, "Pro", updated.Plan.Name)

	cached, err := h.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, cached.PlanID)
	assert.Contains(t, h.seenTopics(), "subscription.updated")
}

func TestUpdateRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	basic := h.plan(t, "Basic", 30, true)
	legacy := h.plan(t, "Legacy", 30, false)
	renew := true

	_, err := h.svc.Update(ctx, "u1", UpdateInput{AutoRenew: &renew})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoActiveSubscription), "got %v", err)

	_, err = h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: basic.ID})
	require.NoError(t, err)

	_, err = h.svc.Update(ctx, "u1", UpdateInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = h.svc.Update(ctx, "u1", UpdateInput{PlanID: &legacy.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePlanNotFound), "got %v", err)

	updated, err := h.svc.Update(ctx, "u1", UpdateInput{AutoRenew: &renew})
	require.NoError(t, err)
	assert.True(t, updated.AutoRenew)
	assert.Equal(t, basic.ID, updated.PlanID)
}

func TestCancelThenCancelAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)

	_, err := h.svc.Cancel(ctx, "u1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoActiveSubscription))

	_, err = h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)
	cancelled, err := h.svc.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, cancelled.Status)

	_, err = h.svc.Cancel(ctx, "u1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoActiveSubscription))

	_, err = h.cache.Get(ctx, CacheKey("u1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, []string{"subscription.created", "subscription.cancelled"}, h.seenTopics())
}

func TestTransitionsSurviveEventChannelFailure(t *testing.T) {
	h := newHarness(t, withPublisher(failingPublisher{}))
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)

	_, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, h.countActive(t, "u1"))
}

func TestExpireOneIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)
	sub, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	h.clock.Advance(31 * 24 * time.Hour)
	first, err := h.svc.ExpireOne(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpireOutcomeExpired, first.Outcome)
	assert.Equal(t, enums.SubscriptionStatusExpired, first.Subscription.Status)

	second, err := h.svc.ExpireOne(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpireOutcomeAlreadyExpired, second.Outcome)
	assert.Equal(t, enums.SubscriptionStatusExpired, second.Subscription.Status)

	expired := 0
	for _, topic := range h.seenTopics() {
		if topic == "subscription.expired" {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

func TestExpireOneNeverOverwritesCancelOrExpiresEarly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Basic", 30, true)

	early, err := h.svc.Create(ctx, CreateInput{UserID: "early", PlanID: plan.ID})
	require.NoError(t, err)
	res, err := h.svc.ExpireOne(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpireOutcomeSkipped, res.Outcome)
	assert.Equal(t, enums.SubscriptionStatusActive, res.Subscription.Status)

	cancelled, err := h.svc.Create(ctx, CreateInput{UserID: "cancelled", PlanID: plan.ID})
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, "cancelled")
	require.NoError(t, err)

	h.clock.Advance(31 * 24 * time.Hour)
	res, err = h.svc.ExpireOne(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpireOutcomeSkipped, res.Outcome)
	assert.Equal(t, enums.SubscriptionStatusCancelled, res.Subscription.Status)

	_, err = h.svc.ExpireOne(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestExpireCompletesWhenReloadFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Short", 1, true)
	sub, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)
	_, err = h.cache.Get(ctx, CacheKey("u1"))
	require.NoError(t, err, "create should have populated the cache")

	h.store.failReload = errors.New("connection reset")
	h.clock.Advance(48 * time.Hour)

	res, err := h.svc.ExpireOne(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ExpireOutcomeExpired, res.Outcome)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, enums.SubscriptionStatusExpired, res.Subscription.Status)
	assert.Equal(t, sub.ID, res.Subscription.ID)

	stored, err := h.store.Store.FindOne(ctx, Filter{ID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusExpired, stored.Status)

	_, err = h.cache.Get(ctx, CacheKey("u1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, []string{"subscription.created", "subscription.expired"}, h.seenTopics())
}

func TestSweepCountsExpiredWhenReloadFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Short", 1, true)
	sub, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	h.store.failReload = errors.New("connection reset")
	h.clock.Advance(48 * time.Hour)

	results, err := h.svc.ProcessExpired(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, sub.ID, results[0].ID)
	assert.Equal(t, SweepStatusExpired, results[0].Status)
	assert.Empty(t, results[0].Error)
	assert.Zero(t, h.countActive(t, "u1"))
	assert.Contains(t, h.seenTopics(), "subscription.expired")
}

func TestProcessExpiredHandlesPartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	short := h.plan(t, "Short", 1, true)
	long := h.plan(t, "Long", 365, true)

	var due []*models.Subscription
	for i := 0; i < 3; i++ {
		sub, err := h.svc.Create(ctx, CreateInput{UserID: fmt.Sprintf("due-%d", i), PlanID: short.ID})
		require.NoError(t, err)
		due = append(due, sub)
	}
	for i := 0; i < 2; i++ {
		_, err := h.svc.Create(ctx, CreateInput{UserID: fmt.Sprintf("future-%d", i), PlanID: long.ID})
		require.NoError(t, err)
	}

	h.store.failUpdates[due[1].ID] = errors.New("connection reset")
	h.clock.Advance(2 * 24 * time.Hour)

	results, err := h.svc.ProcessExpired(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[uuid.UUID]SweepResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.Equal(t, SweepStatusExpired, byID[due[0].ID].Status)
	assert.Equal(t, SweepStatusError, byID[due[1].ID].Status)
	assert.Contains(t, byID[due[1].ID].Error, "expire subscription")
	assert.Equal(t, SweepStatusExpired, byID[due[2].ID].Status)

	counts := CountByStatus(results)
	assert.Equal(t, 2, counts[SweepStatusExpired])
	assert.Equal(t, 1, counts[SweepStatusError])

	assert.Equal(t, 1, h.countActive(t, "due-1"), "failed item stays ACTIVE for the next run")
	assert.Equal(t, 1, h.countActive(t, "future-0"))
	assert.Equal(t, 1, h.countActive(t, "future-1"))

	delete(h.store.failUpdates, due[1].ID)
	results, err = h.svc.ProcessExpired(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SweepStatusExpired, results[0].Status)
}

func TestProcessExpiredSkipsRecordsCancelledAfterScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Short", 1, true)
	sub, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	h.store.afterScan = func(ctx context.Context, subs []models.Subscription) {
		for _, s := range subs {
			cancelled := enums.SubscriptionStatusCancelled
			_, err := h.store.Store.UpdateByID(ctx, s.ID, Patch{Status: &cancelled}, enums.SubscriptionStatusActive)
			require.NoError(t, err)
		}
	}
	h.clock.Advance(2 * 24 * time.Hour)

	results, err := h.svc.ProcessExpired(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SweepStatusSkipped, results[0].Status)

	stored, err := h.store.Store.FindOne(ctx, Filter{ID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, stored.Status)
}

func TestSingleActiveAfterSequentialOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Short", 1, true)

	for i := 0; i < 3; i++ {
		_, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
		require.NoError(t, err)
		assert.LessOrEqual(t, h.countActive(t, "u1"), 1)
	}
	_, err := h.svc.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, h.countActive(t, "u1"))

	_, err = h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)
	h.clock.Advance(48 * time.Hour)
	_, err = h.svc.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, h.countActive(t, "u1"))
}

func TestCreateValidatesUserID(t *testing.T) {
	h := newHarness(t)
	plan := h.plan(t, "Basic", 30, true)
	_, err := h.svc.Create(context.Background(), CreateInput{UserID: strings.Repeat("x", 101), PlanID: plan.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestStoreErrorsSurfaceAsDependency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := h.plan(t, "Short", 1, true)
	sub, err := h.svc.Create(ctx, CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)

	h.store.failUpdates[sub.ID] = errors.New("store unavailable")
	h.clock.Advance(48 * time.Hour)
	_, err = h.svc.ExpireOne(ctx, sub.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
}
