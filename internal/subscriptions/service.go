package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/pkg/cache"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/events"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/retry"
)

const (
	// CacheName labels subscription cache metrics and logs.
	CacheName = "subscription"

	defaultCacheTTL = 300 * time.Second
	maxUserIDLength = 100
)

// CacheKey is the single-subscription cache entry for userID.
func CacheKey(userID string) string {
	return "subscription:" + userID
}

// PlanResolver loads plans from the system of record. A missing plan is
// returned as nil, nil.
type PlanResolver interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// Service is the subscription lifecycle engine.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Subscription, error)
	Get(ctx context.Context, userID string) (*models.Subscription, error)
	Update(ctx context.Context, userID string, input UpdateInput) (*models.Subscription, error)
	Cancel(ctx context.Context, userID string) (*models.Subscription, error)
	ExpireOne(ctx context.Context, id uuid.UUID) (ExpireResult, error)
	ProcessExpired(ctx context.Context) ([]SweepResult, error)
}

// ServiceParams groups dependencies for the lifecycle engine.
type ServiceParams struct {
	Store   Store
	Plans   PlanResolver
	Cache   *cache.FailOpen
	Events  *events.Emitter
	Retry   *retry.Retrier
	Logger  *logger.Logger
	Metrics *metrics.LifecycleMetrics
	Now     func() time.Time

	CacheTTL time.Duration
	// RevalidateExpiry treats a cached ACTIVE record past its end date as a miss.
	RevalidateExpiry bool
}

// CreateInput starts a subscription for a user.
type CreateInput struct {
	UserID    string
	PlanID    uuid.UUID
	AutoRenew bool
}

// UpdateInput changes the active subscription; nil fields are untouched.
type UpdateInput struct {
	PlanID    *uuid.UUID
	AutoRenew *bool
}

// ExpireOutcome classifies an ExpireOne call.
type ExpireOutcome string

const (
	ExpireOutcomeExpired ExpireOutcome = "expired"
	// ExpireOutcomeAlreadyExpired is the idempotent no-op.
	ExpireOutcomeAlreadyExpired ExpireOutcome = "already_expired"
	// ExpireOutcomeSkipped means the record left ACTIVE or is not yet due.
	ExpireOutcomeSkipped ExpireOutcome = "skipped"
)

// ExpireResult reports the record as stored after ExpireOne.
type ExpireResult struct {
	Subscription *models.Subscription
	Outcome      ExpireOutcome
}

type service struct {
	store      Store
	plans      PlanResolver
	cache      *cache.FailOpen
	events     *events.Emitter
	retry      *retry.Retrier
	logg       *logger.Logger
	metrics    *metrics.LifecycleMetrics
	now        func() time.Time
	cacheTTL   time.Duration
	revalidate bool
}

// NewService builds the lifecycle engine. Cache, Events and Metrics are
// optional; without them the engine runs store-only.
func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan resolver required")
	}
	s := &service{
		store:      params.Store,
		plans:      params.Plans,
		cache:      params.Cache,
		events:     params.Events,
		retry:      params.Retry,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        params.Now,
		cacheTTL:   params.CacheTTL,
		revalidate: params.RevalidateExpiry,
	}
	if s.events == nil {
		s.events = events.NewEmitter(nil, nil, params.Metrics)
	}
	if s.retry == nil {
		s.retry = retry.New(retry.DefaultPolicy())
	}
	if s.logg == nil {
		s.logg = logger.New(logger.Options{ServiceName: "subscriptions", Output: io.Discard})
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	return s, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, error) {
	userID, err := normalizeUserID(input.UserID)
	if err != nil {
		return nil, err
	}
	ctx = s.logCtx(ctx, userID, uuid.Nil, enums.TransitionCreate)

	plan, err := s.resolvePlan(ctx, input.PlanID)
	if err != nil {
		return nil, s.fail(ctx, enums.TransitionCreate, err)
	}

	now := s.clock()
	sub := &models.Subscription{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    enums.SubscriptionStatusActive,
		StartDate: now,
		EndDate:   termEnd(now, plan),
		AutoRenew: input.AutoRenew,
	}

	var superseded int64
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(tx Store) error {
			n, err := tx.UpdateMany(ctx,
				Filter{UserID: userID, Statuses: []enums.SubscriptionStatus{enums.SubscriptionStatusActive}},
				Patch{Status: statusPtr(enums.SubscriptionStatusCancelled)},
			)
			if err != nil {
				return err
			}
			superseded = n
			if err := tx.Insert(ctx, sub); err != nil {
				if db.IsUniqueViolation(err, db.ActiveSubscriptionIndex) {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "user already has an active subscription")
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(ctx, enums.TransitionCreate, storeError(err, "create subscription"))
	}
	sub.Plan = plan

	ctx = s.logg.WithSubscriptionID(ctx, sub.ID.String())
	if superseded > 0 {
		s.logg.Info(s.logg.WithField(ctx, "superseded", superseded), "superseded previous active subscription")
	}

	s.cache.SetJSON(ctx, CacheKey(userID), sub, s.cacheTTL)
	s.events.Emit(ctx, string(enums.TopicSubscriptionCreated), events.SubscriptionEvent{
		UserID:         userID,
		SubscriptionID: sub.ID.String(),
		PlanID:         plan.ID.String(),
	})
	s.succeed(ctx, enums.TransitionCreate, metrics.OutcomeSuccess)
	return sub, nil
}

// Get reads through the cache. Without revalidation a cached ACTIVE record
// is returned as is until its TTL lapses or the sweeper invalidates it.
func (s *service) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	key := CacheKey(userID)

	var cached models.Subscription
	if s.cache.GetJSON(ctx, key, &cached) {
		if !s.revalidate || cached.Status != enums.SubscriptionStatusActive || !cached.IsPastDue(s.clock()) {
			return &cached, nil
		}
	}

	sub, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*models.Subscription, error) {
		return s.store.FindOne(ctx, Filter{
			UserID:   userID,
			Statuses: []enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusExpired},
		})
	})
	if err != nil {
		return nil, storeError(err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	s.cache.SetJSON(ctx, key, sub, s.cacheTTL)
	return sub, nil
}

func (s *service) Update(ctx context.Context, userID string, input UpdateInput) (*models.Subscription, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if input.PlanID == nil && input.AutoRenew == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one of planId or autoRenew is required")
	}
	ctx = s.logCtx(ctx, userID, uuid.Nil, enums.TransitionUpdate)

	current, err := s.findActive(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, enums.TransitionUpdate, err)
	}
	ctx = s.logg.WithSubscriptionID(ctx, current.ID.String())

	patch := Patch{AutoRenew: input.AutoRenew}
	updates := map[string]any{}
	if input.AutoRenew != nil {
		updates["autoRenew"] = *input.AutoRenew
	}
	if input.PlanID != nil {
		plan, err := s.resolvePlan(ctx, *input.PlanID)
		if err != nil {
			return nil, s.fail(ctx, enums.TransitionUpdate, err)
		}
		// The remaining term is discarded, not prorated.
		end := termEnd(s.clock(), plan)
		patch.PlanID = &plan.ID
		patch.EndDate = &end
		updates["planId"] = plan.ID.String()
		updates["endDate"] = end
	}

	updated, err := s.updateActive(ctx, current.ID, patch)
	if err != nil {
		return nil, s.fail(ctx, enums.TransitionUpdate, err)
	}

	s.cache.SetJSON(ctx, CacheKey(userID), updated, s.cacheTTL)
	s.events.Emit(ctx, string(enums.TopicSubscriptionUpdated), events.SubscriptionEvent{
		UserID:         userID,
		SubscriptionID: updated.ID.String(),
		PlanID:         updated.PlanID.String(),
		Updates:        updates,
	})
	s.succeed(ctx, enums.TransitionUpdate, metrics.OutcomeSuccess)
	return updated, nil
}

func (s *service) Cancel(ctx context.Context, userID string) (*models.Subscription, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	ctx = s.logCtx(ctx, userID, uuid.Nil, enums.TransitionCancel)

	current, err := s.findActive(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, enums.TransitionCancel, err)
	}
	ctx = s.logg.WithSubscriptionID(ctx, current.ID.String())

	cancelled, err := s.updateActive(ctx, current.ID, Patch{Status: statusPtr(enums.SubscriptionStatusCancelled)})
	if err != nil {
		return nil, s.fail(ctx, enums.TransitionCancel, err)
	}

	s.cache.Delete(ctx, CacheKey(userID))
	s.events.Emit(ctx, string(enums.TopicSubscriptionCancelled), events.SubscriptionEvent{
		UserID:         userID,
		SubscriptionID: cancelled.ID.String(),
	})
	s.succeed(ctx, enums.TransitionCancel, metrics.OutcomeSuccess)
	return cancelled, nil
}

// ExpireOne moves an ACTIVE, past-due subscription to EXPIRED. The update is
// conditional on both, so a concurrent cancel is never overwritten and a
// record is never expired early. Expiring an EXPIRED record is a no-op.
func (s *service) ExpireOne(ctx context.Context, id uuid.UUID) (ExpireResult, error) {
	ctx = s.logCtx(ctx, "", id, enums.TransitionExpire)

	known, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*models.Subscription, error) {
		return s.store.FindOne(ctx, Filter{ID: id})
	})
	if err != nil {
		return ExpireResult{}, s.fail(ctx, enums.TransitionExpire, storeError(err, "load subscription"))
	}
	if known == nil {
		return ExpireResult{}, s.fail(ctx, enums.TransitionExpire, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"))
	}
	return s.expire(ctx, *known)
}

// expire runs the conditional update for a record the caller has already
// read. Once the update has committed, the cache eviction and the expired
// event always follow, even when the reload afterwards fails.
func (s *service) expire(ctx context.Context, known models.Subscription) (ExpireResult, error) {
	ctx = s.logg.WithUserID(ctx, known.UserID)
	now := s.clock()

	affected, err := retry.Value(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return s.store.UpdateMany(ctx,
			Filter{ID: known.ID, Statuses: []enums.SubscriptionStatus{enums.SubscriptionStatusActive}, EndDateNotAfter: &now},
			Patch{Status: statusPtr(enums.SubscriptionStatusExpired)},
		)
	})
	if err != nil {
		return ExpireResult{}, s.fail(ctx, enums.TransitionExpire, storeError(err, "expire subscription"))
	}

	sub, reloadErr := retry.Value(ctx, s.retry, func(ctx context.Context) (*models.Subscription, error) {
		return s.store.FindOne(ctx, Filter{ID: known.ID})
	})

	if affected == 0 {
		if reloadErr != nil {
			return ExpireResult{}, s.fail(ctx, enums.TransitionExpire, storeError(reloadErr, "reload subscription"))
		}
		if sub == nil {
			return ExpireResult{}, s.fail(ctx, enums.TransitionExpire, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"))
		}
		outcome := ExpireOutcomeSkipped
		if sub.Status == enums.SubscriptionStatusExpired {
			outcome = ExpireOutcomeAlreadyExpired
		}
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{"status": sub.Status, "outcome": outcome}), "expire left subscription unchanged")
		s.succeed(ctx, enums.TransitionExpire, metrics.OutcomeNoop)
		return ExpireResult{Subscription: sub, Outcome: outcome}, nil
	}

	if reloadErr != nil || sub == nil {
		if reloadErr != nil {
			s.logg.WarnErr(ctx, "reload after expiry failed, reporting last known record", reloadErr)
		}
		fallback := known
		fallback.Status = enums.SubscriptionStatusExpired
		sub = &fallback
	}

	s.cache.Delete(ctx, CacheKey(sub.UserID))
	s.events.Emit(ctx, string(enums.TopicSubscriptionExpired), events.SubscriptionEvent{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID.String(),
		PlanID:         sub.PlanID.String(),
	})
	s.succeed(ctx, enums.TransitionExpire, metrics.OutcomeSuccess)
	return ExpireResult{Subscription: sub, Outcome: ExpireOutcomeExpired}, nil
}

func (s *service) findActive(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*models.Subscription, error) {
		return s.store.FindOne(ctx, Filter{UserID: userID, Statuses: []enums.SubscriptionStatus{enums.SubscriptionStatusActive}})
	})
	if err != nil {
		return nil, storeError(err, "load active subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveSubscription, "no active subscription found")
	}
	return sub, nil
}

// updateActive applies patch only while the record is still ACTIVE. Losing
// that race to a cancel or an expiry reads as no active subscription.
func (s *service) updateActive(ctx context.Context, id uuid.UUID, patch Patch) (*models.Subscription, error) {
	if patch.Status != nil && !CanTransition(enums.SubscriptionStatusActive, *patch.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move ACTIVE subscription to %s", *patch.Status))
	}
	updated, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*models.Subscription, error) {
		return s.store.UpdateByID(ctx, id, patch, enums.SubscriptionStatusActive)
	})
	if err != nil {
		return nil, storeError(err, "update subscription")
	}
	if updated == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveSubscription, "no active subscription found")
	}
	return updated, nil
}

func (s *service) resolvePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodePlanNotFound, "plan not found or inactive")
	}
	plan, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*models.Plan, error) {
		return s.plans.FindByID(ctx, id)
	})
	if err != nil {
		return nil, storeError(err, "load plan")
	}
	if plan == nil || !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodePlanNotFound, "plan not found or inactive").
			WithDetails(map[string]any{"planId": id.String()})
	}
	return plan, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

func (s *service) logCtx(ctx context.Context, userID string, id uuid.UUID, transition enums.Transition) context.Context {
	ctx = s.logg.WithTransition(ctx, transition.String())
	if userID != "" {
		ctx = s.logg.WithUserID(ctx, userID)
	}
	if id != uuid.Nil {
		ctx = s.logg.WithSubscriptionID(ctx, id.String())
	}
	return ctx
}

func (s *service) succeed(ctx context.Context, transition enums.Transition, outcome string) {
	s.metrics.ObserveTransition(transition.String(), outcome)
	if outcome == metrics.OutcomeSuccess {
		s.logg.Info(ctx, "subscription "+transition.String()+" applied")
	}
}

func (s *service) fail(ctx context.Context, transition enums.Transition, err error) error {
	s.metrics.ObserveTransition(transition.String(), metrics.OutcomeFailure)
	if pkgerrors.IsRetryable(err) {
		s.logg.Error(ctx, "subscription "+transition.String()+" failed", err)
	} else {
		s.logg.Debug(s.logg.WithField(ctx, "reason", err.Error()), "subscription "+transition.String()+" rejected")
	}
	return err
}

// storeError keeps typed errors and marks everything else as the store being
// unavailable once retries are exhausted.
func storeError(err error, op string) error {
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func termEnd(start time.Time, plan *models.Plan) time.Time {
	return start.AddDate(0, 0, plan.DurationDays)
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxUserIDLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "userId must be 1-100 characters")
	}
	return userID, nil
}

func statusPtr(s enums.SubscriptionStatus) *enums.SubscriptionStatus {
	return &s
}
