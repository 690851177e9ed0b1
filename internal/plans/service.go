package plans

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlements-backend/pkg/cache"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

const (
	// NamespaceName prefixes every catalog cache key.
	NamespaceName = "plans"

	defaultPlanTTL  = 10 * time.Minute
	defaultStatsTTL = 5 * time.Minute
)

// ServiceParams groups dependencies for the plan service.
type ServiceParams struct {
	Repo      Repository
	Cache     *cache.FailOpen
	Namespace *cache.Namespace
	PlanTTL   time.Duration
	StatsTTL  time.Duration
	Logger    *logger.Logger
}

// Service manages the plan catalog and its versioned cache.
type Service struct {
	repo      Repository
	cache     *cache.FailOpen
	namespace *cache.Namespace
	planTTL   time.Duration
	statsTTL  time.Duration
	logg      *logger.Logger
}

// ListResult is a page of plans.
type ListResult struct {
	Plans      []models.Plan   `json:"plans"`
	Pagination pagination.Meta `json:"pagination"`
}

// CreateInput describes a new plan. A nil IsActive defaults to true.
type CreateInput struct {
	Name         string
	Price        decimal.Decimal
	DurationDays int
	Features     []string
	IsActive     *bool
}

// UpdateInput carries a partial plan update; nil fields are left unchanged.
type UpdateInput struct {
	Name         *string
	Price        *decimal.Decimal
	DurationDays *int
	Features     []string
	IsActive     *bool
}

// IsEmpty reports whether the update changes nothing.
func (u UpdateInput) IsEmpty() bool {
	return u.Name == nil && u.Price == nil && u.DurationDays == nil && u.Features == nil && u.IsActive == nil
}

// NewService builds a plan service. Cache and namespace are optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Cache != nil && params.Namespace == nil {
		return nil, errors.New("namespace is required when cache is set")
	}
	planTTL := params.PlanTTL
	if planTTL <= 0 {
		planTTL = defaultPlanTTL
	}
	statsTTL := params.StatsTTL
	if statsTTL <= 0 {
		statsTTL = defaultStatsTTL
	}
	return &Service{
		repo:      params.Repo,
		cache:     params.Cache,
		namespace: params.Namespace,
		planTTL:   planTTL,
		statsTTL:  statsTTL,
		logg:      params.Logger,
	}, nil
}

func (s *Service) key(ctx context.Context, parts ...string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	return s.namespace.Key(ctx, parts...), true
}

// List returns a page of plans sorted by ascending price.
func (s *Service) List(ctx context.Context, query ListQuery) (*ListResult, error) {
	query.Page = query.Page.Normalize()
	filter := "all"
	if query.Active != nil {
		filter = strconv.FormatBool(*query.Active)
	}

	key, cached := s.key(ctx, "list", strconv.Itoa(query.Page.Page), strconv.Itoa(query.Page.Limit), filter)
	if cached {
		var hit ListResult
		if s.cache.GetJSON(ctx, key, &hit) {
			return &hit, nil
		}
	}

	rows, total, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	if rows == nil {
		rows = []models.Plan{}
	}
	result := &ListResult{Plans: rows, Pagination: pagination.NewMeta(query.Page, total)}
	if cached {
		s.cache.SetJSON(ctx, key, result, s.planTTL)
	}
	return result, nil
}

// Get returns a plan by id regardless of its active flag.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	key, cached := s.key(ctx, "plan", id.String())
	if cached {
		var hit models.Plan
		if s.cache.GetJSON(ctx, key, &hit) {
			return &hit, nil
		}
	}

	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if cached {
		s.cache.SetJSON(ctx, key, plan, s.planTTL)
	}
	return plan, nil
}

// Stats returns catalog counts and active price aggregates.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	key, cached := s.key(ctx, "stats")
	if cached {
		var hit Stats
		if s.cache.GetJSON(ctx, key, &hit) {
			return &hit, nil
		}
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute plan stats")
	}
	if cached {
		s.cache.SetJSON(ctx, key, stats, s.statsTTL)
	}
	return &stats, nil
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Plan, error) {
	name := strings.TrimSpace(input.Name)
	if err := s.ensureNameAvailable(ctx, name, uuid.Nil); err != nil {
		return nil, err
	}

	plan := &models.Plan{
		Name:         name,
		Price:        input.Price,
		DurationDays: input.DurationDays,
		Features:     pq.StringArray(normalizeFeatures(input.Features)),
		IsActive:     input.IsActive == nil || *input.IsActive,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, mapWriteError(err, "create plan")
	}
	s.invalidate(ctx)
	return plan, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Plan, error) {
	if input.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one field is required")
	}
	plan, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := s.ensureNameAvailable(ctx, name, id); err != nil {
			return nil, err
		}
		plan.Name = name
	}
	if input.Price != nil {
		plan.Price = *input.Price
	}
	if input.DurationDays != nil {
		plan.DurationDays = *input.DurationDays
	}
	if input.Features != nil {
		plan.Features = pq.StringArray(normalizeFeatures(input.Features))
	}
	if input.IsActive != nil {
		plan.IsActive = *input.IsActive
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, mapWriteError(err, "update plan")
	}
	s.invalidate(ctx)
	return plan, nil
}

// Deactivate is the logical delete; subscriptions keep referencing the row.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id uuid.UUID, active bool) (*models.Plan, error) {
	plan, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	plan.IsActive = active
	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, mapWriteError(err, "update plan")
	}
	s.invalidate(ctx)
	return plan, nil
}

// Upsert creates the named plan or overwrites its attributes.
func (s *Service) Upsert(ctx context.Context, input CreateInput) (*models.Plan, bool, error) {
	name := strings.TrimSpace(input.Name)
	existing, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if existing == nil {
		plan, err := s.Create(ctx, input)
		return plan, true, err
	}

	existing.Price = input.Price
	existing.DurationDays = input.DurationDays
	existing.Features = pq.StringArray(normalizeFeatures(input.Features))
	existing.IsActive = input.IsActive == nil || *input.IsActive
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, false, mapWriteError(err, "update plan")
	}
	s.invalidate(ctx)
	return existing, false, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *Service) ensureNameAvailable(ctx context.Context, name string, self uuid.UUID) error {
	existing, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check plan name")
	}
	if existing != nil && existing.ID != self {
		return pkgerrors.New(pkgerrors.CodeConflict, "plan with this name already exists")
	}
	return nil
}

// invalidate bumps the namespace version so list, item and stats keys are
// all orphaned at once.
func (s *Service) invalidate(ctx context.Context) {
	if s.namespace == nil {
		return
	}
	if _, err := s.namespace.Bump(ctx); err != nil && s.logg != nil {
		s.logg.WarnErr(s.logg.WithField(ctx, "cache", NamespaceName), "plan cache version bump failed", err)
	}
}

func mapWriteError(err error, op string) error {
	if db.IsUniqueViolation(err, "ux_plans_name") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "plan with this name already exists")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func normalizeFeatures(features []string) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
