package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

const (
	maxPlanNameLength = 100
	maxFeatureLength  = 200
)

// PlanService describes the catalog methods used by the HTTP controllers.
type PlanService interface {
	List(ctx context.Context, query plans.ListQuery) (*plans.ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	Stats(ctx context.Context) (*plans.Stats, error)
	Create(ctx context.Context, input plans.CreateInput) (*models.Plan, error)
	Update(ctx context.Context, id uuid.UUID, input plans.UpdateInput) (*models.Plan, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

type planCreateRequest struct {
	Name         string          `json:"name" validate:"required,min=1,max=100"`
	Price        decimal.Decimal `json:"price" validate:"gte=0"`
	DurationDays int             `json:"durationDays" validate:"required,gte=1"`
	Features     []string        `json:"features" validate:"omitempty,dive,min=1,max=200"`
	IsActive     *bool           `json:"isActive"`
}

type planUpdateRequest struct {
	Name         *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Price        *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	DurationDays *int             `json:"durationDays" validate:"omitempty,gte=1"`
	Features     []string         `json:"features" validate:"omitempty,dive,min=1,max=200"`
	IsActive     *bool            `json:"isActive"`
}

func PlanList(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		page, err := validators.ParseQueryInt(r, "page", pagination.DefaultPage, 1, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		active, err := validators.ParseQueryBool(r, "active")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.List(ctx, plans.ListQuery{
			Active: active,
			Page:   pagination.Params{Page: page, Limit: limit},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planListToResponse(result))
	}
}

func PlanFetch(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "planId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planToResponse(*plan))
	}
}

func PlanStats(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		stats, err := svc.Stats(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func PlanCreate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload planCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		plan, err := svc.Create(ctx, plans.CreateInput{
			Name:         validators.SanitizeString(payload.Name, maxPlanNameLength),
			Price:        payload.Price,
			DurationDays: payload.DurationDays,
			Features:     validators.SanitizeList(payload.Features, maxFeatureLength),
			IsActive:     payload.IsActive,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, planToResponse(*plan))
	}
}

func PlanUpdate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "planId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload planUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := plans.UpdateInput{
			Price:        payload.Price,
			DurationDays: payload.DurationDays,
			Features:     validators.SanitizeList(payload.Features, maxFeatureLength),
			IsActive:     payload.IsActive,
		}
		if payload.Name != nil {
			name := validators.SanitizeString(*payload.Name, maxPlanNameLength)
			input.Name = &name
		}
		if input.IsEmpty() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "at least one field is required"))
			return
		}

		plan, err := svc.Update(ctx, id, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planToResponse(*plan))
	}
}

func PlanDeactivate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return planToggle(svc.Deactivate, logg)
}

func PlanActivate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return planToggle(svc.Activate, logg)
}

func planToggle(fn func(context.Context, uuid.UUID) (*models.Plan, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUIDParam(r, "planId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := fn(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planToResponse(*plan))
	}
}
