package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const maxUserIDLength = 100

type subscriptionCreateRequest struct {
	UserID    string `json:"userId" validate:"required,min=1,max=100"`
	PlanID    string `json:"planId" validate:"required,uuid"`
	AutoRenew *bool  `json:"autoRenew"`
}

type subscriptionUpdateRequest struct {
	PlanID    *string `json:"planId" validate:"omitempty,uuid"`
	AutoRenew *bool   `json:"autoRenew"`
}

func SubscriptionCreate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		var payload subscriptionCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := middleware.AuthorizeSubject(ctx, payload.UserID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := subscriptions.CreateInput{
			UserID: payload.UserID,
			PlanID: uuid.MustParse(payload.PlanID),
		}
		if payload.AutoRenew != nil {
			input.AutoRenew = *payload.AutoRenew
		}

		sub, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionToResponse(sub))
	}
}

func SubscriptionFetch(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := validators.PathParam(r, "userId", maxUserIDLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Get(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionUpdate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := validators.PathParam(r, "userId", maxUserIDLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := middleware.AuthorizeSubject(ctx, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload subscriptionUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payload.PlanID == nil && payload.AutoRenew == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "at least one of planId or autoRenew is required"))
			return
		}

		input := subscriptions.UpdateInput{AutoRenew: payload.AutoRenew}
		if payload.PlanID != nil {
			planID := uuid.MustParse(*payload.PlanID)
			input.PlanID = &planID
		}

		sub, err := svc.Update(ctx, userID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionCancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := validators.PathParam(r, "userId", maxUserIDLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := middleware.AuthorizeSubject(ctx, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Cancel(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}
