package controllers

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

type planResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"durationDays"`
	Features     []string        `json:"features"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type planListResponse struct {
	Plans      []planResponse  `json:"plans"`
	Pagination pagination.Meta `json:"pagination"`
}

type subscriptionResponse struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	PlanID    string        `json:"planId"`
	Plan      *planResponse `json:"plan,omitempty"`
	Status    string        `json:"status"`
	StartDate time.Time     `json:"startDate"`
	EndDate   time.Time     `json:"endDate"`
	AutoRenew bool          `json:"autoRenew"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func planToResponse(p models.Plan) planResponse {
	features := []string(p.Features)
	if features == nil {
		features = []string{}
	}
	return planResponse{
		ID:           p.ID.String(),
		Name:         p.Name,
		Price:        p.Price,
		DurationDays: p.DurationDays,
		Features:     features,
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func planListToResponse(result *plans.ListResult) planListResponse {
	return planListResponse{
		Plans:      lo.Map(result.Plans, func(p models.Plan, _ int) planResponse { return planToResponse(p) }),
		Pagination: result.Pagination,
	}
}

func subscriptionToResponse(s *models.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:        s.ID.String(),
		UserID:    s.UserID,
		PlanID:    s.PlanID.String(),
		Status:    s.Status.String(),
		StartDate: s.StartDate,
		EndDate:   s.EndDate,
		AutoRenew: s.AutoRenew,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Plan != nil {
		resp.Plan = lo.ToPtr(planToResponse(*s.Plan))
	}
	return resp
}
