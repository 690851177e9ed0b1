package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Subscription is a time-bounded entitlement of a user to a plan. A user may
// hold many historical rows but at most one with status ACTIVE, enforced by
// the ux_subscriptions_active_user partial index.
type Subscription struct {
	ID        uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string                   `gorm:"column:user_id;type:varchar(100);not null;index:idx_subscriptions_user_status,priority:1" json:"userId"`
	PlanID    uuid.UUID                `gorm:"column:plan_id;type:uuid;not null" json:"planId"`
	Plan      *Plan                    `gorm:"foreignKey:PlanID;references:ID" json:"plan,omitempty"`
	Status    enums.SubscriptionStatus `gorm:"column:status;type:varchar(16);not null;index:idx_subscriptions_user_status,priority:2;index:idx_subscriptions_status" json:"status"`
	StartDate time.Time                `gorm:"column:start_date;not null" json:"startDate"`
	EndDate   time.Time                `gorm:"column:end_date;not null;index:idx_subscriptions_end_date" json:"endDate"`
	AutoRenew bool                     `gorm:"column:auto_renew;not null" json:"autoRenew"`
	CreatedAt time.Time                `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsPastDue reports whether the term has elapsed at now.
func (s Subscription) IsPastDue(now time.Time) bool {
	return !now.Before(s.EndDate)
}
