package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Plan is a catalog entry a subscription is granted against. Plans are
// deactivated, never deleted, because subscriptions reference them by id.
type Plan struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name         string          `gorm:"column:name;type:varchar(100);not null;uniqueIndex:ux_plans_name" json:"name"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	DurationDays int             `gorm:"column:duration_days;not null" json:"durationDays"`
	Features     pq.StringArray  `gorm:"column:features;type:text[]" json:"features"`
	IsActive     bool            `gorm:"column:is_active;not null;index:idx_plans_is_active" json:"isActive"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Duration returns the plan term.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
