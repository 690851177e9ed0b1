package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Filter selects subscriptions. Zero-valued fields do not constrain.
type Filter struct {
	ID       uuid.UUID
	UserID   string
	Statuses []enums.SubscriptionStatus
	// EndDateBefore matches end_date < t.
	EndDateBefore *time.Time
	// EndDateNotAfter matches end_date <= t.
	EndDateNotAfter *time.Time
	Limit           int
}

// Patch lists the mutable subscription columns; nil fields are untouched.
type Patch struct {
	Status    *enums.SubscriptionStatus
	PlanID    *uuid.UUID
	EndDate   *time.Time
	AutoRenew *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.PlanID == nil && p.EndDate == nil && p.AutoRenew == nil
}

// Store is the system of record for subscriptions. Find and update calls
// return nil, nil when nothing matches.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	Insert(ctx context.Context, sub *models.Subscription) error
	FindOne(ctx context.Context, filter Filter) (*models.Subscription, error)
	FindMany(ctx context.Context, filter Filter) ([]models.Subscription, error)
	UpdateByID(ctx context.Context, id uuid.UUID, patch Patch, guard ...enums.SubscriptionStatus) (*models.Subscription, error)
	UpdateMany(ctx context.Context, filter Filter, patch Patch) (int64, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a gorm-backed Store.
func NewRepository(db *gorm.DB) Store {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx, now: r.now})
	})
}

func (r *repository) Insert(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit("Plan").Create(sub).Error
}

// FindOne returns the most recently created match with its plan loaded.
func (r *repository) FindOne(ctx context.Context, filter Filter) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.scoped(ctx, filter).
		Preload("Plan").
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindMany returns matches ordered by end date, oldest first.
func (r *repository) FindMany(ctx context.Context, filter Filter) ([]models.Subscription, error) {
	query := r.scoped(ctx, filter).Order("end_date ASC").Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var subs []models.Subscription
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateByID applies patch when the row exists and, if guard is given, its
// current status is one of guard. The updated row is returned.
func (r *repository) UpdateByID(ctx context.Context, id uuid.UUID, patch Patch, guard ...enums.SubscriptionStatus) (*models.Subscription, error) {
	affected, err := r.UpdateMany(ctx, Filter{ID: id, Statuses: guard}, patch)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return r.FindOne(ctx, Filter{ID: id})
}

func (r *repository) UpdateMany(ctx context.Context, filter Filter, patch Patch) (int64, error) {
	if patch.IsEmpty() {
		return 0, nil
	}
	res := r.scoped(ctx, filter).Updates(r.columns(patch))
	return res.RowsAffected, res.Error
}

func (r *repository) scoped(ctx context.Context, filter Filter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Subscription{})
	if filter.ID != uuid.Nil {
		query = query.Where("id = ?", filter.ID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	switch len(filter.Statuses) {
	case 0:
	case 1:
		query = query.Where("status = ?", filter.Statuses[0])
	default:
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.EndDateBefore != nil {
		query = query.Where("end_date < ?", filter.EndDateBefore.UTC())
	}
	if filter.EndDateNotAfter != nil {
		query = query.Where("end_date <= ?", filter.EndDateNotAfter.UTC())
	}
	return query
}

func (r *repository) columns(patch Patch) map[string]any {
	cols := map[string]any{"updated_at": r.now().UTC()}
	if patch.Status != nil {
		cols["status"] = *patch.Status
	}
	if patch.PlanID != nil {
		cols["plan_id"] = *patch.PlanID
	}
	if patch.EndDate != nil {
		cols["end_date"] = patch.EndDate.UTC()
	}
	if patch.AutoRenew != nil {
		cols["auto_renew"] = *patch.AutoRenew
	}
	return cols
}
