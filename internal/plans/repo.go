package plans

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

// Repository handles plan catalog persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	FindByName(ctx context.Context, name string) (*models.Plan, error)
	List(ctx context.Context, query ListQuery) ([]models.Plan, int64, error)
	Stats(ctx context.Context) (Stats, error)
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan) error
}

// ListQuery filters and pages plan listings. A nil Active returns every plan.
type ListQuery struct {
	Active *bool
	Page   pagination.Params
}

// Stats summarises the catalog. Price aggregates cover active plans only.
type Stats struct {
	TotalPlans    int64           `json:"totalPlans"`
	ActivePlans   int64           `json:"activePlans"`
	InactivePlans int64           `json:"inactivePlans"`
	AveragePrice  decimal.Decimal `json:"averagePrice"`
	MinPrice      decimal.Decimal `json:"minPrice"`
	MaxPrice      decimal.Decimal `json:"maxPrice"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByID returns nil, nil when no plan matches.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// FindByName returns nil, nil when no plan matches.
func (r *repository) FindByName(ctx context.Context, name string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.Plan, int64, error) {
	base := r.db.WithContext(ctx).Model(&models.Plan{})
	if query.Active != nil {
		base = base.Where("is_active = ?", *query.Active)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := query.Page.Normalize()
	var plans []models.Plan
	if err := base.Session(&gorm.Session{}).
		Order("price ASC").
		Order("name ASC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&plans).Error; err != nil {
		return nil, 0, err
	}
	return plans, total, nil
}

func (r *repository) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := r.db.WithContext(ctx).Model(&models.Plan{})

	if err := db.Session(&gorm.Session{}).Count(&stats.TotalPlans).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Session(&gorm.Session{}).Where("is_active = ?", true).Count(&stats.ActivePlans).Error; err != nil {
		return Stats{}, err
	}
	stats.InactivePlans = stats.TotalPlans - stats.ActivePlans

	var prices struct {
		Avg decimal.NullDecimal
		Min decimal.NullDecimal
		Max decimal.NullDecimal
	}
	if err := db.Session(&gorm.Session{}).
		Select("AVG(price) AS avg, MIN(price) AS min, MAX(price) AS max").
		Where("is_active = ?", true).
		Scan(&prices).Error; err != nil {
		return Stats{}, err
	}
	stats.AveragePrice = prices.Avg.Decimal.Round(2)
	stats.MinPrice = prices.Min.Decimal
	stats.MaxPrice = prices.Max.Decimal
	return stats, nil
}

func (r *repository) Create(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(plan).Error
}

// Update writes every column, including false and empty values.
func (r *repository) Update(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(plan).Error
}
