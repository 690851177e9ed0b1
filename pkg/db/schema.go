package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// ActiveSubscriptionIndex enforces at most one ACTIVE subscription per user.
const ActiveSubscriptionIndex = "ux_subscriptions_active_user"

const createActiveSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ` + ActiveSubscriptionIndex +
	` ON subscriptions (user_id) WHERE status = 'ACTIVE'`

// AutoMigrate creates the schema from the models. Used for sqlite in local
// runs and tests; postgres deployments run the goose migrations instead.
func (c *Client) AutoMigrate(ctx context.Context) error {
	return AutoMigrate(c.conn.WithContext(ctx))
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&models.Plan{}, &models.Subscription{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := conn.Exec(createActiveSubscriptionIndex).Error; err != nil {
		return fmt.Errorf("create %s: %w", ActiveSubscriptionIndex, err)
	}
	return nil
}
