package bootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App: config.AppConfig{Env: config.AppEnvDev},
		DB: config.DBConfig{
			Driver: config.DBDriverSQLite,
			DSN:    "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		},
		Cache:  config.CacheConfig{Backend: config.CacheBackendMemory, SubscriptionTTL: time.Minute},
		Events: config.EventsConfig{Backend: config.EventsBackendInProcess},
		Retry:  config.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, Multiplier: 2},
	}
}

func TestBuildWiresLocalRuntime(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)
	logg := logger.New(logger.Options{ServiceName: "bootstrap-test"})

	client, err := db.New(ctx, cfg.DB, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.AutoMigrate(ctx))

	rt, err := Build(ctx, Params{Config: cfg, Logger: logg, DB: client, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	plan, err := rt.Plans.Create(ctx, plans.CreateInput{Name: "Basic", Price: decimal.RequireFromString("9.99"), DurationDays: 30})
	require.NoError(t, err)

	sub, err := rt.Subscriptions.Create(ctx, subscriptions.CreateInput{UserID: "u1", PlanID: plan.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)

	got, err := rt.Subscriptions.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	results, err := rt.Subscriptions.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBuildRequiresRedisForRedisCache(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	logg := logger.New(logger.Options{ServiceName: "bootstrap-test"})

	client, err := db.New(ctx, cfg.DB, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = Build(ctx, Params{Config: cfg, Logger: logg, DB: client})
	require.Error(t, err)
}

func TestConnectRedisSkipsWhenUnconfigured(t *testing.T) {
	cfg := localConfig(t)
	client, err := ConnectRedis(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, client)

	cfg.Events.Backend = config.EventsBackendRedis
	_, err = ConnectRedis(context.Background(), cfg, nil)
	require.Error(t, err)
}
