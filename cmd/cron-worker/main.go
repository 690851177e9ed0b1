package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/internal/bootstrap"
	"github.com/angelmondragon/entitlements-backend/internal/cron"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := bootstrap.ConnectRedis(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	services, err := bootstrap.Build(ctx, bootstrap.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to build services", err)
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logg.Error(context.Background(), "error closing event channel", err)
		}
	}()

	schedule := cron.ScheduleParams{
		Logger:  logg,
		Redis:   redisClient,
		Metrics: metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		LockTTL: cfg.Sweeper.LockTTL,
	}
	sweepService, err := cron.NewExpirySweepService(schedule, services.Subscriptions, cfg.Sweeper.Interval)
	if err != nil {
		logg.Error(ctx, "failed to create expiry sweep service", err)
		os.Exit(1)
	}
	heartbeatService, err := cron.NewHeartbeatService(schedule, services.Cache, cfg.Sweeper.HeartbeatTTL, cfg.Sweeper.HeartbeatInterval)
	if err != nil {
		logg.Error(ctx, "failed to create heartbeat service", err)
		os.Exit(1)
	}
	listener, err := subscriptions.NewListener(services.Transport, logg)
	if err != nil {
		logg.Error(ctx, "failed to create lifecycle listener", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := runAll(ctx, sweepService.Run, heartbeatService.Run, listener.Run); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// runAll runs every task until ctx ends. The first real failure cancels the rest.
func runAll(ctx context.Context, tasks ...func(context.Context) error) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, task := range tasks {
		p.Go(task)
	}
	return ignoreCanceled(p.Wait())
}

func ignoreCanceled(err error) error {
	var kept error
	for _, e := range multierr.Errors(err) {
		if errors.Is(e, context.Canceled) {
			continue
		}
		kept = multierr.Append(kept, e)
	}
	return kept
}
