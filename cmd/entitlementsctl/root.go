package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/internal/bootstrap"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

type cliState struct {
	cfg  *config.Config
	logg *logger.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}
	root := &cobra.Command{
		Use:           "entitlementsctl",
		Short:         "Operate the entitlements service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			state.cfg = cfg
			state.logg = logger.New(logger.Options{
				ServiceName: "entitlementsctl",
				Level:       logger.ParseLevel(cfg.App.LogLevel),
				Output:      cmd.ErrOrStderr(),
			})
			return nil
		},
	}
	root.AddCommand(
		newSeedPlansCmd(state),
		newSweepOnceCmd(state),
		newMintTokenCmd(state),
	)
	return root
}

// app is the set of connections a command opened. close releases them in
// reverse order.
type app struct {
	db       *db.Client
	redis    *redis.Client
	services *bootstrap.Runtime
}

func (s *cliState) open(ctx context.Context) (*app, error) {
	dbClient, err := db.New(ctx, s.cfg.DB, s.logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err := migrate.MaybeRunDev(ctx, s.cfg, s.logg, dbClient); err != nil {
		return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), dbClient.Close())
	}
	redisClient, err := bootstrap.ConnectRedis(ctx, s.cfg, s.logg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), dbClient.Close())
	}
	a := &app{db: dbClient, redis: redisClient}
	services, err := bootstrap.Build(ctx, bootstrap.Params{
		Config: s.cfg,
		Logger: s.logg,
		DB:     dbClient,
		Redis:  redisClient,
	})
	if err != nil {
		return nil, multierr.Append(err, a.close())
	}
	a.services = services
	return a, nil
}

func (a *app) close() error {
	var err error
	if a.services != nil {
		err = multierr.Append(err, a.services.Close())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	return multierr.Append(err, a.db.Close())
}
