package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
)

var errSQLiteUnsupported = errors.New("goose migrations target postgres; sqlite schemas come from auto-migrate")

func newRootCmd() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the entitlements database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory; empty uses the embedded set for database commands and "+migrate.DefaultDir+" for files")

	sourceDir := func() string {
		if dir == "" {
			return migrate.DefaultDir
		}
		return dir
	}

	root.AddCommand(
		gooseCmd("up", "Apply all pending migrations", &dir),
		gooseCmd("down", "Roll back the latest migration", &dir),
		gooseCmd("status", "Print applied and pending migrations", &dir),
		&cobra.Command{
			Use:   "to <version>",
			Short: "Migrate up or down to an exact version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, sqlDB *sql.DB) error {
					return migrate.MigrateToVersion(ctx, sqlDB, dir, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Write a new empty SQL migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := migrate.CreateSQLMigration(sourceDir(), args[0], time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check migration filenames and goose annotations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.ValidateDir(sourceDir()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations ok")
				return nil
			},
		},
	)
	return root
}

func gooseCmd(command, short string, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, sqlDB *sql.DB) error {
				return migrate.Run(ctx, sqlDB, *dir, command)
			})
		},
	}
}

// withDB loads config, opens postgres and hands the raw handle to fn.
func withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DB.IsSQLite() {
		return errSQLiteUnsupported
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if err := fn(ctx, sqlDB); err != nil {
		logg.Error(ctx, "migration command failed", err)
		return err
	}
	logg.Info(ctx, "migration command finished")
	return nil
}
