// Package migrate manages the notification log schema.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bowatch/bowatch/internal/infrastructure/config"
	"github.com/bowatch/bowatch/internal/infrastructure/database"
	"github.com/bowatch/bowatch/internal/infrastructure/migration"
	"github.com/bowatch/bowatch/internal/interfaces/cli/bootstrap"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

func NewCommand(flags *bootstrap.Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply, roll back or inspect the notification log migrations.`,
	}

	cmd.AddCommand(
		newUpCommand(flags),
		newDownCommand(flags),
		newStatusCommand(flags),
	)
	return cmd
}

func newUpCommand(flags *bootstrap.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGoose(cmd.Context(), flags, func(ctx context.Context, s *migration.GooseStrategy, log logger.Interface) error {
				log.Infow("running up migrations")
				if err := s.Migrate(ctx, database.Get()); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				log.Infow("migrations completed successfully")
				return nil
			})
		},
	}
}

func newDownCommand(flags *bootstrap.Flags) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGoose(cmd.Context(), flags, func(ctx context.Context, s *migration.GooseStrategy, log logger.Interface) error {
				log.Infow("running down migrations", "steps", steps)
				if err := s.MigrateDown(ctx, database.Get(), steps); err != nil {
					return fmt.Errorf("down migration failed: %w", err)
				}
				log.Infow("down migration completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to rollback")
	return cmd
}

func newStatusCommand(flags *bootstrap.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGoose(cmd.Context(), flags, func(ctx context.Context, s *migration.GooseStrategy, _ logger.Interface) error {
				v, err := s.GetVersion(ctx, database.Get())
				if err != nil {
					return fmt.Errorf("failed to get migration version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration Status:\n  Driver:          %s\n  Current Version: %d\n",
					config.Get().Database.Driver, v)
				return nil
			})
		},
	}
}

func withGoose(ctx context.Context, flags *bootstrap.Flags, fn func(context.Context, *migration.GooseStrategy, logger.Interface) error) error {
	cfg, log, err := bootstrap.Init(flags)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return errors.New("database.driver is not configured")
	}

	if err := database.Init(&cfg.Database, log); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Warnw("failed to close database", "error", err)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, migration.NewGooseStrategy(cfg.Database.Driver, log), log)
}
