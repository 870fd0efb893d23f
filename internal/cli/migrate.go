package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-challenge-service/internal/config"
	pgmigrations "live-challenge-service/internal/infra/postgres/migrations"
	"live-challenge-service/internal/logger"
)

// NewMigrateCmd applies database migrations, or rolls back the last group with --rollback.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Server.LogLevel, cfg.Server.PrettyLogs)
			if rollback {
				return rollbackWithConfig(cmd.Context(), cfg)
			}
			return runMigrationsWithConfig(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	return cmd
}

func newMigrator(ctx context.Context, cfg config.Config) (*migrate.Migrator, func(), error) {
	if cfg.Postgres.URL == "" {
		return nil, nil, fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return migrator, func() { _ = db.Close() }, nil
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config) error {
	migrator, closeDB, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info().Msg("no new migrations")
		return nil
	}
	logger.Info().Str("group", group.String()).Msg("migrations applied")
	return nil
}

func rollbackWithConfig(ctx context.Context, cfg config.Config) error {
	migrator, closeDB, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info().Msg("nothing to roll back")
		return nil
	}
	logger.Info().Str("group", group.String()).Msg("migrations rolled back")
	return nil
}
