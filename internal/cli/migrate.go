package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"

	"exam-room-service/internal/config"
	pgmigrations "exam-room-service/internal/infra/postgres/migrations"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// NewMigrateCmd applies, rolls back or lists database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var rollback, status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			switch {
			case status:
				return withMigrator(cmd.Context(), cfg, func(ctx context.Context, m *migrate.Migrator) error {
					return printMigrationStatus(ctx, m, cmd.OutOrStdout())
				})
			case rollback:
				return withMigrator(cmd.Context(), cfg, rollbackLastGroup)
			default:
				return runMigrationsWithConfig(cmd.Context(), cfg)
			}
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	cmd.Flags().BoolVar(&status, "status", false, "list migrations and whether they are applied")
	return cmd
}

// runMigrationsWithConfig is also called by start.
func runMigrationsWithConfig(ctx context.Context, cfg config.Config) error {
	return withMigrator(ctx, cfg, func(ctx context.Context, m *migrate.Migrator) error {
		group, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		if group.IsZero() {
			log.Printf("migrations: nothing to apply")
			return nil
		}
		log.Printf("migrations: applied %s", group)
		return nil
	})
}

func withMigrator(ctx context.Context, cfg config.Config, fn func(context.Context, *migrate.Migrator) error) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	return fn(ctx, migrator)
}

func rollbackLastGroup(ctx context.Context, m *migrate.Migrator) error {
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer m.Unlock(ctx)

	group, err := m.Rollback(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Printf("migrations: nothing to roll back")
		return nil
	}
	log.Printf("migrations: rolled back %s", group)
	return nil
}

func printMigrationStatus(ctx context.Context, m *migrate.Migrator, out io.Writer) error {
	ms, err := m.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}
	for _, mig := range ms {
		state := "pending"
		if mig.IsApplied() {
			state = fmt.Sprintf("applied (group %d)", mig.GroupID)
		}
		fmt.Fprintf(out, "%s\t%s\n", mig.Name, state)
	}
	return nil
}
