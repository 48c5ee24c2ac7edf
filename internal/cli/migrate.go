package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/entitlekit/pkg/config"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/pg"
)

// NewMigrateCommand creates the migrate command. It needs only Postgres.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log, _, err := newLogger(rootOpts)
			if err != nil {
				return err
			}

			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.InfoContext(ctx, "migrations applied", logger.Component("cli"))
			return nil
		},
	}
}
