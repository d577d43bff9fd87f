package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagekb/sage/internal/config"
	"github.com/sagekb/sage/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(pool); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}
