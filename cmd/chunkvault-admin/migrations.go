package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/database"
)

func migrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "Show which SQLite schema migrations are applied",
		Long: `Open the SQLite record store at DB_PATH, apply any pending migrations and
list every embedded migration with its state. PostgreSQL deployments apply
their migrations on server start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.DBType != config.DBTypeSQLite {
				return fmt.Errorf("migrations command supports DB_TYPE=%s only", config.DBTypeSQLite)
			}

			db, err := database.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			status, err := database.GetMigrationStatus(db)
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}

			if jsonOutput {
				printJSON(status)
				return nil
			}
			for _, m := range status {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				fmt.Printf("%-32s %s\n", m.Name, state)
			}
			return nil
		},
	}
}
