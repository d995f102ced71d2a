package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a database migration
type Migration struct {
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

const migrationsTableSchema = `
CREATE TABLE IF NOT EXISTS migrations (
    id INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// RunMigrations applies all pending migrations, each in its own transaction.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsTableSchema); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	pending := 0
	for _, name := range names {
		if applied[name] {
			continue
		}

		body, err := fs.ReadFile(migrationFiles, path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if err := applyMigration(db, name, string(body)); err != nil {
			return err
		}
		slog.Info("migration applied", "migration", name)
		pending++
	}

	if pending > 0 {
		slog.Info("migrations complete", "applied", pending)
	}
	return nil
}

func applyMigration(db *sql.DB, name, body string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return nil
}

// migrationNames lists embedded migrations in apply order (001_, 002_, ...).
func migrationNames() ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedMigrations(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// GetMigrationStatus returns the status of all embedded migrations
func GetMigrationStatus(db *sql.DB) ([]Migration, error) {
	applied, err := appliedMigrations(db)
	if err != nil {
		return nil, err
	}

	names, err := migrationNames()
	if err != nil {
		return nil, err
	}

	status := make([]Migration, 0, len(names))
	for _, name := range names {
		status = append(status, Migration{Name: name, Applied: applied[name]})
	}
	return status, nil
}
