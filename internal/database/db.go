// Package database opens the SQLite record store and keeps its schema current.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Open opens the SQLite database, applies connection pragmas and runs
// pending migrations.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" && !strings.Contains(dbPath, "?") {
		// Writers take the lock up front instead of failing on upgrade
		dsn = dbPath + "?_txlock=immediate"
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ApplyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// ApplyPragmas enables foreign keys and WAL mode for better concurrency.
func ApplyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA busy_timeout = 5000", // 5 second busy timeout
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return nil
}
