package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         string
}

// migrations contains all PostgreSQL schema migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Name:        "001_initial",
		Description: "Upload records, grants, audit log and access sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS uploads (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    original_name TEXT NOT NULL,
    mime_type TEXT NOT NULL,
    size BIGINT NOT NULL CHECK (size > 0),
    object_key TEXT UNIQUE NOT NULL,
    upload_id TEXT,
    part_size BIGINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'uploading', 'completed', 'failed')),
    lease_token TEXT,
    etag TEXT,
    version TEXT,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_uploads_user_created ON uploads(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_uploads_unfinished ON uploads(updated_at)
    WHERE status IN ('pending', 'uploading');

CREATE TABLE IF NOT EXISTS file_grants (
    id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL REFERENCES uploads(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    action TEXT NOT NULL CHECK (action IN ('read', 'write', 'delete')),
    granted_by TEXT NOT NULL,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (file_id, user_id, action)
);

CREATE INDEX IF NOT EXISTS idx_file_grants_user ON file_grants(user_id);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    seq BIGSERIAL,
    file_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    action TEXT NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_log_file_created ON audit_log(file_id, created_at DESC);

CREATE TABLE IF NOT EXISTS sessions (
    token_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`,
	},
}

const migrationsTableSchema = `
CREATE TABLE IF NOT EXISTS migrations (
    id SERIAL PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);
`

// RunMigrations applies every migration not yet recorded in the
// migrations table. Each one commits together with its bookkeeping row.
func RunMigrations(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, migrationsTableSchema); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, _ := pool.Query(ctx, "SELECT name FROM migrations")
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to load applied migrations: %w", err)
	}
	done := make(map[string]struct{}, len(names))
	for _, n := range names {
		done[n] = struct{}{}
	}

	var count int
	for _, m := range migrations {
		if _, ok := done[m.Name]; ok {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO migrations (name) VALUES ($1)", m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		slog.Info("migration applied", "migration", m.Name, "database", "postgresql")
		count++
	}

	if count > 0 {
		slog.Info("PostgreSQL migrations complete", "applied", count)
	}
	return nil
}
