package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/repository"
)

// NewRepositories connects to PostgreSQL, applies migrations and creates all
// repository implementations. Cleanup closes the pool.
func NewRepositories(ctx context.Context, cfg config.PostgresConfig) (*repository.Repositories, error) {
	pool, err := NewPool(ctx, buildConnectionString(cfg), cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	repos, err := NewRepositoriesWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	repos.Cleanup = pool.Close
	return repos, nil
}

// NewRepositoriesWithPool creates all repositories over an existing pool.
// The caller is responsible for closing the pool; Cleanup is nil.
func NewRepositoriesWithPool(pool *Pool) (*repository.Repositories, error) {
	if pool == nil || pool.Pool == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Uploads:      NewUploadRepository(pool),
		Grants:       NewGrantRepository(pool),
		Audit:        NewAuditRepository(pool),
		Sessions:     NewSessionRepository(pool),
		DatabaseType: repository.DatabaseTypePostgreSQL,
		Ping:         pool.Ping,
	}, nil
}

// buildConnectionString constructs a PostgreSQL connection string from config.
// Credentials are URL-encoded to handle special characters safely.
func buildConnectionString(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}
