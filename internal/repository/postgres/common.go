// Package postgres implements the record store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes the repositories branch on
const (
	UniqueViolation      = "23505"
	ForeignKeyViolation  = "23503"
	SerializationFailure = "40001"
	DeadlockDetected     = "40P01"
)

const (
	defaultMaxConns  = 25
	retryBaseBackoff = 50 * time.Millisecond
)

// Pool is the connection pool shared by every repository.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens a pool and verifies the server answers a ping.
func NewPool(ctx context.Context, connString string, maxConns int32) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pc.MaxConns = defaultMaxConns
	if maxConns > 0 {
		pc.MaxConns = maxConns
	}
	pc.MinConns = min(pc.MinConns, pc.MaxConns)
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// sqlState returns the SQLSTATE carried by err, or "" for non-server errors.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryableError(err error) bool {
	code := sqlState(err)
	return code == SerializationFailure || code == DeadlockDetected
}

func isUniqueViolation(err error) bool { return sqlState(err) == UniqueViolation }

func isForeignKeyViolation(err error) bool { return sqlState(err) == ForeignKeyViolation }

// withRetry reruns fn with doubling backoff while it fails with a
// serialization failure or deadlock, up to maxRetries extra attempts.
func withRetry[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	backoff := retryBaseBackoff
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil || !isRetryableError(err) {
			return result, err
		}
		if attempt == maxRetries {
			var zero T
			return zero, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// nullIfEmpty stores "" as SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
