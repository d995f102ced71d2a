// Package sqlite provides SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older tooling
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMetadata(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

// beginImmediateTx starts a transaction with retry logic for robustness.
// The IMMEDIATE locking is ensured by _txlock=immediate in the DSN.
func beginImmediateTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	var tx *sql.Tx
	err := withBusyRetry(ctx, func() error {
		var err error
		tx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// withBusyRetry retries fn with exponential backoff while SQLite reports
// the database as busy or locked.
func withBusyRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 5
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isSQLiteBusyError(err) {
			return err
		}

		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("database busy after %d attempts: %w", maxRetries, lastErr)
}

// isSQLiteBusyError checks if an error is an SQLITE_BUSY or SQLITE_LOCKED error.
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "sqlite_busy") ||
		strings.Contains(errStr, "sqlite_locked") ||
		strings.Contains(errStr, "(5)") ||   // SQLITE_BUSY
		strings.Contains(errStr, "(6)") ||   // SQLITE_LOCKED
		strings.Contains(errStr, "(517)") || // SQLITE_BUSY_SNAPSHOT
		strings.Contains(errStr, "(262)")    // SQLITE_BUSY_RECOVERY
}

// isUniqueViolation matches the constraint message both SQLite drivers emit.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
