package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

// GrantRepository implements repository.GrantRepository for SQLite.
type GrantRepository struct {
	db *sql.DB
}

// NewGrantRepository creates a new SQLite grant repository.
func NewGrantRepository(db *sql.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Create upserts a grant keyed on (file, user, action).
func (r *GrantRepository) Create(ctx context.Context, grant *models.FileGrant) error {
	if grant == nil || !grant.Action.Valid() {
		return fmt.Errorf("invalid grant: %w", repository.ErrInvalidInput)
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}

	err := withBusyRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO file_grants (id, file_id, user_id, action, granted_by, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (file_id, user_id, action) DO UPDATE SET
				granted_by = excluded.granted_by,
				expires_at = excluded.expires_at`,
			grant.ID, grant.FileID, grant.UserID, string(grant.Action), grant.GrantedBy,
			formatNullableTime(grant.ExpiresAt), formatTime(grant.CreatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// HasActiveGrant reports whether a non-expired grant exists.
func (r *GrantRepository) HasActiveGrant(ctx context.Context, fileID, userID string, action models.GrantAction, now time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM file_grants
		WHERE file_id = ? AND user_id = ? AND action = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		LIMIT 1`, fileID, userID, string(action), formatTime(now)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return true, nil
}

// ListByFile returns all grants on a file, oldest first.
func (r *GrantRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileGrant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, user_id, action, granted_by, expires_at, created_at
		FROM file_grants WHERE file_id = ? ORDER BY created_at, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := []models.FileGrant{}
	for rows.Next() {
		var (
			g         models.FileGrant
			action    string
			expiresAt sql.NullString
			createdAt string
		)
		if err := rows.Scan(&g.ID, &g.FileID, &g.UserID, &action, &g.GrantedBy, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Action = models.GrantAction(action)
		if expiresAt.Valid {
			t, err := parseTime(expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse expires_at: %w", err)
			}
			g.ExpiresAt = &t
		}
		if g.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Revoke deletes one grant.
func (r *GrantRepository) Revoke(ctx context.Context, fileID, userID string, action models.GrantAction) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM file_grants WHERE file_id = ? AND user_id = ? AND action = ?`,
		fileID, userID, string(action))
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByFile removes every grant on a file.
func (r *GrantRepository) DeleteByFile(ctx context.Context, fileID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM file_grants WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete grants: %w", err)
	}
	return nil
}

// AuditRepository implements repository.AuditRepository for SQLite.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new SQLite audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log appends an audit entry.
func (r *AuditRepository) Log(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metadata, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	err = withBusyRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO audit_log (id, file_id, user_id, action, ip_address, user_agent, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.FileID, entry.UserID, entry.Action,
			nullString(entry.IPAddress), nullString(entry.UserAgent), metadata, formatTime(entry.CreatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// ListByFile returns the newest entries for a file.
func (r *AuditRepository) ListByFile(ctx context.Context, fileID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, user_id, action, ip_address, user_agent, metadata, created_at
		FROM audit_log WHERE file_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, fileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			e                models.AuditEntry
			ip, ua, metadata sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&e.ID, &e.FileID, &e.UserID, &e.Action, &ip, &ua, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		if e.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SessionRepository implements repository.SessionRepository for SQLite.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a token hash.
func (r *SessionRepository) Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		tokenHash, userID, formatTime(time.Now()), formatTime(expiresAt))
	if isUniqueViolation(err) {
		return repository.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetUserID resolves a live token hash.
func (r *SessionRepository) GetUserID(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, formatTime(now)).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return userID, nil
}

// DeleteExpired removes sessions past their expiry.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
