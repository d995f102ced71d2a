package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

// GrantRepository implements repository.GrantRepository for PostgreSQL.
type GrantRepository struct {
	pool *Pool
}

// NewGrantRepository creates a new PostgreSQL grant repository.
func NewGrantRepository(pool *Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
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

	_, err := r.pool.Exec(ctx, `
		INSERT INTO file_grants (id, file_id, user_id, action, granted_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (file_id, user_id, action) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at`,
		grant.ID, grant.FileID, grant.UserID, string(grant.Action), grant.GrantedBy, grant.ExpiresAt, grant.CreatedAt)
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// HasActiveGrant reports whether a non-expired grant exists.
func (r *GrantRepository) HasActiveGrant(ctx context.Context, fileID, userID string, action models.GrantAction, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM file_grants
			WHERE file_id = $1 AND user_id = $2 AND action = $3
			  AND (expires_at IS NULL OR expires_at > $4)
		)`, fileID, userID, string(action), now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return exists, nil
}

// ListByFile returns all grants on a file, oldest first.
func (r *GrantRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, file_id, user_id, action, granted_by, expires_at, created_at
		FROM file_grants WHERE file_id = $1 ORDER BY created_at, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := []models.FileGrant{}
	for rows.Next() {
		var g models.FileGrant
		var action string
		if err := rows.Scan(&g.ID, &g.FileID, &g.UserID, &action, &g.GrantedBy, &g.ExpiresAt, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Action = models.GrantAction(action)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Revoke deletes one grant.
func (r *GrantRepository) Revoke(ctx context.Context, fileID, userID string, action models.GrantAction) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM file_grants WHERE file_id = $1 AND user_id = $2 AND action = $3`,
		fileID, userID, string(action))
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByFile removes every grant on a file.
func (r *GrantRepository) DeleteByFile(ctx context.Context, fileID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM file_grants WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("failed to delete grants: %w", err)
	}
	return nil
}

// AuditRepository implements repository.AuditRepository for PostgreSQL.
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
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

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, file_id, user_id, action, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.FileID, entry.UserID, entry.Action,
		nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent), metadata, entry.CreatedAt)
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

	rows, err := r.pool.Query(ctx, `
		SELECT id, file_id, user_id, action, ip_address, user_agent, metadata, created_at
		FROM audit_log WHERE file_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, fileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			e        models.AuditEntry
			ip, ua   *string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.FileID, &e.UserID, &e.Action, &ip, &ua, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.IPAddress = derefString(ip)
		e.UserAgent = derefString(ua)
		if e.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SessionRepository implements repository.SessionRepository for PostgreSQL.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a token hash.
func (r *SessionRepository) Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		tokenHash, userID, expiresAt)
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
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE token_hash = $1 AND expires_at > $2`,
		tokenHash, now).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return userID, nil
}

// DeleteExpired removes sessions past their expiry.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
