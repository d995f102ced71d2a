package repository

import (
	"context"
	"time"

	"github.com/fjmerc/chunkvault/internal/models"
)

// GrantRepository manages per-file permissions given to non-owners.
type GrantRepository interface {
	// Create inserts a grant. An existing grant for the same file, user and
	// action is replaced so its expiry can be extended.
	Create(ctx context.Context, grant *models.FileGrant) error

	// HasActiveGrant reports whether userID holds action on fileID at now.
	HasActiveGrant(ctx context.Context, fileID, userID string, action models.GrantAction, now time.Time) (bool, error)

	// ListByFile returns every grant on a file, expired ones included.
	ListByFile(ctx context.Context, fileID string) ([]models.FileGrant, error)

	// Revoke removes a grant.
	// Returns ErrNotFound if no such grant exists.
	Revoke(ctx context.Context, fileID, userID string, action models.GrantAction) error

	// DeleteByFile removes all grants on a file.
	DeleteByFile(ctx context.Context, fileID string) error
}

// AuditRepository records access to files.
type AuditRepository interface {
	// Log appends an entry. ID and CreatedAt are filled when empty.
	Log(ctx context.Context, entry *models.AuditEntry) error

	// ListByFile returns up to limit entries for a file, newest first.
	ListByFile(ctx context.Context, fileID string, limit int) ([]models.AuditEntry, error)
}

// SessionRepository resolves access tokens to user IDs.
type SessionRepository interface {
	// Create stores the hash of a newly issued token.
	Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error

	// GetUserID returns the owner of a token hash.
	// Returns ErrNotFound if the token is unknown or expired at now.
	GetUserID(ctx context.Context, tokenHash string, now time.Time) (string, error)

	// DeleteExpired removes sessions that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
