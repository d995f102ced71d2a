package repository

import (
	"context"
	"time"

	"github.com/fjmerc/chunkvault/internal/models"
)

// StatusUpdate describes a conditional status transition.
type StatusUpdate struct {
	Status models.UploadStatus

	// ETag and Version are written only when non-empty.
	ETag    string
	Version string

	// LeaseToken replaces the stored lease when non-nil.
	LeaseToken *string

	// ClearUploadID drops the multipart session identifier.
	ClearUploadID bool
}

// StatusTotal aggregates the records in one status.
type StatusTotal struct {
	Count int64
	Bytes int64
}

// UploadRepository defines the interface for upload record operations.
// All methods accept a context for cancellation and timeout support.
type UploadRepository interface {
	// Create inserts a new upload record. An empty ID is filled with a new
	// UUID; CreatedAt and UpdatedAt are set to the current time.
	Create(ctx context.Context, record *models.UploadRecord) error

	// GetByID retrieves an upload record.
	// Returns ErrNotFound if the record doesn't exist.
	GetByID(ctx context.Context, id string) (*models.UploadRecord, error)

	// UpdateStatus applies update only if the record's status is still expected.
	// Returns ErrNotFound if the record doesn't exist and
	// ErrConcurrentModification if the status has moved on.
	UpdateStatus(ctx context.Context, id string, expected models.UploadStatus, update StatusUpdate) error

	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string, opts PaginationOptions) ([]models.UploadRecord, error)

	// ListStale returns pending or uploading records last updated before olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.UploadRecord, error)

	// CountByStatus returns record counts and declared bytes per status.
	CountByStatus(ctx context.Context) (map[models.UploadStatus]StatusTotal, error)

	// Delete removes a record together with its grants.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id string) error
}
