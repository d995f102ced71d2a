// Package mock provides mock implementations of repository interfaces for testing.
// These mocks allow tests to run without a real database and provide
// configurable behavior for testing error conditions and edge cases.
//
// IMPORTANT: Error injection fields (e.g., CreateError) and hooks (e.g., OnUpdateStatus)
// should be set BEFORE any concurrent operations begin. They are not protected
// by the mutex for performance reasons in typical test scenarios.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

// UploadRepository is a mock implementation of repository.UploadRepository for testing.
// It stores records in memory and provides configurable behavior for tests.
type UploadRepository struct {
	mu sync.RWMutex

	records map[string]*models.UploadRecord

	// Error injection for testing error handling
	// NOTE: Set these BEFORE concurrent access begins
	CreateError       error
	GetByIDError      error
	UpdateStatusError error
	ListByOwnerError  error
	ListStaleError    error
	DeleteError       error

	// OnUpdateStatus runs before the conditional update is applied, letting a
	// test move the record underneath the caller.
	OnUpdateStatus func(ctx context.Context, id string, expected models.UploadStatus, update repository.StatusUpdate)
}

// NewUploadRepository creates a new mock UploadRepository with default behavior.
func NewUploadRepository() *UploadRepository {
	return &UploadRepository{
		records: make(map[string]*models.UploadRecord),
	}
}

// Ensure UploadRepository implements repository.UploadRepository
var _ repository.UploadRepository = (*UploadRepository)(nil)

// Reset clears all records and errors for a fresh test state.
func (r *UploadRepository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*models.UploadRecord)

	r.CreateError = nil
	r.GetByIDError = nil
	r.UpdateStatusError = nil
	r.ListByOwnerError = nil
	r.ListStaleError = nil
	r.DeleteError = nil
	r.OnUpdateStatus = nil
}

// copyRecord creates a deep copy of a record including the metadata map.
func copyRecord(src *models.UploadRecord) *models.UploadRecord {
	if src == nil {
		return nil
	}
	dst := *src
	if src.Metadata != nil {
		dst.Metadata = make(map[string]string, len(src.Metadata))
		for k, v := range src.Metadata {
			dst.Metadata[k] = v
		}
	}
	return &dst
}

// AddRecord directly adds a record to the mock repository for test setup.
func (r *UploadRepository) AddRecord(record *models.UploadRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	r.records[record.ID] = copyRecord(record)
}

// SetStatus forces a record's status, bypassing the conditional update.
func (r *UploadRepository) SetStatus(id string, status models.UploadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.Status = status
		rec.UpdatedAt = time.Now()
	}
}

// Create implements repository.UploadRepository.Create
func (r *UploadRepository) Create(ctx context.Context, record *models.UploadRecord) error {
	if r.CreateError != nil {
		return r.CreateError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, exists := r.records[record.ID]; exists {
		return repository.ErrDuplicateKey
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	r.records[record.ID] = copyRecord(record)
	return nil
}

// GetByID implements repository.UploadRepository.GetByID
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.UploadRecord, error) {
	if r.GetByIDError != nil {
		return nil, r.GetByIDError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRecord(rec), nil
}

// UpdateStatus implements repository.UploadRepository.UpdateStatus
func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, expected models.UploadStatus, update repository.StatusUpdate) error {
	if r.UpdateStatusError != nil {
		return r.UpdateStatusError
	}
	if r.OnUpdateStatus != nil {
		r.OnUpdateStatus(ctx, id, expected, update)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Status != expected {
		return repository.ErrConcurrentModification
	}

	rec.Status = update.Status
	if update.ETag != "" {
		rec.ETag = update.ETag
	}
	if update.Version != "" {
		rec.Version = update.Version
	}
	if update.LeaseToken != nil {
		rec.LeaseToken = *update.LeaseToken
	}
	if update.ClearUploadID {
		rec.UploadID = ""
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// ListByOwner implements repository.UploadRepository.ListByOwner
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string, opts repository.PaginationOptions) ([]models.UploadRecord, error) {
	if r.ListByOwnerError != nil {
		return nil, r.ListByOwnerError
	}
	opts = opts.Normalize()

	r.mu.RLock()
	var owned []models.UploadRecord
	for _, rec := range r.records {
		if rec.UserID == ownerID {
			owned = append(owned, *copyRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })

	if opts.Offset >= len(owned) {
		return []models.UploadRecord{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[opts.Offset:end], nil
}

// ListStale implements repository.UploadRepository.ListStale
func (r *UploadRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.UploadRecord, error) {
	if r.ListStaleError != nil {
		return nil, r.ListStaleError
	}

	r.mu.RLock()
	var stale []models.UploadRecord
	for _, rec := range r.records {
		if !rec.Status.IsTerminal() && rec.UpdatedAt.Before(olderThan) {
			stale = append(stale, *copyRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// CountByStatus implements repository.UploadRepository.CountByStatus
func (r *UploadRepository) CountByStatus(ctx context.Context) (map[models.UploadStatus]repository.StatusTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[models.UploadStatus]repository.StatusTotal)
	for _, rec := range r.records {
		t := totals[rec.Status]
		t.Count++
		t.Bytes += rec.Size
		totals[rec.Status] = t
	}
	return totals, nil
}

// Delete implements repository.UploadRepository.Delete
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	if r.DeleteError != nil {
		return r.DeleteError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, id)
	return nil
}
