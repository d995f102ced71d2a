package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

const uploadColumns = `id, user_id, original_name, mime_type, size, object_key, upload_id, part_size,
	status, lease_token, etag, version, metadata, created_at, updated_at`

// UploadRepository implements repository.UploadRepository for SQLite.
type UploadRepository struct {
	db *sql.DB
}

// NewUploadRepository creates a new SQLite upload repository.
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create inserts a new upload record.
func (r *UploadRepository) Create(ctx context.Context, record *models.UploadRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil: %w", repository.ErrInvalidInput)
	}
	if !record.Status.Valid() {
		return fmt.Errorf("invalid status %q: %w", record.Status, repository.ErrInvalidInput)
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO uploads (` + uploadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = withBusyRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query,
			record.ID,
			record.UserID,
			record.OriginalName,
			record.MimeType,
			record.Size,
			record.Key,
			nullString(record.UploadID),
			record.PartSize,
			string(record.Status),
			nullString(record.LeaseToken),
			nullString(record.ETag),
			nullString(record.Version),
			metadata,
			formatTime(record.CreatedAt),
			formatTime(record.UpdatedAt),
		)
		return err
	})
	if isUniqueViolation(err) {
		return repository.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to create upload record: %w", err)
	}
	return nil
}

// GetByID retrieves an upload record by ID.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.UploadRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	record, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload record: %w", err)
	}
	return record, nil
}

// UpdateStatus performs a compare-and-set on the record's status.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, expected models.UploadStatus, update repository.StatusUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("invalid status %q: %w", update.Status, repository.ErrInvalidInput)
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(update.Status), formatTime(time.Now())}
	if update.ETag != "" {
		sets = append(sets, "etag = ?")
		args = append(args, update.ETag)
	}
	if update.Version != "" {
		sets = append(sets, "version = ?")
		args = append(args, update.Version)
	}
	if update.LeaseToken != nil {
		sets = append(sets, "lease_token = ?")
		args = append(args, nullString(*update.LeaseToken))
	}
	if update.ClearUploadID {
		sets = append(sets, "upload_id = NULL")
	}
	args = append(args, id, string(expected))

	query := `UPDATE uploads SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`

	var affected int64
	err := withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}

	if affected == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM uploads WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check upload record: %w", err)
		}
		return repository.ErrConcurrentModification
	}
	return nil
}

// ListByOwner returns the owner's records, newest first.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string, opts repository.PaginationOptions) ([]models.UploadRecord, error) {
	opts = opts.Normalize()

	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`, ownerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

// ListStale returns unfinished records last touched before olderThan, oldest first.
func (r *UploadRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.UploadRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads
		WHERE status IN ('pending', 'uploading') AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?`, formatTime(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale uploads: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

// CountByStatus aggregates records per status.
func (r *UploadRepository) CountByStatus(ctx context.Context) (map[models.UploadStatus]repository.StatusTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(size), 0) FROM uploads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count uploads: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.UploadStatus]repository.StatusTotal)
	for rows.Next() {
		var status string
		var t repository.StatusTotal
		if err := rows.Scan(&status, &t.Count, &t.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan upload totals: %w", err)
		}
		totals[models.UploadStatus(status)] = t
	}
	return totals, rows.Err()
}

// Delete removes a record and its grants in one transaction.
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_grants WHERE file_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete grants: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUpload(row rowScanner) (*models.UploadRecord, error) {
	var (
		rec                                    models.UploadRecord
		status, createdAt, updatedAt           string
		uploadID, leaseToken, etag, version, m sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.OriginalName,
		&rec.MimeType,
		&rec.Size,
		&rec.Key,
		&uploadID,
		&rec.PartSize,
		&status,
		&leaseToken,
		&etag,
		&version,
		&m,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.UploadStatus(status)
	rec.UploadID = uploadID.String
	rec.LeaseToken = leaseToken.String
	rec.ETag = etag.String
	rec.Version = version.String

	if rec.Metadata, err = decodeMetadata(m); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &rec, nil
}

func collectUploads(rows *sql.Rows) ([]models.UploadRecord, error) {
	records := []models.UploadRecord{}
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload records: %w", err)
	}
	return records, nil
}
