package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

const uploadColumns = `id, user_id, original_name, mime_type, size, object_key, upload_id, part_size,
	status, lease_token, etag, version, metadata, created_at, updated_at`

// UploadRepository implements repository.UploadRepository for PostgreSQL.
type UploadRepository struct {
	pool *Pool
}

// NewUploadRepository creates a new PostgreSQL upload repository.
func NewUploadRepository(pool *Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
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

	_, err = r.pool.Exec(ctx, `INSERT INTO uploads (`+uploadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.ID,
		record.UserID,
		record.OriginalName,
		record.MimeType,
		record.Size,
		record.Key,
		nullIfEmpty(record.UploadID),
		record.PartSize,
		string(record.Status),
		nullIfEmpty(record.LeaseToken),
		nullIfEmpty(record.ETag),
		nullIfEmpty(record.Version),
		metadata,
		record.CreatedAt,
		record.UpdatedAt,
	)
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
	row := r.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)
	record, err := scanUpload(row)
	if errors.Is(err, pgx.ErrNoRows) {
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

	args := []interface{}{string(update.Status), time.Now().UTC()}
	sets := []string{"status = $1", "updated_at = $2"}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if update.ETag != "" {
		add("etag", update.ETag)
	}
	if update.Version != "" {
		add("version", update.Version)
	}
	if update.LeaseToken != nil {
		add("lease_token", nullIfEmpty(*update.LeaseToken))
	}
	if update.ClearUploadID {
		sets = append(sets, "upload_id = NULL")
	}
	args = append(args, id, string(expected))

	query := fmt.Sprintf(`UPDATE uploads SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	affected, err := withRetry(ctx, 3, func() (int64, error) {
		tag, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}

	if affected == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM uploads WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check upload record: %w", err)
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConcurrentModification
	}
	return nil
}

// ListByOwner returns the owner's records, newest first.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string, opts repository.PaginationOptions) ([]models.UploadRecord, error) {
	opts = opts.Normalize()

	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+` FROM uploads
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, ownerID, opts.Limit, opts.Offset)
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

	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+` FROM uploads
		WHERE status IN ('pending', 'uploading') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale uploads: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

// CountByStatus aggregates records per status.
func (r *UploadRepository) CountByStatus(ctx context.Context) (map[models.UploadStatus]repository.StatusTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(size), 0)::BIGINT FROM uploads GROUP BY status`)
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

// Delete removes a record; grants go with it through the foreign key cascade.
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUpload(row pgx.Row) (*models.UploadRecord, error) {
	var (
		rec                                 models.UploadRecord
		status                              string
		uploadID, leaseToken, etag, version *string
		metadata                            []byte
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
		&metadata,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.UploadStatus(status)
	rec.UploadID = derefString(uploadID)
	rec.LeaseToken = derefString(leaseToken)
	rec.ETag = derefString(etag)
	rec.Version = derefString(version)
	if rec.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectUploads(rows pgx.Rows) ([]models.UploadRecord, error) {
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

// encodeMetadata returns the JSON text for a JSONB column, or nil for NULL.
func encodeMetadata(m map[string]string) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
