package uploads

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// ImportRequest describes a file streamed in by an operator rather than
// uploaded through presigned URLs.
type ImportRequest struct {
	UserID       string
	OriginalName string
	MimeType     string
	Size         int64
	Metadata     map[string]string
	Body         io.Reader
}

// Import writes req.Body straight to the store and records it as a
// completed upload owned by req.UserID. It requires a gateway that can
// write objects server-side.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*models.UploadRecord, error) {
	const op = "Import"

	writer, ok := s.gateway.(storage.ObjectWriter)
	if !ok {
		return nil, uploaderr.New(uploaderr.InvalidState, "storage backend does not support imports").WithOp(op)
	}
	if req.UserID == "" {
		return nil, uploaderr.New(uploaderr.InvalidInput, "owner is required").WithOp(op)
	}

	name := strings.TrimSpace(req.OriginalName)
	if name == "" || len(name) > maxNameLength {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "originalName must be 1 to %d bytes", maxNameLength).WithOp(op)
	}
	mimeType, ok := s.normalizeMimeType(req.MimeType)
	if !ok {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "file type %q is not allowed", req.MimeType).WithOp(op)
	}
	if req.Size <= 0 || req.Size > s.cfg.MaxFileSize {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "size must be between 1 and %d bytes", s.cfg.MaxFileSize).WithOp(op)
	}

	key, err := s.objectKey(req.UserID, name)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.Internal, "internal error", err).WithOp(op)
	}

	rec := &models.UploadRecord{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		OriginalName: name,
		MimeType:     mimeType,
		Size:         req.Size,
		Key:          key,
		Status:       models.StatusPending,
		Metadata:     req.Metadata,
	}
	if err := s.uploads.Create(ctx, rec); err != nil {
		return nil, repoError(op, err)
	}

	done, err := s.beginOperation(op, rec.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	info, err := writer.PutObject(ctx, key, mimeType, io.LimitReader(req.Body, req.Size+1))
	if err != nil {
		s.failImport(ctx, rec)
		return nil, storageError(op, err)
	}
	if info.Size != req.Size {
		if err := s.gateway.DeleteObject(ctx, key); err != nil {
			slog.Warn("failed to delete short import", "key", key, "error", err)
		}
		s.failImport(ctx, rec)
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "read %d bytes, expected %d", info.Size, req.Size).WithOp(op)
	}

	if err := s.uploads.UpdateStatus(ctx, rec.ID, models.StatusPending, repository.StatusUpdate{
		Status: models.StatusCompleted,
		ETag:   info.ETag,
	}); err != nil {
		return nil, repoError(op, err)
	}
	rec.Status = models.StatusCompleted
	rec.ETag = info.ETag

	metrics.UploadsCompletedTotal.WithLabelValues("import").Inc()
	metrics.UploadSizeBytes.Observe(float64(rec.Size))
	s.logAudit(ctx, systemCaller, rec.ID, models.AuditUploadCompleted, map[string]string{
		"etag":   info.ETag,
		"source": "import",
		"owner":  req.UserID,
	})

	slog.Info("file imported",
		"file_id", rec.ID,
		"user_id", req.UserID,
		"size", rec.Size,
		"key", key,
	)
	return rec, nil
}

func (s *Service) failImport(ctx context.Context, rec *models.UploadRecord) {
	if err := s.uploads.UpdateStatus(ctx, rec.ID, models.StatusPending, repository.StatusUpdate{
		Status: models.StatusFailed,
	}); err != nil {
		slog.Error("failed to mark import failed", "file_id", rec.ID, "error", err)
	}
}
