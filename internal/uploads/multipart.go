package uploads

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/pkg/partplan"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// PartURL presigns the upload of one part of a chunked upload.
func (s *Service) PartURL(ctx context.Context, caller Caller, req models.PartURLRequest) (*models.PartURLResponse, error) {
	const op = "PartURL"

	rec, err := s.authorize(ctx, op, caller, req.FileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	if err := requireSession(op, rec); err != nil {
		return nil, err
	}
	if err := checkLease(op, rec, req.LeaseToken); err != nil {
		return nil, err
	}

	total := partplan.PartCount(rec.Size, rec.PartSize)
	if req.PartNumber < 1 || req.PartNumber > total {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "partNumber must be between 1 and %d", total).WithOp(op)
	}

	url, err := s.gateway.PresignPartUpload(ctx, rec.Key, rec.UploadID, req.PartNumber, s.cfg.PresignExpiry)
	if err != nil {
		return nil, storageError(op, err)
	}
	metrics.PartURLsIssuedTotal.Inc()

	return &models.PartURLResponse{
		PresignedURL: url,
		PartNumber:   req.PartNumber,
		ExpiresAt:    s.now().Add(s.cfg.PresignExpiry).UTC(),
	}, nil
}

// CompleteMultipart validates the submitted part list against the plan,
// merges the parts in storage and marks the record completed.
func (s *Service) CompleteMultipart(ctx context.Context, caller Caller, req models.CompleteMultipartRequest) (*models.CompleteUploadResponse, error) {
	const op = "CompleteMultipart"

	rec, err := s.authorize(ctx, op, caller, req.FileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	if err := requireSession(op, rec); err != nil {
		return nil, err
	}
	if err := checkLease(op, rec, req.LeaseToken); err != nil {
		return nil, err
	}
	if req.UploadID != rec.UploadID {
		return nil, uploaderr.New(uploaderr.InvalidInput, "uploadId does not match this upload").WithOp(op)
	}

	parts, err := validatePartList(op, req.Parts, partplan.PartCount(rec.Size, rec.PartSize))
	if err != nil {
		return nil, err
	}

	done, err := s.beginOperation(op, rec.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	obj, err := s.gateway.CompleteMultipartSession(ctx, rec.Key, rec.UploadID, parts)
	if err != nil {
		if storage.KindOf(err) == uploaderr.NotFound {
			return nil, uploaderr.Wrap(uploaderr.InvalidState, "multipart session no longer exists", err).WithOp(op)
		}
		return nil, storageError(op, err)
	}

	err = s.uploads.UpdateStatus(ctx, rec.ID, rec.Status, repository.StatusUpdate{
		Status:        models.StatusCompleted,
		ETag:          obj.ETag,
		Version:       obj.Version,
		ClearUploadID: true,
	})
	if err != nil {
		// The object exists but the record moved on or was deleted. Without
		// a completed record nothing references it, so remove it.
		if errors.Is(err, repository.ErrConcurrentModification) || errors.Is(err, repository.ErrNotFound) {
			if derr := s.gateway.DeleteObject(ctx, rec.Key); derr != nil {
				slog.Warn("failed to delete orphaned object",
					"file_id", rec.ID,
					"key", rec.Key,
					"error", derr,
				)
			}
		}
		return nil, repoError(op, err)
	}

	metrics.UploadsCompletedTotal.WithLabelValues(modeLabel(true)).Inc()
	metrics.UploadSizeBytes.Observe(float64(rec.Size))
	metrics.UploadPartCount.Observe(float64(len(parts)))
	s.logAudit(ctx, caller, rec.ID, models.AuditUploadCompleted, map[string]string{
		"etag":  obj.ETag,
		"parts": strconv.Itoa(len(parts)),
	})

	slog.Info("multipart upload completed",
		"file_id", rec.ID,
		"size", rec.Size,
		"parts", len(parts),
	)

	return &models.CompleteUploadResponse{FileID: rec.ID, ETag: obj.ETag}, nil
}

// validatePartList checks numbers, tags and coverage, and returns the parts
// sorted by number.
func validatePartList(op string, parts []models.CompletedPart, total int) ([]storage.CompletedPart, error) {
	if len(parts) == 0 {
		return nil, uploaderr.New(uploaderr.InvalidInput, "parts must not be empty").WithOp(op)
	}

	seen := make(map[int]bool, len(parts))
	out := make([]storage.CompletedPart, 0, len(parts))
	for _, p := range parts {
		if p.PartNumber < 1 || p.PartNumber > total {
			return nil, uploaderr.Newf(uploaderr.InvalidInput, "partNumber %d is outside 1..%d", p.PartNumber, total).WithOp(op)
		}
		if seen[p.PartNumber] {
			return nil, uploaderr.Newf(uploaderr.InvalidInput, "partNumber %d is listed twice", p.PartNumber).WithOp(op)
		}
		if p.ETag == "" {
			return nil, uploaderr.Newf(uploaderr.InvalidInput, "part %d has no etag", p.PartNumber).WithOp(op)
		}
		seen[p.PartNumber] = true
		out = append(out, storage.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	if len(out) != total {
		return nil, uploaderr.Newf(uploaderr.IncompletePartSet, "got %d of %d parts", len(out), total).WithOp(op)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out, nil
}

// CompleteDirect marks a direct upload completed once the client has put
// the object.
func (s *Service) CompleteDirect(ctx context.Context, caller Caller, req models.CompleteDirectRequest) (*models.CompleteUploadResponse, error) {
	const op = "CompleteDirect"

	rec, err := s.authorize(ctx, op, caller, req.FileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, uploaderr.Newf(uploaderr.InvalidState, "upload is already %s", rec.Status).WithOp(op)
	}
	if rec.Chunked() {
		return nil, uploaderr.New(uploaderr.InvalidState, "upload is multipart; complete it with its part list").WithOp(op)
	}
	if err := checkLease(op, rec, req.LeaseToken); err != nil {
		return nil, err
	}

	etag := req.ETag
	if etag == "" {
		etag = models.DirectUploadETag
	}

	done, err := s.beginOperation(op, rec.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := s.uploads.UpdateStatus(ctx, rec.ID, rec.Status, repository.StatusUpdate{
		Status: models.StatusCompleted,
		ETag:   etag,
	}); err != nil {
		return nil, repoError(op, err)
	}

	metrics.UploadsCompletedTotal.WithLabelValues(modeLabel(false)).Inc()
	metrics.UploadSizeBytes.Observe(float64(rec.Size))
	metrics.UploadPartCount.Observe(1)
	s.logAudit(ctx, caller, rec.ID, models.AuditUploadCompleted, map[string]string{"etag": etag})

	return &models.CompleteUploadResponse{FileID: rec.ID, ETag: etag}, nil
}

// Abort moves an unfinished upload to failed and discards its multipart
// session. Aborting a failed upload again returns the same result.
func (s *Service) Abort(ctx context.Context, caller Caller, req models.AbortUploadRequest) (*models.AbortUploadResponse, error) {
	const op = "Abort"

	rec, err := s.authorize(ctx, op, caller, req.FileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.StatusFailed:
		return &models.AbortUploadResponse{FileID: rec.ID, Status: models.StatusFailed}, nil
	case models.StatusCompleted:
		return nil, uploaderr.New(uploaderr.InvalidState, "upload is already completed").WithOp(op)
	}
	if err := checkLease(op, rec, req.LeaseToken); err != nil {
		return nil, err
	}

	done, err := s.beginOperation(op, rec.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	err = s.uploads.UpdateStatus(ctx, rec.ID, rec.Status, repository.StatusUpdate{
		Status:        models.StatusFailed,
		ClearUploadID: true,
	})
	if errors.Is(err, repository.ErrConcurrentModification) {
		// Lost to another transition; a concurrent abort is still success.
		cur, gerr := s.uploads.GetByID(ctx, rec.ID)
		if gerr == nil && cur.Status == models.StatusFailed {
			return &models.AbortUploadResponse{FileID: rec.ID, Status: models.StatusFailed}, nil
		}
		return nil, repoError(op, err)
	}
	if err != nil {
		return nil, repoError(op, err)
	}

	if rec.UploadID != "" {
		s.abortSession(ctx, rec.Key, rec.UploadID)
	}

	metrics.UploadsAbortedTotal.WithLabelValues("cancelled").Inc()
	s.logAudit(ctx, caller, rec.ID, models.AuditUploadAborted, nil)

	slog.Info("upload aborted", "file_id", rec.ID, "user_id", caller.UserID)

	return &models.AbortUploadResponse{FileID: rec.ID, Status: models.StatusFailed}, nil
}

// UploadedParts lists what the store already holds for an open session,
// letting a restarted client skip those parts.
func (s *Service) UploadedParts(ctx context.Context, caller Caller, fileID string) (*models.UploadedPartsResponse, error) {
	const op = "UploadedParts"

	rec, err := s.authorize(ctx, op, caller, fileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	if !rec.HasActiveSession() {
		return nil, uploaderr.New(uploaderr.InvalidState, "upload has no open multipart session").WithOp(op)
	}

	stored, err := s.gateway.ListUploadedParts(ctx, rec.Key, rec.UploadID)
	if err != nil {
		if storage.KindOf(err) == uploaderr.NotFound {
			return nil, uploaderr.Wrap(uploaderr.InvalidState, "multipart session no longer exists", err).WithOp(op)
		}
		return nil, storageError(op, err)
	}

	parts := make([]models.UploadedPart, 0, len(stored))
	for _, p := range stored {
		parts = append(parts, models.UploadedPart{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size})
	}
	return &models.UploadedPartsResponse{FileID: rec.ID, Parts: parts}, nil
}

// UploadSession returns the multipart session id of a chunked upload.
func (s *Service) UploadSession(ctx context.Context, caller Caller, fileID string) (*models.UploadSessionResponse, error) {
	const op = "UploadSession"

	rec, err := s.authorize(ctx, op, caller, fileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	if rec.UploadID == "" {
		return nil, uploaderr.New(uploaderr.InvalidState, "upload has no multipart session").WithOp(op)
	}
	return &models.UploadSessionResponse{FileID: rec.ID, UploadID: rec.UploadID, Key: rec.Key}, nil
}

// Status reports where a record is in its lifecycle. A client whose
// completion response was lost uses it to learn whether the commit landed.
func (s *Service) Status(ctx context.Context, caller Caller, fileID string) (*models.UploadStatusResponse, error) {
	const op = "Status"

	rec, err := s.authorize(ctx, op, caller, fileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	return &models.UploadStatusResponse{
		FileID:    rec.ID,
		Status:    rec.Status,
		ETag:      rec.ETag,
		Size:      rec.Size,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// checkLease rejects callers other than the session that claimed an
// uploading record through Begin.
func checkLease(op string, rec *models.UploadRecord, token string) error {
	if rec.Status != models.StatusUploading || rec.LeaseToken == "" {
		return nil
	}
	if token != rec.LeaseToken {
		return uploaderr.New(uploaderr.Conflict, "upload is claimed by another session").WithOp(op)
	}
	return nil
}

// requireSession rejects records that can no longer take parts.
func requireSession(op string, rec *models.UploadRecord) error {
	if rec.Status.IsTerminal() {
		return uploaderr.Newf(uploaderr.InvalidState, "upload is already %s", rec.Status).WithOp(op)
	}
	if rec.UploadID == "" {
		return uploaderr.New(uploaderr.InvalidState, "upload is not multipart").WithOp(op)
	}
	return nil
}
