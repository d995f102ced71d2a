package uploads

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/utils"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

const (
	defaultListLimit      = 50
	maxListLimit          = 100
	defaultDownloadExpiry = 3600
	maxDownloadExpiry     = 86400
)

// List returns one page of the caller's own uploads, newest first.
func (s *Service) List(ctx context.Context, caller Caller, limit, offset int) (*models.FileListResponse, error) {
	const op = "List"

	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 0 || limit > maxListLimit {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "limit must be between 1 and %d", maxListLimit).WithOp(op)
	}
	if offset < 0 {
		return nil, uploaderr.New(uploaderr.InvalidInput, "offset must not be negative").WithOp(op)
	}

	files, err := s.uploads.ListByOwner(ctx, caller.UserID, repository.PaginationOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, repoError(op, err)
	}
	return &models.FileListResponse{Files: files, Limit: limit, Offset: offset}, nil
}

// DownloadURL presigns a GET for a completed upload. expiresIn is in
// seconds; zero selects the default.
func (s *Service) DownloadURL(ctx context.Context, caller Caller, fileID string, expiresIn int) (*models.DownloadURLResponse, error) {
	const op = "DownloadURL"

	if expiresIn == 0 {
		expiresIn = defaultDownloadExpiry
	}
	limit := min(maxDownloadExpiry, int(s.cfg.DownloadMaxExpiry/time.Second))
	if expiresIn < 1 || expiresIn > limit {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "expiresIn must be between 1 and %d seconds", limit).WithOp(op)
	}

	rec, err := s.authorize(ctx, op, caller, fileID, models.ActionRead)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusCompleted {
		return nil, uploaderr.Newf(uploaderr.InvalidState, "upload is %s, not completed", rec.Status).WithOp(op)
	}

	filename := utils.SanitizeFilename(rec.OriginalName)
	url, err := s.gateway.PresignDownload(ctx, rec.Key, filename, time.Duration(expiresIn)*time.Second)
	if err != nil {
		return nil, storageError(op, err)
	}

	metrics.DownloadURLsIssuedTotal.Inc()
	s.logAudit(ctx, caller, rec.ID, models.AuditDownload, map[string]string{
		"expiresIn": strconv.Itoa(expiresIn),
	})

	return &models.DownloadURLResponse{
		URL:       url,
		FileName:  filename,
		MimeType:  rec.MimeType,
		Size:      rec.Size,
		ExpiresIn: expiresIn,
	}, nil
}

// Delete removes an upload in any state: it aborts an open session, deletes
// a stored object and then drops the record with its grants. Audit history
// is kept.
func (s *Service) Delete(ctx context.Context, caller Caller, fileID string) (*models.DeleteFileResponse, error) {
	const op = "Delete"

	rec, err := s.authorize(ctx, op, caller, fileID, models.ActionDelete)
	if err != nil {
		return nil, err
	}

	done, err := s.beginOperation(op, rec.ID)
	if err != nil {
		return nil, err
	}
	defer done()

	status := rec.Status

	// Fail an unfinished record before removing it. A completion racing
	// this delete then either landed first, and its object is removed
	// below, or loses its conditional update and removes the object itself.
	for !rec.Status.IsTerminal() {
		err := s.uploads.UpdateStatus(ctx, rec.ID, rec.Status, repository.StatusUpdate{
			Status:        models.StatusFailed,
			ClearUploadID: true,
		})
		if err == nil {
			if rec.UploadID != "" {
				s.abortSession(ctx, rec.Key, rec.UploadID)
			}
			break
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return nil, repoError(op, err)
		}
		if rec, err = s.uploads.GetByID(ctx, rec.ID); err != nil {
			return nil, repoError(op, err)
		}
	}
	if rec.Status == models.StatusCompleted {
		if err := s.gateway.DeleteObject(ctx, rec.Key); err != nil {
			return nil, storageError(op, err)
		}
	}

	if err := s.grants.DeleteByFile(ctx, rec.ID); err != nil {
		return nil, repoError(op, err)
	}
	if err := s.uploads.Delete(ctx, rec.ID); err != nil {
		return nil, repoError(op, err)
	}

	s.logAudit(ctx, caller, rec.ID, models.AuditDelete, map[string]string{
		"originalName": rec.OriginalName,
		"status":       string(status),
	})
	slog.Info("upload deleted", "file_id", rec.ID, "user_id", caller.UserID, "status", status)

	return &models.DeleteFileResponse{FileID: rec.ID, Deleted: true}, nil
}
