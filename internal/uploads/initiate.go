package uploads

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/utils"
	"github.com/fjmerc/chunkvault/pkg/partplan"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

const (
	maxNameLength    = 255
	maxMetadataBytes = 2048 // S3 user metadata limit
)

// Initiate validates a new upload, opens a multipart session when the upload
// is chunked, and stores a pending record. The response carries the URL for
// part 1, or the direct-put URL.
func (s *Service) Initiate(ctx context.Context, caller Caller, req models.InitiateUploadRequest) (*models.InitiateUploadResponse, error) {
	const op = "Initiate"

	name := strings.TrimSpace(req.OriginalName)
	if name == "" {
		return nil, uploaderr.New(uploaderr.InvalidInput, "originalName is required").WithOp(op)
	}
	if len(name) > maxNameLength {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "originalName exceeds %d bytes", maxNameLength).WithOp(op)
	}

	mimeType, ok := s.normalizeMimeType(req.MimeType)
	if !ok {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "file type %q is not allowed", req.MimeType).WithOp(op)
	}

	if req.Size <= 0 {
		return nil, uploaderr.New(uploaderr.InvalidInput, "size must be positive").WithOp(op)
	}
	if req.Size > s.cfg.MaxFileSize {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "size exceeds the maximum of %d bytes", s.cfg.MaxFileSize).WithOp(op)
	}

	metaBytes := 0
	for k, v := range req.Metadata {
		metaBytes += len(k) + len(v)
	}
	if metaBytes > maxMetadataBytes {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "metadata exceeds %d bytes", maxMetadataBytes).WithOp(op)
	}

	// Small files always go direct, whatever the client asked for.
	chunked := req.Chunked && partplan.ChunkEligible(req.Size, s.cfg.ChunkThreshold)

	key, err := s.objectKey(caller.UserID, name)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.Internal, "internal error", err).WithOp(op)
	}

	rec := &models.UploadRecord{
		ID:           uuid.NewString(),
		UserID:       caller.UserID,
		OriginalName: name,
		MimeType:     mimeType,
		Size:         req.Size,
		Key:          key,
		Status:       models.StatusPending,
		Metadata:     req.Metadata,
	}

	resp := &models.InitiateUploadResponse{
		FileID:     rec.ID,
		Key:        key,
		MimeType:   rec.MimeType,
		Chunked:    chunked,
		TotalParts: 1,
		ExpiresAt:  s.now().Add(s.cfg.PresignExpiry).UTC(),
	}

	if chunked {
		parts, err := partplan.Plan(req.Size, s.cfg.ChunkSize)
		if err != nil {
			return nil, err
		}

		sessionID, err := s.gateway.CreateMultipartSession(ctx, key, mimeType, req.Metadata)
		if err != nil {
			return nil, storageError(op, err)
		}

		url, err := s.gateway.PresignPartUpload(ctx, key, sessionID, 1, s.cfg.PresignExpiry)
		if err != nil {
			s.abortSession(ctx, key, sessionID)
			return nil, storageError(op, err)
		}

		rec.UploadID = sessionID
		rec.PartSize = s.cfg.ChunkSize
		resp.PresignedURL = url
		resp.UploadID = sessionID
		resp.PartSize = s.cfg.ChunkSize
		resp.TotalParts = len(parts)
	} else {
		url, err := s.gateway.PresignDirectUpload(ctx, key, mimeType, s.cfg.PresignExpiry)
		if err != nil {
			return nil, storageError(op, err)
		}
		resp.PresignedURL = url
	}

	if err := s.uploads.Create(ctx, rec); err != nil {
		if rec.UploadID != "" {
			s.abortSession(ctx, key, rec.UploadID)
		}
		return nil, repoError(op, err)
	}

	metrics.UploadsInitiatedTotal.WithLabelValues(modeLabel(chunked)).Inc()
	s.logAudit(ctx, caller, rec.ID, models.AuditUploadInitiated, map[string]string{
		"originalName": name,
		"size":         strconv.FormatInt(req.Size, 10),
		"mimeType":     mimeType,
		"chunked":      strconv.FormatBool(chunked),
	})

	slog.Info("upload initiated",
		"file_id", rec.ID,
		"user_id", caller.UserID,
		"size", req.Size,
		"chunked", chunked,
		"total_parts", resp.TotalParts,
	)

	return resp, nil
}

// Begin claims a pending upload for the calling session by moving it to
// uploading and handing back a lease token. Presenting the current lease
// again is a no-op; any other attempt on an uploading record is a Conflict.
func (s *Service) Begin(ctx context.Context, caller Caller, req models.BeginUploadRequest) (*models.BeginUploadResponse, error) {
	const op = "Begin"

	rec, err := s.authorize(ctx, op, caller, req.FileID, models.ActionWrite)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case models.StatusPending:
		lease := uuid.NewString()
		err := s.uploads.UpdateStatus(ctx, rec.ID, models.StatusPending, repository.StatusUpdate{
			Status:     models.StatusUploading,
			LeaseToken: &lease,
		})
		if err == nil {
			s.logAudit(ctx, caller, rec.ID, models.AuditUploadStarted, nil)
			return &models.BeginUploadResponse{FileID: rec.ID, Status: models.StatusUploading, LeaseToken: lease}, nil
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return nil, repoError(op, err)
		}

		// Someone moved it first; report what they moved it to.
		if rec, err = s.uploads.GetByID(ctx, rec.ID); err != nil {
			return nil, repoError(op, err)
		}
		if rec.Status.IsTerminal() {
			return nil, uploaderr.Newf(uploaderr.InvalidState, "upload is already %s", rec.Status).WithOp(op)
		}
		return nil, uploaderr.ErrConflict.WithOp(op)

	case models.StatusUploading:
		if req.LeaseToken != "" && req.LeaseToken == rec.LeaseToken {
			return &models.BeginUploadResponse{FileID: rec.ID, Status: rec.Status, LeaseToken: rec.LeaseToken}, nil
		}
		return nil, uploaderr.ErrConflict.WithOp(op)

	default:
		return nil, uploaderr.Newf(uploaderr.InvalidState, "upload is already %s", rec.Status).WithOp(op)
	}
}

// objectKey builds {prefix}/{userId}/{unixMillis}-{16 hex}-{sanitized name}.
func (s *Service) objectKey(userID, name string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key suffix: %w", err)
	}
	return fmt.Sprintf("%s/%s/%d-%s-%s",
		s.cfg.KeyPrefix, userID, s.now().UnixMilli(), hex.EncodeToString(b), utils.SanitizeKeyName(name)), nil
}

// normalizeMimeType strips parameters, lowercases and resolves known aliases
// before checking the allow-list.
func (s *Service) normalizeMimeType(raw string) (string, bool) {
	mt, _, _ := strings.Cut(raw, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return "", false
	}
	if s.cfg.IsMimeTypeAllowed(mt) {
		return mt, true
	}

	if m := mimetype.Lookup(mt); m != nil {
		canonical, _, _ := strings.Cut(m.String(), ";")
		canonical = strings.TrimSpace(canonical)
		if s.cfg.IsMimeTypeAllowed(canonical) {
			return canonical, true
		}
	}
	return "", false
}

// abortSession discards a multipart session on a best-effort basis.
func (s *Service) abortSession(ctx context.Context, key, sessionID string) {
	if err := s.gateway.AbortMultipartSession(ctx, key, sessionID); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("AbortMultipartSession").Inc()
		slog.Warn("failed to abort multipart session",
			"key", key,
			"session_id", sessionID,
			"error", err,
		)
	}
}
