// Package uploads implements the server side of the chunked upload protocol:
// it authorizes callers, validates requests against the part plan, drives the
// storage gateway and moves upload records through their lifecycle with
// conditional status updates.
package uploads

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/internal/utils"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Caller identifies who is making a request. IPAddress and UserAgent only
// feed the audit log.
type Caller struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// systemCaller is the actor recorded for background transitions.
var systemCaller = Caller{UserID: "system"}

// Service bridges the record store and the storage gateway.
type Service struct {
	cfg     *config.Config
	uploads repository.UploadRepository
	grants  repository.GrantRepository
	audit   repository.AuditRepository
	gateway storage.Gateway
	tracker *utils.OperationTracker
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracker registers completions and aborts with t so shutdown can wait for them.
func WithTracker(t *utils.OperationTracker) Option {
	return func(s *Service) { s.tracker = t }
}

// NewService creates a Service.
func NewService(cfg *config.Config, repos *repository.Repositories, gateway storage.Gateway, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		uploads: repos.Uploads,
		grants:  repos.Grants,
		audit:   repos.Audit,
		gateway: gateway,
		tracker: utils.NewOperationTracker(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracker returns the tracker guarding in-flight state transitions.
func (s *Service) Tracker() *utils.OperationTracker {
	return s.tracker
}

// authorize loads a record and checks that caller may perform action on it.
// Unknown ids are NotFound; existing records the caller neither owns nor
// holds a live grant for are Forbidden.
func (s *Service) authorize(ctx context.Context, op string, caller Caller, fileID string, action models.GrantAction) (*models.UploadRecord, error) {
	if fileID == "" {
		return nil, uploaderr.New(uploaderr.InvalidInput, "fileId is required").WithOp(op)
	}

	rec, err := s.uploads.GetByID(ctx, fileID)
	if err != nil {
		return nil, repoError(op, err)
	}
	if rec.UserID == caller.UserID {
		return rec, nil
	}

	ok, err := s.grants.HasActiveGrant(ctx, fileID, caller.UserID, action, s.now())
	if err != nil {
		return nil, repoError(op, err)
	}
	if !ok {
		return nil, uploaderr.New(uploaderr.Forbidden, "access denied").WithOp(op)
	}
	return rec, nil
}

// authorizeOwner is authorize for operations no grant can unlock.
func (s *Service) authorizeOwner(ctx context.Context, op string, caller Caller, fileID string) (*models.UploadRecord, error) {
	if fileID == "" {
		return nil, uploaderr.New(uploaderr.InvalidInput, "fileId is required").WithOp(op)
	}

	rec, err := s.uploads.GetByID(ctx, fileID)
	if err != nil {
		return nil, repoError(op, err)
	}
	if rec.UserID != caller.UserID {
		return nil, uploaderr.New(uploaderr.Forbidden, "only the owner can do this").WithOp(op)
	}
	return rec, nil
}

// beginOperation registers a state transition with the shutdown tracker.
func (s *Service) beginOperation(op, fileID string) (func(), error) {
	done, ok := s.tracker.Begin(fileID, op)
	if !ok {
		return nil, uploaderr.New(uploaderr.BackendUnavailable, "server is shutting down").WithOp(op)
	}
	return done, nil
}

// logAudit writes an audit entry. Failures are logged, never returned.
func (s *Service) logAudit(ctx context.Context, caller Caller, fileID, action string, metadata map[string]string) {
	entry := &models.AuditEntry{
		FileID:    fileID,
		UserID:    caller.UserID,
		Action:    action,
		IPAddress: caller.IPAddress,
		UserAgent: caller.UserAgent,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		slog.Error("failed to write audit entry",
			"file_id", fileID,
			"action", action,
			"error", err,
		)
	}
}

// repoError maps repository sentinels to protocol kinds.
func repoError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return uploaderr.Wrap(uploaderr.NotFound, "file not found", err).WithOp(op)
	case errors.Is(err, repository.ErrConcurrentModification):
		return uploaderr.Wrap(uploaderr.InvalidState, "upload state changed concurrently", err).WithOp(op)
	case errors.Is(err, repository.ErrInvalidInput):
		return uploaderr.Wrap(uploaderr.InvalidInput, "invalid request", err).WithOp(op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return uploaderr.Wrap(uploaderr.BackendUnavailable, "request cancelled", err).WithOp(op)
	default:
		return uploaderr.Wrap(uploaderr.Internal, "internal error", err).WithOp(op)
	}
}

// storageError classifies a gateway failure and counts it.
func storageError(op string, err error) error {
	metrics.StorageErrorsTotal.WithLabelValues(op).Inc()

	kind := storage.KindOf(err)
	var msg string
	switch kind {
	case uploaderr.NotFound:
		msg = "object or multipart session not found"
	case uploaderr.IncompletePartSet:
		msg = "uploaded parts do not match the submitted part list"
	case uploaderr.InvalidInput:
		msg = "invalid storage request"
	default:
		kind = uploaderr.BackendUnavailable
		msg = "storage backend unavailable"
	}
	return uploaderr.Wrap(kind, msg, err).WithOp(op)
}

func modeLabel(chunked bool) string {
	if chunked {
		return "multipart"
	}
	return "direct"
}
