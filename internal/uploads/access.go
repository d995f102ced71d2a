package uploads

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Grant gives another user one action on a file the caller owns.
func (s *Service) Grant(ctx context.Context, caller Caller, req models.GrantRequest) (*models.FileGrant, error) {
	const op = "Grant"

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, uploaderr.New(uploaderr.InvalidInput, "userId is required").WithOp(op)
	}
	if !req.Action.Valid() {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "unknown action %q", req.Action).WithOp(op)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, uploaderr.New(uploaderr.InvalidInput, "expiresAt must be in the future").WithOp(op)
	}

	rec, err := s.authorizeOwner(ctx, op, caller, req.FileID)
	if err != nil {
		return nil, err
	}
	if userID == rec.UserID {
		return nil, uploaderr.New(uploaderr.InvalidInput, "the owner already has full access").WithOp(op)
	}

	grant := &models.FileGrant{
		FileID:    rec.ID,
		UserID:    userID,
		Action:    req.Action,
		GrantedBy: caller.UserID,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, repoError(op, err)
	}

	meta := map[string]string{"grantee": userID, "action": string(req.Action)}
	if req.ExpiresAt != nil {
		meta["expiresAt"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}
	s.logAudit(ctx, caller, rec.ID, models.AuditGrant, meta)

	return grant, nil
}

// Revoke removes a grant from a file the caller owns.
func (s *Service) Revoke(ctx context.Context, caller Caller, req models.RevokeRequest) (*models.RevokeResponse, error) {
	const op = "Revoke"

	if req.UserID == "" {
		return nil, uploaderr.New(uploaderr.InvalidInput, "userId is required").WithOp(op)
	}
	if !req.Action.Valid() {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "unknown action %q", req.Action).WithOp(op)
	}

	rec, err := s.authorizeOwner(ctx, op, caller, req.FileID)
	if err != nil {
		return nil, err
	}

	if err := s.grants.Revoke(ctx, rec.ID, req.UserID, req.Action); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, uploaderr.New(uploaderr.NotFound, "grant not found").WithOp(op)
		}
		return nil, repoError(op, err)
	}

	s.logAudit(ctx, caller, rec.ID, models.AuditRevoke, map[string]string{
		"grantee": req.UserID,
		"action":  string(req.Action),
	})
	return &models.RevokeResponse{Revoked: true}, nil
}

// AuditLog returns the newest audit entries of a file the caller owns.
func (s *Service) AuditLog(ctx context.Context, caller Caller, fileID string, limit int) (*models.AuditLogResponse, error) {
	const op = "AuditLog"

	if limit == 0 {
		limit = defaultAuditLimit
	}
	if limit < 1 || limit > maxAuditLimit {
		return nil, uploaderr.Newf(uploaderr.InvalidInput, "limit must be between 1 and %d", maxAuditLimit).WithOp(op)
	}

	rec, err := s.authorizeOwner(ctx, op, caller, fileID)
	if err != nil {
		return nil, err
	}

	entries, err := s.audit.ListByFile(ctx, rec.ID, limit)
	if err != nil {
		return nil, repoError(op, err)
	}
	return &models.AuditLogResponse{Entries: entries}, nil
}
