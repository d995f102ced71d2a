package uploads

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

const cleanupBatchSize = 100

// CleanupAbandoned fails uploads that have sat unfinished for longer than
// the configured age and aborts their multipart sessions. It returns how
// many records it moved to failed.
//
// The record transition comes first. A completion racing the sweep then
// either wins the transition, and the sweep skips the record, or loses it
// and removes the object it committed.
func (s *Service) CleanupAbandoned(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.AbandonedUploadAge())
	cleaned := 0

	for {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}

		stale, err := s.uploads.ListStale(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			return cleaned, repoError("CleanupAbandoned", err)
		}

		progressed := false
		for i := range stale {
			rec := &stale[i]
			ok, err := s.expire(ctx, rec)
			if err != nil {
				return cleaned, err
			}
			if ok {
				cleaned++
				progressed = true
			}
		}

		// Records skipped on a lost race are no longer stale, but a batch
		// with no progress at all must not loop forever.
		if len(stale) < cleanupBatchSize || !progressed {
			break
		}
	}

	if cleaned > 0 {
		slog.Info("abandoned uploads cleaned up", "count", cleaned, "older_than", cutoff)
	}
	return cleaned, nil
}

func (s *Service) expire(ctx context.Context, rec *models.UploadRecord) (bool, error) {
	err := s.uploads.UpdateStatus(ctx, rec.ID, rec.Status, repository.StatusUpdate{
		Status:        models.StatusFailed,
		ClearUploadID: true,
	})
	if errors.Is(err, repository.ErrConcurrentModification) || errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, repoError("CleanupAbandoned", err)
	}

	if rec.UploadID != "" {
		s.abortSession(ctx, rec.Key, rec.UploadID)
	}

	metrics.UploadsAbortedTotal.WithLabelValues("expired").Inc()
	s.logAudit(ctx, systemCaller, rec.ID, models.AuditUploadExpired, map[string]string{
		"status": string(rec.Status),
	})
	slog.Info("abandoned upload expired",
		"file_id", rec.ID,
		"user_id", rec.UserID,
		"status", rec.Status,
		"last_update", rec.UpdatedAt,
	)
	return true, nil
}
