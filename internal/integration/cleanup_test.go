package integration

import (
	"context"
	"testing"
	"time"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/testutil"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/internal/utils"
)

// TestCleanupWorker_ExpiresAbandonedUploads runs the background worker over
// SQLite records with a service clock 25 hours ahead, so every unfinished
// record counts as abandoned.
func TestCleanupWorker_ExpiresAbandonedUploads(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	caller := uploads.Caller{UserID: "alice"}

	chunked, err := env.svc.Initiate(ctx, caller, models.InitiateUploadRequest{
		OriginalName: "big.zip", MimeType: "application/zip", Size: 12 * mib, Chunked: true,
	})
	testutil.AssertNoError(t, err)
	direct, err := env.svc.Initiate(ctx, caller, models.InitiateUploadRequest{
		OriginalName: "small.txt", MimeType: "text/plain", Size: 10,
	})
	testutil.AssertNoError(t, err)
	finished, err := env.svc.Initiate(ctx, caller, models.InitiateUploadRequest{
		OriginalName: "done.txt", MimeType: "text/plain", Size: 4,
	})
	testutil.AssertNoError(t, err)
	putObject(t, finished.PresignedURL, []byte("done"))
	_, err = env.svc.CompleteDirect(ctx, caller, models.CompleteDirectRequest{FileID: finished.FileID})
	testutil.AssertNoError(t, err)

	future := func() time.Time { return time.Now().Add(25 * time.Hour) }
	sweeper := uploads.NewService(env.Config, env.Repos, env.Storage, uploads.WithClock(future))

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		utils.StartCleanupWorker(workerCtx, "abandoned-uploads", time.Hour, sweeper.CleanupAbandoned)
		close(done)
	}()

	// The worker sweeps once on start
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := env.Repos.Uploads.GetByID(ctx, chunked.FileID)
		testutil.AssertNoError(t, err)
		if rec.Status == models.StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cleanup worker did not expire the chunked upload")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	want := map[string]models.UploadStatus{
		chunked.FileID:  models.StatusFailed,
		direct.FileID:   models.StatusFailed,
		finished.FileID: models.StatusCompleted,
	}
	for id, status := range want {
		rec, err := env.Repos.Uploads.GetByID(ctx, id)
		testutil.AssertNoError(t, err)
		if rec.Status != status {
			t.Errorf("record %s status = %s, want %s", id, rec.Status, status)
		}
	}
	if env.Storage.SessionOpen(chunked.UploadID) {
		t.Error("expired upload's multipart session should be aborted")
	}
}

// TestCleanup_SkipsFreshUploads confirms records inside the window survive.
func TestCleanup_SkipsFreshUploads(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()

	init, err := env.svc.Initiate(ctx, uploads.Caller{UserID: "alice"}, models.InitiateUploadRequest{
		OriginalName: "big.zip", MimeType: "application/zip", Size: 12 * mib, Chunked: true,
	})
	testutil.AssertNoError(t, err)

	n, err := env.svc.CleanupAbandoned(ctx)
	testutil.AssertNoError(t, err)
	if n != 0 {
		t.Errorf("cleaned = %d, want 0", n)
	}
	if !env.Storage.SessionOpen(init.UploadID) {
		t.Error("fresh session should stay open")
	}
}
