// Package sdk_contract checks that the Go SDK decodes what the real server
// handlers send.
//
// Unit tests on each side only prove that each side agrees with itself. These
// tests run the SDK client against NewRouter over a SQLite record store, so a
// renamed JSON field, a changed type or a dropped error code fails here.
package sdk_contract

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjmerc/chunkvault/internal/handlers"
	"github.com/fjmerc/chunkvault/internal/testutil"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
	chunkvault "github.com/fjmerc/chunkvault/sdk/go"
)

type contractEnv struct {
	*testutil.SQLiteTestEnv
	client *chunkvault.Client
	bob    *chunkvault.Client
}

// setupTestServer serves the real router and a mock object store, and
// returns clients for two users.
func setupTestServer(t *testing.T) *contractEnv {
	t.Helper()

	env := testutil.NewSQLiteTestEnv(t)
	store := httptest.NewServer(env.Storage)
	t.Cleanup(store.Close)
	env.Storage.SetBaseURL(store.URL)

	api := httptest.NewServer(handlers.NewRouter(handlers.Dependencies{
		Config:    env.Config,
		Repos:     env.Repos,
		Gateway:   env.Storage,
		Service:   uploads.NewService(env.Config, env.Repos, env.Storage),
		StartTime: time.Now(),
	}))
	t.Cleanup(api.Close)

	return &contractEnv{
		SQLiteTestEnv: env,
		client:        createSDKClient(t, api.URL, testutil.AddSession(t, env.Repos.Sessions, "alice")),
		bob:           createSDKClient(t, api.URL, testutil.AddSession(t, env.Repos.Sessions, "bob")),
	}
}

func createSDKClient(t *testing.T, serverURL, token string) *chunkvault.Client {
	t.Helper()

	client, err := chunkvault.NewClient(chunkvault.ClientConfig{
		BaseURL:  serverURL,
		Token:    token,
		RetryMax: -1,
	})
	if err != nil {
		t.Fatalf("failed to create SDK client: %v", err)
	}
	return client
}

// put sends data to a presigned URL and returns the ETag header.
func put(t *testing.T, url string, data []byte) string {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	return resp.Header.Get("ETag")
}

func TestConfigContract(t *testing.T) {
	env := setupTestServer(t)

	cfg, err := env.client.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg.ChunkSize != env.Config.ChunkSize || cfg.ChunkThreshold != env.Config.ChunkThreshold {
		t.Errorf("chunk settings = %d/%d, want %d/%d", cfg.ChunkSize, cfg.ChunkThreshold, env.Config.ChunkSize, env.Config.ChunkThreshold)
	}
	if cfg.MaxFileSize != env.Config.MaxFileSize {
		t.Errorf("MaxFileSize = %d, want %d", cfg.MaxFileSize, env.Config.MaxFileSize)
	}
	if len(cfg.AllowedMimeTypes) == 0 || cfg.PresignExpiry != int(env.Config.PresignExpiry.Seconds()) {
		t.Errorf("config = %+v", cfg)
	}
}

func TestInitiateContract(t *testing.T) {
	env := setupTestServer(t)

	resp, err := env.client.Initiate(context.Background(), chunkvault.InitiateRequest{
		OriginalName: "archive.zip",
		MimeType:     "application/zip",
		Size:         12 << 20,
		Chunked:      true,
		Metadata:     map[string]string{"project": "apollo"},
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if resp.FileID == "" || resp.Key == "" || resp.UploadID == "" || resp.PresignedURL == "" {
		t.Errorf("identifiers missing: %+v", resp)
	}
	if !resp.Chunked || resp.PartSize != 5<<20 || resp.TotalParts != 3 {
		t.Errorf("plan = chunked %v, part size %d, parts %d", resp.Chunked, resp.PartSize, resp.TotalParts)
	}
	if resp.MimeType != "application/zip" {
		t.Errorf("MimeType = %q", resp.MimeType)
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("ExpiresAt = %v, want a future time", resp.ExpiresAt)
	}
}

func TestMultipartContract(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte{0x5a}, 6<<20)

	resp, err := env.client.Initiate(ctx, chunkvault.InitiateRequest{
		OriginalName: "archive.zip", MimeType: "application/zip", Size: int64(len(data)), Chunked: true,
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	begin, err := env.client.Begin(ctx, resp.FileID, "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if begin.FileID != resp.FileID || begin.Status != "uploading" || begin.LeaseToken == "" {
		t.Errorf("Begin() = %+v", begin)
	}

	session, err := env.client.UploadSession(ctx, resp.FileID)
	if err != nil {
		t.Fatalf("UploadSession() error = %v", err)
	}
	if session.UploadID != resp.UploadID || session.Key != resp.Key {
		t.Errorf("UploadSession() = %+v", session)
	}

	etag1 := put(t, resp.PresignedURL, data[:5<<20])
	if _, err := env.client.PartURL(ctx, resp.FileID, "stale-lease", 2); !uploaderr.Is(err, uploaderr.Conflict) {
		t.Errorf("PartURL() with another lease error = %v, want CONFLICT", err)
	}
	part2, err := env.client.PartURL(ctx, resp.FileID, begin.LeaseToken, 2)
	if err != nil {
		t.Fatalf("PartURL() error = %v", err)
	}
	if part2.PartNumber != 2 || part2.URL == "" || part2.ExpiresAt.IsZero() {
		t.Errorf("PartURL() = %+v", part2)
	}
	etag2 := put(t, part2.URL, data[5<<20:])

	parts, err := env.client.UploadedParts(ctx, resp.FileID)
	if err != nil {
		t.Fatalf("UploadedParts() error = %v", err)
	}
	if len(parts) != 2 || parts[0].ETag != etag1 || parts[1].Size != 1<<20 {
		t.Errorf("UploadedParts() = %+v", parts)
	}

	done, err := env.client.CompleteMultipart(ctx, resp.FileID, begin.LeaseToken, resp.UploadID, []chunkvault.CompletedPart{
		{PartNumber: 2, ETag: etag2},
		{PartNumber: 1, ETag: etag1},
	})
	if err != nil {
		t.Fatalf("CompleteMultipart() error = %v", err)
	}
	if done.FileID != resp.FileID || done.ETag == "" {
		t.Errorf("CompleteMultipart() = %+v", done)
	}

	status, err := env.client.UploadStatus(ctx, resp.FileID)
	if err != nil {
		t.Fatalf("UploadStatus() error = %v", err)
	}
	if status.Status != "completed" || status.ETag != done.ETag || status.Size != int64(len(data)) {
		t.Errorf("UploadStatus() = %+v", status)
	}
}

func TestFileListAndDownloadContract(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	data := []byte("name,count\nwidgets,3\n")

	resp, err := env.client.Initiate(ctx, chunkvault.InitiateRequest{
		OriginalName: "counts.csv", MimeType: "text/csv", Size: int64(len(data)),
		Metadata: map[string]string{"team": "infra"},
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if resp.Chunked || resp.UploadID != "" || resp.TotalParts != 1 {
		t.Errorf("direct upload response = %+v", resp)
	}

	etag := put(t, resp.PresignedURL, data)
	if _, err := env.client.CompleteDirect(ctx, resp.FileID, "", etag); err != nil {
		t.Fatalf("CompleteDirect() error = %v", err)
	}

	list, err := env.client.ListFiles(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(list.Files) != 1 || list.Limit != 10 {
		t.Fatalf("ListFiles() = %+v", list)
	}
	f := list.Files[0]
	if f.ID != resp.FileID || f.UserID != "alice" || f.OriginalName != "counts.csv" || f.Status != "completed" {
		t.Errorf("file = %+v", f)
	}
	if f.Size != int64(len(data)) || f.ETag != etag || f.Metadata["team"] != "infra" || f.CreatedAt.IsZero() {
		t.Errorf("file details = %+v", f)
	}

	link, err := env.client.DownloadURL(ctx, resp.FileID, 10*time.Minute)
	if err != nil {
		t.Fatalf("DownloadURL() error = %v", err)
	}
	if link.URL == "" || link.FileName != "counts.csv" || link.Size != int64(len(data)) || link.ExpiresIn != 600 {
		t.Errorf("DownloadURL() = %+v", link)
	}
}

func TestGrantAndAuditContract(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	resp, err := env.client.Initiate(ctx, chunkvault.InitiateRequest{
		OriginalName: "notes.txt", MimeType: "text/plain", Size: 5,
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	grant, err := env.client.Grant(ctx, chunkvault.Grant{
		FileID: resp.FileID, UserID: "bob", Action: "write", ExpiresAt: &expires,
	})
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if grant.ID == "" || grant.GrantedBy != "alice" || grant.ExpiresAt == nil || !grant.ExpiresAt.Equal(expires) {
		t.Errorf("Grant() = %+v", grant)
	}

	// The grant lets bob drive the upload
	if _, err := env.bob.Begin(ctx, resp.FileID, ""); err != nil {
		t.Errorf("Begin() as grantee error = %v", err)
	}

	entries, err := env.client.AuditLog(ctx, resp.FileID, 10)
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
		if e.FileID != resp.FileID || e.CreatedAt.IsZero() {
			t.Errorf("entry = %+v", e)
		}
	}
	for _, want := range []string{"upload_initiated", "grant", "upload_started"} {
		if !actions[want] {
			t.Errorf("audit log missing %q: %+v", want, entries)
		}
	}

	if err := env.client.Revoke(ctx, resp.FileID, "bob", "write"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := env.bob.PartURL(ctx, resp.FileID, "", 1); !uploaderr.Is(err, uploaderr.Forbidden) {
		t.Errorf("PartURL() after revoke error = %v, want FORBIDDEN", err)
	}
}

func TestErrorContract(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.client.Begin(ctx, "00000000-0000-0000-0000-000000000000", "")
	var apiErr *chunkvault.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != uploaderr.NotFound || apiErr.Message == "" {
		t.Errorf("APIError = %+v", apiErr)
	}

	_, err = env.client.Initiate(ctx, chunkvault.InitiateRequest{OriginalName: "a.txt", MimeType: "text/plain", Size: 0})
	if !uploaderr.Is(err, uploaderr.InvalidInput) {
		t.Errorf("Initiate() with zero size error = %v, want INVALID_INPUT", err)
	}

	anon := createSDKClient(t, env.client.BaseURL(), "")
	if _, err := anon.ListFiles(ctx, 10, 0); !uploaderr.Is(err, uploaderr.Unauthenticated) {
		t.Errorf("ListFiles() without a token error = %v, want UNAUTHENTICATED", err)
	}
}
