package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/database"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/utils"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// SetupTestDB creates an in-memory SQLite database with the schema applied.
// The database is closed when the test completes.
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SetupTestConfig loads a configuration with test-friendly values.
// It sets environment variables, so callers must not use t.Parallel.
func SetupTestConfig(t testing.TB) *config.Config {
	t.Helper()

	t.Setenv("S3_BUCKET", "test-bucket")
	t.Setenv("DB_TYPE", "sqlite")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	cfg.Port = "8080"
	cfg.DBPath = ":memory:"
	cfg.PublicURL = ""
	cfg.KeyPrefix = "uploads"
	cfg.ChunkSize = 5 * 1024 * 1024
	cfg.ChunkThreshold = 5 * 1024 * 1024
	cfg.MaxFileSize = 100 * 1024 * 1024
	cfg.PresignExpiry = time.Hour
	cfg.DownloadMaxExpiry = 24 * time.Hour
	cfg.CleanupIntervalMinutes = 60
	cfg.AbandonedUploadHours = 24
	cfg.TrustProxyHeaders = "auto"
	cfg.TrustedProxyIPs = "127.0.0.1,::1"

	return cfg
}

// AddSession mints an access token for userID and stores its hash.
// The raw token is returned for use in Authorization headers.
func AddSession(t testing.TB, sessions repository.SessionRepository, userID string) string {
	t.Helper()

	token, err := utils.GenerateAccessToken()
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if err := sessions.Create(context.Background(), utils.HashAccessToken(token), userID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("failed to store session: %v", err)
	}
	return token
}

// AssertStatusCode checks that the HTTP response status code matches expected
func AssertStatusCode(t testing.TB, rr *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()

	if rr.Code != wantStatus {
		t.Errorf("status code = %d, want %d\nBody: %s", rr.Code, wantStatus, rr.Body.String())
	}
}

// AssertErrorCode checks the "code" field of a JSON error body
func AssertErrorCode(t testing.TB, rr *httptest.ResponseRecorder, want uploaderr.Kind) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a JSON error: %v\nBody: %s", err, rr.Body.String())
	}
	if body.Code != string(want) {
		t.Errorf("error code = %q, want %q (message %q)", body.Code, want, body.Error)
	}
	if rr.Code != uploaderr.HTTPStatus(want) {
		t.Errorf("status code = %d, want %d for %s", rr.Code, uploaderr.HTTPStatus(want), want)
	}
}

// DecodeJSON unmarshals a response body into v
func DecodeJSON(t testing.TB, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response: %v\nBody: %s", err, rr.Body.String())
	}
}

// AssertKind fails the test unless err carries the wanted kind
func AssertKind(t testing.TB, err error, want uploaderr.Kind) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := uploaderr.KindOf(err); got != want {
		t.Errorf("error kind = %s, want %s (%v)", got, want, err)
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertContains fails the test if haystack doesn't contain needle
func AssertContains(t testing.TB, haystack, needle string) {
	t.Helper()

	if !strings.Contains(haystack, needle) {
		t.Errorf("expected %q to contain %q", haystack, needle)
	}
}
