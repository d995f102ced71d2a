package mock

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjmerc/chunkvault/internal/storage"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

func putPart(t *testing.T, url string, data []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	resp.Body.Close()
	return resp
}

func TestGateway_MultipartRoundTrip(t *testing.T) {
	g := NewGateway()
	srv := httptest.NewServer(g)
	defer srv.Close()
	g.SetBaseURL(srv.URL)

	ctx := context.Background()
	session, err := g.CreateMultipartSession(ctx, "uploads/u1/file.bin", "application/zip", nil)
	if err != nil {
		t.Fatalf("CreateMultipartSession() error = %v", err)
	}

	var parts []storage.CompletedPart
	for i, chunk := range [][]byte{[]byte("hello "), []byte("world")} {
		url, err := g.PresignPartUpload(ctx, "uploads/u1/file.bin", session, i+1, time.Hour)
		if err != nil {
			t.Fatalf("PresignPartUpload() error = %v", err)
		}
		resp := putPart(t, url, chunk)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("PUT part %d status = %d", i+1, resp.StatusCode)
		}
		parts = append(parts, storage.CompletedPart{PartNumber: i + 1, ETag: resp.Header.Get("ETag")})
	}

	listed, err := g.ListUploadedParts(ctx, "uploads/u1/file.bin", session)
	if err != nil || len(listed) != 2 {
		t.Fatalf("ListUploadedParts() = %v, %v", listed, err)
	}

	// Submit out of order; the gateway sorts.
	obj, err := g.CompleteMultipartSession(ctx, "uploads/u1/file.bin", session, []storage.CompletedPart{parts[1], parts[0]})
	if err != nil {
		t.Fatalf("CompleteMultipartSession() error = %v", err)
	}
	if obj.ETag == "" {
		t.Error("expected final etag")
	}

	content, ok := g.Object("uploads/u1/file.bin")
	if !ok || string(content) != "hello world" {
		t.Errorf("object = %q, %v", content, ok)
	}
	if g.SessionOpen(session) {
		t.Error("session should be closed after completion")
	}
}

func TestGateway_CompleteRejectsWrongETag(t *testing.T) {
	g := NewGateway()
	srv := httptest.NewServer(g)
	defer srv.Close()
	g.SetBaseURL(srv.URL)

	ctx := context.Background()
	session, _ := g.CreateMultipartSession(ctx, "k", "text/plain", nil)
	url, _ := g.PresignPartUpload(ctx, "k", session, 1, time.Hour)
	putPart(t, url, []byte("data"))

	_, err := g.CompleteMultipartSession(ctx, "k", session, []storage.CompletedPart{{PartNumber: 1, ETag: `"bogus"`}})
	if storage.KindOf(err) != uploaderr.IncompletePartSet {
		t.Errorf("kind = %q, want INCOMPLETE_PART_SET", storage.KindOf(err))
	}
}

func TestGateway_ExpiredURL(t *testing.T) {
	g := NewGateway()
	srv := httptest.NewServer(g)
	defer srv.Close()
	g.SetBaseURL(srv.URL)

	issued := time.Now().Add(-2 * time.Minute)
	g.SetClock(func() time.Time { return issued })

	ctx := context.Background()
	session, _ := g.CreateMultipartSession(ctx, "k", "text/plain", nil)
	url, _ := g.PresignPartUpload(ctx, "k", session, 1, time.Minute)

	g.SetClock(time.Now)
	if resp := putPart(t, url, []byte("late")); resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestGateway_OnPartPutHook(t *testing.T) {
	g := NewGateway()
	srv := httptest.NewServer(g)
	defer srv.Close()
	g.SetBaseURL(srv.URL)

	g.OnPartPut = func(sessionID string, partNumber int) (int, bool) {
		if partNumber == 1 {
			return http.StatusServiceUnavailable, false
		}
		return 0, true
	}

	ctx := context.Background()
	session, _ := g.CreateMultipartSession(ctx, "k", "text/plain", nil)
	url1, _ := g.PresignPartUpload(ctx, "k", session, 1, time.Hour)
	url2, _ := g.PresignPartUpload(ctx, "k", session, 2, time.Hour)

	if resp := putPart(t, url1, []byte("a")); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("part 1 status = %d", resp.StatusCode)
	}
	resp := putPart(t, url2, []byte("b"))
	if resp.StatusCode != http.StatusOK || resp.Header.Get("ETag") != "" {
		t.Errorf("part 2 status = %d etag = %q", resp.StatusCode, resp.Header.Get("ETag"))
	}
	if g.PartCount(session) != 1 {
		t.Errorf("PartCount() = %d, want 1", g.PartCount(session))
	}
}

func TestGateway_AbortAndReset(t *testing.T) {
	g := NewGateway()
	ctx := context.Background()

	session, _ := g.CreateMultipartSession(ctx, "k", "text/plain", nil)
	if err := g.AbortMultipartSession(ctx, "k", session); err != nil {
		t.Fatalf("AbortMultipartSession() error = %v", err)
	}
	if g.SessionOpen(session) {
		t.Error("session should be gone")
	}
	if _, err := g.PresignPartUpload(ctx, "k", session, 1, time.Hour); storage.KindOf(err) != uploaderr.NotFound {
		t.Errorf("presign after abort kind = %q", storage.KindOf(err))
	}

	g.CreateError = context.DeadlineExceeded
	g.Reset()
	if _, err := g.CreateMultipartSession(ctx, "k", "text/plain", nil); err != nil {
		t.Errorf("Reset() should clear injected errors, got %v", err)
	}
	if len(g.AbortedSessions) != 0 {
		t.Error("Reset() should clear recorded calls")
	}
}
