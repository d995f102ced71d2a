package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/internal/utils"
)

// captureLogs redirects the default logger for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		level      string
	}{
		{"200 OK", http.StatusOK, "INFO"},
		{"404 Not Found", http.StatusNotFound, "INFO"},
		{"409 Conflict", http.StatusConflict, "INFO"},
		{"503 Service Unavailable", http.StatusServiceUnavailable, "ERROR"},
	}

	trust := utils.NewProxyTrust("false", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			handler := LoggingMiddleware(trust)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/files?fileId=secret", nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.statusCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.statusCode)
			}
			out := logs.String()
			if !strings.Contains(out, "level="+tt.level) {
				t.Errorf("log %q should be at level %s", out, tt.level)
			}
			if strings.Contains(out, "secret") {
				t.Error("query strings must not be logged")
			}
		})
	}
}

func TestLoggingMiddleware_ImplicitOK(t *testing.T) {
	handler := LoggingMiddleware(utils.NewProxyTrust("false", ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestLoggingMiddleware_IncludesUser(t *testing.T) {
	logs := captureLogs(t)
	// The caller is attached further down the chain, as RequireUser does.
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.WithContext(WithCaller(r.Context(), uploads.Caller{UserID: "user-7"}))
	})
	handler := LoggingMiddleware(utils.NewProxyTrust("false", ""))(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(logs.String(), "user_id=user-7") {
		t.Errorf("log %q should name the user", logs.String())
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusCreated || rr.Code != http.StatusCreated {
		t.Errorf("status = %d / %d, want 201", rw.statusCode, rr.Code)
	}
}
