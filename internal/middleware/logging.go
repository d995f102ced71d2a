package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjmerc/chunkvault/internal/utils"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.ResponseWriter.WriteHeader(statusCode)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and IP.
// Query strings are left out since they carry file ids.
func LoggingMiddleware(trust *utils.ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{}
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestKey, info)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
				"ip", trust.ClientIP(r),
				"user_agent", r.UserAgent(),
			}
			if info.userID != "" {
				attrs = append(attrs, "user_id", info.userID)
			}

			if wrapped.statusCode >= http.StatusInternalServerError {
				slog.Error("http request", attrs...)
				return
			}
			slog.Info("http request", attrs...)
		})
	}
}
