package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// knownPaths are the routes reported under their own label. Query strings
// are not part of r.URL.Path, so file ids never reach the label.
var knownPaths = map[string]bool{
	"/health":                       true,
	"/metrics":                      true,
	"/api/config":                   true,
	"/api/files":                    true,
	"/api/files/initiate":           true,
	"/api/files/begin":              true,
	"/api/files/multipart-part-url": true,
	"/api/files/complete-multipart": true,
	"/api/files/complete":           true,
	"/api/files/abort":              true,
	"/api/files/parts":              true,
	"/api/files/upload-id":          true,
	"/api/files/status":             true,
	"/api/files/download":           true,
	"/api/files/delete":             true,
	"/api/files/grants":             true,
	"/api/files/grants/revoke":      true,
	"/api/files/audit":              true,
}

// normalizePath maps a request path to a bounded label set
func normalizePath(path string) string {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if knownPaths[path] {
		return path
	}
	if strings.HasPrefix(path, "/api/") {
		return "/api/other"
	}
	return "/other"
}
