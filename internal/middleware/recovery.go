package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				slog.Error("panic recovered",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"stack", string(debug.Stack()),
				)
				sendError(w, uploaderr.Internal, "internal error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
