package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/internal/utils"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// SessionCookieName is the cookie checked when no Authorization header is sent.
const SessionCookieName = "chunkvault_session"

// RequireUser resolves the access token on the request to a user and stores
// the caller in the request context. Requests without a live token are
// answered with UNAUTHENTICATED before the handler reads the body.
func RequireUser(sessions repository.SessionRepository, trust *utils.ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := trust.ClientIP(r)

			token := tokenFromRequest(r)
			if token == "" || !utils.ValidateAccessTokenFormat(token) {
				slog.Warn("authentication failed - missing or malformed token",
					"path", r.URL.Path,
					"ip", clientIP,
				)
				sendError(w, uploaderr.Unauthenticated, "authentication required")
				return
			}

			userID, err := sessions.GetUserID(r.Context(), utils.HashAccessToken(token), time.Now())
			if errors.Is(err, repository.ErrNotFound) {
				slog.Warn("authentication failed - unknown or expired token",
					"path", r.URL.Path,
					"ip", clientIP,
					"token", utils.MaskAccessToken(token),
				)
				sendError(w, uploaderr.Unauthenticated, "authentication required")
				return
			}
			if err != nil {
				slog.Error("failed to validate session", "error", err, "ip", clientIP)
				sendError(w, uploaderr.Internal, "internal error")
				return
			}

			caller := uploads.Caller{
				UserID:    userID,
				IPAddress: clientIP,
				UserAgent: r.UserAgent(),
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// tokenFromRequest prefers a Bearer token over the session cookie.
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
