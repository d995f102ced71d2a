package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

type contextKey string

const (
	callerKey  contextKey = "caller"
	requestKey contextKey = "request"
)

// requestInfo is filled in by inner middleware for the access log.
type requestInfo struct {
	userID string
}

// WithCaller returns a copy of ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, caller uploads.Caller) context.Context {
	if info, ok := ctx.Value(requestKey).(*requestInfo); ok {
		info.userID = caller.UserID
	}
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the caller stored by RequireUser.
func CallerFromContext(ctx context.Context) (uploads.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(uploads.Caller)
	return caller, ok && caller.UserID != ""
}

// sendError writes the JSON error body for kind.
func sendError(w http.ResponseWriter, kind uploaderr.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(uploaderr.HTTPStatus(kind))
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  string(kind),
	})
}
