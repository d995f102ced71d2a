package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjmerc/chunkvault/internal/metrics"
	"github.com/fjmerc/chunkvault/internal/middleware"
	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// maxBodyBytes bounds JSON request bodies. A full 10000-part completion list
// fits comfortably.
const maxBodyBytes = 2 << 20

// writeResult is the single exit point of every API handler: data is encoded
// with status on success, err becomes the {"error","code"} body otherwise.
func writeResult(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps err to its kind. Messages of internal and backend errors
// are replaced with generic text; the cause is logged instead.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := uploaderr.KindOf(err)
	message := uploaderr.Message(err)

	switch kind {
	case uploaderr.Internal, uploaderr.BackendUnavailable:
		slog.Error("request failed",
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
		if kind == uploaderr.Internal {
			message = "internal error"
		} else {
			message = "storage backend unavailable"
		}
	}

	metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()
	sendError(w, message, string(kind), uploaderr.HTTPStatus(kind))
}

// sendError writes a JSON error response
func sendError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

// requireMethod answers 405 unless r uses method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
	return false
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return uploaderr.New(uploaderr.InvalidInput, "request body too large")
		case errors.Is(err, io.EOF):
			return uploaderr.New(uploaderr.InvalidInput, "request body is empty")
		default:
			return uploaderr.New(uploaderr.InvalidInput, "invalid JSON request body")
		}
	}
	return nil
}

// queryInt parses an optional integer query parameter; absent means zero.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, uploaderr.Newf(uploaderr.InvalidInput, "%s must be an integer", name)
	}
	return n, nil
}

// callerFrom returns the identity RequireUser attached to the request.
func callerFrom(r *http.Request) (uploads.Caller, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return uploads.Caller{}, uploaderr.ErrUnauthenticated
	}
	return caller, nil
}
