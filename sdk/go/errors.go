package chunkvault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Run outcomes of an Uploader that are not failures.
var (
	// ErrPaused is returned by Start and Resume when the run stopped because
	// of Pause, a registry shutdown or cancellation of the run context.
	ErrPaused = errors.New("upload paused")
	// ErrCancelled is returned once an upload has been cancelled.
	ErrCancelled = errors.New("upload cancelled")
)

// APIError is an error response from the chunkvault API. It unwraps to an
// *uploaderr.Error, so uploaderr.KindOf and errors.Is with the uploaderr
// sentinels work on it.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Code is the error kind the server reported.
	Code uploaderr.Kind
	// Message is the server's message.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
}

// Unwrap returns the error as its kind.
func (e *APIError) Unwrap() error {
	return uploaderr.New(e.Code, e.Message)
}

// ValidationError represents an input validation failure detected before
// any request is sent.
type ValidationError struct {
	// Field is the name of the invalid field.
	Field string
	// Message describes what's wrong.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap classifies validation failures as InvalidInput.
func (e *ValidationError) Unwrap() error {
	return uploaderr.New(uploaderr.InvalidInput, e.Error())
}

// newAPIError builds an APIError from a response. Responses without a known
// code are classified by status.
func newAPIError(statusCode int, code, message string) *APIError {
	kind, ok := uploaderr.ParseKind(code)
	if !ok {
		kind = uploaderr.KindFromStatus(statusCode)
	}
	if message == "" {
		message = strings.ToLower(strings.ReplaceAll(string(kind), "_", " "))
	}
	return &APIError{
		StatusCode: statusCode,
		Code:       kind,
		Message:    sanitizeErrorMessage(message),
	}
}

// sanitizeErrorMessage drops messages that mention credentials.
func sanitizeErrorMessage(msg string) string {
	sensitivePatterns := []string{
		"token",
		"password",
		"secret",
		"authorization",
		"cookie",
		"credential",
	}

	lowerMsg := strings.ToLower(msg)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return "request failed"
		}
	}

	return msg
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
