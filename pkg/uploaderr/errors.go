// Package uploaderr defines the error kinds shared by the upload service and
// its clients. Every protocol operation either returns a value or an *Error
// carrying one of these kinds, and the kind alone decides the HTTP status on
// the server and the retry decision on the client.
package uploaderr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an upload failure.
type Kind string

const (
	Unauthenticated    Kind = "UNAUTHENTICATED"
	Forbidden          Kind = "FORBIDDEN"
	NotFound           Kind = "NOT_FOUND"
	InvalidInput       Kind = "INVALID_INPUT"
	InvalidState       Kind = "INVALID_STATE"
	Conflict           Kind = "CONFLICT"
	BackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	IncompletePartSet  Kind = "INCOMPLETE_PART_SET"
	ExhaustedRetries   Kind = "EXHAUSTED_RETRIES"
	ProtocolViolation  Kind = "PROTOCOL_VIOLATION"
	Internal           Kind = "INTERNAL"
)

// Error is an upload failure with a stable kind and a caller-safe message.
// Cause holds the underlying detail and is never sent over the wire.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithOp returns a copy of e annotated with the failing operation.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// Sentinels usable with errors.Is.
var (
	ErrUnauthenticated    = New(Unauthenticated, "authentication required")
	ErrForbidden          = New(Forbidden, "access denied")
	ErrNotFound           = New(NotFound, "file not found")
	ErrInvalidInput       = New(InvalidInput, "invalid input")
	ErrInvalidState       = New(InvalidState, "invalid upload state")
	ErrConflict           = New(Conflict, "upload is driven by another session")
	ErrBackendUnavailable = New(BackendUnavailable, "storage backend unavailable")
	ErrIncompletePartSet  = New(IncompletePartSet, "incomplete part set")
	ErrExhaustedRetries   = New(ExhaustedRetries, "retries exhausted")
	ErrProtocolViolation  = New(ProtocolViolation, "protocol violation")
	ErrInternal           = New(Internal, "internal error")
)

// KindOf returns the kind of the first *Error in err's chain, or Internal
// when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable reports whether err is a transient backend failure. Only the
// outermost kind counts: an ExhaustedRetries wrapping a BackendUnavailable is
// terminal.
func IsRetryable(err error) bool {
	return KindOf(err) == BackendUnavailable
}

// Message returns the caller-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the status code the server answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidInput:
		return http.StatusBadRequest
	case InvalidState, Conflict:
		return http.StatusConflict
	case BackendUnavailable:
		return http.StatusServiceUnavailable
	case IncompletePartSet:
		return http.StatusUnprocessableEntity
	case ExhaustedRetries, ProtocolViolation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindFromStatus guesses a kind from a bare HTTP status, for responses that
// carry no code.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthenticated
	case status == http.StatusForbidden:
		return Forbidden
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusConflict:
		return InvalidState
	case status == http.StatusUnprocessableEntity:
		return IncompletePartSet
	case status == http.StatusTooManyRequests, status >= 500:
		return BackendUnavailable
	case status >= 400:
		return InvalidInput
	default:
		return Internal
	}
}

// ParseKind validates a wire code.
func ParseKind(code string) (Kind, bool) {
	switch k := Kind(code); k {
	case Unauthenticated, Forbidden, NotFound, InvalidInput, InvalidState, Conflict,
		BackendUnavailable, IncompletePartSet, ExhaustedRetries, ProtocolViolation, Internal:
		return k, true
	}
	return "", false
}
