// Package storage defines the object-store capability the upload service
// drives: multipart sessions, presigned part and object URLs, and deletion.
// Handlers and the service layer depend only on Gateway, so the S3 adapter
// and the in-memory fake are interchangeable.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// CompletedPart identifies one uploaded part at completion time.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// UploadedPart is a part the store already holds for an open session.
type UploadedPart struct {
	PartNumber   int
	ETag         string
	Size         int64
	LastModified time.Time
}

// CompletedObject is the result of merging a multipart session.
type CompletedObject struct {
	ETag    string
	Version string // Empty when the bucket is not versioned
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// Gateway defines the multipart primitives of an object store.
type Gateway interface {
	// CreateMultipartSession opens a session under which parts are uploaded.
	CreateMultipartSession(ctx context.Context, key, mimeType string, metadata map[string]string) (sessionID string, err error)

	// PresignPartUpload returns a URL that accepts exactly one PUT of the given part.
	PresignPartUpload(ctx context.Context, key, sessionID string, partNumber int, expiry time.Duration) (string, error)

	// PresignDirectUpload returns a URL that accepts a single PUT of the whole object.
	PresignDirectUpload(ctx context.Context, key, mimeType string, expiry time.Duration) (string, error)

	// CompleteMultipartSession merges the parts into one object. Parts are
	// submitted in ascending part-number order regardless of input order.
	CompleteMultipartSession(ctx context.Context, key, sessionID string, parts []CompletedPart) (*CompletedObject, error)

	// AbortMultipartSession discards a session and its parts. A session that
	// no longer exists is not an error.
	AbortMultipartSession(ctx context.Context, key, sessionID string) error

	// ListUploadedParts returns the parts stored under an open session, sorted by part number.
	ListUploadedParts(ctx context.Context, key, sessionID string) ([]UploadedPart, error)

	// PresignDownload returns a time-limited GET URL. A non-empty filename is
	// sent back as the attachment name.
	PresignDownload(ctx context.Context, key, filename string, expiry time.Duration) (string, error)

	// DeleteObject removes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, key string) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// ObjectWriter streams a whole object into the store from the server side.
type ObjectWriter interface {
	PutObject(ctx context.Context, key, mimeType string, body io.Reader) (*ObjectInfo, error)
}

// StorageError represents errors from storage operations with additional context.
type StorageError struct {
	Op      string         // Operation that failed (e.g., "CompleteMultipartSession")
	Key     string         // Object key involved
	Kind    uploaderr.Kind // Classification used by the service layer
	Err     error          // Underlying error
	Message string         // Human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError classified as a transient backend failure.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Key:  key,
		Kind: uploaderr.BackendUnavailable,
		Err:  err,
	}
}

// NewStorageErrorWithKind creates a StorageError with an explicit classification.
func NewStorageErrorWithKind(op, key string, kind uploaderr.Kind, err error, message string) *StorageError {
	return &StorageError{
		Op:      op,
		Key:     key,
		Kind:    kind,
		Err:     err,
		Message: message,
	}
}

// KindOf returns the classification of a storage error, defaulting to
// BackendUnavailable for errors that did not come from a gateway.
func KindOf(err error) uploaderr.Kind {
	var se *StorageError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	return uploaderr.BackendUnavailable
}

// ValidateKey ensures an object key can't escape its prefix or smuggle
// characters that break presigning.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}

	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("null bytes not allowed in key")
	}

	// Keys that look URL-encoded would be encoded twice when presigned
	if strings.Contains(key, "%") {
		return fmt.Errorf("encoded characters not allowed in key")
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("path traversal not allowed: %s", key)
	}

	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key must be relative: %s", key)
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("invalid key: %s", key)
	}

	return nil
}

// ValidateSessionID rejects empty or malformed multipart session identifiers.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("multipart session ID is required")
	}
	if strings.ContainsRune(sessionID, '\x00') {
		return fmt.Errorf("null bytes not allowed in session ID")
	}
	return nil
}

// ValidatePartNumber checks a part number against the protocol limits.
func ValidatePartNumber(partNumber int) error {
	if partNumber < 1 || partNumber > 10000 {
		return fmt.Errorf("part number must be between 1 and 10000, got %d", partNumber)
	}
	return nil
}
