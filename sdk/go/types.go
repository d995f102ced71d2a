// Package chunkvault is the Go client for the chunkvault upload service. Its
// Uploader drives a resumable chunked upload: it splits a source into parts,
// puts each part to object storage through a presigned URL, retries transient
// failures and commits the part list once every part is stored.
package chunkvault

import (
	"log/slog"
	"time"
)

// ClientConfig contains configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the chunkvault server URL (required).
	BaseURL string
	// Token is the access token sent as a bearer credential.
	Token string
	// Timeout bounds each control-plane request (default: 1 minute).
	Timeout time.Duration
	// RetryMax is how many times a failed control-plane request is retried
	// (default: 3, negative disables retries). Requests that change state are
	// retried only when the connection could not be made.
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the wait between retries.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// InsecureSkipVerify disables TLS certificate verification (dangerous!).
	InsecureSkipVerify bool
	// Logger receives request and retry logs. Nil discards them.
	Logger *slog.Logger
}

// PublicConfig is the server's upload configuration.
type PublicConfig struct {
	ChunkSize        int64    `json:"chunkSize"`
	ChunkThreshold   int64    `json:"chunkThreshold"`
	MaxFileSize      int64    `json:"maxFileSize"`
	AllowedMimeTypes []string `json:"allowedMimeTypes"`
	PresignExpiry    int      `json:"presignExpirySeconds"`
}

// InitiateRequest opens an upload record.
type InitiateRequest struct {
	OriginalName string            `json:"originalName"`
	MimeType     string            `json:"mimeType"`
	Size         int64             `json:"size"`
	Chunked      bool              `json:"chunked"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// InitiateResponse carries the first presigned URL: part 1 of a chunked
// upload or the direct-put URL.
type InitiateResponse struct {
	FileID       string    `json:"fileId"`
	PresignedURL string    `json:"presignedUrl"`
	Key          string    `json:"key"`
	MimeType     string    `json:"mimeType"`
	UploadID     string    `json:"uploadId,omitempty"`
	Chunked      bool      `json:"chunked"`
	PartSize     int64     `json:"partSize,omitempty"`
	TotalParts   int       `json:"totalParts"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// BeginResponse carries the lease of the session driving an upload.
type BeginResponse struct {
	FileID     string `json:"fileId"`
	Status     string `json:"status"`
	LeaseToken string `json:"leaseToken"`
}

// PartURL is a presigned URL bound to one part number.
type PartURL struct {
	URL        string    `json:"presignedUrl"`
	PartNumber int       `json:"partNumber"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CompletedPart pairs a part number with the tag storage returned for it.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// CompleteResponse is returned by both completion calls.
type CompleteResponse struct {
	FileID string `json:"fileId"`
	ETag   string `json:"etag"`
}

// AbortResponse reports the record status after an abort.
type AbortResponse struct {
	FileID string `json:"fileId"`
	Status string `json:"status"`
}

// UploadStatus is the lifecycle status of an upload record. ETag is set
// once the upload is completed.
type UploadStatus struct {
	FileID    string    `json:"fileId"`
	Status    string    `json:"status"`
	ETag      string    `json:"etag,omitempty"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UploadedPart is a part storage already holds.
type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// UploadSession identifies the multipart session behind a record.
type UploadSession struct {
	FileID   string `json:"fileId"`
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// File is an upload record as listed by the server.
type File struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	OriginalName string            `json:"originalName"`
	MimeType     string            `json:"mimeType"`
	Size         int64             `json:"size"`
	Key          string            `json:"key"`
	Status       string            `json:"status"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// FileList is one page of the caller's uploads.
type FileList struct {
	Files  []File `json:"files"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// DownloadURL is a presigned link to a completed object.
type DownloadURL struct {
	URL       string `json:"url"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	ExpiresIn int    `json:"expiresIn"`
}

// Grant gives a user one action (read, write or delete) on a file.
type Grant struct {
	ID        string     `json:"id,omitempty"`
	FileID    string     `json:"fileId"`
	UserID    string     `json:"userId"`
	Action    string     `json:"action"`
	GrantedBy string     `json:"grantedBy,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AuditEntry is one line of a file's audit log.
type AuditEntry struct {
	ID        string            `json:"id"`
	FileID    string            `json:"fileId"`
	UserID    string            `json:"userId"`
	Action    string            `json:"action"`
	IPAddress string            `json:"ipAddress,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// DownloadOptions configures a file download.
type DownloadOptions struct {
	// ExpiresIn is the lifetime of the presigned link (server default when zero).
	ExpiresIn time.Duration
	// OnProgress is called with download progress updates.
	OnProgress func(DownloadProgress)
	// Overwrite allows replacing an existing file at the destination.
	Overwrite bool
}

// DownloadProgress provides information about download progress.
type DownloadProgress struct {
	BytesDownloaded int64
	TotalBytes      int64
	// Percentage is 0-100, or -1 if the size is unknown.
	Percentage int
}

type fileIDRequest struct {
	FileID string `json:"fileId"`
}

type beginRequest struct {
	FileID     string `json:"fileId"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

type abortRequest struct {
	FileID     string `json:"fileId"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

type partURLRequest struct {
	FileID     string `json:"fileId"`
	PartNumber int    `json:"partNumber"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

type completeMultipartRequest struct {
	FileID     string          `json:"fileId"`
	UploadID   string          `json:"uploadId"`
	Parts      []CompletedPart `json:"parts"`
	LeaseToken string          `json:"leaseToken,omitempty"`
}

type completeDirectRequest struct {
	FileID     string `json:"fileId"`
	ETag       string `json:"etag,omitempty"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

type revokeRequest struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
	Action string `json:"action"`
}

type uploadedPartsResponse struct {
	FileID string         `json:"fileId"`
	Parts  []UploadedPart `json:"parts"`
}

type auditLogResponse struct {
	Entries []AuditEntry `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
