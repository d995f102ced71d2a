package models

import "time"

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// InitiateUploadRequest opens a new upload
type InitiateUploadRequest struct {
	OriginalName string            `json:"originalName"`
	MimeType     string            `json:"mimeType"`
	Size         int64             `json:"size"`
	Chunked      bool              `json:"chunked"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// InitiateUploadResponse carries the first presigned URL. For chunked uploads
// it is the URL for part 1, otherwise the direct-put URL.
type InitiateUploadResponse struct {
	FileID       string    `json:"fileId"`
	PresignedURL string    `json:"presignedUrl"`
	Key          string    `json:"key"`
	MimeType     string    `json:"mimeType"` // Content-Type the upload must be sent with
	UploadID     string    `json:"uploadId,omitempty"`
	Chunked      bool      `json:"chunked"`
	PartSize     int64     `json:"partSize,omitempty"`
	TotalParts   int       `json:"totalParts"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// BeginUploadRequest claims a pending upload for one client session
type BeginUploadRequest struct {
	FileID     string `json:"fileId"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

// BeginUploadResponse returns the lease identifying the driving session
type BeginUploadResponse struct {
	FileID     string       `json:"fileId"`
	Status     UploadStatus `json:"status"`
	LeaseToken string       `json:"leaseToken"`
}

// PartURLRequest asks for the presigned URL of one part. Once the upload
// is claimed, LeaseToken must be the token Begin returned; the same holds
// for completion and abort.
type PartURLRequest struct {
	FileID     string `json:"fileId"`
	PartNumber int    `json:"partNumber"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

// PartURLResponse is a presigned URL bound to one part number
type PartURLResponse struct {
	PresignedURL string    `json:"presignedUrl"`
	PartNumber   int       `json:"partNumber"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// CompletedPart pairs a part number with the content tag the store returned
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// CompleteMultipartRequest commits the part list of a chunked upload
type CompleteMultipartRequest struct {
	FileID     string          `json:"fileId"`
	UploadID   string          `json:"uploadId"`
	Parts      []CompletedPart `json:"parts"`
	LeaseToken string          `json:"leaseToken,omitempty"`
}

// CompleteDirectRequest finalises a direct upload
type CompleteDirectRequest struct {
	FileID     string `json:"fileId"`
	ETag       string `json:"etag,omitempty"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

// CompleteUploadResponse is returned by both completion endpoints
type CompleteUploadResponse struct {
	FileID string `json:"fileId"`
	ETag   string `json:"etag"`
}

// FileIDRequest is the body of endpoints that only need a file id
type FileIDRequest struct {
	FileID string `json:"fileId"`
}

// AbortUploadRequest discards an unfinished upload
type AbortUploadRequest struct {
	FileID     string `json:"fileId"`
	LeaseToken string `json:"leaseToken,omitempty"`
}

// UploadStatusResponse is the current lifecycle state of one record
type UploadStatusResponse struct {
	FileID    string       `json:"fileId"`
	Status    UploadStatus `json:"status"`
	ETag      string       `json:"etag,omitempty"`
	Size      int64        `json:"size"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// AbortUploadResponse reports the record state after an abort
type AbortUploadResponse struct {
	FileID string       `json:"fileId"`
	Status UploadStatus `json:"status"`
}

// UploadedPart describes a part already stored under a multipart session
type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// UploadedPartsResponse lists parts the store already holds
type UploadedPartsResponse struct {
	FileID string         `json:"fileId"`
	Parts  []UploadedPart `json:"parts"`
}

// UploadSessionResponse exposes the multipart session of a record
type UploadSessionResponse struct {
	FileID   string `json:"fileId"`
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// FileListResponse is one page of a user's uploads
type FileListResponse struct {
	Files  []UploadRecord `json:"files"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// DownloadURLResponse is a presigned download link
type DownloadURLResponse struct {
	URL       string `json:"url"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	ExpiresIn int    `json:"expiresIn"`
}

// DeleteFileResponse confirms a deletion
type DeleteFileResponse struct {
	FileID  string `json:"fileId"`
	Deleted bool   `json:"deleted"`
}

// GrantRequest gives another user one action on a file
type GrantRequest struct {
	FileID    string      `json:"fileId"`
	UserID    string      `json:"userId"`
	Action    GrantAction `json:"action"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

// RevokeRequest removes a grant
type RevokeRequest struct {
	FileID string      `json:"fileId"`
	UserID string      `json:"userId"`
	Action GrantAction `json:"action"`
}

// RevokeResponse confirms a revocation
type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// AuditLogResponse lists audit entries newest first
type AuditLogResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// PublicConfig is the client-facing subset of the server configuration
type PublicConfig struct {
	ChunkSize        int64    `json:"chunkSize"`
	ChunkThreshold   int64    `json:"chunkThreshold"`
	MaxFileSize      int64    `json:"maxFileSize"`
	AllowedMimeTypes []string `json:"allowedMimeTypes"`
	PresignExpiry    int      `json:"presignExpirySeconds"`
}

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Uptime   string            `json:"uptime"`
	Database string            `json:"database"`
}
