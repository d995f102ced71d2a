package models

import "time"

// UploadStatus is the lifecycle state of an upload record
type UploadStatus string

const (
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusCompleted UploadStatus = "completed"
	StatusFailed    UploadStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DirectUploadETag is recorded when a direct put completes without a content tag
const DirectUploadETag = "direct-upload"

// UploadRecord represents one logical file transfer
type UploadRecord struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	OriginalName string            `json:"originalName"`
	MimeType     string            `json:"mimeType"`
	Size         int64             `json:"size"`
	Key          string            `json:"key"`
	UploadID     string            `json:"uploadId,omitempty"` // Multipart session; empty for direct uploads
	PartSize     int64             `json:"partSize,omitempty"`
	Status       UploadStatus      `json:"status"`
	LeaseToken   string            `json:"-"`
	ETag         string            `json:"etag,omitempty"`
	Version      string            `json:"version,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Chunked reports whether the record was created for a multipart upload
func (r *UploadRecord) Chunked() bool {
	return r.PartSize > 0
}

// HasActiveSession reports whether parts can still be uploaded
func (r *UploadRecord) HasActiveSession() bool {
	return r.UploadID != "" && !r.Status.IsTerminal()
}

// GrantAction is a permission that can be granted on a file
type GrantAction string

const (
	ActionRead   GrantAction = "read"
	ActionWrite  GrantAction = "write"
	ActionDelete GrantAction = "delete"
)

// Valid reports whether a is a known action
func (a GrantAction) Valid() bool {
	return a == ActionRead || a == ActionWrite || a == ActionDelete
}

// FileGrant gives a non-owner one action on one file
type FileGrant struct {
	ID        string      `json:"id"`
	FileID    string      `json:"fileId"`
	UserID    string      `json:"userId"`
	Action    GrantAction `json:"action"`
	GrantedBy string      `json:"grantedBy"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ActiveAt reports whether the grant is usable at t
func (g *FileGrant) ActiveAt(t time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}

// Audit actions
const (
	AuditUploadInitiated = "upload_initiated"
	AuditUploadStarted   = "upload_started"
	AuditUploadCompleted = "upload_completed"
	AuditUploadAborted   = "upload_aborted"
	AuditUploadExpired   = "upload_expired"
	AuditDownload        = "download"
	AuditDelete          = "delete"
	AuditGrant           = "grant"
	AuditRevoke          = "revoke"
)

// AuditEntry records one access to a file
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
