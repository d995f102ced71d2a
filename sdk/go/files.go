package chunkvault

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// ListFiles retrieves a page of the caller's uploads, newest first.
// The limit defaults to 50 and is capped at 100.
//
// Example:
//
//	list, err := client.ListFiles(ctx, 50, 0)
//	for _, f := range list.Files {
//	    fmt.Printf("%s: %s (%d bytes, %s)\n", f.ID, f.OriginalName, f.Size, f.Status)
//	}
func (c *Client) ListFiles(ctx context.Context, limit, offset int) (*FileList, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	path := "/api/files?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var list FileList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DownloadURL presigns a download of a completed file. A zero expiresIn
// uses the server default.
func (c *Client) DownloadURL(ctx context.Context, fileID string, expiresIn time.Duration) (*DownloadURL, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	if expiresIn < 0 {
		return nil, &ValidationError{Field: "expiresIn", Message: "cannot be negative"}
	}

	var extra []string
	if expiresIn > 0 {
		extra = []string{"expiresIn", strconv.Itoa(int(expiresIn.Seconds()))}
	}
	var link DownloadURL
	if err := c.do(ctx, http.MethodGet, fileQuery("/api/files/download", fileID, extra...), nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteFile removes a file, its stored object and its grants.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if err := validateFileID(fileID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/files/delete", fileIDRequest{FileID: fileID}, nil)
}

// Grant gives another user one action on a file the caller owns.
func (c *Client) Grant(ctx context.Context, grant Grant) (*Grant, error) {
	if err := validateFileID(grant.FileID); err != nil {
		return nil, err
	}
	if grant.UserID == "" {
		return nil, &ValidationError{Field: "userId", Message: "is required"}
	}
	switch grant.Action {
	case "read", "write", "delete":
	default:
		return nil, &ValidationError{Field: "action", Message: "must be read, write or delete"}
	}

	var created Grant
	if err := c.do(ctx, http.MethodPost, "/api/files/grants", grant, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Revoke removes a grant.
func (c *Client) Revoke(ctx context.Context, fileID, userID, action string) error {
	if err := validateFileID(fileID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/files/grants/revoke",
		revokeRequest{FileID: fileID, UserID: userID, Action: action}, nil)
}

// AuditLog returns the newest audit entries of a file the caller owns.
func (c *Client) AuditLog(ctx context.Context, fileID string, limit int) ([]AuditEntry, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var extra []string
	if limit > 0 {
		extra = []string{"limit", strconv.Itoa(limit)}
	}
	var resp auditLogResponse
	if err := c.do(ctx, http.MethodGet, fileQuery("/api/files/audit", fileID, extra...), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
