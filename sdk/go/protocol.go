package chunkvault

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Protocol is the control plane an Uploader drives. *Client implements it
// over HTTP.
type Protocol interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	Begin(ctx context.Context, fileID, leaseToken string) (*BeginResponse, error)
	PartURL(ctx context.Context, fileID, leaseToken string, partNumber int) (*PartURL, error)
	CompleteMultipart(ctx context.Context, fileID, leaseToken, uploadID string, parts []CompletedPart) (*CompleteResponse, error)
	CompleteDirect(ctx context.Context, fileID, leaseToken, etag string) (*CompleteResponse, error)
	Abort(ctx context.Context, fileID, leaseToken string) (*AbortResponse, error)
}

// statusReader is implemented by protocols that can report a record's
// lifecycle status. The Uploader uses it to settle a completion whose
// response was lost.
type statusReader interface {
	UploadStatus(ctx context.Context, fileID string) (*UploadStatus, error)
}

var (
	_ Protocol     = (*Client)(nil)
	_ statusReader = (*Client)(nil)
)

// Initiate opens an upload record and returns the first presigned URL.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.OriginalName == "" {
		return nil, &ValidationError{Field: "originalName", Message: "cannot be empty"}
	}
	if req.Size <= 0 {
		return nil, &ValidationError{Field: "size", Message: "must be positive"}
	}

	var resp InitiateResponse
	if err := c.do(ctx, http.MethodPost, "/api/files/initiate", req, &resp); err != nil {
		return nil, err
	}
	if err := validateFileID(resp.FileID); err != nil {
		return nil, fmt.Errorf("server returned invalid fileId: %w", err)
	}
	return &resp, nil
}

// Begin claims a pending upload, or confirms the claim held by leaseToken.
func (c *Client) Begin(ctx context.Context, fileID, leaseToken string) (*BeginResponse, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp BeginResponse
	err := c.do(ctx, http.MethodPost, "/api/files/begin", beginRequest{FileID: fileID, LeaseToken: leaseToken}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PartURL presigns the upload of one part. Once the upload is claimed the
// lease from Begin must be passed.
func (c *Client) PartURL(ctx context.Context, fileID, leaseToken string, partNumber int) (*PartURL, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	if partNumber < 1 {
		return nil, &ValidationError{Field: "partNumber", Message: "must be at least 1"}
	}
	var resp PartURL
	err := c.do(ctx, http.MethodPost, "/api/files/multipart-part-url", partURLRequest{
		FileID:     fileID,
		PartNumber: partNumber,
		LeaseToken: leaseToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteMultipart commits the part list of a chunked upload. The request
// is sent once; a lost response is settled with UploadStatus.
func (c *Client) CompleteMultipart(ctx context.Context, fileID, leaseToken, uploadID string, parts []CompletedPart) (*CompleteResponse, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp CompleteResponse
	err := c.do(ctx, http.MethodPost, "/api/files/complete-multipart", completeMultipartRequest{
		FileID:     fileID,
		UploadID:   uploadID,
		Parts:      parts,
		LeaseToken: leaseToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteDirect finalises a direct upload. An empty etag is accepted.
func (c *Client) CompleteDirect(ctx context.Context, fileID, leaseToken, etag string) (*CompleteResponse, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp CompleteResponse
	if err := c.do(ctx, http.MethodPost, "/api/files/complete", completeDirectRequest{
		FileID:     fileID,
		ETag:       etag,
		LeaseToken: leaseToken,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abort cancels an unfinished upload and releases its multipart session.
// An empty leaseToken is accepted only while the upload is unclaimed.
func (c *Client) Abort(ctx context.Context, fileID, leaseToken string) (*AbortResponse, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp AbortResponse
	if err := c.do(ctx, http.MethodPost, "/api/files/abort", abortRequest{FileID: fileID, LeaseToken: leaseToken}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadedParts lists the parts storage already holds for a chunked upload.
func (c *Client) UploadedParts(ctx context.Context, fileID string) ([]UploadedPart, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp uploadedPartsResponse
	if err := c.do(ctx, http.MethodGet, fileQuery("/api/files/parts", fileID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Parts, nil
}

// UploadSession returns the multipart session of an unfinished chunked upload.
func (c *Client) UploadSession(ctx context.Context, fileID string) (*UploadSession, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp UploadSession
	if err := c.do(ctx, http.MethodGet, fileQuery("/api/files/upload-id", fileID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadStatus reports where an upload record is in its lifecycle.
func (c *Client) UploadStatus(ctx context.Context, fileID string) (*UploadStatus, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	var resp UploadStatus
	if err := c.do(ctx, http.MethodGet, fileQuery("/api/files/status", fileID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// fileQuery builds path?fileId=...&extra pairs.
func fileQuery(path, fileID string, extra ...string) string {
	q := url.Values{"fileId": {fileID}}
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	return path + "?" + q.Encode()
}
