package chunkvault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Transport puts part bytes to a presigned URL and returns the ETag storage
// answered with, or "" when the response carried none.
type Transport interface {
	PutPart(ctx context.Context, url, contentType string, data []byte) (string, error)
}

// StatusError is a non-2xx answer from object storage.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage answered %d", e.StatusCode)
	}
	return fmt.Sprintf("storage answered %d: %s", e.StatusCode, e.Body)
}

// HTTPTransport puts parts with a pooled HTTP client. It never retries; the
// Uploader owns the retry policy for part transfers.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client, or a pooled client without timeout when nil.
// Per-part deadlines come from the request context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &HTTPTransport{client: client}
}

// PutPart uploads data with an exact Content-Length.
func (t *HTTPTransport) PutPart(ctx context.Context, url, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", uploaderr.Wrap(uploaderr.ProtocolViolation, "invalid presigned URL", err)
	}
	req.ContentLength = int64(len(data))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", uploaderr.Wrap(uploaderr.BackendUnavailable, "part upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", uploaderr.Wrap(uploaderr.BackendUnavailable, "part upload rejected",
			&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}
	io.Copy(io.Discard, resp.Body)

	return resp.Header.Get("ETag"), nil
}

// storageKind classifies a status answered by object storage.
func storageKind(status int) uploaderr.Kind {
	switch status {
	case http.StatusNotFound:
		return uploaderr.NotFound
	case http.StatusForbidden:
		return uploaderr.Forbidden
	default:
		return uploaderr.BackendUnavailable
	}
}
