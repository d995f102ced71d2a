package chunkvault

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Client is the chunkvault API client. It implements Protocol.
type Client struct {
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
	transport  *HTTPTransport
	logger     *slog.Logger

	configMu    sync.Mutex
	configCache *PublicConfig
}

// NewClient creates a new chunkvault client with the given configuration.
//
// Example:
//
//	client, err := chunkvault.NewClient(chunkvault.ClientConfig{
//	    BaseURL: "https://uploads.example.com",
//	    Token:   os.Getenv("CHUNKVAULT_TOKEN"),
//	})
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &ValidationError{Field: "BaseURL", Message: "is required"}
	}

	parsedURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &ValidationError{Field: "BaseURL", Message: "must be a valid URL"}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, &ValidationError{Field: "BaseURL", Message: "must use http or https protocol"}
	}
	if parsedURL.Host == "" {
		return nil, &ValidationError{Field: "BaseURL", Message: "must include a host"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout
	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled; this is insecure")
		if t, ok := httpClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = retryPolicy
	switch {
	case cfg.RetryMax < 0:
		rc.RetryMax = 0
	case cfg.RetryMax > 0:
		rc.RetryMax = cfg.RetryMax
	default:
		rc.RetryMax = 3
	}
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: rc,
		transport:  NewHTTPTransport(nil),
		logger:     logger,
	}, nil
}

// String returns a string representation with the token redacted.
func (c *Client) String() string {
	tokenDisplay := "none"
	if c.token != "" {
		tokenDisplay = "***redacted***"
	}
	return fmt.Sprintf("ChunkvaultClient(baseURL=%q, token=%s)", c.baseURL, tokenDisplay)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Transport returns the transport the client's uploads put parts with.
func (c *Client) Transport() *HTTPTransport {
	return c.transport
}

// validateFileID rejects ids that could escape the query string.
func validateFileID(id string) error {
	if id == "" {
		return &ValidationError{Field: "fileID", Message: "is required"}
	}
	if len(id) > 64 || strings.ContainsAny(id, "/?#&= ") {
		return &ValidationError{Field: "fileID", Message: "is malformed"}
	}
	return nil
}

// do sends a JSON request and decodes the JSON response into out.
// Network failures that outlast the retries are BackendUnavailable.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body any
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = b
	}

	req, err := retryablehttp.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if method == http.MethodGet || method == http.MethodHead {
		ctx = context.WithValue(ctx, replaySafeKey{}, true)
	}
	req = req.WithContext(ctx)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return uploaderr.Wrap(uploaderr.BackendUnavailable, "request failed", err)
	}

	return handleResponse(resp, out)
}

type replaySafeKey struct{}

// retryPolicy re-sends GET and HEAD requests under the default policy. Any
// other request may have taken effect once the server received it, so it is
// re-sent only when the connection was never established.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if safe, _ := ctx.Value(replaySafeKey{}).(bool); safe {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	var opErr *net.OpError
	return err != nil && errors.As(err, &opErr) && opErr.Op == "dial", nil
}

// handleResponse checks for errors and decodes the JSON response.
func handleResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp); err != nil {
			errResp = errorResponse{}
		}
		return newAPIError(resp.StatusCode, errResp.Code, errResp.Error)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return uploaderr.Wrap(uploaderr.ProtocolViolation, "malformed response", err)
		}
	}
	return nil
}

// GetConfig retrieves the server's upload configuration.
// The result is cached after the first successful call.
func (c *Client) GetConfig(ctx context.Context) (*PublicConfig, error) {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	if c.configCache != nil {
		return c.configCache, nil
	}

	var cfg PublicConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	c.configCache = &cfg
	return c.configCache, nil
}

// isContextErr reports whether err came from a cancelled or expired context.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
