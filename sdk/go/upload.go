package chunkvault

import (
	"context"
)

// Upload uploads the file at path and waits for it to finish. When no
// ChunkThreshold is set, the server's configured threshold is used.
//
// Example:
//
//	result, err := client.Upload(ctx, "/path/to/archive.zip", chunkvault.UploadOptions{
//	    Concurrency: 3,
//	    OnProgress: func(p chunkvault.Progress) {
//	        fmt.Printf("Upload: %d%%\n", p.Percentage)
//	    },
//	})
func (c *Client) Upload(ctx context.Context, path string, opts UploadOptions) (*UploadResult, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return c.UploadSource(ctx, src, opts)
}

// UploadBytes uploads an in-memory payload under name. An empty contentType
// is detected from the content.
func (c *Client) UploadBytes(ctx context.Context, name, contentType string, data []byte, opts UploadOptions) (*UploadResult, error) {
	return c.UploadSource(ctx, NewBytesSource(name, contentType, data), opts)
}

// UploadSource uploads src and waits for it to finish. For control over
// pausing and resuming, use NewUploader directly.
func (c *Client) UploadSource(ctx context.Context, src Source, opts UploadOptions) (*UploadResult, error) {
	if opts.ChunkThreshold == 0 {
		if cfg, err := c.GetConfig(ctx); err == nil && cfg.ChunkThreshold > 0 {
			opts.ChunkThreshold = cfg.ChunkThreshold
		} else if err != nil {
			c.logger.Debug("using default chunk threshold", "error", err)
		}
	}

	u, err := NewUploader(c, src, opts)
	if err != nil {
		return nil, err
	}
	return u.Start(ctx)
}
