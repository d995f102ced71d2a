package chunkvault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// Download saves a completed file to destination. The body is written to a
// temporary file in the same directory and renamed into place once the
// transfer finishes, so a failed download never leaves a partial file behind.
//
//	err := client.Download(ctx, fileID, "out/report.pdf", &chunkvault.DownloadOptions{
//	    OnProgress: func(p chunkvault.DownloadProgress) { log.Println(p.Percentage) },
//	})
func (c *Client) Download(ctx context.Context, fileID, destination string, opts *DownloadOptions) error {
	if opts == nil {
		opts = &DownloadOptions{}
	}

	dest, err := filepath.Abs(destination)
	if err != nil {
		return fmt.Errorf("resolving destination path: %w", err)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	switch info, err := os.Lstat(dest); {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("checking destination: %w", err)
	case info.Mode()&fs.ModeSymlink != 0:
		return &ValidationError{Field: "destination", Message: "refusing to replace a symbolic link"}
	case !opts.Overwrite:
		return &ValidationError{Field: "destination", Message: "file exists and Overwrite is not set"}
	}

	tmp, err := os.CreateTemp(dir, ".chunkvault-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.DownloadToWriter(ctx, fileID, tmp, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flushing download: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

// DownloadToWriter streams a completed file into w.
func (c *Client) DownloadToWriter(ctx context.Context, fileID string, w io.Writer, opts *DownloadOptions) error {
	if opts == nil {
		opts = &DownloadOptions{}
	}

	link, err := c.DownloadURL(ctx, fileID, opts.ExpiresIn)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.transport.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return uploaderr.Wrap(uploaderr.BackendUnavailable, "download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return uploaderr.Wrap(storageKind(resp.StatusCode), "download failed",
			fmt.Errorf("storage answered %s", resp.Status))
	}

	total := link.Size
	if resp.ContentLength >= 0 {
		total = resp.ContentLength
	}
	if opts.OnProgress != nil {
		w = &progressWriter{w: w, total: total, report: opts.OnProgress}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}
	if total > 0 && n != total {
		return uploaderr.Newf(uploaderr.ProtocolViolation, "received %d of %d bytes", n, total)
	}
	return nil
}

// progressWriter reports cumulative bytes after every write.
type progressWriter struct {
	w      io.Writer
	total  int64
	done   int64
	report func(DownloadProgress)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)

	pct := -1
	if p.total > 0 {
		pct = int(p.done * 100 / p.total)
	}
	p.report(DownloadProgress{BytesDownloaded: p.done, TotalBytes: p.total, Percentage: pct})
	return n, err
}
