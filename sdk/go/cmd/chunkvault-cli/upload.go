package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	chunkvault "github.com/fjmerc/chunkvault/sdk/go"
)

func uploadCmd() *cobra.Command {
	var (
		concurrency int
		threshold   string
		metadata    []string
		keepSession bool
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file",
		Long: `Upload a file. Files above the server's chunk threshold are sent in parts;
a part that fails is retried with backoff without resending the others.

Press Ctrl-C once to pause after the parts in flight; the upload is then
cancelled and its server session aborted unless --keep-session is set.

Examples:
  chunkvault-cli upload report.pdf
  chunkvault-cli upload backup.zip --concurrency 4 --metadata project=apollo
  chunkvault-cli upload scan.png --threshold 8MiB`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			opts := chunkvault.UploadOptions{
				Concurrency:         concurrency,
				KeepSessionOnCancel: keepSession,
			}
			if threshold != "" {
				n, err := units.RAMInBytes(threshold)
				if err != nil {
					return fmt.Errorf("invalid --threshold: %w", err)
				}
				opts.ChunkThreshold = n
			}
			if len(metadata) > 0 {
				opts.Metadata = make(map[string]string, len(metadata))
				for _, kv := range metadata {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return fmt.Errorf("invalid --metadata %q, want key=value", kv)
					}
					opts.Metadata[k] = v
				}
			}
			if !noProgress {
				opts.OnProgress = func(p chunkvault.Progress) {
					status := fmt.Sprintf("\r%s %3d%% (%s/%s)",
						progressBar(p.Percentage),
						p.Percentage,
						formatBytes(p.UploadedBytes),
						formatBytes(p.TotalBytes),
					)
					if p.TotalParts > 1 {
						status += fmt.Sprintf(" [part %d/%d]", p.CurrentPart, p.TotalParts)
					}
					fmt.Print(status)
				}
			}

			src, err := chunkvault.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			ctx := context.Background()
			if opts.ChunkThreshold == 0 {
				if cfg, err := client.GetConfig(ctx); err == nil {
					opts.ChunkThreshold = cfg.ChunkThreshold
				}
			}

			u, err := chunkvault.NewUploader(client, src, opts)
			if err != nil {
				return err
			}

			fmt.Printf("Uploading: %s (%s, %s)\n", src.Name(), formatBytes(src.Size()), src.ContentType())

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			result, err := u.Start(runCtx)
			stop()
			fmt.Println()

			if errors.Is(err, chunkvault.ErrPaused) {
				p := u.Progress()
				fmt.Printf("Interrupted after %s of %s.\n", formatBytes(p.UploadedBytes), formatBytes(p.TotalBytes))
				if cerr := u.Cancel(ctx); cerr != nil {
					return cerr
				}
				if keepSession {
					fmt.Printf("Upload %s left open on the server.\n", u.FileID())
				} else {
					fmt.Printf("Upload %s aborted.\n", u.FileID())
				}
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Println(strings.Repeat("─", 50))
			fmt.Printf("Upload successful!\n")
			fmt.Println(strings.Repeat("─", 50))
			fmt.Printf("File ID:     %s\n", result.FileID)
			fmt.Printf("Key:         %s\n", result.Key)
			fmt.Printf("Size:        %s\n", formatBytes(result.Size))
			if result.Chunked {
				fmt.Printf("Parts:       %d\n", result.TotalParts)
			}
			fmt.Printf("ETag:        %s\n", result.ETag)
			fmt.Println(strings.Repeat("─", 50))
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, fmt.Sprintf("Parts in flight at once (1-%d)", chunkvault.MaxConcurrency))
	cmd.Flags().StringVar(&threshold, "threshold", "", "Chunk threshold override, e.g. 8MiB (default: server setting)")
	cmd.Flags().StringArrayVarP(&metadata, "metadata", "m", nil, "Metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&keepSession, "keep-session", false, "Do not abort the server session when interrupted")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar")

	return cmd
}
