package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	chunkvault "github.com/fjmerc/chunkvault/sdk/go"
)

func downloadCmd() *cobra.Command {
	var (
		overwrite  bool
		noProgress bool
		linkOnly   bool
		expiresIn  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "download <file-id> [destination]",
		Short: "Download a completed file",
		Long: `Download a completed file through a presigned link.

If no destination is specified, the file is saved to the current directory
with its original name.

Examples:
  chunkvault-cli download 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50
  chunkvault-cli download 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 ./out.pdf --overwrite
  chunkvault-cli download 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 --link --expires 10m`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			ctx := context.Background()
			fileID := args[0]

			if linkOnly {
				link, err := client.DownloadURL(ctx, fileID, expiresIn)
				if err != nil {
					return err
				}
				fmt.Printf("%s\n", link.URL)
				fmt.Printf("(valid for %s)\n", time.Duration(link.ExpiresIn)*time.Second)
				return nil
			}

			destination := ""
			if len(args) > 1 {
				destination = args[1]
			} else {
				link, err := client.DownloadURL(ctx, fileID, expiresIn)
				if err != nil {
					return err
				}
				destination = link.FileName
			}

			opts := &chunkvault.DownloadOptions{ExpiresIn: expiresIn, Overwrite: overwrite}
			if !noProgress {
				opts.OnProgress = func(p chunkvault.DownloadProgress) {
					if p.Percentage >= 0 {
						fmt.Printf("\r%s %3d%% (%s/%s)",
							progressBar(p.Percentage),
							p.Percentage,
							formatBytes(p.BytesDownloaded),
							formatBytes(p.TotalBytes),
						)
					} else {
						fmt.Printf("\rDownloading... %s", formatBytes(p.BytesDownloaded))
					}
				}
			}

			fmt.Printf("Downloading to: %s\n", destination)
			if err := client.Download(ctx, fileID, destination, opts); err != nil {
				fmt.Println()
				return err
			}

			fmt.Println()
			fmt.Println("Download complete!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing destination file")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar")
	cmd.Flags().BoolVar(&linkOnly, "link", false, "Print the presigned link instead of downloading")
	cmd.Flags().DurationVar(&expiresIn, "expires", 0, "Link lifetime (default: server setting)")

	return cmd
}
