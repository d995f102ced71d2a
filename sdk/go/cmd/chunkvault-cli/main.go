// chunkvault-cli uploads, lists and downloads files on a chunkvault server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	chunkvault "github.com/fjmerc/chunkvault/sdk/go"
)

var (
	baseURL  string
	apiToken string
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chunkvault-cli",
		Short: "chunkvault CLI - resumable uploads from the command line",
		Long: `chunkvault-cli uploads files to a chunkvault server, resuming interrupted
transfers part by part, and manages the files you own.

Configuration:
  Set CHUNKVAULT_URL and CHUNKVAULT_TOKEN environment variables, or use --url and --token flags.

Examples:
  chunkvault-cli upload backup.tar.gz --concurrency 3
  chunkvault-cli list
  chunkvault-cli download 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 ./backup.tar.gz
  chunkvault-cli grant 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 alice read`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", os.Getenv("CHUNKVAULT_URL"), "chunkvault server URL (or CHUNKVAULT_URL env)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("CHUNKVAULT_TOKEN"), "Access token (or CHUNKVAULT_TOKEN env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// checkConfig validates that required configuration is present.
func checkConfig() error {
	if baseURL == "" {
		return fmt.Errorf("server URL is required (use --url or CHUNKVAULT_URL environment variable)")
	}
	return nil
}

// checkAuth validates that authentication is configured.
func checkAuth() error {
	if err := checkConfig(); err != nil {
		return err
	}
	if apiToken == "" {
		return fmt.Errorf("access token is required (use --token or CHUNKVAULT_TOKEN environment variable)")
	}
	if os.Getenv("CHUNKVAULT_TOKEN") == "" {
		fmt.Fprintln(os.Stderr, "[WARNING] Token passed via command line is visible in process list. Use CHUNKVAULT_TOKEN environment variable instead.")
	}
	return nil
}

func newClient() (*chunkvault.Client, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return chunkvault.NewClient(chunkvault.ClientConfig{
		BaseURL: baseURL,
		Token:   apiToken,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	})
}

func progressBar(percentage int) string {
	width := 30
	filled := percentage * width / 100
	return fmt.Sprintf("[%s%s]", strings.Repeat("█", filled), strings.Repeat("░", width-filled))
}

func formatBytes(b int64) string {
	return units.BytesSize(float64(b))
}
