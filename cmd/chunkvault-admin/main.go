// chunkvault-admin runs operator tasks against a chunkvault deployment:
// minting access tokens, importing files from disk and sweeping abandoned
// uploads. It reads the same environment as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fjmerc/chunkvault/internal/bootstrap"
	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/uploads"
)

var (
	jsonOutput bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chunkvault-admin",
		Short: "chunkvault administration tool",
		Long: `chunkvault-admin talks to the record store and the bucket directly,
using the server's environment (DB_TYPE, DB_PATH, POSTGRES_*, S3_*).

Examples:
  chunkvault-admin issue-token --user alice --ttl 720h
  chunkvault-admin import ./exports --owner alice --recursive
  chunkvault-admin cleanup
  chunkvault-admin migrations`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(issueTokenCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(migrationsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// adminEnv holds the stores a command works against.
type adminEnv struct {
	cfg   *config.Config
	repos *repository.Repositories
	svc   *uploads.Service
}

func (e *adminEnv) Close() {
	e.repos.Close()
}

// openEnv connects to the record store, and to the bucket when withStorage is set.
func openEnv(ctx context.Context, withStorage bool) (*adminEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	repos, err := bootstrap.OpenRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &adminEnv{cfg: cfg, repos: repos}

	if withStorage {
		gw, err := bootstrap.OpenGateway(ctx, cfg)
		if err != nil {
			repos.Close()
			return nil, err
		}
		env.svc = uploads.NewService(cfg, repos, gw)
	}
	return env, nil
}

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(v)
}
