package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// CleanupReport summarizes one sweep.
type CleanupReport struct {
	ExpiredUploads  int   `json:"expired_uploads"`
	ExpiredSessions int64 `json:"expired_sessions"`
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Expire abandoned uploads and sessions once",
		Long: `Run one sweep of the server's background cleanup: unfinished uploads older
than ABANDONED_UPLOAD_HOURS are marked failed and their multipart sessions
aborted, and expired access tokens are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			env, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer env.Close()

			var report CleanupReport
			if report.ExpiredUploads, err = env.svc.CleanupAbandoned(ctx); err != nil {
				return fmt.Errorf("upload cleanup failed: %w", err)
			}
			if report.ExpiredSessions, err = env.repos.Sessions.DeleteExpired(ctx, time.Now()); err != nil {
				return fmt.Errorf("session cleanup failed: %w", err)
			}

			if jsonOutput {
				printJSON(report)
				return nil
			}
			fmt.Printf("Expired uploads:  %d\n", report.ExpiredUploads)
			fmt.Printf("Expired sessions: %d\n", report.ExpiredSessions)
			return nil
		},
	}
}
