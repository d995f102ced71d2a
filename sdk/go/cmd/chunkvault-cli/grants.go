package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	chunkvault "github.com/fjmerc/chunkvault/sdk/go"
)

func grantCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "grant <file-id> <user-id> <read|write|delete>",
		Short: "Give another user access to a file",
		Long: `Give another user one action on a file you own.

Examples:
  chunkvault-cli grant 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 alice read
  chunkvault-cli grant 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 bob write --ttl 24h`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			g := chunkvault.Grant{FileID: args[0], UserID: args[1], Action: args[2]}
			if ttl > 0 {
				exp := time.Now().Add(ttl).UTC()
				g.ExpiresAt = &exp
			}

			created, err := client.Grant(context.Background(), g)
			if err != nil {
				return err
			}

			fmt.Printf("Granted %s on %s to %s", created.Action, created.FileID, created.UserID)
			if created.ExpiresAt != nil {
				fmt.Printf(" until %s", created.ExpiresAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Grant lifetime (default: no expiry)")

	return cmd
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <file-id> <user-id> <read|write|delete>",
		Short: "Revoke a user's access to a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			if err := client.Revoke(context.Background(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("Revoked %s on %s from %s\n", args[2], args[0], args[1])
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <file-id>",
		Short: "Show a file's audit log",
		Long: `Show who did what to a file, newest first.

Example:
  chunkvault-cli audit 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 --limit 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			entries, err := client.AuditLog(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries.")
				return nil
			}

			fmt.Printf("%-20s %-24s %-16s %s\n", "TIME", "ACTION", "USER", "IP")
			fmt.Println(strings.Repeat("─", 80))
			for _, e := range entries {
				fmt.Printf("%-20s %-24s %-16s %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.UserID, e.IPAddress)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")

	return cmd
}
