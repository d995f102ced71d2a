package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fjmerc/chunkvault/internal/repository"
	"github.com/fjmerc/chunkvault/internal/utils"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// IssuedToken is printed once; only its hash is stored.
type IssuedToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func issueTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for a user",
		Long: `Mint a bearer token for a user. The token is shown once and cannot be
recovered later; only its SHA-256 hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			env, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer env.Close()

			issued, err := issueToken(ctx, env.repos.Sessions, userID, ttl, time.Now())
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(issued)
				return nil
			}
			fmt.Printf("Token:   %s\n", issued.Token)
			fmt.Printf("User:    %s\n", issued.UserID)
			fmt.Printf("Expires: %s\n", issued.ExpiresAt.Format(time.RFC3339))
			fmt.Println("\nStore this token now. It will not be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the token authenticates as (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime")
	cmd.MarkFlagRequired("user")

	return cmd
}

func issueToken(ctx context.Context, sessions repository.SessionRepository, userID string, ttl time.Duration, now time.Time) (*IssuedToken, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}

	token, err := utils.GenerateAccessToken()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(ttl).UTC()
	if err := sessions.Create(ctx, utils.HashAccessToken(token), userID, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return &IssuedToken{UserID: userID, Token: token, ExpiresAt: expiresAt}, nil
}
