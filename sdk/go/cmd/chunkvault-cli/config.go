package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show server configuration",
		Long: `Display the server's upload limits.

Example:
  chunkvault-cli config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfig(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			cfg, err := client.GetConfig(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("chunkvault Server Configuration\n")
			fmt.Printf("URL: %s\n", baseURL)
			fmt.Println(strings.Repeat("─", 40))
			fmt.Printf("%-20s %s\n", "Max File Size:", formatBytes(cfg.MaxFileSize))
			fmt.Printf("%-20s %s\n", "Chunk Threshold:", formatBytes(cfg.ChunkThreshold))
			fmt.Printf("%-20s %s\n", "Chunk Size:", formatBytes(cfg.ChunkSize))
			fmt.Printf("%-20s %s\n", "Presigned URL TTL:", time.Duration(cfg.PresignExpiry)*time.Second)
			fmt.Printf("%-20s %s\n", "Allowed Types:", strings.Join(cfg.AllowedMimeTypes, ", "))
			fmt.Println(strings.Repeat("─", 40))

			return nil
		},
	}
}
