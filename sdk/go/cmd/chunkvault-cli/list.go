package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your uploads",
		Long: `List the uploads you own, newest first.

Examples:
  chunkvault-cli list
  chunkvault-cli list --limit 50 --offset 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			files, err := client.ListFiles(context.Background(), limit, offset)
			if err != nil {
				return err
			}

			if len(files.Files) == 0 {
				fmt.Println("No files found.")
				return nil
			}

			fmt.Printf("Files (offset %d, showing %d):\n", files.Offset, len(files.Files))
			fmt.Println(strings.Repeat("═", 80))

			for _, f := range files.Files {
				fmt.Printf("\n%-12s %s\n", "File ID:", f.ID)
				fmt.Printf("%-12s %s\n", "Name:", f.OriginalName)
				fmt.Printf("%-12s %s\n", "Size:", formatBytes(f.Size))
				fmt.Printf("%-12s %s\n", "Type:", f.MimeType)
				fmt.Printf("%-12s %s\n", "Status:", f.Status)
				fmt.Printf("%-12s %s\n", "Created:", f.CreatedAt.Format("2006-01-02 15:04:05"))
				fmt.Println(strings.Repeat("─", 80))
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of files to show (max 100)")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Number of files to skip")

	return cmd
}

func deleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a file",
		Long: `Delete a file and its stored object.

Example:
  chunkvault-cli delete 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50
  chunkvault-cli delete 7f9c2ba4-e88f-4c0d-9a3e-5b1d2c3e4f50 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAuth(); err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			fileID := args[0]
			if !force {
				fmt.Printf("Delete file %s?\n", fileID)
				fmt.Print("Type 'yes' to confirm: ")

				var confirm string
				fmt.Scanln(&confirm)
				if confirm != "yes" {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			if err := client.DeleteFile(context.Background(), fileID); err != nil {
				return err
			}

			fmt.Println("File deleted successfully.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation")

	return cmd
}
