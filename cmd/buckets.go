package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/workspace-portal/internal/session"
)

func newBucketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Browse workspace buckets",
	}
	cmd.AddCommand(newBucketsListCmd(), newBucketsUploadCmd())
	return cmd
}

func newBucketsListCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list <namespace> <workspace> <bucket>",
		Short: "List one level of a bucket, recovering from requester-pays failures",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReported(cmd, "Error listing bucket objects", func(ctx context.Context, a App) error {
				ws, err := a.APIDeps().Workspaces.OpenWorkspace(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("open workspace: %w", err)
				}
				list, err := a.Objects().List(session.WithWorkspace(ctx, ws), args[0], args[2], prefix)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object name prefix, usually ending in /")
	return cmd
}

func newBucketsUploadCmd() *cobra.Command {
	var prefix, contentType string
	cmd := &cobra.Command{
		Use:   "upload <namespace> <workspace> <bucket> <file>",
		Short: "Upload a local file into a bucket",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[3])
			if err != nil {
				return fmt.Errorf("read upload: %w", err)
			}
			return runReported(cmd, "Error uploading file", func(ctx context.Context, a App) error {
				ws, err := a.APIDeps().Workspaces.OpenWorkspace(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("open workspace: %w", err)
				}
				name := filepath.Base(args[3])
				if err := a.Objects().Upload(session.WithWorkspace(ctx, ws), args[0], args[2], prefix, name, contentType, data); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "gs://%s/%s%s\n", args[2], prefix, name)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "destination prefix, usually ending in /")
	cmd.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "object content type")
	return cmd
}
