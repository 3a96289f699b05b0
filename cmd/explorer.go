package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/workspace-portal/internal/explorer"
)

func newExplorerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explorer",
		Short: "Embed the Data Explorer",
	}
	cmd.AddCommand(newExplorerDatasetsCmd(), newExplorerFrameCmd(), newExplorerLibraryFrameCmd(), newExplorerMessageCmd())
	return cmd
}

func newExplorerDatasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List datasets with a Data Explorer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range a.Explorer().Datasets() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newExplorerFrameCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "frame <dataset>",
		Short: "Print the iframe URL for a dataset's explorer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src, err := a.Explorer().FrameURL(args[0], query)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), src)
			return err
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "page query string carried into the frame")
	return cmd
}

func newExplorerLibraryFrameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "library-frame <query>",
		Short: "Print the iframe URL for a library explorer link whose query carries origin=",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, err := explorer.LibraryFrameURL(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), src)
			return err
		},
	}
}

func newExplorerMessageCmd() *cobra.Command {
	var path, origin string
	cmd := &cobra.Command{
		Use:   "message <dataset> <json>",
		Short: "Route a message posted by the explorer frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg explorer.Message
			if err := json.Unmarshal([]byte(args[1]), &msg); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			if origin != "" {
				return printJSON(cmd, explorer.HandleLibraryMessage(args[0], path, origin, msg))
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := a.Explorer().Origin(args[0]); err != nil {
				return err
			}
			return printJSON(cmd, explorer.HandleMessage(args[0], path, msg))
		},
	}
	cmd.Flags().StringVar(&path, "path", "/", "current page path")
	cmd.Flags().StringVar(&origin, "origin", "", "explorer origin of a library page; kept in the replaced address")
	return cmd
}
