package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/workspace-portal/internal/notebook"
	"github.com/JakeFAU/workspace-portal/internal/session"
)

func newNotebookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notebook",
		Short: "Launch workspace notebooks",
	}
	cmd.AddCommand(newNotebookLaunchCmd())
	return cmd
}

func newNotebookLaunchCmd() *cobra.Command {
	var modeFlag string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "launch <namespace> <workspace> <notebook.ipynb>",
		Short: "Resolve the launcher view, optionally choosing Edit or Playground mode",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := notebook.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			return runReported(cmd, "Error launching notebook", func(ctx context.Context, a App) error {
				deps := a.APIDeps()
				ws, err := deps.Workspaces.OpenWorkspace(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				ctx = session.WithWorkspace(ctx, ws)
				cluster, err := deps.Clusters.CurrentCluster(ctx, ws.Namespace)
				if err != nil {
					return err
				}
				target := notebook.Target{Workspace: ws, Notebook: args[2], Cluster: cluster}

				if mode != notebook.ModeNone {
					var lock notebook.Lock
					if mode == notebook.ModeEdit {
						if lock, err = deps.Launcher.CheckLock(ctx, target); err != nil {
							return err
						}
					}
					choice, err := deps.Launcher.ChooseMode(ctx, target, mode, lock, confirm)
					if err != nil {
						return err
					}
					// Prompts and cluster starts come back to the user before the editor opens.
					if choice.Prompt != notebook.PromptNone || notebook.ChooseView(notebook.StatusOf(cluster), mode) != notebook.ViewEditor {
						return printJSON(cmd, choice)
					}
				}

				launch, err := deps.Launcher.Open(ctx, target, mode)
				if err != nil {
					return err
				}
				return printJSON(cmd, launch)
			})
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "", "Edit or Playground; empty previews the notebook")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm Playground mode")
	return cmd
}
