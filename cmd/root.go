// Package cmd defines and implements the CLI commands for the portal executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/api"
	"github.com/JakeFAU/workspace-portal/internal/app"
	"github.com/JakeFAU/workspace-portal/internal/config"
	"github.com/JakeFAU/workspace-portal/internal/errorreport"
	"github.com/JakeFAU/workspace-portal/internal/explorer"
	"github.com/JakeFAU/workspace-portal/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the service container. Tests inject a fake through newApp.
type App interface {
	Close() error
	Logger() *zap.Logger
	Config() config.Config
	Objects() app.Objects
	Explorer() *explorer.Catalog
	Reporter() *errorreport.Reporter
	APIDeps() api.Deps
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (App, error) {
	return app.New(ctx, cfg, logger, opts)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Workspace portal client and gateway.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `portal talks to the workspace backends the way the web portal does: bucket
listings with requester-pays recovery, notebook launches on Leonardo clusters and
Data Explorer embedding. "portal serve" exposes the same operations over HTTP.`,

		// Build the application once the flags are parsed and inject it for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, app.Options{
				Notifier: errorreport.NewWriterNotifier(cmd.ErrOrStderr()),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env PORTAL_* overrides it)")

	cmd.AddCommand(newBucketsCmd())
	cmd.AddCommand(newNotebookCmd())
	cmd.AddCommand(newExplorerCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// runReported resolves the app and runs fn under the error reporter.
func runReported(cmd *cobra.Command, title string, fn func(ctx context.Context, a App) error) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	return a.Reporter().WithErrorReporting(cmd.Context(), title, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
