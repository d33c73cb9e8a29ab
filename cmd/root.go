// Package cmd defines the CLI commands for the freegame-watcher executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/config"
	"github.com/JakeFAU/freegame-watcher/internal/logging"
	"github.com/JakeFAU/freegame-watcher/internal/server"
)

// App is what the run and once commands drive.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) error
	Close()
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "freegame-watcher",
		Short: "Watches mirrored feeds for free game announcements.",
		Long: `freegame-watcher periodically races a set of feed mirrors, extracts
store identifiers from the first page that answers, and hands identifiers an
account has not handled yet to an activator. Handled identifiers are kept in a
small per-account dedup snapshot.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "",
		"config file (default is ./freegames.yaml or $HOME/.freegames/freegames.yaml)")

	cmd.AddCommand(newRunCmd(opts), newOnceCmd(opts), newInspectCmd())
	return cmd
}

// bootstrap loads config, builds the logger and the App.
func bootstrap(cmd *cobra.Command, opts *rootOptions) (App, *zap.Logger, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, logger, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run collection cycles on a schedule and serve the ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, _, err := bootstrap(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}
}

func newOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single collection cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, logger, err := bootstrap(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.RunOnce(cmd.Context()); err != nil {
				return fmt.Errorf("collection cycle failed: %w", err)
			}
			logger.Info("collection cycle finished")
			return nil
		},
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
