package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/history"
	"github.com/oshokin/super-release/internal/service/common"
	"github.com/oshokin/super-release/internal/service/dispatcher"
	"github.com/oshokin/super-release/internal/version"
)

// errUnknownLogLevel is returned for a --log-level zap does not know.
var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel is the zap level name.
	logLevel string

	// rootCmd represents the CI helper entry point.
	rootCmd = &cobra.Command{
		Use:   "super-ci <action> [platform]",
		Short: "Run one CI action of the release packaging workflow.",
		Long: `Runs one CI action after checking its gates against the CI environment.

Actions: test, test_ignored, fmt_run, clippy_run, build, upload_code_coverage,
upload_documentation, dist_test <platform>, deploy.

Actions whose gates do not hold and unknown actions do nothing and exit 0.
A failing external command stops the action and its exit status is propagated.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("%q: %w", logLevel, errUnknownLogLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}

			env, err := config.ResolveEnvironment(nil)
			if err != nil {
				return err
			}

			var platform string
			if len(args) > 1 {
				platform = args[1]
			}

			options := &dispatcher.Options{
				Action:     args[0],
				Platform:   platform,
				Config:     cfg,
				ConfigPath: configPath,
				Env:        env,
				Printer:    printer.New(cmd.OutOrStdout()),
			}

			store, err := history.Open(ctx, cfg.HistoryPath())
			if err != nil {
				logger.WarnKV(ctx, "Run history unavailable", "error", err)
			} else {
				options.History = store

				defer func() {
					_ = store.Close()
				}()
			}

			return dispatcher.Run(ctx, options)
		},
	}
)

// Execute runs the super-ci CLI and exits with the status of the failed step.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	}

	os.Exit(common.ExitCode(err))
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
