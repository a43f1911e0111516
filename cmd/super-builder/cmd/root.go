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
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/history"
	"github.com/oshokin/super-release/internal/service/builder"
	"github.com/oshokin/super-release/internal/service/common"
	"github.com/oshokin/super-release/internal/version"
)

// errUnknownLogLevel is returned for a --log-level zap does not know.
var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel is the zap level name.
	logLevel string

	// rootCmd builds one distribution package.
	rootCmd = &cobra.Command{
		Use:   "super-builder <distribution>",
		Short: "Build one distribution package and collect it.",
		Long: `Builds the package of one distribution (centos, fedora, debian, ubuntu) in the
current environment and moves it into the release collection.

The version tag is read from the TAG environment variable.`,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: applyLogLevel,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, env, err := loadSettings()
			if err != nil {
				return err
			}

			options := &builder.Options{
				Distribution: args[0],
				Version:      env.Tag,
				Config:       cfg,
				// Set by super-ci so the build joins the dispatcher's run.
				RunID: env.RunID,
			}

			store, closeStore := openHistory(ctx, cfg)
			defer closeStore()

			options.History = store

			result, err := builder.Run(ctx, options)
			if err != nil {
				return err
			}

			p := printer.New(cmd.OutOrStdout())
			p.Success("%s", result.Artifact.Path)
			p.Info("sha512: %s", result.Artifact.Checksum)

			if result.Fingerprint != "" {
				p.Info("source archive blake3: %s", result.Fingerprint)
			}

			return nil
		},
	}
)

// Execute runs the super-builder CLI and exits with the status of the failed step.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(newStageCommand(), newHistoryCommand(), newCollectionCommand(), newInitConfigCommand())

	err := rootCmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, classOf(err))
	}

	os.Exit(common.ExitCode(err))
}

func classOf(err error) release.Kind {
	if kind := release.KindOf(err); kind != release.KindNone {
		return kind
	}

	return "internal"
}

func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%q: %w", logLevel, errUnknownLogLevel)
	}

	logger.SetLevel(level)

	return nil
}

// loadSettings reads the configuration and resolves the CI environment.
func loadSettings() (*config.Config, *config.Environment, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}

	env, err := config.ResolveEnvironment(nil)
	if err != nil {
		return nil, nil, err
	}

	return cfg, env, nil
}

// openHistory opens the run ledger; builds proceed without it when it is unavailable.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, func()) {
	store, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		logger.WarnKV(ctx, "Run history unavailable", "error", err)
		return nil, func() {}
	}

	return store, func() { _ = store.Close() }
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
