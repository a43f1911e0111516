package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/service/staging"
)

func newStageCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Stage the project tree and archive it without building.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, env, err := loadSettings()
			if err != nil {
				return err
			}

			if output == "" {
				output = cfg.ProjectPath("target")
			}

			result, err := staging.Run(ctx, &staging.Options{
				ProjectDir:  cfg.ProjectDir,
				PackageName: cfg.PackageName,
				Version:     env.Tag,
				Exclusions:  cfg.Exclusions,
				StagingDir:  cfg.StagingDir,
				ArchiveDir:  output,
				Skip:        []string{cfg.ReleasesPath()},
			})
			if err != nil {
				return err
			}

			p := printer.New(cmd.OutOrStdout())
			p.Success("%s", result.ArchivePath)
			p.Info("files: %d", result.Files)
			p.Info("blake3: %s", result.Fingerprint)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "directory receiving the archive (default <project>/target)")

	return cmd
}
