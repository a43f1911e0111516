package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/collection"
)

// errCollectionBroken is returned when an artifact does not match its checksum.
var errCollectionBroken = errors.New("release collection failed verification")

func newCollectionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collection",
		Short: "List the release collection and verify artifact checksums.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}

			repo := collection.NewFileRepository(cfg.ReleasesPath())

			broken, err := printer.New(cmd.OutOrStdout()).Collection(ctx, repo)
			if err != nil {
				return err
			}

			if broken > 0 {
				return fmt.Errorf("%d artifacts: %w", broken, errCollectionBroken)
			}

			return nil
		},
	}
}
