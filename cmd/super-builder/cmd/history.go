package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/history"
)

// defaultHistoryLimit is how many runs `history` shows by default.
const defaultHistoryLimit = 20

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds and CI actions, most recent first.",
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

			store, err := history.Open(ctx, cfg.HistoryPath())
			if err != nil {
				return err
			}

			defer func() {
				_ = store.Close()
			}()

			entries, err := store.List(ctx, limit)
			if err != nil {
				return err
			}

			p := printer.New(cmd.OutOrStdout())
			if len(entries) == 0 {
				p.Warning("No runs recorded in %s", cfg.HistoryPath())
				return nil
			}

			p.Table(
				[]string{"STARTED", "RUN", "ACTION", "DISTRIBUTION", "VERSION", "OUTCOME", "CLASS", "DURATION", "ARTIFACT"},
				historyRows(entries),
			)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "maximum number of runs to show (0 shows all)")

	return cmd
}

func historyRows(entries []*history.Entry) [][]string {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		runID, _, _ := strings.Cut(e.RunID, "-")

		rows = append(rows, []string{
			e.StartedAt.Local().Format(time.DateTime),
			runID,
			e.Action,
			dash(e.Distribution),
			dash(e.Version),
			string(e.Outcome),
			dash(string(e.FailureKind)),
			e.Duration().Round(time.Second).String(),
			dash(e.Artifact),
		})
	}

	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
