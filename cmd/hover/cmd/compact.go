package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Merge every index segment into one",
		Long: `Rewrites the live segments of the index as a single segment without
replaced document versions, and commits it as a new generation. Searchers
see identical results before and after.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m := metrics.New()
			engine, err := openEngine(false, m)
			if err != nil {
				return err
			}
			defer engine.Close()

			before, err := engine.Info()
			if err != nil {
				return err
			}
			if err := engine.Compact(ctx); err != nil {
				return err
			}
			after, err := engine.Info()
			if err != nil {
				return err
			}
			slog.Info("index compacted",
				"segments_before", before.Segments,
				"segments_after", after.Segments,
				"generation", after.Generation,
			)

			if after.Generation != before.Generation {
				publisher, closeProducer := newNotifier(m)
				defer closeProducer()
				if publisher != nil {
					if err := publisher.Notify(ctx, after); err != nil {
						slog.Error("index notification failed", "generation", after.Generation, "error", err)
					}
				}
			}
			return writeJSON(cmd.OutOrStdout(), after)
		},
	}
}
