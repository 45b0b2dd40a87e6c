package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the committed index generation and collection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := openEngine(true, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			info, err := engine.Info()
			if err != nil {
				return err
			}
			stats, err := engine.Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"commit": info, "stats": stats})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Index:        %s\n", cfg.Indexer.DataDir)
			fmt.Fprintf(out, "Generation:   %d (committed %s)\n", info.Generation, info.CommittedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Segments:     %d\n", info.Segments)
			fmt.Fprintf(out, "Documents:    %d\n", info.TotalDocs)
			for _, f := range index.Fields {
				fmt.Fprintf(out, "Avg %-8s  %.2f tokens\n", f.String()+":", stats.AvgFieldLength[f])
			}
			if info.Checkpoint != "" {
				fmt.Fprintf(out, "Checkpoint:   %s\n", info.Checkpoint)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
