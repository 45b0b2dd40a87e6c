package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		split string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded evaluation runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openHistory(ctx, false)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("evaluation history is disabled: set database.dsn or HOVER_DATABASE_DSN")
			}
			defer store.Close()

			runs, err := store.List(ctx, split, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tRUN\tSPLIT\tGEN\tK\tCLAIMS\tCOVERAGE\tRECALL")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.2f%%\t%.2f%%\n",
					r.CreatedAt.Local().Format(time.DateTime), r.RunID, r.Split, r.Generation, r.K,
					r.TotalClaims, r.CoverageRate*100, r.AverageRecall*100)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&split, "split", "", "only show runs of this split")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}
