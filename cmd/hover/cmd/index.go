package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/builder"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

func newIndexCmd() *cobra.Command {
	var (
		batchSize int
		workers   int
		replace   bool
		compact   bool
		progress  bool
	)
	cmd := &cobra.Command{
		Use:   "index <corpus>",
		Short: "Index a Wikipedia dump directory or shard",
		Long: `Reads every .bz2, .zst or .jsonl shard under <corpus> in sorted order and
commits one index generation per batch. An interrupted build resumes from
the checkpoint of its last committed batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc := cfg.Builder
			if cmd.Flags().Changed("batch-size") {
				bc.BatchSize = batchSize
			}
			if cmd.Flags().Changed("workers") {
				bc.Workers = workers
			}
			bc.Replace = bc.Replace || replace
			bc.CompactOnFinish = bc.CompactOnFinish || compact

			ctx := cmd.Context()
			m := metrics.New()
			if err := startMetricsServer(ctx, m); err != nil {
				return err
			}

			src, err := corpus.NewDirSource(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			if len(src.Files()) == 0 {
				return fmt.Errorf("no corpus shards under %s", args[0])
			}

			engine, err := openEngine(false, m)
			if err != nil {
				return err
			}
			defer engine.Close()

			opts := []builder.Option{builder.WithMetrics(m)}
			if progress {
				stderr := cmd.ErrOrStderr()
				opts = append(opts, builder.WithProgress(func(p builder.Progress) {
					fmt.Fprintf(stderr, "Indexed %d documents (%d skipped) in %s\n",
						p.Indexed, p.Skipped, p.Elapsed.Round(time.Second))
				}))
			}
			publisher, closeProducer := newNotifier(m)
			defer closeProducer()
			if publisher != nil {
				opts = append(opts, builder.WithNotifier(publisher))
			}

			slog.Info("indexing corpus",
				"path", args[0],
				"shards", len(src.Files()),
				"batch_size", bc.BatchSize,
				"workers", bc.Workers,
			)
			report, err := builder.New(engine, bc, opts...).Build(ctx, src, bc.BatchSize)
			if report != nil {
				if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "documents per committed batch (default builder.batchSize)")
	cmd.Flags().IntVar(&workers, "workers", 0, "analysis workers (default builder.workers)")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace documents whose id is already indexed instead of skipping them")
	cmd.Flags().BoolVar(&compact, "compact", false, "merge all segments once the build finishes")
	cmd.Flags().BoolVar(&progress, "progress", false, "print a progress line to stderr every builder.progressInterval documents")
	return cmd
}
