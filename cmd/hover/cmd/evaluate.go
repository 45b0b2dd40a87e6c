package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/evaluation/history"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

type evaluateOptions struct {
	splits    []string
	k         int
	outputDir string
	results   string
	runID     string
	noHistory bool
}

func newEvaluateCmd() *cobra.Command {
	var opts evaluateOptions
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Retrieve for every claim of each split and score the results",
		Long: `For each split, retrieves the top-k documents of every claim, writes
output/hover_<split>_bm25_top<k>.json and, for labeled splits, prints and
stores supporting-fact recall and coverage.

With --results an existing output file is scored again without touching
the index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("top-k") {
				opts.k = cfg.Evaluation.K
			}
			if !cmd.Flags().Changed("output-dir") {
				opts.outputDir = cfg.Evaluation.OutputDir
			}
			if opts.runID == "" {
				opts.runID = uuid.NewString()
			}
			return runEvaluate(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.splits, "split", nil, "splits to run (default every configured split)")
	cmd.Flags().IntVarP(&opts.k, "top-k", "k", 0, "documents retrieved per claim (default evaluation.k)")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for result and metrics files (default evaluation.outputDir)")
	cmd.Flags().StringVar(&opts.results, "results", "", "score an existing retrieval output file instead of retrieving")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "id recorded in the evaluation history (default a new UUID)")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "do not record the run even when database.dsn is set")
	return cmd
}

func runEvaluate(cmd *cobra.Command, opts evaluateOptions) error {
	ctx := cmd.Context()
	m := metrics.New()
	if err := startMetricsServer(ctx, m); err != nil {
		return err
	}

	store, err := openHistory(ctx, opts.noHistory)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if opts.results != "" {
		split := "results"
		if len(opts.splits) == 1 {
			split = opts.splits[0]
		}
		results, claims, err := dataset.LoadResults(opts.results)
		if err != nil {
			return err
		}
		var generation uint64
		for _, r := range results {
			generation = r.Generation
			break
		}
		return score(splitContext(ctx, split, opts.runID), cmd, store, m, opts, split, generation, claims, results)
	}

	splits := opts.splits
	if len(splits) == 0 {
		for name := range cfg.Evaluation.Splits {
			splits = append(splits, name)
		}
		sort.Strings(splits)
	}
	for _, split := range splits {
		if _, ok := cfg.Evaluation.Splits[split]; !ok {
			return fmt.Errorf("split %q has no path in evaluation.splits", split)
		}
	}
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	engine, err := openEngine(true, m)
	if err != nil {
		return err
	}
	defer engine.Close()
	exec, _, err := newExecutor(engine, m, false)
	if err != nil {
		return err
	}

	for _, split := range splits {
		splitCtx := splitContext(ctx, split, opts.runID)
		log := logger.FromContext(splitCtx)
		claims, err := dataset.LoadClaims(cfg.Evaluation.Splits[split])
		if err != nil {
			return err
		}
		log.Info("retrieving split", "claims", len(claims), "k", opts.k)
		start := time.Now()
		results, err := exec.BatchRetrieve(splitCtx, dataset.Queries(claims), opts.k)
		if err != nil {
			return fmt.Errorf("retrieving %s: %w", split, err)
		}
		log.Info("split retrieved", "duration", time.Since(start).Round(time.Millisecond))

		out := filepath.Join(opts.outputDir, dataset.OutputFileName(split, opts.k))
		if err := dataset.WriteResults(out, claims, results); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved results to: %s\n", out)

		if slices.Contains(cfg.Evaluation.UnlabeledSplits, split) {
			log.Info("split has no ground truth, skipping evaluation")
			continue
		}
		if err := score(splitCtx, cmd, store, m, opts, split, engine.Generation(), claims, results); err != nil {
			return err
		}
	}
	return nil
}

// splitContext tags every log record of one split's run.
func splitContext(ctx context.Context, split, runID string) context.Context {
	return logger.WithLogger(ctx, slog.Default().With("split", split, "run_id", runID))
}

func score(
	ctx context.Context,
	cmd *cobra.Command,
	store *history.Store,
	m *metrics.Metrics,
	opts evaluateOptions,
	split string,
	generation uint64,
	claims []dataset.Claim,
	results map[string]*executor.RetrievalResult,
) error {
	report, err := evaluation.Evaluate(results, dataset.ByUID(claims), evaluation.WithSplit(split))
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", split, err)
	}
	report.Observe(m)
	fmt.Fprint(cmd.OutOrStdout(), report.Summary())

	if opts.outputDir != "" {
		if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		path := filepath.Join(opts.outputDir, dataset.MetricsFileName(split, opts.k))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		if err := writeJSON(f, report.Output()); err != nil {
			f.Close()
			return fmt.Errorf("writing metrics: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	if store != nil {
		run := history.RunFromReport(opts.runID, generation, opts.k, report)
		if err := store.Save(ctx, run); err != nil {
			return err
		}
		logger.FromContext(ctx).Info("evaluation recorded", "generation", generation)
	}
	return nil
}

// openHistory returns nil when history is disabled or unconfigured.
func openHistory(ctx context.Context, disabled bool) (*history.Store, error) {
	if disabled || cfg.Database.DSN == "" {
		return nil, nil
	}
	client, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	store, err := history.New(ctx, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}
