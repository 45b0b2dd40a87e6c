// Package builder bulk-loads a corpus into the index store. Records are read
// in batches, decoded and tokenized on a bounded worker pool, and committed
// one batch per generation in source order, each with the source position
// after the batch as its checkpoint. An interrupted build resumes from the
// last committed checkpoint.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

// Report summarizes a build. Skipped counts every record that was not
// indexed; Duplicates is the part of Skipped caused by ids already present.
type Report struct {
	Indexed    int           `json:"indexed"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates"`
	Batches    int           `json:"batches"`
	Resumed    bool          `json:"resumed"`
	Checkpoint string        `json:"checkpoint"`
	Generation uint64        `json:"generation"`
	Duration   time.Duration `json:"duration"`
	// Errors holds the first MaxErrors skip reasons.
	Errors []string `json:"errors,omitempty"`
}

// Progress is passed to the progress callback.
type Progress struct {
	Indexed    int
	Skipped    int
	Batches    int
	Checkpoint string
	Elapsed    time.Duration
}

// Notifier announces the generation a build finished on.
type Notifier interface {
	Notify(ctx context.Context, info indexer.CommitInfo) error
}

type Builder struct {
	engine     *indexer.Engine
	cfg        config.BuilderConfig
	metrics    *metrics.Metrics
	notifier   Notifier
	onProgress func(Progress)
	logger     *slog.Logger
}

type Option func(*Builder)

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(b *Builder) { b.notifier = n }
}

// WithProgress registers fn to be called every ProgressInterval documents
// and once at the end of the build.
func WithProgress(fn func(Progress)) Option {
	return func(b *Builder) { b.onProgress = fn }
}

func New(engine *indexer.Engine, cfg config.BuilderConfig, opts ...Option) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	b := &Builder{
		engine: engine,
		cfg:    cfg,
		logger: slog.Default().With("component", "index-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type rawBatch struct {
	records []corpus.Record
	// unreadable holds source failures that lost records, such as a shard
	// that stopped decoding.
	unreadable []error
	checkpoint string
}

type analyzedBatch struct {
	docs       []index.AnalyzedDocument
	corrupt    []error
	checkpoint string
}

type job struct {
	raw  rawBatch
	done chan analyzedBatch
}

// Build indexes every record of src in batches of batchSize. On
// cancellation it returns ctx.Err() together with a report of what was
// committed; the batch in flight is discarded.
func (b *Builder) Build(ctx context.Context, src corpus.Source, batchSize int) (*Report, error) {
	if batchSize <= 0 {
		return nil, apperrors.InvalidArgument("batch size must be positive, got %d", batchSize)
	}
	start := time.Now()
	report := &Report{}

	if cp, ok := b.engine.Checkpoint(); ok && cp != "" {
		if r, ok := src.(corpus.Resumer); ok {
			if err := r.Resume(cp); err != nil {
				return report, fmt.Errorf("resuming from %s: %w", cp, err)
			}
			report.Resumed = true
			report.Checkpoint = cp
			b.logger.Info("resuming build", "checkpoint", cp)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	order := make(chan chan analyzedBatch, b.cfg.Workers)

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		return b.read(gctx, src, batchSize, jobs, order)
	})
	for i := 0; i < b.cfg.Workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				select {
				case j.done <- analyze(j.raw):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		return b.commitInOrder(gctx, order, report, start)
	})

	err := g.Wait()
	report.Duration = time.Since(start)
	if err != nil {
		b.engine.Discard()
		if ctx.Err() != nil {
			b.logger.Warn("build interrupted",
				"indexed", report.Indexed,
				"checkpoint", report.Checkpoint,
			)
			return report, ctx.Err()
		}
		return report, err
	}

	if report.Batches == 0 && b.engine.Generation() == 0 {
		// An empty corpus still yields a queryable, empty generation.
		if _, err := b.engine.Commit(report.Checkpoint); err != nil {
			return report, fmt.Errorf("committing empty index: %w", err)
		}
	}

	if b.cfg.CompactOnFinish && report.Batches > 0 {
		if err := b.engine.Compact(ctx); err != nil {
			return report, fmt.Errorf("compacting after build: %w", err)
		}
	}

	info, err := b.engine.Info()
	if err != nil {
		return report, err
	}
	report.Generation = info.Generation
	report.Duration = time.Since(start)
	b.progress(report, start)

	if b.notifier != nil && report.Batches > 0 {
		if err := b.notifier.Notify(ctx, info); err != nil {
			b.logger.Error("index notification failed", "generation", info.Generation, "error", err)
		}
	}
	b.logger.Info("build complete",
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"duplicates", report.Duplicates,
		"batches", report.Batches,
		"generation", report.Generation,
		"duration", report.Duration,
	)
	return report, nil
}

// read groups source records into batches. Each batch is handed to a worker
// and its result channel queued on order, so commits follow source order.
func (b *Builder) read(ctx context.Context, src corpus.Source, batchSize int, jobs chan<- job, order chan<- chan analyzedBatch) error {
	batch := rawBatch{records: make([]corpus.Record, 0, batchSize)}
	flush := func() error {
		batch.checkpoint = src.Checkpoint()
		done := make(chan analyzedBatch, 1)
		select {
		case order <- done:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case jobs <- job{raw: batch, done: done}:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = rawBatch{records: make([]corpus.Record, 0, batchSize)}
		return nil
	}
	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var corrupt *apperrors.CorruptDocumentError
		switch {
		case errors.As(err, &corrupt):
			batch.unreadable = append(batch.unreadable, err)
			continue
		case err != nil:
			return fmt.Errorf("reading corpus: %w", err)
		}
		batch.records = append(batch.records, rec)
		if len(batch.records) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if len(batch.records) > 0 || len(batch.unreadable) > 0 {
		return flush()
	}
	return nil
}

func analyze(raw rawBatch) analyzedBatch {
	out := analyzedBatch{
		docs:       make([]index.AnalyzedDocument, 0, len(raw.records)),
		corrupt:    append([]error(nil), raw.unreadable...),
		checkpoint: raw.checkpoint,
	}
	for _, rec := range raw.records {
		doc, err := corpus.Decode(rec)
		if err != nil {
			out.corrupt = append(out.corrupt, err)
			continue
		}
		out.docs = append(out.docs, index.Analyze(doc))
	}
	return out
}

func (b *Builder) commitInOrder(ctx context.Context, order <-chan chan analyzedBatch, report *Report, start time.Time) error {
	nextProgress := b.cfg.ProgressInterval
	for done := range order {
		var ab analyzedBatch
		select {
		case ab = <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		type skipped struct {
			reason string
			err    error
		}
		var skips []skipped
		for _, err := range ab.corrupt {
			skips = append(skips, skipped{"corrupt", err})
		}
		indexed := 0
		for _, ad := range ab.docs {
			err := b.engine.AddAnalyzed(ad, b.cfg.Replace)
			switch {
			case err == nil:
				indexed++
			case errors.Is(err, apperrors.ErrDuplicateDocument):
				skips = append(skips, skipped{"duplicate", err})
			default:
				return fmt.Errorf("buffering document %s: %w", ad.Doc.ID, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := b.engine.Commit(ab.checkpoint)
		if err != nil {
			return fmt.Errorf("committing batch %d: %w", report.Batches+1, err)
		}
		report.Indexed += indexed
		report.Batches++
		report.Checkpoint = ab.checkpoint
		report.Generation = info.Generation
		if b.metrics != nil {
			b.metrics.DocsIndexedTotal.Add(float64(indexed))
		}
		for _, s := range skips {
			if s.reason == "duplicate" {
				report.Duplicates++
			}
			b.skip(report, s.reason, s.err)
		}

		if nextProgress > 0 && report.Indexed+report.Skipped >= nextProgress {
			for nextProgress <= report.Indexed+report.Skipped {
				nextProgress += b.cfg.ProgressInterval
			}
			b.progress(report, start)
		}
	}
	return nil
}

func (b *Builder) skip(report *Report, reason string, err error) {
	report.Skipped++
	if b.metrics != nil {
		b.metrics.DocsSkippedTotal.WithLabelValues(reason).Inc()
	}
	if len(report.Errors) < b.cfg.MaxErrors {
		report.Errors = append(report.Errors, err.Error())
	}
	b.logger.Warn("record skipped", "reason", reason, "error", err)
}

func (b *Builder) progress(report *Report, start time.Time) {
	elapsed := time.Since(start)
	b.logger.Info("indexing progress",
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"batches", report.Batches,
		"checkpoint", report.Checkpoint,
		"docs_per_sec", int(float64(report.Indexed)/max(elapsed.Seconds(), 1e-9)),
	)
	if b.onProgress != nil {
		b.onProgress(Progress{
			Indexed:    report.Indexed,
			Skipped:    report.Skipped,
			Batches:    report.Batches,
			Checkpoint: report.Checkpoint,
			Elapsed:    elapsed,
		})
	}
}
