package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/notify"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

func openEngine(readOnly bool, m *metrics.Metrics) (*indexer.Engine, error) {
	ic := cfg.Indexer
	ic.ReadOnly = ic.ReadOnly || readOnly
	engine, err := indexer.Open(ic, indexer.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", ic.DataDir, err)
	}
	return engine, nil
}

// newExecutor wires the scorer, worker bound and, when configured, the query
// cache. The returned cache is nil when caching is disabled.
func newExecutor(engine *indexer.Engine, m *metrics.Metrics, useCache bool) (*executor.Executor, *cache.QueryCache, error) {
	opts := []executor.Option{
		executor.WithScorer(ranker.NewScorer(cfg.Search)),
		executor.WithWorkers(cfg.Search.Workers),
		executor.WithMetrics(m),
	}
	var qc *cache.QueryCache
	if useCache {
		var err error
		qc, err = cache.FromConfig(cfg, m)
		if err != nil {
			return nil, nil, err
		}
		if qc != nil {
			opts = append(opts, executor.WithCache(qc))
		}
	}
	return executor.New(engine, opts...), qc, nil
}

// newNotifier returns the index.complete publisher, or nil when no brokers
// are configured. The closer is always safe to call.
func newNotifier(m *metrics.Metrics) (*notify.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	return notify.NewPublisher(producer, m), func() {
		if err := producer.Close(); err != nil {
			slog.Warn("closing kafka producer failed", "error", err)
		}
	}
}

// startMetricsServer serves m on the metrics port until ctx is done. It does
// nothing when metrics are disabled.
func startMetricsServer(ctx context.Context, m *metrics.Metrics) error {
	if !cfg.Metrics.Enabled || m == nil {
		return nil
	}
	shutdown, err := m.StartServer(fmt.Sprintf(":%d", cfg.Metrics.Port))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}()
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
