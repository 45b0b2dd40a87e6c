package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/notify"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
)

func newServeCmd() *cobra.Command {
	var (
		port           int
		reloadInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval over HTTP",
		Long: `Opens the index read-only and serves GET /api/v1/retrieve. New
generations are picked up when an index.complete event arrives on Kafka
or, with --reload-interval, by polling the index directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), reloadInterval)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default server.port)")
	cmd.Flags().DurationVar(&reloadInterval, "reload-interval", 0, "poll the index for new generations at this interval; 0 disables polling")
	return cmd
}

func runServe(ctx context.Context, reloadInterval time.Duration) error {
	slog.Info("starting retrieval service", "port", cfg.Server.Port, "index_dir", cfg.Indexer.DataDir)
	m := metrics.New()
	if err := startMetricsServer(ctx, m); err != nil {
		return err
	}

	engine, err := openEngine(true, m)
	if err != nil {
		return err
	}
	defer engine.Close()

	exec, qc, err := newExecutor(engine, m, true)
	if err != nil {
		return err
	}

	// A nil *QueryCache must not become a non-nil interface.
	var (
		admin handler.CacheAdmin
		inv   notify.Invalidator
	)
	if qc != nil {
		admin, inv = qc, qc
		slog.Info("query cache enabled", "backend", qc.Backend().Name(), "ttl", cfg.Cache.TTL)
	}

	checker := health.NewChecker()
	checker.Add("index", health.GenerationCheck(engine.Generation))
	if qc != nil {
		if p, ok := qc.Backend().(health.Pinger); ok {
			checker.Add("cache", health.PingCheck(p, true))
		}
		if b, ok := qc.Backend().(interface {
			Breaker() *resilience.CircuitBreaker
		}); ok {
			checker.Add("cache_breaker", health.BreakerCheck(b.Breaker()))
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kc := cfg.Kafka
		// Every instance must see every event, so each gets its own group.
		if host, err := os.Hostname(); err == nil {
			kc.ConsumerGroup = fmt.Sprintf("%s-%s-%d", kc.ConsumerGroup, host, cfg.Server.Port)
		}
		consumer := kafka.NewConsumer(kc, kc.Topics.IndexComplete, notify.Handler(engine, inv, m))
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index event consumer stopped", "error", err)
			}
		}()
		slog.Info("listening for index events", "topic", kc.Topics.IndexComplete, "group", kc.ConsumerGroup)
	}
	if reloadInterval > 0 {
		go pollReload(ctx, engine, inv, reloadInterval)
	}

	h := handler.New(exec, engine, admin, cfg.Search)
	mux := http.NewServeMux()
	h.Register(mux)
	checker.Register(mux)

	chain := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Metrics(m)}
	if len(cfg.Server.AllowOrigins) > 0 {
		chain = append(chain, middleware.CORS(cfg.Server.AllowOrigins))
	}
	if cfg.Server.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)))
	}
	chain = append(chain, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, chain...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("retrieval service listening", "addr", server.Addr, "generation", engine.Generation())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	slog.Info("retrieval service stopped")
	return nil
}

func pollReload(ctx context.Context, engine *indexer.Engine, inv notify.Invalidator, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reloaded, err := engine.Reload()
			if err != nil {
				slog.Warn("index reload failed", "error", err)
				continue
			}
			if reloaded && inv != nil {
				if _, err := inv.Invalidate(ctx); err != nil {
					slog.Warn("cache invalidation after reload failed", "error", err)
				}
			}
		}
	}
}
