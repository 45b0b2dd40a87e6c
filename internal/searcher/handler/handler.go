// Package handler exposes retrieval over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/tracing"
)

type Retriever interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, k int) (*executor.RetrievalResult, error)
}

// IndexInfo is the read side of the engine the stats endpoint reports on.
type IndexInfo interface {
	Info() (indexer.CommitInfo, error)
	Stats() (indexer.Stats, error)
}

// CacheAdmin is the cache surface exposed for inspection and invalidation.
type CacheAdmin interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) (int64, error)
}

type Handler struct {
	retriever Retriever
	index     IndexInfo
	cache     CacheAdmin
	defaultK  int
	maxK      int
	logger    *slog.Logger
}

// New builds a handler. queryCache may be nil when caching is disabled.
func New(r Retriever, idx IndexInfo, queryCache CacheAdmin, cfg config.SearchConfig) *Handler {
	return &Handler{
		retriever: r,
		index:     idx,
		cache:     queryCache,
		defaultK:  cfg.DefaultK,
		maxK:      cfg.MaxK,
		logger:    slog.Default().With("component", "retrieve-handler"),
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/retrieve", h.Retrieve)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health", h.Health)
}

// Retrieve answers GET /api/v1/retrieve?q=<claim>&k=<n>. With mode=keyword
// the query is parsed with AND / OR / NOT operators instead of as a claim.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	k := h.defaultK
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		parsed, err := strconv.Atoi(kStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = parsed
	}
	if h.maxK > 0 && k > h.maxK {
		k = h.maxK
	}

	var plan *parser.QueryPlan
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "claim":
		plan = parser.ParseClaim(query)
	case "keyword":
		plan = parser.Parse(query)
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode))
		return
	}

	ctx, span := tracing.StartSpan(ctx, "http.retrieve", logger.RequestID(ctx))
	result, err := h.retriever.Execute(ctx, plan, k)
	span.End()
	span.Log(ctx, log)
	w.Header().Set("Server-Timing", span.ServerTiming())
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("retrieval failed", "query", query, "k", k, "status", status, "error", err)
		h.writeAppError(w, status, err, "retrieval failed")
		return
	}

	log.Info("retrieval completed",
		"terms", len(result.Terms),
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"generation", result.Generation,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

type statsResponse struct {
	Generation     uint64             `json:"generation"`
	Segments       int                `json:"segments"`
	TotalDocs      int64              `json:"total_docs"`
	Checkpoint     string             `json:"checkpoint,omitempty"`
	CommittedAt    time.Time          `json:"committed_at"`
	AvgFieldLength map[string]float64 `json:"avg_field_length"`
}

// Stats reports the committed generation and its collection statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	info, err := h.index.Info()
	if err != nil {
		h.writeAppError(w, apperrors.HTTPStatusCode(err), err, "reading index info failed")
		return
	}
	stats, err := h.index.Stats()
	if err != nil {
		h.writeAppError(w, apperrors.HTTPStatusCode(err), err, "reading index stats failed")
		return
	}
	h.writeJSON(w, http.StatusOK, statsResponse{
		Generation:  info.Generation,
		Segments:    info.Segments,
		TotalDocs:   info.TotalDocs,
		Checkpoint:  info.Checkpoint,
		CommittedAt: info.CommittedAt,
		AvgFieldLength: map[string]float64{
			"title": stats.AvgFieldLength[index.FieldTitle],
			"body":  stats.AvgFieldLength[index.FieldBody],
		},
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAppError hides internal error text behind fallback for 5xx responses.
func (h *Handler) writeAppError(w http.ResponseWriter, status int, err error, fallback string) {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.writeError(w, status, fallback)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
