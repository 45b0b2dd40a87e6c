// Package executor is the query engine: it turns claim text into a ranked,
// hydrated top-k result set over one committed index generation.
package executor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/tracing"
)

// Hit is one retrieved document.
type Hit struct {
	DocID     string   `json:"doc_id"`
	Title     string   `json:"title"`
	Sentences []string `json:"sentences"`
	Score     float64  `json:"score"`
	URL       string   `json:"url"`
}

// RetrievalResult is the ranked answer to one query: hits by score
// descending, ties by ascending DocID. TotalHits counts every candidate
// that matched at least one term.
type RetrievalResult struct {
	Query      string   `json:"query"`
	Terms      []string `json:"terms"`
	TotalHits  int      `json:"total_hits"`
	Generation uint64   `json:"generation"`
	Hits       []Hit    `json:"hits"`
}

// Titles returns the hit titles in rank order.
func (r *RetrievalResult) Titles() []string {
	titles := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		titles[i] = h.Title
	}
	return titles
}

// Query is one claim to retrieve for in a batch.
type Query struct {
	UID  string
	Text string
}

// Cache memoizes results by key. GetOrCompute reports whether the result
// came from the cache.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, compute func() (*RetrievalResult, error)) (*RetrievalResult, bool, error)
}

type Executor struct {
	engine  *indexer.Engine
	scorer  ranker.Scorer
	cache   Cache
	metrics *metrics.Metrics
	workers int
	logger  *slog.Logger
}

type Option func(*Executor)

func WithScorer(s ranker.Scorer) Option {
	return func(e *Executor) { e.scorer = s }
}

func WithCache(c Cache) Option {
	return func(e *Executor) { e.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithWorkers bounds the number of claims BatchRetrieve scores at once.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

func New(engine *indexer.Engine, opts ...Option) *Executor {
	e := &Executor{
		engine:  engine,
		scorer:  ranker.DefaultScorer(),
		workers: 8,
		logger:  slog.Default().With("component", "query-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the top k documents for a claim. k must be positive.
func (e *Executor) Retrieve(ctx context.Context, claim string, k int) (*RetrievalResult, error) {
	return e.Execute(ctx, parser.ParseClaim(claim), k)
}

// Execute runs a parsed plan against the current generation.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, k int) (*RetrievalResult, error) {
	if k <= 0 {
		return nil, apperrors.InvalidArgument("k must be a positive integer, got %d", k)
	}
	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "retrieve")
	defer span.End()
	span.SetAttr("terms", len(plan.Terms))
	span.SetAttr("k", k)

	view, err := e.engine.View()
	if err != nil {
		e.observe("error", "none", start)
		return nil, err
	}
	defer view.Close()

	compute := func() (*RetrievalResult, error) {
		return e.execute(ctx, view, plan, k)
	}
	var (
		result   *RetrievalResult
		cacheHit bool
	)
	if e.cache != nil {
		result, cacheHit, err = e.cache.GetOrCompute(ctx, cacheKey(plan, k, view.Generation()), compute)
		if err == nil {
			// Different claims can share a plan; the cached result may be
			// shared with concurrent callers, so copy before relabeling.
			relabeled := *result
			relabeled.Query = plan.RawQuery
			result = &relabeled
		}
	} else {
		result, err = compute()
	}
	cacheStatus := "none"
	if e.cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	if err != nil {
		e.observe("error", cacheStatus, start)
		return nil, err
	}
	resultType := "hit"
	if len(result.Hits) == 0 {
		resultType = "zero_result"
	}
	e.observe(resultType, cacheStatus, start)
	span.SetAttr("cache", cacheStatus)
	span.SetAttr("hits", len(result.Hits))

	logger.FromContext(ctx).Debug("query executed",
		"component", "query-executor",
		"terms", plan.Terms,
		"candidates", result.TotalHits,
		"results", len(result.Hits),
		"cache", cacheStatus,
		"duration", time.Since(start),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, view *indexer.View, plan *parser.QueryPlan, k int) (*RetrievalResult, error) {
	result := &RetrievalResult{
		Query:      plan.RawQuery,
		Terms:      plan.Terms,
		Generation: view.Generation(),
		Hits:       []Hit{},
	}
	if plan.Empty() {
		return result, nil
	}

	_, span := tracing.StartChildSpan(ctx, "postings")
	var postings ranker.TermPostings
	for _, f := range index.Fields {
		postings[f] = make(map[string]index.PostingList, len(plan.Terms))
		for _, term := range plan.Terms {
			list, err := view.Postings(term, f)
			if err != nil {
				span.End()
				return nil, fmt.Errorf("postings for %s:%q: %w", f, term, err)
			}
			if len(list) > 0 {
				postings[f][term] = list
			}
		}
	}
	candidates := candidateSet(plan, postings)
	if len(plan.ExcludeTerms) > 0 {
		for _, f := range index.Fields {
			for _, term := range plan.ExcludeTerms {
				list, err := view.Postings(term, f)
				if err != nil {
					span.End()
					return nil, fmt.Errorf("postings for %s:%q: %w", f, term, err)
				}
				for _, p := range list {
					delete(candidates, p.DocID)
				}
			}
		}
	}
	var keep func(string) bool
	if plan.Type == parser.QueryAND || len(plan.ExcludeTerms) > 0 {
		keep = func(docID string) bool {
			_, ok := candidates[docID]
			return ok
		}
	}
	span.SetAttr("candidates", len(candidates))
	span.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span = tracing.StartChildSpan(ctx, "score")
	stats := view.Stats()
	ranked := e.scorer.Rank(plan.Terms, postings, ranker.CollectionStats{
		TotalDocs:      stats.TotalDocs,
		AvgFieldLength: stats.AvgFieldLength,
	}, func(docID string) index.FieldLengths {
		l, _ := view.Lengths(docID)
		return l
	}, keep)
	top := merger.TopK(ranked, k)
	span.End()
	if e.metrics != nil {
		e.metrics.RetrievalCandidates.Observe(float64(len(ranked)))
	}
	result.TotalHits = len(ranked)

	_, span = tracing.StartChildSpan(ctx, "hydrate")
	defer span.End()
	result.Hits = make([]Hit, 0, len(top))
	for _, sd := range top {
		doc, err := view.Document(sd.DocID)
		if err != nil {
			return nil, fmt.Errorf("hydrating %q: %w", sd.DocID, err)
		}
		sentences := doc.Sentences
		if sentences == nil {
			sentences = []string{}
		}
		result.Hits = append(result.Hits, Hit{
			DocID:     sd.DocID,
			Title:     doc.Title,
			Sentences: sentences,
			Score:     sd.Score,
			URL:       doc.URL,
		})
	}
	return result, nil
}

// candidateSet unions (OR) or intersects (AND) the documents matching each
// term in any field.
func candidateSet(plan *parser.QueryPlan, postings ranker.TermPostings) map[string]struct{} {
	perTerm := make(map[string]map[string]struct{}, len(plan.Terms))
	for _, term := range plan.Terms {
		docs := make(map[string]struct{})
		for _, f := range index.Fields {
			for _, p := range postings[f][term] {
				docs[p.DocID] = struct{}{}
			}
		}
		perTerm[term] = docs
	}
	if plan.Type == parser.QueryAND {
		return intersect(perTerm)
	}
	result := make(map[string]struct{})
	for _, docs := range perTerm {
		for id := range docs {
			result[id] = struct{}{}
		}
	}
	return result
}

func intersect(perTerm map[string]map[string]struct{}) map[string]struct{} {
	var shortest map[string]struct{}
	for _, docs := range perTerm {
		if shortest == nil || len(docs) < len(shortest) {
			shortest = docs
		}
	}
	candidates := make(map[string]struct{}, len(shortest))
	for id := range shortest {
		candidates[id] = struct{}{}
	}
	for _, docs := range perTerm {
		for id := range candidates {
			if _, ok := docs[id]; !ok {
				delete(candidates, id)
			}
		}
	}
	return candidates
}

func (e *Executor) observe(resultType, cacheStatus string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RetrievalsTotal.WithLabelValues(resultType).Inc()
	e.metrics.RetrievalLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
}

// BatchRetrieve runs Retrieve for every query on a bounded pool of workers
// and returns results keyed by UID. The first error cancels the batch.
func (e *Executor) BatchRetrieve(ctx context.Context, queries []Query, k int) (map[string]*RetrievalResult, error) {
	if k <= 0 {
		return nil, apperrors.InvalidArgument("k must be a positive integer, got %d", k)
	}
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		if _, dup := seen[q.UID]; dup {
			return nil, apperrors.InvalidArgument("duplicate claim uid %q", q.UID)
		}
		seen[q.UID] = struct{}{}
	}
	results := make([]*RetrievalResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, q := range queries {
		g.Go(func() error {
			res, err := e.Retrieve(gctx, q.Text, k)
			if err != nil {
				return fmt.Errorf("claim %s: %w", q.UID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]*RetrievalResult, len(queries))
	for i, q := range queries {
		out[q.UID] = results[i]
	}
	return out, nil
}

// cacheKey identifies a plan, k and generation. Including the generation
// means a commit never serves stale results.
func cacheKey(plan *parser.QueryPlan, k int, generation uint64) string {
	raw := fmt.Sprintf("%s:k=%d:gen=%d", plan.Key(), k, generation)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", hash[:16])
}

// IsNotCommitted reports whether err means no index generation exists yet.
func IsNotCommitted(err error) bool {
	return errors.Is(err, apperrors.ErrIndexNotCommitted)
}
