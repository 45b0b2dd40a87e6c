package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

func newEngine(t *testing.T, docs ...index.Document) *indexer.Engine {
	t.Helper()
	e, err := indexer.Open(config.IndexerConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	if len(docs) > 0 {
		for _, d := range docs {
			require.NoError(t, e.AddDocument(d))
		}
		_, err = e.Commit("")
		require.NoError(t, err)
	}
	return e
}

var gardenDocs = []index.Document{
	{ID: "A", Title: "Madison Square Garden", Sentences: []string{"home of the Rangers"}, URL: "u/A"},
	{ID: "B", Title: "New York Rangers", Sentences: []string{"an NHL team"}, URL: "u/B"},
	{ID: "C", Title: "Unrelated Article", Sentences: []string{"about gardening"}, URL: "u/C"},
}

func TestRetrieveRanksByBM25(t *testing.T) {
	ex := New(newEngine(t, gardenDocs...))
	res, err := ex.Retrieve(context.Background(), "Madison Square Garden Rangers home", 2)
	require.NoError(t, err)

	require.Len(t, res.Hits, 2)
	assert.Equal(t, "A", res.Hits[0].DocID)
	assert.Equal(t, "B", res.Hits[1].DocID)
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)
	assert.Equal(t, 2, res.TotalHits, "C shares no term and is never a candidate")
	assert.Equal(t, "Madison Square Garden", res.Hits[0].Title)
	assert.Equal(t, []string{"home of the Rangers"}, res.Hits[0].Sentences)
	assert.Equal(t, "u/A", res.Hits[0].URL)
	assert.Equal(t, []string{"garden", "home", "madison", "rangers", "square"}, res.Terms)
}

func TestRetrieveScoresMatchScorer(t *testing.T) {
	engine := newEngine(t, gardenDocs...)
	ex := New(engine)
	res, err := ex.Retrieve(context.Background(), "Madison Square Garden Rangers home", 10)
	require.NoError(t, err)

	view, err := engine.View()
	require.NoError(t, err)
	defer view.Close()
	stats := view.Stats()
	cs := ranker.CollectionStats{TotalDocs: stats.TotalDocs, AvgFieldLength: stats.AvgFieldLength}
	for _, h := range res.Hits {
		want, err := ranker.DefaultScorer().Score(view, cs, res.Terms, h.DocID)
		require.NoError(t, err)
		assert.Equal(t, want, h.Score, h.DocID)
	}
}

func TestRetrieveValidation(t *testing.T) {
	ex := New(newEngine(t))
	_, err := ex.Retrieve(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = ex.Retrieve(context.Background(), "anything", -3)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = ex.Retrieve(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotCommitted)
	assert.True(t, IsNotCommitted(err))
}

func TestRetrieveEmptyAndUnmatchedQueries(t *testing.T) {
	ex := New(newEngine(t, gardenDocs...))
	res, err := ex.Retrieve(context.Background(), "the of and", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.NotNil(t, res.Hits)

	res, err = ex.Retrieve(context.Background(), "zeppelin", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, 0, res.TotalHits)
}

func TestRetrieveIsIdempotentAndBreaksTiesByID(t *testing.T) {
	var docs []index.Document
	for i := 9; i >= 0; i-- {
		docs = append(docs, index.Document{ID: fmt.Sprintf("d%d", i), Title: "Twin", Sentences: []string{"identical body"}})
	}
	ex := New(newEngine(t, docs...))
	first, err := ex.Retrieve(context.Background(), "twin identical", 4)
	require.NoError(t, err)
	require.Len(t, first.Hits, 4)
	for i, h := range first.Hits {
		assert.Equal(t, fmt.Sprintf("d%d", i), h.DocID)
	}
	for i := 0; i < 5; i++ {
		again, err := ex.Retrieve(context.Background(), "identical twin", 4)
		require.NoError(t, err)
		assert.Equal(t, first.Hits, again.Hits)
	}
}

func TestExecuteBooleanPlans(t *testing.T) {
	ex := New(newEngine(t, gardenDocs...))
	res, err := ex.Execute(context.Background(), parser.Parse("rangers AND garden"), 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "A", res.Hits[0].DocID)

	res, err = ex.Execute(context.Background(), parser.Parse("rangers NOT madison"), 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "B", res.Hits[0].DocID)
}

func TestBatchRetrieve(t *testing.T) {
	ex := New(newEngine(t, gardenDocs...), WithWorkers(2))
	queries := []Query{
		{UID: "q1", Text: "Madison Square Garden"},
		{UID: "q2", Text: "NHL team"},
		{UID: "q3", Text: "gardening"},
	}
	results, err := ex.BatchRetrieve(context.Background(), queries, 1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "A", results["q1"].Hits[0].DocID)
	assert.Equal(t, "B", results["q2"].Hits[0].DocID)
	assert.Equal(t, "C", results["q3"].Hits[0].DocID)

	_, err = ex.BatchRetrieve(context.Background(), append(queries, Query{UID: "q1", Text: "x"}), 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = ex.BatchRetrieve(context.Background(), queries, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.BatchRetrieve(ctx, queries, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*RetrievalResult
}

func (c *mapCache) GetOrCompute(_ context.Context, key string, compute func() (*RetrievalResult, error)) (*RetrievalResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.data[key]; ok {
		return r, true, nil
	}
	r, err := compute()
	if err != nil {
		return nil, false, err
	}
	c.data[key] = r
	return r, false, nil
}

func TestCacheIsKeyedByGeneration(t *testing.T) {
	engine := newEngine(t, gardenDocs...)
	cache := &mapCache{data: map[string]*RetrievalResult{}}
	m := metrics.New()
	ex := New(engine, WithCache(cache), WithMetrics(m))

	first, err := ex.Retrieve(context.Background(), "rangers", 5)
	require.NoError(t, err)
	second, err := ex.Retrieve(context.Background(), "Rangers", 5)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RetrievalsTotal.WithLabelValues("hit")), 1e-9)

	require.NoError(t, engine.AddDocument(index.Document{ID: "D", Title: "Rangers", Sentences: []string{"Rangers again"}}))
	_, err = engine.Commit("")
	require.NoError(t, err)

	third, err := ex.Retrieve(context.Background(), "rangers", 5)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, "D", third.Hits[0].DocID)
	assert.Len(t, cache.data, 2)
}
