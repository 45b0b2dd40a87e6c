package ranker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
)

func TestIDF(t *testing.T) {
	assert.InDelta(t, math.Log(1+(3-1+0.5)/(1+0.5)), IDF(3, 1), 1e-12)
	// a term in every document still scores above zero
	assert.Greater(t, IDF(3, 3), 0.0)
	assert.Greater(t, IDF(100, 1), IDF(100, 50))
}

func TestTFNorm(t *testing.T) {
	s := DefaultScorer()
	// at average length: tf(k1+1)/(tf+k1)
	assert.InDelta(t, 2.2/2.2, s.TFNorm(1, 4, 4), 1e-12)
	assert.InDelta(t, 2*2.2/(2+1.2), s.TFNorm(2, 4, 4), 1e-12)
	assert.Greater(t, s.TFNorm(1, 2, 4), s.TFNorm(1, 8, 4), "shorter fields score higher")
	assert.Equal(t, 0.0, s.TFNorm(1, 4, 0))
	assert.Equal(t, 0.0, s.TFNorm(0, 4, 4))
}

// memIndex is a hand-built index for scoring tests.
type memIndex struct {
	postings TermPostings
	lengths  map[string]index.FieldLengths
}

func (m memIndex) Postings(term string, field index.Field) (index.PostingList, error) {
	return m.postings[field][term], nil
}

func (m memIndex) Lengths(docID string) (index.FieldLengths, bool) {
	l, ok := m.lengths[docID]
	return l, ok
}

func fixture() (memIndex, CollectionStats) {
	ix := memIndex{
		postings: TermPostings{
			index.FieldTitle: {
				"garden":  {{DocID: "A", Frequency: 1}},
				"madison": {{DocID: "A", Frequency: 1}},
				"rangers": {{DocID: "B", Frequency: 1}},
			},
			index.FieldBody: {
				"home":    {{DocID: "A", Frequency: 1}},
				"rangers": {{DocID: "A", Frequency: 1}},
			},
		},
		lengths: map[string]index.FieldLengths{
			"A": {3, 2},
			"B": {3, 2},
			"C": {2, 2},
		},
	}
	stats := CollectionStats{TotalDocs: 3, AvgFieldLength: [index.NumFields]float64{8.0 / 3, 2}}
	return ix, stats
}

func TestRankMatchesScore(t *testing.T) {
	ix, stats := fixture()
	s := DefaultScorer()
	terms := []string{"rangers", "madison", "garden", "home"}

	ranked := s.Rank(terms, ix.postings, stats, func(id string) index.FieldLengths { return ix.lengths[id] }, nil)
	require.Len(t, ranked, 2)
	byID := map[string]float64{}
	for _, d := range ranked {
		byID[d.DocID] = d.Score
	}
	for id, want := range byID {
		got, err := s.Score(ix, stats, terms, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "doc %s", id)
	}
	assert.Greater(t, byID["A"], byID["B"])

	c, err := s.Score(ix, stats, terms, "C")
	require.NoError(t, err)
	assert.Equal(t, 0.0, c)
}

func TestScoreTreatsTermsAsSet(t *testing.T) {
	ix, stats := fixture()
	s := DefaultScorer()
	once, err := s.Score(ix, stats, []string{"garden"}, "A")
	require.NoError(t, err)
	twice, err := s.Score(ix, stats, []string{"garden", "garden"}, "A")
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	idf := IDF(3, 1)
	assert.InDelta(t, 3.0*idf*s.TFNorm(1, 3, 8.0/3), once, 1e-12)
}

func TestRankIsDeterministic(t *testing.T) {
	ix, stats := fixture()
	s := DefaultScorer()
	lengths := func(id string) index.FieldLengths { return ix.lengths[id] }
	first := s.Rank([]string{"home", "garden", "rangers", "madison"}, ix.postings, stats, lengths, nil)
	for i := 0; i < 20; i++ {
		again := s.Rank([]string{"madison", "rangers", "garden", "home"}, ix.postings, stats, lengths, nil)
		assert.ElementsMatch(t, first, again)
	}
}

func TestZeroWeightFieldIsIgnored(t *testing.T) {
	ix, stats := fixture()
	s := DefaultScorer()
	s.Weights[index.FieldTitle] = 0
	ranked := s.Rank([]string{"madison", "garden"}, ix.postings, stats, func(id string) index.FieldLengths { return ix.lengths[id] }, nil)
	assert.Empty(t, ranked)
}

func TestRankKeepFiltersWithoutChangingIDF(t *testing.T) {
	ix, stats := fixture()
	s := DefaultScorer()
	lengths := func(id string) index.FieldLengths { return ix.lengths[id] }
	all := s.Rank([]string{"rangers"}, ix.postings, stats, lengths, nil)
	onlyB := s.Rank([]string{"rangers"}, ix.postings, stats, lengths, func(id string) bool { return id == "B" })
	require.Len(t, onlyB, 1)
	for _, d := range all {
		if d.DocID == "B" {
			assert.Equal(t, d.Score, onlyB[0].Score)
		}
	}
}
