// Package ranker implements field-weighted Okapi BM25.
package ranker

import (
	"fmt"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
)

const (
	DefaultK1          = 1.2
	DefaultB           = 0.75
	DefaultTitleWeight = 3.0
	DefaultBodyWeight  = 1.0
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// CollectionStats are the corpus-wide numbers BM25 normalizes against.
type CollectionStats struct {
	TotalDocs      int64
	AvgFieldLength [index.NumFields]float64
}

// Scorer holds the BM25 parameters and per-field weights.
type Scorer struct {
	K1      float64
	B       float64
	Weights [index.NumFields]float64
}

// DefaultScorer returns k1=1.2, b=0.75 with title weighted 3 and body 1.
func DefaultScorer() Scorer {
	return Scorer{
		K1:      DefaultK1,
		B:       DefaultB,
		Weights: [index.NumFields]float64{index.FieldTitle: DefaultTitleWeight, index.FieldBody: DefaultBodyWeight},
	}
}

// NewScorer builds a Scorer from search configuration.
func NewScorer(cfg config.SearchConfig) Scorer {
	return Scorer{
		K1:      cfg.K1,
		B:       cfg.B,
		Weights: [index.NumFields]float64{index.FieldTitle: cfg.TitleWeight, index.FieldBody: cfg.BodyWeight},
	}
}

// IDF is ln(1 + (N - df + 0.5) / (df + 0.5)). It is always positive.
func IDF(totalDocs int64, docFreq int) float64 {
	n := float64(totalDocs)
	df := float64(docFreq)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// TFNorm is the saturated, length-normalized term frequency. An empty field
// average contributes nothing.
func (s Scorer) TFNorm(tf, fieldLength int, avgFieldLength float64) float64 {
	if avgFieldLength == 0 || tf == 0 {
		return 0
	}
	f := float64(tf)
	lengthRatio := float64(fieldLength) / avgFieldLength
	return f * (s.K1 + 1) / (f + s.K1*(1-s.B+s.B*lengthRatio))
}

// TermPostings holds the postings of each query term for each field.
type TermPostings [index.NumFields]map[string]index.PostingList

// Rank scores every document appearing in postings. Document frequencies
// come from the full lists; keep, when non-nil, limits which documents are
// scored. Contributions are added field by field and, within a field, in
// ascending term order, so the same inputs always produce bit-identical
// scores. The result is unordered.
func (s Scorer) Rank(terms []string, postings TermPostings, stats CollectionStats, lengths func(docID string) index.FieldLengths, keep func(docID string) bool) []ScoredDoc {
	sortedTerms := append([]string(nil), terms...)
	sort.Strings(sortedTerms)

	scores := make(map[string]float64)
	cachedLengths := make(map[string]index.FieldLengths)
	for _, f := range index.Fields {
		weight := s.Weights[f]
		if weight == 0 {
			continue
		}
		for _, term := range sortedTerms {
			list := postings[f][term]
			if len(list) == 0 {
				continue
			}
			idf := IDF(stats.TotalDocs, len(list))
			for _, p := range list {
				if keep != nil && !keep(p.DocID) {
					continue
				}
				l, ok := cachedLengths[p.DocID]
				if !ok {
					l = lengths(p.DocID)
					cachedLengths[p.DocID] = l
				}
				scores[p.DocID] += weight * idf * s.TFNorm(p.Frequency, l[f], stats.AvgFieldLength[f])
			}
		}
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{DocID: docID, Score: score})
	}
	return result
}

// Index is the read surface Score needs; *indexer.View satisfies it.
type Index interface {
	Postings(term string, field index.Field) (index.PostingList, error)
	Lengths(docID string) (index.FieldLengths, bool)
}

// Score computes the BM25 score of one document for the given query terms.
// Terms are treated as a set. A document matching no term scores 0.
func (s Scorer) Score(ix Index, stats CollectionStats, terms []string, docID string) (float64, error) {
	lengths, ok := ix.Lengths(docID)
	if !ok {
		return 0, nil
	}
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	sortedTerms := make([]string, 0, len(set))
	for t := range set {
		sortedTerms = append(sortedTerms, t)
	}
	sort.Strings(sortedTerms)

	var score float64
	for _, f := range index.Fields {
		weight := s.Weights[f]
		if weight == 0 {
			continue
		}
		for _, term := range sortedTerms {
			list, err := ix.Postings(term, f)
			if err != nil {
				return 0, fmt.Errorf("postings for %s:%q: %w", f, term, err)
			}
			i := sort.Search(len(list), func(i int) bool { return list[i].DocID >= docID })
			if i >= len(list) || list[i].DocID != docID {
				continue
			}
			score += weight * IDF(stats.TotalDocs, len(list)) * s.TFNorm(list[i].Frequency, lengths[f], stats.AvgFieldLength[f])
		}
	}
	return score, nil
}
