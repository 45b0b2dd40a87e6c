// Package evaluation scores retrieval results against HoVer ground truth.
//
// For each claim, S is the set of distinct supporting-fact titles and R the
// set of distinct retrieved titles. Recall is |S∩R|/|S| and a claim is
// covered when S ⊆ R. Claims with an empty S carry no ground truth; they are
// left out of every denominator and counted in ExcludedClaims.
package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

// ClaimResult is the evaluation of one claim.
type ClaimResult struct {
	UID        string   `json:"uid"`
	Hops       int      `json:"hops"`
	Supporting []string `json:"supporting"`
	Missing    []string `json:"missing,omitempty"`
	Recall     float64  `json:"recall"`
	Covered    bool     `json:"covered"`
	// FirstRank is the 1-based rank of the first supporting title, 0 if none
	// was retrieved.
	FirstRank int `json:"first_rank"`
}

// Aggregate is recall and coverage over a group of claims. Rates are
// fractions in [0, 1].
type Aggregate struct {
	TotalClaims            int     `json:"total_claims"`
	ClaimsWithFullCoverage int     `json:"claims_with_full_coverage"`
	CoverageRate           float64 `json:"coverage_rate"`
	AverageRecall          float64 `json:"average_recall"`
}

// Report is the outcome of one evaluation.
type Report struct {
	Split string `json:"split,omitempty"`
	// K is the cutoff applied to each result list, 0 for the full list.
	K int `json:"k,omitempty"`
	Aggregate
	ExcludedClaims int                `json:"excluded_claims"`
	ByHops         map[int]*Aggregate `json:"by_hops,omitempty"`
	Claims         []ClaimResult      `json:"claims,omitempty"`
}

type options struct {
	split string
	k     int
}

// Option adjusts an evaluation.
type Option func(*options)

// WithSplit labels the report.
func WithSplit(split string) Option {
	return func(o *options) { o.split = split }
}

// AtK evaluates only the first k hits of every result.
func AtK(k int) Option {
	return func(o *options) { o.k = k }
}

// Evaluate scores results against claims. Every claim must have a result,
// otherwise it fails with a MissingResultError; claims without supporting
// titles are then left out of the denominators. Claims are visited in uid
// order so the report is identical across runs.
func Evaluate(results map[string]*executor.RetrievalResult, claims map[string]dataset.Claim, opts ...Option) (*Report, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.k < 0 {
		return nil, apperrors.InvalidArgument("cutoff must not be negative, got %d", o.k)
	}

	uids := make([]string, 0, len(claims))
	for uid := range claims {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	report := &Report{
		Split:  o.split,
		K:      o.k,
		ByHops: make(map[int]*Aggregate),
		Claims: make([]ClaimResult, 0, len(uids)),
	}
	var recallSum float64
	hopRecall := make(map[int]float64)

	for _, uid := range uids {
		res, ok := results[uid]
		if !ok || res == nil {
			return nil, &apperrors.MissingResultError{ClaimUID: uid}
		}
		claim := claims[uid]
		supporting := claim.SupportingTitles()
		if len(supporting) == 0 {
			report.ExcludedClaims++
			continue
		}
		cr := scoreClaim(uid, supporting, res.Hits, o.k)
		cr.Hops = claim.Hops()
		report.Claims = append(report.Claims, cr)

		report.TotalClaims++
		recallSum += cr.Recall
		hop := report.ByHops[cr.Hops]
		if hop == nil {
			hop = &Aggregate{}
			report.ByHops[cr.Hops] = hop
		}
		hop.TotalClaims++
		hopRecall[cr.Hops] += cr.Recall
		if cr.Covered {
			report.ClaimsWithFullCoverage++
			hop.ClaimsWithFullCoverage++
		}
	}

	report.Aggregate.finish(recallSum)
	for hops, agg := range report.ByHops {
		agg.finish(hopRecall[hops])
	}
	return report, nil
}

func (a *Aggregate) finish(recallSum float64) {
	if a.TotalClaims == 0 {
		return
	}
	a.CoverageRate = float64(a.ClaimsWithFullCoverage) / float64(a.TotalClaims)
	a.AverageRecall = recallSum / float64(a.TotalClaims)
}

func scoreClaim(uid string, supporting []string, hits []executor.Hit, k int) ClaimResult {
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	rank := make(map[string]int, len(hits))
	for i, h := range hits {
		if _, seen := rank[h.Title]; !seen {
			rank[h.Title] = i + 1
		}
	}
	cr := ClaimResult{UID: uid, Supporting: supporting}
	found := 0
	for _, title := range supporting {
		r, ok := rank[title]
		if !ok {
			cr.Missing = append(cr.Missing, title)
			continue
		}
		found++
		if cr.FirstRank == 0 || r < cr.FirstRank {
			cr.FirstRank = r
		}
	}
	cr.Recall = float64(found) / float64(len(supporting))
	cr.Covered = found == len(supporting)
	return cr
}

// Output is the persisted metrics record. Rates are percentages.
type Output struct {
	TotalClaims            int     `json:"total_claims"`
	ClaimsWithFullCoverage int     `json:"claims_with_full_coverage"`
	CoverageRate           float64 `json:"coverage_rate"`
	AverageRecall          float64 `json:"average_recall"`
	ExcludedClaims         int     `json:"excluded_claims"`
}

// Output converts the report to its persisted form.
func (r *Report) Output() Output {
	return Output{
		TotalClaims:            r.TotalClaims,
		ClaimsWithFullCoverage: r.ClaimsWithFullCoverage,
		CoverageRate:           r.CoverageRate * 100,
		AverageRecall:          r.AverageRecall * 100,
		ExcludedClaims:         r.ExcludedClaims,
	}
}

// Hops returns the hop counts present in the report in ascending order.
func (r *Report) Hops() []int {
	hops := make([]int, 0, len(r.ByHops))
	for h := range r.ByHops {
		hops = append(hops, h)
	}
	sort.Ints(hops)
	return hops
}

// Summary renders the report for a terminal.
func (r *Report) Summary() string {
	var b strings.Builder
	title := "Retrieval Metrics"
	if r.Split != "" {
		title += " for " + r.Split
	}
	if r.K > 0 {
		title += fmt.Sprintf(" (top %d)", r.K)
	}
	fmt.Fprintf(&b, "%s:\n", title)
	fmt.Fprintf(&b, "  Total claims: %d\n", r.TotalClaims)
	fmt.Fprintf(&b, "  Claims with ALL supporting docs: %d\n", r.ClaimsWithFullCoverage)
	fmt.Fprintf(&b, "  Coverage: %.2f%%\n", r.CoverageRate*100)
	fmt.Fprintf(&b, "  Average Recall: %.2f%%\n", r.AverageRecall*100)
	if r.ExcludedClaims > 0 {
		fmt.Fprintf(&b, "  Excluded (no supporting facts): %d\n", r.ExcludedClaims)
	}
	for _, h := range r.Hops() {
		agg := r.ByHops[h]
		fmt.Fprintf(&b, "  %d-hop: %d claims, coverage %.2f%%, recall %.2f%%\n",
			h, agg.TotalClaims, agg.CoverageRate*100, agg.AverageRecall*100)
	}
	return b.String()
}

// Observe exports the report as the evaluation gauges of m. m may be nil.
func (r *Report) Observe(m *metrics.Metrics) {
	if m == nil {
		return
	}
	split := r.Split
	if split == "" {
		split = "unknown"
	}
	m.EvaluationRecall.WithLabelValues(split).Set(r.AverageRecall)
	m.EvaluationCoverage.WithLabelValues(split).Set(r.CoverageRate)
}
