package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

// OutputEntry is the per-claim record of a retrieval output file.
type OutputEntry struct {
	Claim           string         `json:"claim"`
	RetrievedDocs   []executor.Hit `json:"retrieved_docs"`
	Label           *string        `json:"label"`
	SupportingFacts []Fact         `json:"supporting_facts"`
}

// OutputFileName is the conventional name for a split's retrieval output.
func OutputFileName(split string, k int) string {
	return fmt.Sprintf("hover_%s_bm25_top%d.json", split, k)
}

// MetricsFileName names the evaluation metrics written next to the output.
func MetricsFileName(split string, k int) string {
	return fmt.Sprintf("hover_%s_bm25_top%d_metrics.json", split, k)
}

// BuildOutput joins claims with their results. Every claim must have a
// result.
func BuildOutput(claims []Claim, results map[string]*executor.RetrievalResult) (map[string]OutputEntry, error) {
	out := make(map[string]OutputEntry, len(claims))
	for _, c := range claims {
		res, ok := results[c.UID]
		if !ok || res == nil {
			return nil, &apperrors.MissingResultError{ClaimUID: c.UID}
		}
		docs := make([]executor.Hit, len(res.Hits))
		for i, h := range res.Hits {
			if h.Sentences == nil {
				h.Sentences = []string{}
			}
			docs[i] = h
		}
		entry := OutputEntry{
			Claim:           c.Text,
			RetrievedDocs:   docs,
			SupportingFacts: c.SupportingFacts,
		}
		if entry.SupportingFacts == nil {
			entry.SupportingFacts = []Fact{}
		}
		if c.Label != "" {
			label := c.Label
			entry.Label = &label
		}
		out[c.UID] = entry
	}
	return out, nil
}

// WriteResults writes the retrieval output for claims to path as indented
// JSON keyed by uid. The file is replaced atomically.
func WriteResults(path string, claims []Claim, results map[string]*executor.RetrievalResult) error {
	out, err := BuildOutput(claims, results)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriterSize(tmp, 1<<20)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing results: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming results: %w", err)
	}
	return nil
}

// LoadResults reads a retrieval output file back into results and the claims
// they were produced for, so an earlier run can be re-evaluated. Claims are
// sorted by uid.
func LoadResults(path string) (map[string]*executor.RetrievalResult, []Claim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading results %s: %w", path, err)
	}
	var entries map[string]OutputEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("parsing results %s: %w", path, err)
	}
	uids := make([]string, 0, len(entries))
	for uid := range entries {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	results := make(map[string]*executor.RetrievalResult, len(entries))
	claims := make([]Claim, 0, len(entries))
	for _, uid := range uids {
		e := entries[uid]
		c := Claim{UID: uid, Text: e.Claim, SupportingFacts: e.SupportingFacts}
		if e.Label != nil {
			c.Label = *e.Label
		}
		claims = append(claims, c)
		results[uid] = &executor.RetrievalResult{
			Query:     e.Claim,
			TotalHits: len(e.RetrievedDocs),
			Hits:      e.RetrievedDocs,
		}
	}
	return results, claims, nil
}
