// Package parser turns query text into a QueryPlan: the distinct normalized
// terms to look up and how to combine their postings.
package parser

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/tokenizer"
)

type QueryType int

const (
	// QueryOR scores every document matching any term. Claims use it.
	QueryOR QueryType = iota
	QueryAND
)

func (t QueryType) String() string {
	if t == QueryAND {
		return "AND"
	}
	return "OR"
}

// QueryPlan holds sorted, de-duplicated terms.
type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Empty reports whether the plan has nothing to look up.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// ParseClaim builds an OR plan over every term of a natural-language claim.
// Words like "and" or "not" in a claim are ordinary text, never operators.
func ParseClaim(claim string) *QueryPlan {
	return &QueryPlan{
		Terms:    distinct(tokenizer.Terms(claim)),
		Type:     QueryOR,
		RawQuery: claim,
	}
}

// Parse understands the keyword syntax of the search endpoint: AND / OR
// switch the combination mode, NOT excludes the following word. Without an
// operator the plan is OR, the same as for claims.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryOR,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	words := strings.Fields(query)
	excludeNext := false
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		terms := tokenizer.Terms(words[i])
		if len(terms) == 0 {
			continue
		}
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, terms...)
			excludeNext = false
		} else {
			plan.Terms = append(plan.Terms, terms...)
		}
	}
	plan.Terms = distinct(plan.Terms)
	plan.ExcludeTerms = distinct(plan.ExcludeTerms)
	return plan
}

// Key is a canonical description of the plan, used for caching.
func (p *QueryPlan) Key() string {
	parts := []string{p.Type.String(), strings.Join(p.Terms, ",")}
	if len(p.ExcludeTerms) > 0 {
		parts = append(parts, "NOT:"+strings.Join(p.ExcludeTerms, ","))
	}
	return strings.Join(parts, "|")
}

func distinct(terms []string) []string {
	if len(terms) == 0 {
		return []string{}
	}
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, t := range sorted[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}
