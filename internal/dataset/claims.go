// Package dataset reads HoVer claim files and reads and writes the retrieval
// output files consumed by downstream sentence selection and verification.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
)

// Fact is one supporting fact: a Wikipedia title and a sentence index in
// that article. On the wire it is the pair [title, idx].
type Fact struct {
	Title         string
	SentenceIndex int
}

func (f Fact) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Title, f.SentenceIndex})
}

func (f *Fact) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("supporting fact must be [title, index]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("supporting fact must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &f.Title); err != nil {
		return fmt.Errorf("supporting fact title: %w", err)
	}
	if err := json.Unmarshal(pair[1], &f.SentenceIndex); err != nil {
		return fmt.Errorf("supporting fact index: %w", err)
	}
	return nil
}

// Claim is one HoVer example. Label is empty for unlabeled splits.
type Claim struct {
	UID             string `json:"uid"`
	Text            string `json:"claim"`
	Label           string `json:"label,omitempty"`
	SupportingFacts []Fact `json:"supporting_facts"`
	NumHops         int    `json:"num_hops,omitempty"`
}

// SupportingTitles returns the distinct titles among the supporting facts in
// first-seen order.
func (c Claim) SupportingTitles() []string {
	seen := make(map[string]struct{}, len(c.SupportingFacts))
	titles := make([]string, 0, len(c.SupportingFacts))
	for _, f := range c.SupportingFacts {
		if _, ok := seen[f.Title]; ok {
			continue
		}
		seen[f.Title] = struct{}{}
		titles = append(titles, f.Title)
	}
	return titles
}

// Hops returns NumHops, falling back to the number of distinct supporting
// titles when the file does not carry it.
func (c Claim) Hops() int {
	if c.NumHops > 0 {
		return c.NumHops
	}
	return len(c.SupportingTitles())
}

// LoadClaims reads a HoVer release file. Both the array form and the
// uid-keyed object form are accepted; claims come back in file order (object
// form: sorted by uid). Integer uids are converted to strings.
func LoadClaims(path string) ([]Claim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading claims %s: %w", path, err)
	}
	claims, err := ParseClaims(data)
	if err != nil {
		return nil, fmt.Errorf("parsing claims %s: %w", path, err)
	}
	return claims, nil
}

// ParseClaims decodes the contents of a claims file.
func ParseClaims(data []byte) ([]Claim, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty claims file")
	}
	var raws []rawClaim
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
	case '{':
		var keyed map[string]rawClaim
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, err
		}
		uids := make([]string, 0, len(keyed))
		for uid := range keyed {
			uids = append(uids, uid)
		}
		sort.Strings(uids)
		for _, uid := range uids {
			rc := keyed[uid]
			if len(rc.UID) == 0 {
				rc.UID = json.RawMessage(fmt.Sprintf("%q", uid))
			}
			raws = append(raws, rc)
		}
	default:
		return nil, fmt.Errorf("claims file must hold a JSON array or object")
	}

	claims := make([]Claim, 0, len(raws))
	seen := make(map[string]int, len(raws))
	for i, rc := range raws {
		c, err := rc.claim()
		if err != nil {
			return nil, fmt.Errorf("claim %d: %w", i, err)
		}
		if prev, dup := seen[c.UID]; dup {
			return nil, fmt.Errorf("claim %d: uid %q already used by claim %d", i, c.UID, prev)
		}
		seen[c.UID] = i
		claims = append(claims, c)
	}
	return claims, nil
}

type rawClaim struct {
	UID             json.RawMessage `json:"uid"`
	Claim           string          `json:"claim"`
	Label           *string         `json:"label"`
	SupportingFacts []Fact          `json:"supporting_facts"`
	NumHops         int             `json:"num_hops"`
}

func (rc rawClaim) claim() (Claim, error) {
	uid, err := decodeUID(rc.UID)
	if err != nil {
		return Claim{}, err
	}
	c := Claim{
		UID:             uid,
		Text:            rc.Claim,
		SupportingFacts: rc.SupportingFacts,
		NumHops:         rc.NumHops,
	}
	if rc.Label != nil {
		c.Label = *rc.Label
	}
	return c, nil
}

func decodeUID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("uid is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("uid is required")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("uid must be a string or number")
	}
	return n.String(), nil
}

// Queries converts claims to executor queries in the same order.
func Queries(claims []Claim) []executor.Query {
	out := make([]executor.Query, len(claims))
	for i, c := range claims {
		out[i] = executor.Query{UID: c.UID, Text: c.Text}
	}
	return out
}

// ByUID indexes claims by uid.
func ByUID(claims []Claim) map[string]Claim {
	out := make(map[string]Claim, len(claims))
	for _, c := range claims {
		out[c.UID] = c
	}
	return out
}
