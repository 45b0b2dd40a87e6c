package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

const releaseArray = `[
  {
    "uid": "330ca632-e83f-4011-b11b-0d0158145036",
    "claim": "Skagen Painter Peder Severin Kroyer favored naturalism along with Theodor Esbern Philipsen.",
    "supporting_facts": [["Kristian Zahrtmann", 0], ["Kristian Zahrtmann", 1], ["Peder Severin Krøyer", 1]],
    "label": "REFUTED",
    "num_hops": 3,
    "hpqa_id": "5ab7a86d5542995dae37e986"
  },
  {
    "uid": 42,
    "claim": "Albedo is a measure of reflectance.",
    "supporting_facts": [["Albedo", 0]],
    "label": "SUPPORTED"
  }
]`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadClaimsArrayForm(t *testing.T) {
	claims, err := LoadClaims(writeFile(t, "dev.json", releaseArray))
	require.NoError(t, err)
	require.Len(t, claims, 2)

	first := claims[0]
	assert.Equal(t, "330ca632-e83f-4011-b11b-0d0158145036", first.UID)
	assert.Equal(t, "REFUTED", first.Label)
	assert.Equal(t, 3, first.NumHops)
	assert.Equal(t, Fact{Title: "Peder Severin Krøyer", SentenceIndex: 1}, first.SupportingFacts[2])
	assert.Equal(t, []string{"Kristian Zahrtmann", "Peder Severin Krøyer"}, first.SupportingTitles())
	assert.Equal(t, 3, first.Hops())

	second := claims[1]
	assert.Equal(t, "42", second.UID)
	assert.Equal(t, 1, second.Hops(), "hops falls back to distinct supporting titles")
}

func TestLoadClaimsObjectFormAndUnlabeled(t *testing.T) {
	body := `{
  "b": {"claim": "second", "supporting_facts": []},
  "a": {"uid": "a", "claim": "first"}
}`
	claims, err := LoadClaims(writeFile(t, "test.json", body))
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "a", claims[0].UID)
	assert.Equal(t, "b", claims[1].UID)
	assert.Empty(t, claims[1].Label)
	assert.Empty(t, claims[0].SupportingFacts)
}

func TestParseClaimsRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty":        "  ",
		"scalar":       `"x"`,
		"missing uid":  `[{"claim": "c"}]`,
		"bad fact":     `[{"uid": "u", "claim": "c", "supporting_facts": [["only-title"]]}]`,
		"duplicate id": `[{"uid": "u", "claim": "c"}, {"uid": "u", "claim": "d"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClaims([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestWriteResultsShape(t *testing.T) {
	claims, err := ParseClaims([]byte(releaseArray))
	require.NoError(t, err)
	claims[1].Label = ""

	results := map[string]*executor.RetrievalResult{
		claims[0].UID: {Hits: []executor.Hit{
			{DocID: "12", Title: "Kristian Zahrtmann", Sentences: []string{"Kristian Zahrtmann was a Danish painter."}, Score: 20.5, URL: "https://en.wikipedia.org/wiki?curid=12"},
		}},
		claims[1].UID: {Hits: []executor.Hit{{DocID: "7", Title: "Albedo <&>", Score: 1}}},
	}
	path := filepath.Join(t.TempDir(), "out", OutputFileName("dev", 100))
	require.NoError(t, WriteResults(path, claims, results))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Albedo <&>", "html characters must not be escaped")
	assert.Contains(t, string(raw), "\n  \""+claims[0].UID+"\": {")

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	entry := decoded[claims[0].UID]
	assert.Equal(t, "REFUTED", entry["label"])
	assert.Equal(t, claims[0].Text, entry["claim"])
	docs := entry["retrieved_docs"].([]any)
	doc := docs[0].(map[string]any)
	assert.ElementsMatch(t, []string{"doc_id", "title", "sentences", "score", "url"}, keys(doc))
	assert.Equal(t, []any{"Peder Severin Krøyer", float64(1)}, entry["supporting_facts"].([]any)[2])

	unlabeled := decoded["42"]
	assert.Nil(t, unlabeled["label"])
	assert.Equal(t, []any{}, unlabeled["retrieved_docs"].([]any)[0].(map[string]any)["sentences"])
}

func TestWriteResultsRequiresEveryClaim(t *testing.T) {
	claims := []Claim{{UID: "u1", Text: "c"}}
	err := WriteResults(filepath.Join(t.TempDir(), "x.json"), claims, map[string]*executor.RetrievalResult{})
	assert.ErrorIs(t, err, apperrors.ErrMissingResult)
}

func TestLoadResultsRoundTrip(t *testing.T) {
	claims := []Claim{
		{UID: "u2", Text: "claim two", Label: "SUPPORTED", SupportingFacts: []Fact{{"A", 0}}},
		{UID: "u1", Text: "claim one", SupportingFacts: []Fact{{"B", 2}}},
	}
	results := map[string]*executor.RetrievalResult{
		"u1": {Hits: []executor.Hit{{DocID: "1", Title: "B", Sentences: []string{"s"}, Score: 2.25}}},
		"u2": {Hits: []executor.Hit{{DocID: "2", Title: "C", Sentences: []string{}, Score: 1}}},
	}
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, WriteResults(path, claims, results))

	loaded, loadedClaims, err := LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loadedClaims, 2)
	assert.Equal(t, "u1", loadedClaims[0].UID)
	assert.Equal(t, "SUPPORTED", loadedClaims[1].Label)
	assert.Equal(t, results["u1"].Hits, loaded["u1"].Hits)
	assert.Equal(t, []string{"C"}, loaded["u2"].Titles())
}

func TestQueries(t *testing.T) {
	qs := Queries([]Claim{{UID: "a", Text: "x"}, {UID: "b", Text: "y"}})
	assert.Equal(t, []executor.Query{{UID: "a", Text: "x"}, {UID: "b", Text: "y"}}, qs)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "hover_dev_bm25_top100.json", OutputFileName("dev", 100))
	assert.Equal(t, "hover_train_bm25_top10_metrics.json", MetricsFileName("train", 10))
}
