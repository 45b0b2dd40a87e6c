package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

func doc(id, title string, sentences ...string) Document {
	return Document{ID: id, Title: title, Sentences: sentences, URL: "https://en.wikipedia.org/wiki?curid=" + id}
}

func TestAnalyzeCountsPerField(t *testing.T) {
	ad := Analyze(doc("1", "Rangers Rangers", "The Rangers play hockey.", "Hockey in New York."))

	assert.Equal(t, 2, ad.Terms[FieldTitle]["rangers"])
	assert.Equal(t, 1, ad.Terms[FieldBody]["rangers"])
	assert.Equal(t, 2, ad.Terms[FieldBody]["hockey"])
	assert.Equal(t, FieldLengths{2, 6}, ad.Lengths)
}

func TestMemoryIndexSnapshotIsSorted(t *testing.T) {
	mi := NewMemoryIndex()
	require.NoError(t, mi.AddDocument(Analyze(doc("b", "Garden", "garden garden")), false))
	require.NoError(t, mi.AddDocument(Analyze(doc("a", "Square Garden", "garden")), false))

	batch := mi.Snapshot()
	require.Len(t, batch.Docs, 2)
	assert.Equal(t, "a", batch.Docs[0].ID)

	var bodyGarden PostingList
	var lastField Field
	var lastTerm string
	for i, e := range batch.Entries {
		if i > 0 {
			assert.True(t, e.Field > lastField || (e.Field == lastField && e.Term > lastTerm), "entries out of order at %d", i)
		}
		lastField, lastTerm = e.Field, e.Term
		if e.Field == FieldBody && e.Term == "garden" {
			bodyGarden = e.Postings
		}
	}
	assert.Equal(t, PostingList{{DocID: "a", Frequency: 1}, {DocID: "b", Frequency: 2}}, bodyGarden)
}

func TestMemoryIndexRejectsDuplicateUnlessReplace(t *testing.T) {
	mi := NewMemoryIndex()
	require.NoError(t, mi.AddDocument(Analyze(doc("1", "Old Title")), false))

	err := mi.AddDocument(Analyze(doc("1", "New Title")), false)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateDocument)

	require.NoError(t, mi.AddDocument(Analyze(doc("1", "New Title")), true))
	assert.Nil(t, mi.Search("old", FieldTitle))
	assert.Equal(t, PostingList{{DocID: "1", Frequency: 1}}, mi.Search("new", FieldTitle))
	assert.Equal(t, 1, mi.DocCount())
	assert.Contains(t, mi.Snapshot().Replaces, "1")
}

func TestMemoryIndexRejectsEmptyID(t *testing.T) {
	mi := NewMemoryIndex()
	err := mi.AddDocument(Analyze(doc("", "x")), false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestMemoryIndexReset(t *testing.T) {
	mi := NewMemoryIndex()
	require.NoError(t, mi.AddDocument(Analyze(doc("1", "title")), false))
	assert.Positive(t, mi.Size())
	mi.Reset()
	assert.Zero(t, mi.DocCount())
	assert.Zero(t, mi.Size())
	assert.False(t, mi.Contains("1"))
}

func BenchmarkMemoryIndexAdd(b *testing.B) {
	mi := NewMemoryIndex()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		docID := fmt.Sprintf("doc-%d", i)
		_ = mi.AddDocument(Analyze(doc(docID, "benchmark title", "this is a benchmark document with several terms for testing the indexing performance")), false)
	}
}
