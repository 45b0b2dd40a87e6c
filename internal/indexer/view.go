package indexer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

// View is a consistent read-only snapshot of one committed generation.
// Every method observes the same generation until Close. A View is safe
// for concurrent use.
type View struct {
	engine *Engine
	st     *state
	once   sync.Once
}

// Close releases the view so commits can proceed. It is idempotent.
func (v *View) Close() error {
	v.once.Do(func() {
		v.engine.mu.RUnlock()
	})
	return nil
}

// Generation returns the generation this view observes.
func (v *View) Generation() uint64 {
	return v.st.manifest.Generation
}

// Checkpoint returns the source position committed with this generation.
func (v *View) Checkpoint() string {
	return v.st.manifest.Checkpoint
}

// Stats returns the collection statistics of this generation.
func (v *View) Stats() Stats {
	return v.st.manifest.Stats
}

// Segments describes the live segments of this generation.
func (v *View) Segments() []SegmentMeta {
	return append([]SegmentMeta(nil), v.st.manifest.Segments...)
}

// Postings returns the postings of term in field across all live documents,
// ordered by ascending DocID. Tombstoned documents are excluded.
func (v *View) Postings(term string, field index.Field) (index.PostingList, error) {
	var (
		result   index.PostingList
		contribs int
	)
	for i, r := range v.st.readers {
		postings, err := r.Search(term, field)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", r.Name(), err)
		}
		if len(postings) == 0 {
			continue
		}
		contribs++
		dead := v.st.tombstones[i]
		for _, p := range postings {
			if _, ok := dead[p.DocID]; ok {
				continue
			}
			result = append(result, p)
		}
	}
	if contribs > 1 {
		sort.Slice(result, func(i, j int) bool {
			return result[i].DocID < result[j].DocID
		})
	}
	return result, nil
}

// DocFreq returns the number of live documents containing term in field.
func (v *View) DocFreq(term string, field index.Field) (int, error) {
	df := 0
	for i, r := range v.st.readers {
		if len(v.st.tombstones[i]) > 0 {
			postings, err := v.Postings(term, field)
			if err != nil {
				return 0, err
			}
			return len(postings), nil
		}
		df += r.DocFreq(term, field)
	}
	return df, nil
}

// FieldLength returns the token count of field in the live document docID.
func (v *View) FieldLength(docID string, field index.Field) (int, bool) {
	loc, ok := v.st.locate(docID)
	if !ok {
		return 0, false
	}
	return loc.entry.Lengths[field], true
}

// Lengths returns every field length of the live document docID.
func (v *View) Lengths(docID string) (index.FieldLengths, bool) {
	loc, ok := v.st.locate(docID)
	if !ok {
		return index.FieldLengths{}, false
	}
	return loc.entry.Lengths, true
}

// Contains reports whether docID is a live document.
func (v *View) Contains(docID string) bool {
	_, ok := v.st.locate(docID)
	return ok
}

// Document returns the stored live document docID.
func (v *View) Document(docID string) (index.Document, error) {
	loc, ok := v.st.locate(docID)
	if !ok {
		return index.Document{}, fmt.Errorf("%q: %w", docID, apperrors.ErrDocumentNotFound)
	}
	doc, ok, err := v.st.readers[loc.segment].Document(docID)
	if err != nil {
		return index.Document{}, err
	}
	if !ok {
		return index.Document{}, fmt.Errorf("%q: %w", docID, apperrors.ErrDocumentNotFound)
	}
	return doc, nil
}
