package index

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

// MemoryIndex buffers analyzed documents until the engine commits them. It
// is the in-flight batch: nothing in it is visible to readers.
type MemoryIndex struct {
	mu       sync.RWMutex
	index    [NumFields]map[string]map[string]int
	docs     map[string]StoredDocument
	replaces map[string]struct{}
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	m := &MemoryIndex{}
	m.init()
	return m
}

func (m *MemoryIndex) init() {
	for _, f := range Fields {
		m.index[f] = make(map[string]map[string]int)
	}
	m.docs = make(map[string]StoredDocument)
	m.replaces = make(map[string]struct{})
	m.size = 0
}

// AddDocument buffers ad. A second document with the same id in one batch
// is a DuplicateDocumentError unless replace is set, in which case the
// later version wins.
func (m *MemoryIndex) AddDocument(ad AnalyzedDocument, replace bool) error {
	docID := ad.Doc.ID
	if docID == "" {
		return apperrors.InvalidArgument("document id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; exists {
		if !replace {
			return &apperrors.DuplicateDocumentError{DocID: docID}
		}
		m.removeLocked(docID)
	}
	for _, f := range Fields {
		for term, freq := range ad.Terms[f] {
			docs, exists := m.index[f][term]
			if !exists {
				docs = make(map[string]int)
				m.index[f][term] = docs
			}
			docs[docID] = freq
			m.size += int64(len(term) + len(docID) + 16)
		}
	}
	m.docs[docID] = StoredDocument{Document: ad.Doc, Lengths: ad.Lengths}
	if replace {
		m.replaces[docID] = struct{}{}
	}
	m.size += int64(len(ad.Doc.Title) + len(ad.Doc.URL) + 64)
	for _, s := range ad.Doc.Sentences {
		m.size += int64(len(s))
	}
	return nil
}

// removeLocked drops a buffered document's postings. Callers hold mu.
func (m *MemoryIndex) removeLocked(docID string) {
	for _, f := range Fields {
		for term, docs := range m.index[f] {
			if _, ok := docs[docID]; !ok {
				continue
			}
			delete(docs, docID)
			if len(docs) == 0 {
				delete(m.index[f], term)
			}
		}
	}
	delete(m.docs, docID)
}

// Contains reports whether docID is buffered.
func (m *MemoryIndex) Contains(docID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[docID]
	return ok
}

// Search returns the buffered postings for term in field, sorted by DocID.
func (m *MemoryIndex) Search(term string, field Field) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[field][term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for docID, freq := range docs {
		result = append(result, Posting{DocID: docID, Frequency: freq})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Batch is a frozen copy of the buffer, ready to be written as a segment.
type Batch struct {
	Entries  []TermEntry
	Docs     []StoredDocument
	Replaces map[string]struct{}
}

// Snapshot returns the buffer as a Batch: term entries sorted by (field,
// term) with postings sorted by DocID, documents sorted by ID.
func (m *MemoryIndex) Snapshot() Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []TermEntry
	for _, f := range Fields {
		fieldEntries := make([]TermEntry, 0, len(m.index[f]))
		for term, docs := range m.index[f] {
			postings := make(PostingList, 0, len(docs))
			for docID, freq := range docs {
				postings = append(postings, Posting{DocID: docID, Frequency: freq})
			}
			sort.Slice(postings, func(i, j int) bool {
				return postings[i].DocID < postings[j].DocID
			})
			fieldEntries = append(fieldEntries, TermEntry{
				Term:     term,
				Field:    f,
				Postings: postings,
			})
		}
		sort.Slice(fieldEntries, func(i, j int) bool {
			return fieldEntries[i].Term < fieldEntries[j].Term
		})
		entries = append(entries, fieldEntries...)
	}
	docs := make([]StoredDocument, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})
	replaces := make(map[string]struct{}, len(m.replaces))
	for id := range m.replaces {
		replaces[id] = struct{}{}
	}
	return Batch{Entries: entries, Docs: docs, Replaces: replaces}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
}

func (m *MemoryIndex) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("MemoryIndex{docs=%d, title_terms=%d, body_terms=%d}",
		len(m.docs), len(m.index[FieldTitle]), len(m.index[FieldBody]))
}
