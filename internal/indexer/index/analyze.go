// Package index holds the in-memory side of the inverted index: documents,
// per-field postings, analysis of documents into term frequencies, and the
// MemoryIndex that buffers a batch until it is committed as a segment.
package index

import (
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/tokenizer"
)

// AnalyzedDocument is a Document with its per-field term frequencies.
type AnalyzedDocument struct {
	Doc     Document
	Terms   [NumFields]map[string]int
	Lengths FieldLengths
}

// Analyze tokenizes the title and body of doc.
func Analyze(doc Document) AnalyzedDocument {
	ad := AnalyzedDocument{Doc: doc}
	texts := [NumFields]string{
		FieldTitle: doc.Title,
		FieldBody:  doc.Body(),
	}
	for _, f := range Fields {
		terms := tokenizer.Terms(texts[f])
		freqs := make(map[string]int, len(terms))
		for _, term := range terms {
			freqs[term]++
		}
		ad.Terms[f] = freqs
		ad.Lengths[f] = len(terms)
	}
	return ad
}
