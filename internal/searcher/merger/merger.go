// Package merger selects the top-k of scored documents with a bounded heap.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/ranker"
)

// TopK returns the k best documents ordered by score descending, ties by
// ascending DocID. The order of docs does not affect the result.
func TopK(docs []ranker.ScoredDoc, k int) []ranker.ScoredDoc {
	return Merge([][]ranker.ScoredDoc{docs}, k)
}

// Merge selects the k best documents across several result lists. It keeps
// at most k documents in memory. k <= 0 yields an empty result.
func Merge(lists [][]ranker.ScoredDoc, k int) []ranker.ScoredDoc {
	if k <= 0 {
		return []ranker.ScoredDoc{}
	}
	h := &scoredDocHeap{}
	heap.Init(h)
	for _, results := range lists {
		for _, doc := range results {
			if h.Len() < k {
				heap.Push(h, doc)
				continue
			}
			if worse((*h)[0], doc) {
				(*h)[0] = doc
				heap.Fix(h, 0)
			}
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredDoc)
	}
	return result
}

// worse reports whether a ranks below b.
func worse(a, b ranker.ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.DocID > b.DocID
}

// scoredDocHeap is a min-heap on rank: the root is the worst kept document.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
