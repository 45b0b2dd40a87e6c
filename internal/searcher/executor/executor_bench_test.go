package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
)

func benchEngine(b *testing.B, n int) *indexer.Engine {
	b.Helper()
	e, err := indexer.Open(config.IndexerConfig{DataDir: b.TempDir()})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { e.Close() })
	terms := []string{"album", "band", "river", "novel", "footballer", "director", "election", "village"}
	for i := 0; i < n; i++ {
		doc := index.Document{
			ID:    fmt.Sprintf("doc-%05d", i),
			Title: fmt.Sprintf("%s %s", terms[i%len(terms)], terms[(i+1)%len(terms)]),
			Sentences: []string{fmt.Sprintf("the %s was followed by a %s released in the same year",
				terms[(i+2)%len(terms)], terms[(i+3)%len(terms)])},
		}
		if err := e.AddDocument(doc); err != nil {
			b.Fatal(err)
		}
	}
	if _, err := e.Commit(""); err != nil {
		b.Fatal(err)
	}
	return e
}

// BenchmarkRetrieve measures claim retrieval over 10 000 documents.
func BenchmarkRetrieve(b *testing.B) {
	ex := New(benchEngine(b, 10000))
	ctx := context.Background()
	claims := []string{
		"The band released an album before the election.",
		"The director of the film grew up in a village by the river.",
		"The footballer wrote a novel.",
	}
	for _, k := range []int{10, 100} {
		b.Run(fmt.Sprintf("top_%d", k), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := ex.Retrieve(ctx, claims[i%len(claims)], k); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBatchRetrieve(b *testing.B) {
	ex := New(benchEngine(b, 10000), WithWorkers(8))
	queries := make([]Query, 64)
	for i := range queries {
		queries[i] = Query{UID: fmt.Sprint(i), Text: fmt.Sprintf("which band recorded the album near the river %d", i)}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ex.BatchRetrieve(context.Background(), queries, 100); err != nil {
			b.Fatal(err)
		}
	}
}
