package index

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
)

var benchTerms = []string{"distributed", "search", "notes", "markdown", "indexing", "query", "engine", "ranking"}

func benchTokens(i int) []tokenizer.Token {
	text := fmt.Sprintf("note about %s and %s covering %s in practice",
		benchTerms[i%len(benchTerms)], benchTerms[(i+1)%len(benchTerms)], benchTerms[(i+3)%len(benchTerms)])
	return tokenizer.Tokenize(text)
}

func preloaded(b *testing.B, n int) *Index {
	b.Helper()
	idx := New()
	txn, err := idx.Begin()
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if err := txn.Update(fmt.Sprintf("doc-%d", i), 1, benchTokens(i)); err != nil {
			b.Fatal(err)
		}
	}
	txn.Commit()
	return idx
}

// BenchmarkUpdate measures one single-document transaction at various
// corpus sizes.
func BenchmarkUpdate(b *testing.B) {
	for _, preload := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			idx := preloaded(b, preload)
			tokens := benchTokens(7)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := idx.Update(fmt.Sprintf("bench-%d", i), 1, tokens); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkUpdateLargeVocabulary ingests one 300-term note into indexes whose
// vocabulary grows; the cost per write should stay roughly flat.
func BenchmarkUpdateLargeVocabulary(b *testing.B) {
	for _, vocab := range []int{10_000, 100_000, 400_000} {
		b.Run(fmt.Sprintf("vocab_%d", vocab), func(b *testing.B) {
			idx := New()
			txn, err := idx.Begin()
			if err != nil {
				b.Fatal(err)
			}
			for d := 0; d < vocab/1000; d++ {
				if err := txn.Update(fmt.Sprintf("bulk%d", d), 1, syntheticTokens(fmt.Sprintf("b%d-", d), 1000)); err != nil {
					b.Fatal(err)
				}
			}
			txn.Commit()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := idx.Update(fmt.Sprintf("note-%d", i), 1, syntheticTokens(fmt.Sprintf("n%d-", i), 300)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSnapshotLookup(b *testing.B) {
	idx := preloaded(b, 10000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap := idx.Snapshot()
		_ = snap.Lookup("search")
		snap.Release()
	}
}

// BenchmarkSnapshotLookupParallel reads while one writer keeps committing.
func BenchmarkSnapshotLookupParallel(b *testing.B) {
	idx := preloaded(b, 10000)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = idx.Update(fmt.Sprintf("w-%d", i%500), int64(i+1), benchTokens(i))
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			snap := idx.Snapshot()
			_ = snap.Lookup("engine")
			snap.Release()
		}
	})
	b.StopTimer()
	close(stop)
	<-done
}
