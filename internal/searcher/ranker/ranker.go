// Package ranker scores matched documents with BM25 and orders them
// deterministically.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	DocID string  `json:"document_id"`
	Score float64 `json:"score"`
}

type RankParams struct {
	TotalDocs    int64
	AvgDocLength float64
}

type DocInfo struct {
	DocLength int
}

// TermStats is one scoring term: its postings and document frequency.
type TermStats struct {
	Postings index.PostingList
	DocFreq  int
}

// Rank scores every id in matches against the given terms. Documents that
// contain none of the terms score 0 but are still returned. The result is
// sorted by score descending, then DocID ascending.
func Rank(
	matches []string,
	terms map[string]TermStats,
	params RankParams,
	getDocInfo func(docID string) DocInfo,
) []ScoredDoc {
	idf := make(map[string]float64, len(terms))
	for term, st := range terms {
		idf[term] = computeIDF(params.TotalDocs, int64(st.DocFreq))
	}
	result := make([]ScoredDoc, 0, len(matches))
	for _, docID := range matches {
		info := getDocInfo(docID)
		var score float64
		for term, st := range terms {
			p, ok := st.Postings.Find(docID)
			if !ok {
				continue
			}
			score += idf[term] * computeTFNorm(
				float64(p.Frequency),
				float64(info.DocLength),
				params.AvgDocLength,
			)
		}
		result = append(result, ScoredDoc{
			DocID: docID,
			Score: math.Round(score*10000) / 10000,
		})
	}
	Sort(result)
	return result
}

// Sort orders by score descending, ties broken by lower DocID.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].DocID < docs[j].DocID
	})
}

// Paginate returns the window [offset, offset+limit). A non-positive limit
// means no upper bound.
func Paginate(docs []ScoredDoc, offset, limit int) []ScoredDoc {
	if offset >= len(docs) {
		return []ScoredDoc{}
	}
	docs = docs[offset:]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// computeIDF is the BM25 idf with the +1 inside the log, which stays
// positive even when every document contains the term.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
