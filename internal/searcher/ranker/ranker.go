// Package ranker scores matches with TF-IDF and orders them by score
// descending, then document id ascending.
package ranker

import (
	"math"
	"sort"
)

// DefaultLimit is the page size used when a caller passes a non-positive
// limit.
const DefaultLimit = 50

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// IDF is the smoothed inverse document frequency 1 + ln((N+1)/(df+1)). It is
// always positive, so every matching term adds to a document's score.
func IDF(totalDocs, docFreq int) float64 {
	return 1 + math.Log(float64(totalDocs+1)/float64(docFreq+1))
}

// TF dampens raw term frequency with a square root.
func TF(freq uint32) float64 {
	return math.Sqrt(float64(freq))
}

// Round keeps four decimals so that equal matches scored in different
// segments compare equal.
func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// Less reports whether a ranks before b.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Rank turns accumulated scores into an ordered, truncated result list.
func Rank(scores map[string]float64, limit int) []ScoredDoc {
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{
			DocID: docID,
			Score: Round(score),
		})
	}
	Sort(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		return Less(docs[i], docs[j])
	})
}
