// Package merger combines per-segment result lists into one ranked page.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/ranker"
)

// Merge keeps the best limit documents across all segment results, ordered
// by score descending and id ascending.
func Merge(segmentResults [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 {
		limit = ranker.DefaultLimit
	}
	h := &worstFirst{}
	heap.Init(h)
	for _, results := range segmentResults {
		for _, doc := range results {
			heap.Push(h, doc)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredDoc)
	}
	return result
}

// worstFirst is a min-heap on rank: the root is the document that would be
// dropped first.
type worstFirst []ranker.ScoredDoc

func (h worstFirst) Len() int { return len(h) }

func (h worstFirst) Less(i, j int) bool { return ranker.Less(h[j], h[i]) }

func (h worstFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
