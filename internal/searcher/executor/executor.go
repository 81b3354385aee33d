// Package executor evaluates parsed queries against a snapshot of segments.
// Boolean structure is resolved per segment with roaring bitmaps; term
// statistics for TF-IDF are taken over the whole snapshot so a document
// scores the same whichever segment holds it.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/ranker"
)

type SearchResult struct {
	Query     string             `json:"query"`
	TotalHits int                `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	TermStats map[string]int     `json:"term_stats"`
}

// Segment is one member of a snapshot. Deleted holds the ordinals hidden
// from search: tombstoned documents and documents shadowed by a newer copy
// of the same id. It may be nil.
type Segment struct {
	View    *segment.View
	Deleted *roaring.Bitmap
}

func (s Segment) isDeleted(ord uint32) bool {
	return s.Deleted != nil && s.Deleted.Contains(ord)
}

// LiveDocs is the number of searchable documents in the segment.
func (s Segment) LiveDocs() int {
	if s.Deleted == nil {
		return s.View.DocCount()
	}
	return s.View.DocCount() - int(s.Deleted.GetCardinality())
}

type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute runs q over segs and returns at most limit results ordered by
// score descending, then id ascending. A non-positive limit selects
// ranker.DefaultLimit. Only storage read failures are errors.
func (e *Executor) Execute(ctx context.Context, q parser.Query, segs []Segment, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = ranker.DefaultLimit
	}
	terms := parser.AllTerms(q)

	totalDocs := 0
	docFreq := make(map[parser.TermQuery]int, len(terms))
	loaded := make([]map[parser.TermQuery]index.PostingList, len(segs))
	for i, s := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		totalDocs += s.LiveDocs()
		loaded[i] = make(map[parser.TermQuery]index.PostingList, len(terms))
		for _, t := range terms {
			postings, err := s.View.Postings(t.Field, t.Term)
			if err != nil {
				return nil, fmt.Errorf("searching term %s: %w", t.String(), err)
			}
			loaded[i][t] = postings
			for _, p := range postings {
				if !s.isDeleted(p.Doc) {
					docFreq[t]++
				}
			}
		}
	}

	totalHits := 0
	perSegment := make([][]ranker.ScoredDoc, 0, len(segs))
	for i, s := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &compiler{seg: s, postings: loaded[i], docFreq: docFreq, totalDocs: totalDocs}
		m := c.compile(q)
		matches := m.docs()
		if matches.IsEmpty() {
			continue
		}
		totalHits += int(matches.GetCardinality())
		scores := make(map[string]float64, matches.GetCardinality())
		it := matches.Iterator()
		for it.HasNext() {
			ord := it.Next()
			scores[s.View.Doc(ord).ID] = m.score(ord)
		}
		perSegment = append(perSegment, ranker.Rank(scores, limit))
	}

	termStats := make(map[string]int, len(docFreq))
	for _, t := range parser.Terms(q) {
		termStats[t.String()] = docFreq[t]
	}
	results := merger.Merge(perSegment, limit)
	e.logger.Debug("query executed",
		"query", q.String(),
		"segments", len(segs),
		"candidates", totalHits,
		"results", len(results),
	)
	return &SearchResult{
		Query:     q.String(),
		TotalHits: totalHits,
		Results:   results,
		TermStats: termStats,
	}, nil
}

// matcher is a compiled query node over one segment. score is only
// meaningful for ordinals in docs().
type matcher interface {
	docs() *roaring.Bitmap
	score(ord uint32) float64
}

type termMatcher struct {
	set    *roaring.Bitmap
	freqs  map[uint32]uint32
	weight float64
}

func (m *termMatcher) docs() *roaring.Bitmap { return m.set }

func (m *termMatcher) score(ord uint32) float64 {
	return ranker.TF(m.freqs[ord]) * m.weight
}

// boolMatcher scores a document as the sum of its matching required and
// optional sub-clauses.
type boolMatcher struct {
	set     *roaring.Bitmap
	scoring []matcher
}

func (m *boolMatcher) docs() *roaring.Bitmap { return m.set }

func (m *boolMatcher) score(ord uint32) float64 {
	total := 0.0
	for _, sub := range m.scoring {
		if sub.docs().Contains(ord) {
			total += sub.score(ord)
		}
	}
	return total
}

type compiler struct {
	seg       Segment
	postings  map[parser.TermQuery]index.PostingList
	docFreq   map[parser.TermQuery]int
	totalDocs int
}

func (c *compiler) compile(q parser.Query) matcher {
	switch q := q.(type) {
	case *parser.TermQuery:
		postings := c.postings[*q]
		m := &termMatcher{
			set:    roaring.New(),
			freqs:  make(map[uint32]uint32, len(postings)),
			weight: ranker.IDF(c.totalDocs, c.docFreq[*q]),
		}
		for _, p := range postings {
			if c.seg.isDeleted(p.Doc) {
				continue
			}
			m.set.Add(p.Doc)
			m.freqs[p.Doc] = p.Frequency
		}
		return m
	case *parser.BooleanQuery:
		var must, should, mustNot []*roaring.Bitmap
		m := &boolMatcher{}
		for _, clause := range q.Clauses {
			sub := c.compile(clause.Query)
			switch clause.Occur {
			case parser.Must:
				must = append(must, sub.docs())
				m.scoring = append(m.scoring, sub)
			case parser.Should:
				should = append(should, sub.docs())
				m.scoring = append(m.scoring, sub)
			case parser.MustNot:
				mustNot = append(mustNot, sub.docs())
			}
		}
		switch {
		case len(must) > 0:
			m.set = roaring.FastAnd(must...)
		case len(should) > 0:
			m.set = roaring.FastOr(should...)
		default:
			m.set = roaring.New()
		}
		for _, excluded := range mustNot {
			m.set.AndNot(excluded)
		}
		return m
	default:
		return &boolMatcher{set: roaring.New()}
	}
}
