// Package index holds the writer's in-memory inverted index. A Buffer
// accumulates postings and stored fields until it is flushed as a segment.
package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
)

type termKey struct {
	field string
	term  string
}

// Buffer is the in-memory segment under construction. Ordinals are assigned
// in insertion order; deleted documents keep their ordinal until Snapshot
// renumbers the survivors.
type Buffer struct {
	mu       sync.RWMutex
	analyzer *analysis.Analyzer
	keyword  *analysis.Analyzer
	index    map[termKey]map[uint32]*Posting
	docs     []StoredDoc
	deleted  map[uint32]struct{}
	byID     map[string]uint32
	size     int64
}

func NewBuffer(analyzer *analysis.Analyzer) *Buffer {
	keyword, _ := analysis.Lookup(analysis.Keyword)
	return &Buffer{
		analyzer: analyzer,
		keyword:  keyword,
		index:    make(map[termKey]map[uint32]*Posting),
		deleted:  make(map[uint32]struct{}),
		byID:     make(map[string]uint32),
	}
}

// Add tokenizes every field of doc and buffers its postings and stored
// fields. The caller is responsible for id uniqueness.
func (b *Buffer) Add(doc document.Document) uint32 {
	termData := make(map[termKey]*Posting)
	collect := func(field string, tokens []analysis.Token) {
		for _, token := range tokens {
			key := termKey{field: field, term: token.Term}
			p, exists := termData[key]
			if !exists {
				p = &Posting{Positions: make([]uint32, 0, 4)}
				termData[key] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, uint32(token.Position))
		}
	}
	collect(document.IDField, b.keyword.Tokenize(doc.ID))
	for _, name := range doc.FieldNames() {
		collect(name, b.analyzer.Tokenize(doc.Fields[name]))
	}
	collect(document.FullTextField, b.analyzer.Tokenize(doc.FullText()))

	b.mu.Lock()
	defer b.mu.Unlock()

	ord := uint32(len(b.docs))
	stored := StoredDoc{ID: doc.ID, Fields: doc.Fields}
	b.docs = append(b.docs, stored)
	b.byID[doc.ID] = ord
	b.size += int64(len(doc.ID)) + 64
	for k, v := range doc.Fields {
		b.size += int64(len(k) + len(v))
	}
	for key, posting := range termData {
		posting.Doc = ord
		if _, exists := b.index[key]; !exists {
			b.index[key] = make(map[uint32]*Posting)
		}
		b.index[key][ord] = posting
		b.size += int64(len(key.field)+len(key.term)+len(posting.Positions)*4) + 48
	}
	return ord
}

// Delete marks the live document with the given id as deleted. It reports
// whether such a document was buffered.
func (b *Buffer) Delete(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ord, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	b.deleted[ord] = struct{}{}
	return true
}

func (b *Buffer) Contains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[id]
	return ok
}

// Search returns the live postings for a term, sorted by ordinal.
func (b *Buffer) Search(field, term string) PostingList {
	b.mu.RLock()
	defer b.mu.RUnlock()
	docs, exists := b.index[termKey{field: field, term: term}]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for ord, posting := range docs {
		if _, gone := b.deleted[ord]; gone {
			continue
		}
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Doc < result[j].Doc
	})
	return result
}

// Snapshot returns the buffered terms in dictionary order and the stored
// documents, with deleted documents removed and ordinals renumbered densely.
func (b *Buffer) Snapshot() ([]TermEntry, []StoredDoc) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	remap := make(map[uint32]uint32, len(b.docs))
	docs := make([]StoredDoc, 0, len(b.docs)-len(b.deleted))
	for ord, doc := range b.docs {
		if _, gone := b.deleted[uint32(ord)]; gone {
			continue
		}
		remap[uint32(ord)] = uint32(len(docs))
		docs = append(docs, doc)
	}

	entries := make([]TermEntry, 0, len(b.index))
	for key, postingsByDoc := range b.index {
		postings := make(PostingList, 0, len(postingsByDoc))
		for ord, posting := range postingsByDoc {
			newOrd, live := remap[ord]
			if !live {
				continue
			}
			p := *posting
			p.Doc = newOrd
			postings = append(postings, p)
		}
		if len(postings) == 0 {
			continue
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].Doc < postings[j].Doc
		})
		entries = append(entries, TermEntry{
			Field:    key.field,
			Term:     key.term,
			Postings: postings,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return Less(entries[i].Field, entries[i].Term, entries[j].Field, entries[j].Term)
	})
	return entries, docs
}

// Size is an estimate of the buffer's memory footprint in bytes.
func (b *Buffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// DocCount returns the number of live buffered documents.
func (b *Buffer) DocCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs) - len(b.deleted)
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = make(map[termKey]map[uint32]*Posting)
	b.docs = nil
	b.deleted = make(map[uint32]struct{})
	b.byID = make(map[string]uint32)
	b.size = 0
}
