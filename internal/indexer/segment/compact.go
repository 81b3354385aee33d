package segment

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/index"
)

// Live pairs an open segment with the ids tombstoned in it.
type Live struct {
	View    *View
	Deleted map[string]struct{}
}

type docRef struct {
	input int
	ord   uint32
}

type mergeKey struct {
	field string
	term  string
}

// Compact merges the live documents of inputs (ordered oldest to newest)
// into a single new segment. Tombstoned documents are dropped and when an id
// is live in more than one input only the newest copy survives. The inputs
// are only read, so concurrent searches over them stay valid. It returns nil
// when no live document remains.
func Compact(dir, name string, inputs []Live) (*Info, error) {
	keep := make(map[string]struct{})
	winners := make(map[docRef]struct{})
	for i := len(inputs) - 1; i >= 0; i-- {
		in := inputs[i]
		for ord, doc := range in.View.Docs() {
			if _, gone := in.Deleted[doc.ID]; gone {
				continue
			}
			if _, seen := keep[doc.ID]; seen {
				continue
			}
			keep[doc.ID] = struct{}{}
			winners[docRef{input: i, ord: uint32(ord)}] = struct{}{}
		}
	}
	if len(winners) == 0 {
		return nil, nil
	}

	remap := make(map[docRef]uint32, len(winners))
	docs := make([]index.StoredDoc, 0, len(winners))
	for i, in := range inputs {
		for ord, doc := range in.View.Docs() {
			ref := docRef{input: i, ord: uint32(ord)}
			if _, ok := winners[ref]; !ok {
				continue
			}
			remap[ref] = uint32(len(docs))
			docs = append(docs, doc)
		}
	}

	merged := make(map[mergeKey]index.PostingList)
	for i, in := range inputs {
		err := in.View.ForEachTerm(func(field, term string, postings index.PostingList) error {
			key := mergeKey{field: field, term: term}
			for _, p := range postings {
				newOrd, ok := remap[docRef{input: i, ord: p.Doc}]
				if !ok {
					continue
				}
				p.Doc = newOrd
				merged[key] = append(merged[key], p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	entries := make([]index.TermEntry, 0, len(merged))
	for key, postings := range merged {
		sort.Slice(postings, func(a, b int) bool {
			return postings[a].Doc < postings[b].Doc
		})
		entries = append(entries, index.TermEntry{Field: key.field, Term: key.term, Postings: postings})
	}
	sort.Slice(entries, func(a, b int) bool {
		return index.Less(entries[a].Field, entries[a].Term, entries[b].Field, entries[b].Term)
	})

	info, err := Create(dir, name, entries, docs)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
