package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

// View is a read-only handle on an open segment. All methods are safe for
// concurrent use; the segment never changes after it is written.
type View struct {
	path      string
	info      Info
	dict      []DictEntry
	postings  *os.File
	postLen   int64
	docs      []index.StoredDoc
	ids       map[string]uint32
	closeOnce sync.Once
	closeErr  error
}

// Open opens the segment name under dir and verifies its structure: framing
// and checksums of every file, a strictly sorted dictionary whose postings
// ranges tile the postings body, and agreeing document counts. Any violation
// is reported as ErrCorruptSegment.
func Open(dir, name string) (*View, error) {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "open segment", path, err)
	}

	dictFile, dictHeader, err := openFile(filepath.Join(path, DictFile), MagicDict)
	if err != nil {
		return nil, err
	}
	dictBody, err := readBody(dictFile, dictHeader, path)
	dictFile.Close()
	if err != nil {
		return nil, err
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBody, &dict); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path, "parsing dictionary: %v", err)
	}
	if uint64(len(dict)) != dictHeader.Count {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path,
			"dictionary has %d entries, header says %d", len(dict), dictHeader.Count)
	}

	storedFile, storedHeader, err := openFile(filepath.Join(path, StoredFile), MagicStored)
	if err != nil {
		return nil, err
	}
	storedBody, err := readBody(storedFile, storedHeader, path)
	storedFile.Close()
	if err != nil {
		return nil, err
	}
	raw, err := decoder.DecodeAll(storedBody, nil)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path, "decompressing stored fields: %v", err)
	}
	var docs []index.StoredDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path, "parsing stored fields: %v", err)
	}
	if uint64(len(docs)) != storedHeader.Count || len(docs) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path,
			"stored fields hold %d documents, header says %d", len(docs), storedHeader.Count)
	}
	ids := make(map[string]uint32, len(docs))
	for ord, doc := range docs {
		if doc.ID == "" {
			return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path, "document %d has no id", ord)
		}
		if _, dup := ids[doc.ID]; dup {
			return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path, "duplicate document id %q", doc.ID)
		}
		ids[doc.ID] = uint32(ord)
	}

	postFile, postHeader, err := openFile(filepath.Join(path, PostingsFile), MagicPostings)
	if err != nil {
		return nil, err
	}
	if postHeader.Count != storedHeader.Count {
		postFile.Close()
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "open segment", path,
			"postings header counts %d documents, stored fields %d", postHeader.Count, storedHeader.Count)
	}
	if err := validateDict(dict, int64(postHeader.BodyLen), len(docs)); err != nil {
		postFile.Close()
		return nil, apperrors.Wrap(apperrors.ErrCorruptSegment, "open segment", path, err)
	}

	return &View{
		path: path,
		info: Info{
			Name:      name,
			DocCount:  len(docs),
			TermCount: len(dict),
			SizeBytes: int64(3*(HeaderSize+FooterSize)) + int64(dictHeader.BodyLen+storedHeader.BodyLen+postHeader.BodyLen),
			CreatedAt: time.Unix(0, dictHeader.CreatedAt).UTC(),
		},
		dict:     dict,
		postings: postFile,
		postLen:  int64(postHeader.BodyLen),
		docs:     docs,
		ids:      ids,
	}, nil
}

func validateDict(dict []DictEntry, postLen int64, docCount int) error {
	var next int64
	for i, e := range dict {
		if i > 0 && !index.Less(dict[i-1].Field, dict[i-1].Term, e.Field, e.Term) {
			return fmt.Errorf("term dictionary is not strictly sorted at %s:%q", e.Field, e.Term)
		}
		if e.Offset != next || e.Length <= 0 {
			return fmt.Errorf("postings ranges do not tile the postings file at %s:%q", e.Field, e.Term)
		}
		if e.DocFreq <= 0 || e.DocFreq > docCount {
			return fmt.Errorf("document frequency %d out of range at %s:%q", e.DocFreq, e.Field, e.Term)
		}
		next += e.Length
	}
	if next != postLen {
		return fmt.Errorf("dictionary covers %d postings bytes, file holds %d", next, postLen)
	}
	return nil
}

func (v *View) Name() string {
	return v.info.Name
}

func (v *View) Path() string {
	return v.path
}

func (v *View) Info() Info {
	return v.info
}

func (v *View) DocCount() int {
	return len(v.docs)
}

func (v *View) Terms() int {
	return len(v.dict)
}

func (v *View) find(field, term string) (DictEntry, bool) {
	idx := sort.Search(len(v.dict), func(i int) bool {
		return !index.Less(v.dict[i].Field, v.dict[i].Term, field, term)
	})
	if idx >= len(v.dict) || v.dict[idx].Field != field || v.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return v.dict[idx], true
}

// DocFreq returns the number of documents in the segment containing term,
// deleted documents included.
func (v *View) DocFreq(field, term string) int {
	e, ok := v.find(field, term)
	if !ok {
		return 0
	}
	return e.DocFreq
}

// Postings reads the postings list of a term. A term absent from the
// dictionary yields a nil list and no error.
func (v *View) Postings(field, term string) (index.PostingList, error) {
	e, ok := v.find(field, term)
	if !ok {
		return nil, nil
	}
	return v.readPostings(e)
}

func (v *View) readPostings(e DictEntry) (index.PostingList, error) {
	buf := make([]byte, e.Length)
	if _, err := v.postings.ReadAt(buf, int64(HeaderSize)+e.Offset); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "read postings", v.path, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "read postings", v.path,
			"parsing postings for %s:%q: %v", e.Field, e.Term, err)
	}
	if len(postings) != e.DocFreq {
		return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "read postings", v.path,
			"postings for %s:%q hold %d documents, dictionary says %d", e.Field, e.Term, len(postings), e.DocFreq)
	}
	for _, p := range postings {
		if int(p.Doc) >= len(v.docs) || p.Frequency == 0 {
			return nil, apperrors.Newf(apperrors.ErrCorruptSegment, "read postings", v.path,
				"invalid posting for %s:%q", e.Field, e.Term)
		}
	}
	return postings, nil
}

// ForEachTerm calls fn for every dictionary entry in order with its decoded
// postings.
func (v *View) ForEachTerm(fn func(field, term string, postings index.PostingList) error) error {
	for _, e := range v.dict {
		postings, err := v.readPostings(e)
		if err != nil {
			return err
		}
		if err := fn(e.Field, e.Term, postings); err != nil {
			return err
		}
	}
	return nil
}

// Doc returns the stored document with ordinal ord.
func (v *View) Doc(ord uint32) index.StoredDoc {
	return v.docs[ord]
}

func (v *View) Docs() []index.StoredDoc {
	return v.docs
}

// Lookup returns the ordinal of the document with the given id.
func (v *View) Lookup(id string) (uint32, bool) {
	ord, ok := v.ids[id]
	return ord, ok
}

// Close releases the postings file handle. It is idempotent.
func (v *View) Close() error {
	v.closeOnce.Do(func() {
		v.closeErr = v.postings.Close()
	})
	return v.closeErr
}
