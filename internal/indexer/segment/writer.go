package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

// DictEntry maps a term to its postings offset, length and document
// frequency within the postings body.
type DictEntry struct {
	Field   string `json:"f"`
	Term    string `json:"t"`
	Offset  int64  `json:"o"`
	Length  int64  `json:"l"`
	DocFreq int    `json:"d"`
}

// Info describes a written segment.
type Info struct {
	Name      string
	DocCount  int
	TermCount int
	SizeBytes int64
	CreatedAt time.Time
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Create writes an immutable segment named name under dir. Files are written
// into a temporary directory which is fsynced and renamed into place, so a
// failed or interrupted write never leaves a visible segment behind.
func Create(dir, name string, entries []index.TermEntry, docs []index.StoredDoc) (Info, error) {
	finalPath := filepath.Join(dir, name)
	if len(docs) == 0 {
		return Info{}, apperrors.New(apperrors.ErrIOFailure, "create segment", finalPath, "cannot write empty segment")
	}
	tmpPath := finalPath + tmpSuffix
	info, err := create(tmpPath, name, entries, docs)
	if err == nil {
		err = publishDir(dir, tmpPath, finalPath)
	}
	if err != nil {
		_ = os.RemoveAll(tmpPath)
		return Info{}, apperrors.Wrap(apperrors.ErrIOFailure, "create segment", finalPath, err)
	}
	return info, nil
}

func create(tmpPath, name string, entries []index.TermEntry, docs []index.StoredDoc) (Info, error) {
	if err := os.RemoveAll(tmpPath); err != nil {
		return Info{}, fmt.Errorf("clearing temp segment directory: %w", err)
	}
	if err := os.MkdirAll(tmpPath, 0o755); err != nil {
		return Info{}, fmt.Errorf("creating temp segment directory: %w", err)
	}
	createdAt := time.Now().UTC()
	header := fileHeader{CreatedAt: createdAt.UnixNano()}

	var postings []byte
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return Info{}, fmt.Errorf("marshaling postings for term %s:%q: %w", entry.Field, entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Field:   entry.Field,
			Term:    entry.Term,
			Offset:  int64(len(postings)),
			Length:  int64(len(data)),
			DocFreq: len(entry.Postings),
		})
		postings = append(postings, data...)
	}
	dictData, err := json.Marshal(dict)
	if err != nil {
		return Info{}, fmt.Errorf("marshaling dictionary: %w", err)
	}
	storedData, err := json.Marshal(docs)
	if err != nil {
		return Info{}, fmt.Errorf("marshaling stored fields: %w", err)
	}
	storedData = encoder.EncodeAll(storedData, nil)

	var total int64
	files := []struct {
		name  string
		magic uint32
		count int
		body  []byte
	}{
		{PostingsFile, MagicPostings, len(docs), postings},
		{DictFile, MagicDict, len(dict), dictData},
		{StoredFile, MagicStored, len(docs), storedData},
	}
	for _, file := range files {
		h := header
		h.Magic = file.magic
		h.Count = uint64(file.count)
		n, err := writeFile(filepath.Join(tmpPath, file.name), h, file.body)
		if err != nil {
			return Info{}, err
		}
		total += n
	}
	return Info{
		Name:      name,
		DocCount:  len(docs),
		TermCount: len(dict),
		SizeBytes: total,
		CreatedAt: createdAt,
	}, nil
}

func publishDir(dir, tmpPath, finalPath string) error {
	if err := syncDir(tmpPath); err != nil {
		return fmt.Errorf("syncing temp segment directory: %w", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		return fmt.Errorf("segment %s already exists", filepath.Base(finalPath))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming segment directory: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("syncing index directory: %w", err)
	}
	return nil
}
