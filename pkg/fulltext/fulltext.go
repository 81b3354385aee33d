// Package fulltext is the embedding API of segdex: open a writer, add
// documents, close it, then open a searcher and run queries. Writers and
// searchers are the internal types; this package only fixes the calling
// convention and result shape.
package fulltext

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
)

type (
	Writer   = indexer.Writer
	Searcher = searcher.Searcher
)

// Hit is one query result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// OpenIndexForWrite opens or creates the index at path with default
// settings and takes its write lock.
func OpenIndexForWrite(path string) (*Writer, error) {
	cfg := config.Default().Index
	cfg.DataDir = path
	return indexer.Open(cfg)
}

// OpenIndexForWriteWith is OpenIndexForWrite with explicit settings; cfg.DataDir
// names the index.
func OpenIndexForWriteWith(cfg config.IndexerConfig) (*Writer, error) {
	return indexer.Open(cfg)
}

// AddDocument indexes fields under fields["id"]. Every other key is an
// indexed and stored text field.
func AddDocument(w *Writer, fields map[string]string) error {
	doc, err := document.FromMap(fields)
	if err != nil {
		return err
	}
	return w.AddDocument(doc)
}

// DeleteDocument removes id from the index when the writer closes.
func DeleteDocument(w *Writer, id string) error {
	return w.DeleteDocument(id)
}

// CloseWriter publishes everything added since the writer was opened and
// releases the lock. The writer is closed even when publishing fails.
func CloseWriter(w *Writer) error {
	return w.Close()
}

// OpenIndexForRead takes a point-in-time snapshot of the index at path.
func OpenIndexForRead(path string) (*Searcher, error) {
	return searcher.Open(path)
}

// Query runs text against s and returns at most limit hits by descending
// score, ties broken by ascending id. limit <= 0 means 50.
func Query(s *Searcher, text string, limit int) ([]Hit, error) {
	return QueryContext(context.Background(), s, text, limit)
}

func QueryContext(ctx context.Context, s *Searcher, text string, limit int) ([]Hit, error) {
	res, err := s.Search(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(res.Results))
	for i, r := range res.Results {
		hits[i] = Hit{ID: r.DocID, Score: r.Score}
	}
	return hits, nil
}
