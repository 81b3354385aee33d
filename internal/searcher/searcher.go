// Package searcher opens read-only snapshots of an index and runs queries
// against them. A Searcher sees the segments listed in the manifest at the
// moment it was opened and nothing written afterwards.
package searcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

const maxOpenAttempts = 5

type Searcher struct {
	dir      string
	store    *segment.Store
	manifest *segment.Manifest
	analyzer *analysis.Analyzer
	segments []executor.Segment
	exec     *executor.Executor
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// SegmentStats describes one segment of a snapshot.
type SegmentStats struct {
	Name      string `json:"name"`
	Docs      int    `json:"docs"`
	Deleted   int    `json:"deleted"`
	Terms     int    `json:"terms"`
	SizeBytes int64  `json:"size_bytes"`
}

type Stats struct {
	Path       string         `json:"path"`
	Generation uint64         `json:"generation"`
	Analyzer   string         `json:"analyzer"`
	LiveDocs   int            `json:"live_docs"`
	Segments   []SegmentStats `json:"segments"`
}

// Open takes a snapshot of the index at dir. It fails with ErrNoSuchIndex
// when there is no index, ErrIOFailure when the index has no segments or
// cannot be read and ErrCorruptSegment when any segment is corrupt. If a
// compaction retires a segment while the snapshot is being assembled the
// manifest is read again.
func Open(dir string) (*Searcher, error) {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, apperrors.Wrap(apperrors.ErrNoSuchIndex, "open searcher", dir, err)
	case err != nil:
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "open searcher", dir, err)
	case !st.IsDir():
		return nil, apperrors.New(apperrors.ErrIOFailure, "open searcher", dir, "not a directory")
	}
	store, err := segment.StoreFor(dir)
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "searcher", "index", dir)

	var lastErr error
	for attempt := 0; attempt < maxOpenAttempts; attempt++ {
		m, err := segment.ReadManifest(dir)
		if err != nil {
			return nil, err
		}
		if len(m.Segments) == 0 {
			return nil, apperrors.New(apperrors.ErrIOFailure, "open searcher", dir, "index has no segments")
		}
		s, err := openSnapshot(dir, store, m, logger)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, segment.ErrRetired) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Debug("segment vanished while opening snapshot, retrying", "attempt", attempt+1, "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func openSnapshot(dir string, store *segment.Store, m *segment.Manifest, logger *slog.Logger) (*Searcher, error) {
	analyzer, err := analysis.Lookup(m.Analyzer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "open searcher", dir, err)
	}
	views := make([]*segment.View, 0, len(m.Segments))
	for _, meta := range m.Segments {
		v, err := store.Acquire(meta.Name)
		if err != nil {
			for _, acquired := range views {
				store.Release(acquired.Name())
			}
			return nil, err
		}
		views = append(views, v)
	}

	// Newest segment wins when an id is live in more than one.
	segs := make([]executor.Segment, len(views))
	seen := make(map[string]struct{})
	for i := len(views) - 1; i >= 0; i-- {
		hidden := roaring.New()
		deleted := m.Segments[i].DeletedSet()
		for ord, doc := range views[i].Docs() {
			if _, gone := deleted[doc.ID]; gone {
				hidden.Add(uint32(ord))
				continue
			}
			if _, shadowed := seen[doc.ID]; shadowed {
				hidden.Add(uint32(ord))
				continue
			}
			seen[doc.ID] = struct{}{}
		}
		segs[i] = executor.Segment{View: views[i], Deleted: hidden}
	}

	logger.Debug("snapshot opened",
		"generation", m.Generation,
		"segments", len(segs),
		"live_docs", len(seen),
	)
	return &Searcher{
		dir:      dir,
		store:    store,
		manifest: m,
		analyzer: analyzer,
		segments: segs,
		exec:     executor.New(),
		logger:   logger,
	}, nil
}

// Close releases the snapshot's segments. It is idempotent.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, seg := range s.segments {
		s.store.Release(seg.View.Name())
	}
	return nil
}

func (s *Searcher) Path() string {
	return s.dir
}

func (s *Searcher) Generation() uint64 {
	return s.manifest.Generation
}

func (s *Searcher) Analyzer() *analysis.Analyzer {
	return s.analyzer
}

// Parse parses text with the analyzer the index was built with.
func (s *Searcher) Parse(text string) (parser.Query, error) {
	return parser.Parse(text, s.analyzer)
}

// Search parses and executes text. See Execute.
func (s *Searcher) Search(ctx context.Context, text string, limit int) (*executor.SearchResult, error) {
	q, err := s.Parse(text)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, q, limit)
}

// Execute runs q over the snapshot and returns at most limit results by
// descending score, ties broken by ascending id. No match is an empty
// result, not an error.
func (s *Searcher) Execute(ctx context.Context, q parser.Query, limit int) (*executor.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.New(apperrors.ErrIOFailure, "search", s.dir, "searcher is closed")
	}
	return s.exec.Execute(ctx, q, s.segments, limit)
}

// Document returns the stored fields, id included, of the live document
// with the given id.
func (s *Searcher) Document(id string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}
	for i := len(s.segments) - 1; i >= 0; i-- {
		seg := s.segments[i]
		ord, ok := seg.View.Lookup(id)
		if !ok || seg.Deleted.Contains(ord) {
			continue
		}
		doc := seg.View.Doc(ord)
		fields := make(map[string]string, len(doc.Fields)+1)
		for k, v := range doc.Fields {
			fields[k] = v
		}
		fields[document.IDField] = doc.ID
		return fields, true
	}
	return nil, false
}

func (s *Searcher) Stats() Stats {
	stats := Stats{
		Path:       s.dir,
		Generation: s.manifest.Generation,
		Analyzer:   s.analyzer.Name(),
		Segments:   make([]SegmentStats, 0, len(s.segments)),
	}
	for _, seg := range s.segments {
		info := seg.View.Info()
		live := seg.LiveDocs()
		stats.LiveDocs += live
		stats.Segments = append(stats.Segments, SegmentStats{
			Name:      info.Name,
			Docs:      info.DocCount,
			Deleted:   info.DocCount - live,
			Terms:     info.TermCount,
			SizeBytes: info.SizeBytes,
		})
	}
	return stats
}
