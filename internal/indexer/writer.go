// Package indexer implements the index writer: the single owner of an
// index's write lock, its in-memory buffer and the creation of segments.
package indexer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
)

type state int

const (
	stateClosed state = iota
	stateOpen
)

// sessionSegment is a segment flushed by this writer but not yet published.
type sessionSegment struct {
	info    segment.Info
	ids     map[string]struct{}
	deleted map[string]struct{}
}

// CompactStats summarises one compaction.
type CompactStats struct {
	Merged   int
	Segment  string
	LiveDocs int
}

// Writer adds documents to one index. It moves through Closed -> Open ->
// Closed exactly once: Open takes the index lock, Close publishes everything
// buffered as a new manifest generation and releases it. Nothing a writer
// does is visible to searchers before Close returns successfully.
type Writer struct {
	mu       sync.Mutex
	state    state
	dir      string
	cfg      config.IndexerConfig
	analyzer *analysis.Analyzer
	lock     *segment.Lock
	store    *segment.Store
	manifest *segment.Manifest
	existed  bool
	changed  bool

	buffer         *index.Buffer
	session        []*sessionSegment
	sessionIDs     map[string]struct{}
	pendingDeletes map[string]struct{}
	publishedIDs   map[string]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Open opens the index at cfg.DataDir for writing, creating it if needed. It
// fails with ErrLockHeld without waiting if another writer holds the index.
func Open(cfg config.IndexerConfig) (*Writer, error) {
	dir := cfg.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "open writer", dir, err)
	}
	lock, err := segment.AcquireLock(dir)
	if err != nil {
		return nil, err
	}
	w, err := open(dir, cfg, lock)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	return w, nil
}

func open(dir string, cfg config.IndexerConfig, lock *segment.Lock) (*Writer, error) {
	logger := slog.Default().With("component", "index-writer", "index", dir)
	existed := true
	manifest, err := segment.ReadManifest(dir)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNoSuchIndex) {
			return nil, err
		}
		existed = false
		manifest = segment.NewManifest(cfg.Analyzer)
	}
	if manifest.Analyzer == "" {
		manifest.Analyzer = analysis.Standard
	}
	if cfg.Analyzer != "" && cfg.Analyzer != manifest.Analyzer {
		logger.Warn("index was built with a different analyzer, keeping it",
			"configured", cfg.Analyzer,
			"index", manifest.Analyzer,
		)
	}
	analyzer, err := analysis.Lookup(manifest.Analyzer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "open writer", dir, err)
	}
	store, err := segment.StoreFor(dir)
	if err != nil {
		return nil, err
	}
	if _, err := store.Sweep(manifest); err != nil {
		return nil, err
	}

	w := &Writer{
		state:          stateOpen,
		dir:            dir,
		cfg:            cfg,
		analyzer:       analyzer,
		lock:           lock,
		store:          store,
		manifest:       manifest,
		existed:        existed,
		buffer:         index.NewBuffer(analyzer),
		sessionIDs:     make(map[string]struct{}),
		pendingDeletes: make(map[string]struct{}),
		logger:         logger,
		metrics:        metrics.Get(),
	}
	if cfg.DedupeAcrossSessions {
		if err := w.loadPublishedIDs(); err != nil {
			return nil, err
		}
	}
	logger.Info("index writer opened",
		"generation", manifest.Generation,
		"segments", len(manifest.Segments),
		"analyzer", analyzer.Name(),
	)
	return w, nil
}

func (w *Writer) loadPublishedIDs() error {
	w.publishedIDs = make(map[string]struct{})
	for _, meta := range w.manifest.Segments {
		view, err := w.store.Acquire(meta.Name)
		if err != nil {
			return err
		}
		deleted := meta.DeletedSet()
		for _, doc := range view.Docs() {
			if _, gone := deleted[doc.ID]; !gone {
				w.publishedIDs[doc.ID] = struct{}{}
			}
		}
		w.store.Release(meta.Name)
	}
	return nil
}

func (w *Writer) Path() string {
	return w.dir
}

func (w *Writer) Analyzer() *analysis.Analyzer {
	return w.analyzer
}

// BufferedDocs returns the number of live documents in the memory buffer.
func (w *Writer) BufferedDocs() int {
	return w.buffer.DocCount()
}

func (w *Writer) checkOpen(op string) error {
	if w.state != stateOpen {
		return apperrors.New(apperrors.ErrWriterClosed, op, w.dir, "writer is not open")
	}
	return nil
}

// AddDocument buffers doc. It fails with ErrInvalidDocument when the id is
// missing or was already added during this session, and with ErrIOFailure
// if an automatic flush fails, in which case the writer is closed.
func (w *Writer) AddDocument(doc document.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("add document"); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if _, dup := w.sessionIDs[doc.ID]; dup {
		return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", w.dir,
			"duplicate document id %q", doc.ID)
	}
	if w.publishedIDs != nil {
		_, published := w.publishedIDs[doc.ID]
		_, deleted := w.pendingDeletes[doc.ID]
		if published && !deleted {
			return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", w.dir,
				"document id %q already exists in the index", doc.ID)
		}
	}

	w.buffer.Add(doc)
	w.sessionIDs[doc.ID] = struct{}{}
	w.changed = true
	w.metrics.DocsIndexedTotal.Inc()

	if w.cfg.RAMBufferSize > 0 && w.buffer.Size() >= w.cfg.RAMBufferSize {
		w.logger.Info("memory buffer reached max size, flushing",
			"size", w.buffer.Size(),
			"threshold", w.cfg.RAMBufferSize,
		)
		if err := w.flush(); err != nil {
			w.abort()
			return err
		}
	}
	return nil
}

// DeleteDocument tombstones every document with the given id: in the buffer,
// in segments flushed by this session and, at Close, in published segments.
func (w *Writer) DeleteDocument(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("delete document"); err != nil {
		return err
	}
	if id == "" {
		return apperrors.New(apperrors.ErrInvalidDocument, "delete document", w.dir, "empty id")
	}
	if !utf8.ValidString(id) {
		return apperrors.Newf(apperrors.ErrInvalidDocument, "delete document", w.dir, "id %q is not valid UTF-8", id)
	}
	w.deleteLocked(id)
	return nil
}

func (w *Writer) deleteLocked(id string) {
	w.buffer.Delete(id)
	for _, seg := range w.session {
		if _, ok := seg.ids[id]; ok {
			seg.deleted[id] = struct{}{}
		}
	}
	delete(w.sessionIDs, id)
	w.pendingDeletes[id] = struct{}{}
	w.changed = true
	w.metrics.DocsDeletedTotal.Inc()
}

// UpdateDocument replaces every document carrying doc's id with doc.
func (w *Writer) UpdateDocument(doc document.Document) error {
	w.mu.Lock()
	if err := w.checkOpen("update document"); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := doc.Validate(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.deleteLocked(doc.ID)
	w.mu.Unlock()
	return w.AddDocument(doc)
}

// flush writes the buffer as an unpublished session segment.
func (w *Writer) flush() error {
	entries, docs := w.buffer.Snapshot()
	if len(docs) == 0 {
		w.buffer.Reset()
		return nil
	}
	name := w.manifest.NextName()
	info, err := segment.Create(w.dir, name, entries, docs)
	if err != nil {
		w.metrics.IndexFlushesTotal.WithLabelValues("error").Inc()
		return err
	}
	ids := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		ids[d.ID] = struct{}{}
	}
	w.session = append(w.session, &sessionSegment{
		info:    info,
		ids:     ids,
		deleted: make(map[string]struct{}),
	})
	w.buffer.Reset()
	w.metrics.IndexFlushesTotal.WithLabelValues("success").Inc()
	w.logger.Info("segment flushed",
		"segment", name,
		"terms", info.TermCount,
		"docs", info.DocCount,
		"session_segments", len(w.session),
	)
	return nil
}

// Compact merges every published segment into one, dropping tombstoned
// documents, and publishes the result immediately as a new generation.
// Session segments and pending deletes are not touched; they are published
// by Close on top of the compacted segment.
func (w *Writer) Compact(ctx context.Context) (CompactStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("compact"); err != nil {
		return CompactStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return CompactStats{}, err
	}

	segs := w.manifest.Segments
	tombstones := 0
	for _, s := range segs {
		tombstones += len(s.Deleted)
	}
	if len(segs) < 2 && tombstones == 0 {
		return CompactStats{Merged: 0, LiveDocs: w.manifest.LiveDocs()}, nil
	}

	start := time.Now()
	inputs := make([]segment.Live, 0, len(segs))
	defer func() {
		for _, in := range inputs {
			w.store.Release(in.View.Name())
		}
	}()
	for _, meta := range segs {
		view, err := w.store.Acquire(meta.Name)
		if err != nil {
			w.metrics.CompactionsTotal.WithLabelValues("error").Inc()
			return CompactStats{}, err
		}
		inputs = append(inputs, segment.Live{View: view, Deleted: meta.DeletedSet()})
	}

	next := w.manifest.Clone()
	name := next.NextName()
	info, err := segment.Compact(w.dir, name, inputs)
	if err != nil {
		w.metrics.CompactionsTotal.WithLabelValues("error").Inc()
		return CompactStats{}, err
	}
	next.Segments = nil
	stats := CompactStats{Merged: len(segs)}
	if info != nil {
		next.Segments = []segment.SegmentMeta{{Name: info.Name, DocCount: info.DocCount, CreatedAt: info.CreatedAt}}
		stats.Segment = info.Name
		stats.LiveDocs = info.DocCount
	}
	next.Generation++
	if err := segment.WriteManifest(w.dir, next); err != nil {
		if info != nil {
			_ = os.RemoveAll(filepath.Join(w.dir, info.Name))
		}
		w.metrics.CompactionsTotal.WithLabelValues("error").Inc()
		return CompactStats{}, err
	}
	retired := w.manifest.Names()
	w.manifest = next
	w.existed = true
	w.store.Retire(retired...)

	w.metrics.CompactionsTotal.WithLabelValues("success").Inc()
	w.metrics.SegmentsLive.Set(float64(len(next.Segments)))
	w.logger.Info("segments compacted",
		"merged", len(retired),
		"segment", stats.Segment,
		"live_docs", stats.LiveDocs,
		"generation", next.Generation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// Close flushes the buffer, resolves pending deletes against published
// segments, publishes the new manifest and releases the lock. On failure the
// writer is closed anyway, the lock is released and unpublished documents
// are lost.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("close writer"); err != nil {
		return err
	}
	if err := w.publish(); err != nil {
		w.metrics.IndexFlushesTotal.WithLabelValues("error").Inc()
		w.abort()
		return apperrors.Wrap(apperrors.ErrIOFailure, "close writer", w.dir, err)
	}
	w.state = stateClosed
	if err := w.lock.Release(); err != nil {
		w.logger.Error("releasing write lock", "error", err)
		return err
	}
	w.logger.Info("index writer closed", "generation", w.manifest.Generation)
	return nil
}

func (w *Writer) publish() error {
	if err := w.flush(); err != nil {
		return err
	}
	if !w.changed && w.existed {
		return nil
	}

	next := w.manifest.Clone()
	var retired []string
	kept := next.Segments[:0]
	for _, meta := range next.Segments {
		if len(w.pendingDeletes) > 0 {
			if err := w.resolveDeletes(&meta); err != nil {
				return err
			}
		}
		if meta.LiveDocs() <= 0 {
			retired = append(retired, meta.Name)
			continue
		}
		kept = append(kept, meta)
	}
	next.Segments = kept
	for _, seg := range w.session {
		if len(seg.deleted) == seg.info.DocCount {
			retired = append(retired, seg.info.Name)
			continue
		}
		meta := segment.SegmentMeta{
			Name:      seg.info.Name,
			DocCount:  seg.info.DocCount,
			CreatedAt: seg.info.CreatedAt,
		}
		for id := range seg.deleted {
			meta.Deleted = append(meta.Deleted, id)
		}
		next.Segments = append(next.Segments, meta)
	}
	next.Generation++
	if err := segment.WriteManifest(w.dir, next); err != nil {
		return err
	}
	w.manifest = next
	w.session = nil
	w.store.Retire(retired...)
	w.metrics.SegmentsLive.Set(float64(len(next.Segments)))
	w.logger.Info("manifest published",
		"generation", next.Generation,
		"segments", len(next.Segments),
		"live_docs", next.LiveDocs(),
	)
	return nil
}

func (w *Writer) resolveDeletes(meta *segment.SegmentMeta) error {
	view, err := w.store.Acquire(meta.Name)
	if err != nil {
		return err
	}
	defer w.store.Release(meta.Name)
	deleted := meta.DeletedSet()
	for id := range w.pendingDeletes {
		if _, ok := view.Lookup(id); ok {
			if _, already := deleted[id]; !already {
				meta.Deleted = append(meta.Deleted, id)
				deleted[id] = struct{}{}
			}
		}
	}
	return nil
}

// abort closes a writer after a failed flush or publish: unpublished session
// segments are removed and the lock is released best-effort.
func (w *Writer) abort() {
	w.state = stateClosed
	for _, seg := range w.session {
		if err := os.RemoveAll(filepath.Join(w.dir, seg.info.Name)); err != nil {
			w.logger.Warn("removing unpublished segment", "segment", seg.info.Name, "error", err)
		}
	}
	w.session = nil
	w.buffer.Reset()
	if err := w.lock.Release(); err != nil {
		w.logger.Warn("releasing write lock after failure", "error", err)
	}
	w.logger.Error("index writer aborted, buffered documents discarded")
}
