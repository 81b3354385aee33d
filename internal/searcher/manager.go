package searcher

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
)

// Manager keeps a current Searcher for a long-running process and swaps in
// a fresh snapshot when the index publishes a new generation. Searchers
// handed out by Acquire stay valid until released, even across swaps.
type Manager struct {
	dir     string
	mu      sync.Mutex
	current *handle
	closed  bool
	refresh sync.Mutex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type handle struct {
	searcher *Searcher
	refs     int
	stale    bool
}

// NewManager opens the index at dir. An index that does not exist yet or
// has no segments is not an error: the manager starts empty and picks the
// index up on a later Refresh.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{
		dir:     dir,
		logger:  slog.Default().With("component", "searcher-manager", "index", dir),
		metrics: metrics.Get(),
	}
	if _, err := m.Refresh(); err != nil {
		if !notReady(err) {
			return nil, err
		}
		m.logger.Warn("index not ready yet, starting without a snapshot", "error", err)
	}
	return m, nil
}

func notReady(err error) bool {
	return errors.Is(err, apperrors.ErrNoSuchIndex) ||
		(errors.Is(err, apperrors.ErrIOFailure) && !errors.Is(err, apperrors.ErrCorruptSegment))
}

// Acquire returns the current searcher and a function releasing it.
func (m *Manager) Acquire() (*Searcher, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, apperrors.New(apperrors.ErrIOFailure, "acquire searcher", m.dir, "manager is closed")
	}
	if m.current == nil {
		return nil, nil, apperrors.New(apperrors.ErrNoSuchIndex, "acquire searcher", m.dir, "no snapshot available")
	}
	h := m.current
	h.refs++
	return h.searcher, func() { m.release(h) }, nil
}

func (m *Manager) release(h *handle) {
	m.mu.Lock()
	h.refs--
	closeNow := h.stale && h.refs == 0
	m.mu.Unlock()
	if closeNow {
		h.searcher.Close()
	}
}

// Ready reports whether a snapshot is available.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.closed
}

// Generation returns the generation of the current snapshot, 0 if none.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.searcher.Generation()
}

// Refresh opens a new snapshot if the manifest generation moved and swaps it
// in. It reports whether a swap happened.
func (m *Manager) Refresh() (bool, error) {
	m.refresh.Lock()
	defer m.refresh.Unlock()

	manifest, err := segment.ReadManifest(m.dir)
	if err != nil {
		m.metrics.SnapshotRefreshes.WithLabelValues("error").Inc()
		return false, err
	}
	if gen := m.Generation(); gen != 0 && gen == manifest.Generation {
		m.metrics.SnapshotRefreshes.WithLabelValues("unchanged").Inc()
		return false, nil
	}
	s, err := Open(m.dir)
	if err != nil {
		m.metrics.SnapshotRefreshes.WithLabelValues("error").Inc()
		return false, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return false, apperrors.New(apperrors.ErrIOFailure, "refresh searcher", m.dir, "manager is closed")
	}
	old := m.current
	m.current = &handle{searcher: s}
	closeOld := false
	if old != nil {
		old.stale = true
		closeOld = old.refs == 0
	}
	m.mu.Unlock()
	if closeOld {
		old.searcher.Close()
	}

	m.metrics.SnapshotRefreshes.WithLabelValues("swapped").Inc()
	m.logger.Info("searcher snapshot swapped", "generation", s.Generation())
	return true, nil
}

// Close closes the current snapshot once no caller holds it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h := m.current
	m.current = nil
	closeNow := false
	if h != nil {
		h.stale = true
		closeNow = h.refs == 0
	}
	m.mu.Unlock()
	if closeNow {
		return h.searcher.Close()
	}
	return nil
}
