package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

// ErrRetired is returned when acquiring a segment that a compaction has
// already replaced. Readers should re-read the manifest and retry.
var ErrRetired = errors.New("segment retired")

var (
	storesMu sync.Mutex
	stores   = make(map[string]*Store)
)

// Store shares open segment views between every writer and searcher of one
// index in this process. Views are reference counted; a retired segment is
// removed from disk once its last reference is released.
type Store struct {
	dir     string
	mu      sync.Mutex
	entries map[string]*storeEntry
	logger  *slog.Logger
}

type storeEntry struct {
	view    *View
	err     error
	ready   chan struct{}
	refs    int
	retired bool
}

// StoreFor returns the process-wide store of the index at dir.
func StoreFor(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "resolve index path", dir, err)
	}
	storesMu.Lock()
	defer storesMu.Unlock()
	s, ok := stores[abs]
	if !ok {
		s = &Store{
			dir:     abs,
			entries: make(map[string]*storeEntry),
			logger:  slog.Default().With("component", "segment-store", "index", abs),
		}
		stores[abs] = s
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Acquire returns a view of segment name and takes a reference on it. The
// segment is opened outside the store mutex; concurrent acquirers of the same
// segment wait for the single open in flight.
func (s *Store) Acquire(name string) (*View, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		if e.retired {
			s.mu.Unlock()
			return nil, apperrors.Wrap(apperrors.ErrIOFailure, "acquire segment", filepath.Join(s.dir, name), ErrRetired)
		}
		e.refs++
		s.mu.Unlock()
		<-e.ready
		if e.err != nil {
			err := e.err
			s.Release(name)
			return nil, err
		}
		return e.view, nil
	}
	e = &storeEntry{refs: 1, ready: make(chan struct{})}
	s.entries[name] = e
	s.mu.Unlock()

	view, err := Open(s.dir, name)

	s.mu.Lock()
	e.view, e.err = view, err
	close(e.ready)
	s.mu.Unlock()

	if err != nil {
		s.Release(name)
		return nil, err
	}
	return view, nil
}

// Release drops one reference on segment name. The view is closed when the
// last reference goes, and the segment directory is deleted if it was
// retired in the meantime.
func (s *Store) Release(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.entries, name)
	s.mu.Unlock()

	if e.view != nil {
		if err := e.view.Close(); err != nil {
			s.logger.Warn("closing segment view", "segment", name, "error", err)
		}
	}
	if e.retired {
		s.remove(name)
	}
}

// Retire marks segments as no longer listed in the manifest. Segments
// nobody references are deleted immediately, the rest on their last release.
func (s *Store) Retire(names ...string) {
	var now []string
	s.mu.Lock()
	for _, name := range names {
		if e, ok := s.entries[name]; ok {
			e.retired = true
			continue
		}
		now = append(now, name)
	}
	s.mu.Unlock()
	for _, name := range now {
		s.remove(name)
	}
}

func (s *Store) remove(name string) {
	if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
		s.logger.Error("removing retired segment", "segment", name, "error", err)
		return
	}
	s.logger.Info("retired segment removed", "segment", name)
}

// Refs returns the number of references currently held on segment name.
func (s *Store) Refs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		return e.refs
	}
	return 0
}

// Sweep deletes segment and temporary directories that the manifest does not
// list and nobody references: leftovers of crashed writers, failed closes and
// retirements interrupted by a process exit. Only the lock holder may sweep.
func (s *Store) Sweep(m *Manifest) ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "sweep index", s.dir, err)
	}
	live := make(map[string]struct{}, len(m.Segments))
	for _, seg := range m.Segments {
		live[seg.Name] = struct{}{}
	}

	var removed []string
	for _, de := range dirEntries {
		name := de.Name()
		orphan := false
		switch {
		case name == ManifestFile+tmpSuffix:
			orphan = true
		case de.IsDir() && strings.HasPrefix(name, "seg_"):
			base := strings.TrimSuffix(name, tmpSuffix)
			_, listed := live[base]
			orphan = !listed || base != name
		}
		if !orphan || s.Refs(name) > 0 {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			return removed, apperrors.Wrap(apperrors.ErrIOFailure, "sweep index", s.dir, fmt.Errorf("removing %s: %w", name, err))
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		s.logger.Info("swept orphan segment files", "removed", removed)
	}
	return removed, nil
}
