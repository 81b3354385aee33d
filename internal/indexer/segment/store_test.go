package segment

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreForIsSharedPerPath(t *testing.T) {
	dir := t.TempDir()
	a, err := StoreFor(dir)
	require.NoError(t, err)
	b, err := StoreFor(filepath.Join(dir, "."))
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestStoreAcquireSharesViews(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, SegmentName(1), map[string]string{"id": "1", "text": "shared"})
	s, err := StoreFor(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	views := make([]*View, 8)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.Acquire(SegmentName(1))
			assert.NoError(t, err)
			views[i] = v
		}(i)
	}
	wg.Wait()
	for _, v := range views[1:] {
		assert.Same(t, views[0], v)
	}
	assert.Equal(t, 8, s.Refs(SegmentName(1)))
	for range views {
		s.Release(SegmentName(1))
	}
	assert.Zero(t, s.Refs(SegmentName(1)))
}

func TestStoreRetireDefersDeletion(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, SegmentName(1), map[string]string{"id": "1", "text": "doomed"})
	s, err := StoreFor(dir)
	require.NoError(t, err)

	v, err := s.Acquire(SegmentName(1))
	require.NoError(t, err)

	s.Retire(SegmentName(1))
	assert.DirExists(t, filepath.Join(dir, SegmentName(1)), "referenced segment must survive retirement")

	postings, err := v.Postings("fulltext", "doomed")
	require.NoError(t, err)
	assert.Len(t, postings, 1)

	_, err = s.Acquire(SegmentName(1))
	assert.True(t, errors.Is(err, ErrRetired))

	s.Release(SegmentName(1))
	assert.NoDirExists(t, filepath.Join(dir, SegmentName(1)))
}

func TestStoreRetireUnreferencedDeletesNow(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, SegmentName(1), map[string]string{"id": "1", "text": "x"})
	s, err := StoreFor(dir)
	require.NoError(t, err)

	s.Retire(SegmentName(1))
	assert.NoDirExists(t, filepath.Join(dir, SegmentName(1)))
}

func TestStoreAcquireFailureIsNotCached(t *testing.T) {
	dir := t.TempDir()
	s, err := StoreFor(dir)
	require.NoError(t, err)

	_, err = s.Acquire(SegmentName(1))
	require.Error(t, err)
	assert.Zero(t, s.Refs(SegmentName(1)))

	buildSegment(t, dir, SegmentName(1), map[string]string{"id": "1", "text": "late"})
	v, err := s.Acquire(SegmentName(1))
	require.NoError(t, err)
	assert.Equal(t, 1, v.DocCount())
	s.Release(SegmentName(1))
}

func TestStoreSweep(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, SegmentName(1), map[string]string{"id": "1", "text": "live"})
	buildSegment(t, dir, SegmentName(2), map[string]string{"id": "2", "text": "orphan"})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, SegmentName(3)+tmpSuffix), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	m := NewManifest("standard")
	m.Segments = []SegmentMeta{{Name: SegmentName(1), DocCount: 1}}

	s, err := StoreFor(dir)
	require.NoError(t, err)
	removed, err := s.Sweep(m)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{SegmentName(2), SegmentName(3) + tmpSuffix}, removed)
	assert.DirExists(t, filepath.Join(dir, SegmentName(1)))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}
