package searcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

func indexConfig(dir string) config.IndexerConfig {
	cfg := config.Default().Index
	cfg.DataDir = dir
	return cfg
}

// writeSession opens a writer, adds docs (id -> text) and closes it.
func writeSession(t *testing.T, dir string, docs ...[2]string) {
	t.Helper()
	w, err := indexer.Open(indexConfig(dir))
	require.NoError(t, err)
	for _, d := range docs {
		require.NoError(t, w.AddDocument(document.Document{ID: d[0], Fields: map[string]string{"text": d[1]}}))
	}
	require.NoError(t, w.Close())
}

func search(t *testing.T, s *Searcher, q string, limit int) []ranker.ScoredDoc {
	t.Helper()
	res, err := s.Search(context.Background(), q, limit)
	require.NoError(t, err)
	return res.Results
}

func ids(docs []ranker.ScoredDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.DocID
	}
	return out
}

func openSearcher(t *testing.T, dir string) *Searcher {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFoxAndDog(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "the quick fox"}, [2]string{"2", "the lazy dog"})
	s := openSearcher(t, dir)

	fox := search(t, s, "fox", 10)
	require.Len(t, fox, 1)
	assert.Equal(t, "1", fox[0].DocID)
	assert.Greater(t, fox[0].Score, 0.0)
	assert.Equal(t, 1.4055, fox[0].Score)

	the := search(t, s, "the", 10)
	require.Len(t, the, 2)
	assert.Equal(t, []string{"1", "2"}, ids(the))
	assert.Equal(t, the[0].Score, the[1].Score)
}

func TestRoundTripByID(t *testing.T) {
	dir := t.TempDir()
	var docs [][2]string
	for i := 0; i < 20; i++ {
		docs = append(docs, [2]string{fmt.Sprintf("doc-%02d", i), fmt.Sprintf("document number %d", i)})
	}
	writeSession(t, dir, docs...)
	s := openSearcher(t, dir)

	for _, d := range docs {
		got := search(t, s, "id:"+d[0], 10)
		assert.Equal(t, []string{d[0]}, ids(got))
		fields, ok := s.Document(d[0])
		require.True(t, ok)
		assert.Equal(t, d[1], fields["text"])
		assert.Equal(t, d[0], fields[document.IDField])
	}
	_, ok := s.Document("missing")
	assert.False(t, ok)
}

func TestResultsAreOrdered(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir,
		[2]string{"e", "search search search engine"},
		[2]string{"d", "search engine"},
		[2]string{"c", "engine"},
		[2]string{"b", "search"},
	)
	writeSession(t, dir,
		[2]string{"a", "search engine"},
		[2]string{"f", "search"},
	)
	s := openSearcher(t, dir)

	got := search(t, s, "search engine", 0)
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		assert.True(t, prev.Score > cur.Score || (prev.Score == cur.Score && prev.DocID < cur.DocID),
			"%v must rank before %v", prev, cur)
	}
	assert.Equal(t, "e", got[0].DocID)
	assert.Equal(t, []string{"a", "d"}, ids(got[1:3]), "equal matches in different segments tie exactly")

	assert.Len(t, search(t, s, "search engine", 2), 2)
}

func TestBooleanOperators(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir,
		[2]string{"1", "quick brown fox"},
		[2]string{"2", "quick red fox"},
		[2]string{"3", "lazy brown dog"},
	)
	s := openSearcher(t, dir)

	tests := []struct {
		query string
		want  []string
	}{
		{"quick AND brown", []string{"1"}},
		{"fox -red", []string{"1"}},
		{"fox NOT red", []string{"1"}},
		{"+brown fox", []string{"1", "3"}},
		{"brown OR red", []string{"1", "2", "3"}},
		{"(quick OR lazy) AND dog", []string{"3"}},
		{"-fox", nil},
		{"cat", nil},
		{"!!!", nil},
		{"text:lazy", []string{"3"}},
		{"title:lazy", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ids(search(t, s, tt.query, 10))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSnapshotIsolation(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "original"})
	before := openSearcher(t, dir)

	writeSession(t, dir, [2]string{"2", "original addition"})

	assert.Equal(t, []string{"1"}, ids(search(t, before, "original", 10)))
	after := openSearcher(t, dir)
	assert.Equal(t, []string{"1", "2"}, ids(search(t, after, "original", 10)))
	assert.Greater(t, after.Generation(), before.Generation())
}

func TestDeletesAndNewestWins(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "apple"}, [2]string{"2", "apple pie"})
	writeSession(t, dir, [2]string{"1", "banana"})

	w, err := indexer.Open(indexConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.DeleteDocument("2"))
	require.NoError(t, w.Close())

	s := openSearcher(t, dir)
	assert.Empty(t, search(t, s, "apple", 10))
	assert.Equal(t, []string{"1"}, ids(search(t, s, "banana", 10)))
	fields, ok := s.Document("1")
	require.True(t, ok)
	assert.Equal(t, "banana", fields["text"])
	assert.Equal(t, 1, s.Stats().LiveDocs)
}

func TestCompactionWithOpenSearcher(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "alpha"})
	writeSession(t, dir, [2]string{"2", "alpha beta"})
	writeSession(t, dir, [2]string{"3", "beta"})

	old := openSearcher(t, dir)
	oldSegments := old.Stats().Segments
	require.Len(t, oldSegments, 3)
	before := search(t, old, "alpha beta", 10)

	w, err := indexer.Open(indexConfig(dir))
	require.NoError(t, err)
	_, err = w.Compact(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for _, seg := range oldSegments {
		assert.DirExists(t, filepath.Join(dir, seg.Name), "segments in use survive compaction")
	}
	assert.Equal(t, before, search(t, old, "alpha beta", 10))

	fresh := openSearcher(t, dir)
	assert.Len(t, fresh.Stats().Segments, 1)
	assert.Equal(t, before, search(t, fresh, "alpha beta", 10))

	require.NoError(t, old.Close())
	require.NoError(t, old.Close())
	for _, seg := range oldSegments {
		assert.NoDirExists(t, filepath.Join(dir, seg.Name), "retired segments go with their last reader")
	}

	_, err = old.Search(context.Background(), "alpha", 10)
	assert.True(t, errors.Is(err, apperrors.ErrIOFailure))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, apperrors.ErrNoSuchIndex))

	_, err = Open(t.TempDir())
	assert.True(t, errors.Is(err, apperrors.ErrNoSuchIndex), "directory without manifest")

	empty := t.TempDir()
	w, err := indexer.Open(indexConfig(empty))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = Open(empty)
	assert.True(t, errors.Is(err, apperrors.ErrIOFailure))
	assert.False(t, errors.Is(err, apperrors.ErrNoSuchIndex))
}

func TestOpenFailsOnCorruptSegment(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "fine"})
	writeSession(t, dir, [2]string{"2", "broken"})

	m, err := segment.ReadManifest(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, m.Segments[1].Name, segment.PostingsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[segment.HeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrCorruptSegment))

	store, err := segment.StoreFor(dir)
	require.NoError(t, err)
	assert.Zero(t, store.Refs(m.Segments[0].Name), "healthy segments are released when the open fails")
}

func TestSyntaxErrorsSurface(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "x"})
	s := openSearcher(t, dir)

	_, err := s.Search(context.Background(), "x AND", 10)
	assert.True(t, errors.Is(err, apperrors.ErrQuerySyntax))
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, [2]string{"1", "one"}, [2]string{"2", "two"})
	s := openSearcher(t, dir)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, "standard", stats.Analyzer)
	assert.Equal(t, 2, stats.LiveDocs)
	require.Len(t, stats.Segments, 1)
	assert.Positive(t, stats.Segments[0].Terms)
	assert.Positive(t, stats.Segments[0].SizeBytes)
}

func BenchmarkSearch(b *testing.B) {
	dir := b.TempDir()
	w, err := indexer.Open(indexConfig(dir))
	require.NoError(b, err)
	for i := 0; i < 5000; i++ {
		require.NoError(b, w.AddDocument(document.Document{
			ID:     fmt.Sprintf("doc-%d", i),
			Fields: map[string]string{"body": fmt.Sprintf("distributed search engine document %d with shared terms", i%97)},
		}))
	}
	require.NoError(b, w.Close())
	s, err := Open(dir)
	require.NoError(b, err)
	defer s.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), "search AND engine -42", 10); err != nil {
			b.Fatal(err)
		}
	}
}
