package fulltext

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

func buildIndex(t *testing.T, path string, docs ...map[string]string) {
	t.Helper()
	w, err := OpenIndexForWrite(path)
	require.NoError(t, err)
	for _, d := range docs {
		require.NoError(t, AddDocument(w, d))
	}
	require.NoError(t, CloseWriter(w))
}

func openReader(t *testing.T, path string) *Searcher {
	t.Helper()
	s, err := OpenIndexForRead(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFoxAndDog(t *testing.T) {
	path := t.TempDir()
	buildIndex(t, path,
		map[string]string{"id": "1", "text": "the quick fox"},
		map[string]string{"id": "2", "text": "the lazy dog"},
	)
	s := openReader(t, path)

	hits, err := Query(s, "fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = Query(s, "the", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "1", hits[0].ID)
	assert.Equal(t, "2", hits[1].ID)
	assert.Equal(t, hits[0].Score, hits[1].Score)
}

func TestRoundTrip(t *testing.T) {
	path := t.TempDir()
	var docs []map[string]string
	for i := 0; i < 50; i++ {
		docs = append(docs, map[string]string{
			"id":    fmt.Sprintf("%d", i),
			"title": fmt.Sprintf("title %d", i),
			"body":  fmt.Sprintf("unique%d shared", i),
		})
	}
	buildIndex(t, path, docs...)
	s := openReader(t, path)

	for i := 0; i < 50; i++ {
		hits, err := Query(s, fmt.Sprintf("unique%d", i), 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, fmt.Sprintf("%d", i), hits[0].ID)
	}

	hits, err := Query(s, "shared", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 50)
}

func TestDuplicateIDRejected(t *testing.T) {
	path := t.TempDir()
	w, err := OpenIndexForWrite(path)
	require.NoError(t, err)
	require.NoError(t, AddDocument(w, map[string]string{"id": "a", "text": "first"}))

	err = AddDocument(w, map[string]string{"id": "a", "text": "second"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidDocument))
	require.NoError(t, CloseWriter(w))

	s := openReader(t, path)
	hits, err := Query(s, "second", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInvalidDocuments(t *testing.T) {
	w, err := OpenIndexForWrite(t.TempDir())
	require.NoError(t, err)
	defer CloseWriter(w)

	for _, doc := range []map[string]string{
		{"text": "no id"},
		{"id": "", "text": "empty id"},
		{"id": "x", "fulltext": "reserved"},
	} {
		err := AddDocument(w, doc)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidDocument), "%v", doc)
	}
}

func TestInvalidUTF8NeverReachesSegments(t *testing.T) {
	path := t.TempDir()
	w, err := OpenIndexForWrite(path)
	require.NoError(t, err)

	for _, doc := range []map[string]string{
		{"id": "a\xff"},
		{"id": "a\xfe"},
		{"id": "\x80"},
		{"id": "ok", "t\xc3": "x"},
		{"id": "ok", "text": "bad \xc3\x28"},
	} {
		err := AddDocument(w, doc)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidDocument), "%q", doc)
	}
	assert.True(t, errors.Is(DeleteDocument(w, "a\xff"), apperrors.ErrInvalidDocument))
	require.NoError(t, AddDocument(w, map[string]string{"id": "é", "text": "café"}))
	require.NoError(t, AddDocument(w, map[string]string{"id": "a\uFFFD", "text": "replacement"}))
	require.NoError(t, CloseWriter(w))

	s := openReader(t, path)
	hits, err := Query(s, "café OR replacement", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSingleWriterPerIndex(t *testing.T) {
	path := t.TempDir()
	w, err := OpenIndexForWrite(path)
	require.NoError(t, err)

	_, err = OpenIndexForWrite(path)
	assert.True(t, errors.Is(err, apperrors.ErrLockHeld))

	require.NoError(t, CloseWriter(w))
	w, err = OpenIndexForWrite(path)
	require.NoError(t, err)
	require.NoError(t, CloseWriter(w))
}

func TestClosedWriterRejectsAdds(t *testing.T) {
	path := t.TempDir()
	w, err := OpenIndexForWrite(path)
	require.NoError(t, err)
	require.NoError(t, CloseWriter(w))

	err = AddDocument(w, map[string]string{"id": "1", "text": "late"})
	assert.True(t, errors.Is(err, apperrors.ErrWriterClosed))
}

func TestSnapshotIsolation(t *testing.T) {
	path := t.TempDir()
	buildIndex(t, path, map[string]string{"id": "1", "text": "word"})
	s := openReader(t, path)

	buildIndex(t, path, map[string]string{"id": "2", "text": "word"})

	hits, err := Query(s, "word", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = Query(openReader(t, path), "word", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestCompactionIsIdempotent(t *testing.T) {
	path := t.TempDir()
	for i := 0; i < 4; i++ {
		buildIndex(t, path,
			map[string]string{"id": fmt.Sprintf("a%d", i), "text": "alpha common"},
			map[string]string{"id": fmt.Sprintf("b%d", i), "text": "beta common"},
		)
	}
	queries := []string{"alpha", "beta", "common", "alpha OR beta", "common -beta"}
	answers := func() map[string][]Hit {
		s := openReader(t, path)
		out := make(map[string][]Hit, len(queries))
		for _, q := range queries {
			hits, err := Query(s, q, 0)
			require.NoError(t, err)
			out[q] = hits
		}
		return out
	}

	before := answers()
	for round := 0; round < 2; round++ {
		w, err := OpenIndexForWrite(path)
		require.NoError(t, err)
		_, err = w.Compact(context.Background())
		require.NoError(t, err)
		require.NoError(t, CloseWriter(w))
		assert.Equal(t, before, answers(), "round %d", round)
	}
}

func TestOpenForReadErrors(t *testing.T) {
	_, err := OpenIndexForRead(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, apperrors.ErrNoSuchIndex))
}

func TestQuerySyntaxError(t *testing.T) {
	path := t.TempDir()
	buildIndex(t, path, map[string]string{"id": "1", "text": "x"})
	s := openReader(t, path)

	_, err := Query(s, "(x", 10)
	assert.True(t, errors.Is(err, apperrors.ErrQuerySyntax))
	_, err = Query(s, "", 10)
	assert.True(t, errors.Is(err, apperrors.ErrQuerySyntax))
}

func TestDeleteDocument(t *testing.T) {
	path := t.TempDir()
	buildIndex(t, path,
		map[string]string{"id": "1", "text": "keep"},
		map[string]string{"id": "2", "text": "keep"},
	)
	w, err := OpenIndexForWrite(path)
	require.NoError(t, err)
	require.NoError(t, DeleteDocument(w, "2"))
	require.NoError(t, CloseWriter(w))

	hits, err := Query(openReader(t, path), "keep", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
}
