package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := Wrap(ErrIOFailure, "open segment", "/tmp/idx/seg_000001", fs.ErrNotExist)

	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, errors.Is(err, ErrCorruptSegment))
	assert.Equal(t, "open segment /tmp/idx/seg_000001: io failure: file does not exist", err.Error())
}

func TestWrapKeepsInnermostKind(t *testing.T) {
	inner := New(ErrCorruptSegment, "open segment", "seg_000002", "dictionary not sorted")
	outer := Wrap(ErrIOFailure, "open searcher", "/idx", fmt.Errorf("acquiring: %w", inner))

	assert.True(t, errors.Is(outer, ErrCorruptSegment))
	assert.False(t, errors.Is(outer, ErrIOFailure))
	assert.Equal(t, ErrCorruptSegment, Kind(outer))

	again := Wrap(ErrIOFailure, "open searcher", "/idx", inner)
	assert.Same(t, inner, again)
	assert.Equal(t, "seg_000002", inner.Path)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(ErrIOFailure, "op", "path", nil))
}

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(ErrQuerySyntax, "parse", "", "unexpected )"), http.StatusBadRequest},
		{New(ErrInvalidDocument, "add", "", "missing id"), http.StatusBadRequest},
		{New(ErrNoSuchIndex, "open", "/x", ""), http.StatusNotFound},
		{New(ErrLockHeld, "open", "/x", ""), http.StatusConflict},
		{New(ErrIOFailure, "read", "/x", ""), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusCode(tc.err), tc.err.Error())
	}
}
