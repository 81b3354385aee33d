package document

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

func TestFromMap(t *testing.T) {
	doc, err := FromMap(map[string]string{"id": "7", "title": "Go", "body": "search engines"})
	require.NoError(t, err)

	assert.Equal(t, "7", doc.ID)
	assert.Equal(t, map[string]string{"title": "Go", "body": "search engines"}, doc.Fields)
	assert.Equal(t, []string{"body", "title"}, doc.FieldNames())
	assert.Equal(t, "search engines Go", doc.FullText())
	assert.Equal(t, "7", doc.Stored()[IDField])
}

func TestFromMapRejectsMissingID(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
	}{
		{"missing", map[string]string{"text": "hello"}},
		{"empty", map[string]string{"id": "", "text": "hello"}},
		{"blank", map[string]string{"id": "   "}},
		{"reserved fulltext", map[string]string{"id": "1", "fulltext": "x"}},
		{"empty field name", map[string]string{"id": "1", "": "x"}},
		{"invalid utf-8 id", map[string]string{"id": "a\xff"}},
		{"invalid utf-8 field name", map[string]string{"id": "1", "t\x80": "x"}},
		{"invalid utf-8 value", map[string]string{"id": "1", "text": "caf\xe9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidDocument))
		})
	}
}

func TestIDOnlyDocument(t *testing.T) {
	doc, err := FromMap(map[string]string{"id": "only"})
	require.NoError(t, err)
	assert.Empty(t, doc.FullText())
	assert.Equal(t, map[string]string{"id": "only"}, doc.Stored())
}
