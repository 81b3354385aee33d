// Package document defines the closed document shape accepted by the index
// writer: a reserved, untokenized id plus arbitrary text fields.
package document

import (
	"sort"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

const (
	// IDField holds the document identifier. It is stored and indexed as a
	// single exact-match term.
	IDField = "id"
	// FullTextField is the unstored aggregate of every non-id field. Bare
	// query words search it.
	FullTextField = "fulltext"
)

// Document is an indexable unit. Fields never contains the id key.
type Document struct {
	ID     string
	Fields map[string]string
}

// FromMap builds a Document from a loosely-typed map, pulling out the
// reserved id key.
func FromMap(m map[string]string) (Document, error) {
	doc := Document{Fields: make(map[string]string, len(m))}
	for k, v := range m {
		if k == IDField {
			doc.ID = v
			continue
		}
		doc.Fields[k] = v
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate rejects documents that cannot be indexed. Ids, field names and
// values must be valid UTF-8: segments sort and store them as text.
func (d Document) Validate() error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	for name, value := range d.Fields {
		switch {
		case name == "":
			return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", "", "document %q has an empty field name", d.ID)
		case name == FullTextField:
			return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", "", "document %q uses reserved field %q", d.ID, FullTextField)
		case name == IDField:
			return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", "", "document %q repeats reserved field %q", d.ID, IDField)
		case !utf8.ValidString(name):
			return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", "", "document %q has a field name that is not valid UTF-8: %q", d.ID, name)
		case !utf8.ValidString(value):
			return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", "", "document %q field %q is not valid UTF-8", d.ID, name)
		}
	}
	return nil
}

// ValidateID rejects ids that are empty, blank or not valid UTF-8.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.New(apperrors.ErrInvalidDocument, "add document", "", `missing or empty "id" field`)
	}
	if !utf8.ValidString(id) {
		return apperrors.Newf(apperrors.ErrInvalidDocument, "add document", "", "id %q is not valid UTF-8", id)
	}
	return nil
}

// FieldNames returns the non-id field names in ascending order.
func (d Document) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FullText concatenates every non-id field value in field-name order.
func (d Document) FullText() string {
	names := d.FieldNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, d.Fields[name])
	}
	return strings.Join(parts, " ")
}

// Stored returns the stored representation: every field including id.
func (d Document) Stored() map[string]string {
	stored := make(map[string]string, len(d.Fields)+1)
	for k, v := range d.Fields {
		stored[k] = v
	}
	stored[IDField] = d.ID
	return stored
}
