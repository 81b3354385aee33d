package index

// Posting records the occurrences of one term in one document. Doc is the
// segment-local ordinal of the document.
type Posting struct {
	Doc       uint32   `json:"d"`
	Frequency uint32   `json:"f"`
	Positions []uint32 `json:"p,omitempty"`
}

type PostingList []Posting

// TermEntry is one row of a segment's term dictionary together with its
// postings, sorted by ordinal.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// Less orders entries by field, then term. Segment dictionaries are stored
// in this order.
func Less(fieldA, termA, fieldB, termB string) bool {
	if fieldA != fieldB {
		return fieldA < fieldB
	}
	return termA < termB
}

// StoredDoc is the stored-fields record of one document. Its position in a
// segment's stored list is its ordinal.
type StoredDoc struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields,omitempty"`
}
