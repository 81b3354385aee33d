package parser

import (
	"strings"
)

// Occur says how a clause constrains the documents of a BooleanQuery.
type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) prefix() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

// Query is an immutable parsed query tree.
type Query interface {
	// String renders a canonical form: equal strings mean equal queries.
	String() string
}

// TermQuery matches documents containing Term in Field.
type TermQuery struct {
	Field string
	Term  string
}

func (q *TermQuery) String() string {
	return q.Field + ":" + q.Term
}

type Clause struct {
	Occur Occur
	Query Query
}

// BooleanQuery combines clauses. With at least one Must clause the Must
// clauses decide the match and Should clauses only add score; otherwise a
// document must match at least one Should clause. MustNot clauses exclude.
// A BooleanQuery with no positive clause matches nothing.
type BooleanQuery struct {
	Clauses []Clause
}

func (q *BooleanQuery) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.Occur.prefix() + c.Query.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Terms returns the distinct terms that can contribute to a score, that is
// every term not under a MustNot clause, in first-seen order.
func Terms(q Query) []TermQuery {
	return collect(q, false)
}

// AllTerms returns every distinct term in the query, prohibited ones
// included.
func AllTerms(q Query) []TermQuery {
	return collect(q, true)
}

func collect(q Query, prohibited bool) []TermQuery {
	var out []TermQuery
	seen := make(map[TermQuery]struct{})
	var walk func(Query)
	walk = func(q Query) {
		switch q := q.(type) {
		case *TermQuery:
			if _, ok := seen[*q]; !ok {
				seen[*q] = struct{}{}
				out = append(out, *q)
			}
		case *BooleanQuery:
			for _, c := range q.Clauses {
				if c.Occur != MustNot || prohibited {
					walk(c.Query)
				}
			}
		}
	}
	walk(q)
	return out
}
