// Package parser turns query text into a Query tree.
//
//	query   := orExpr EOF
//	orExpr  := andExpr { ["OR"] andExpr }
//	andExpr := unary { "AND" unary }
//	unary   := ("+" | "-" | "NOT") unary | primary
//	primary := "(" orExpr ")" | [field ":"] (word | "(" orExpr ")" | quoted)
//
// Adjacent clauses are ORed. "+" makes a clause required, "-" and NOT
// prohibit it. Bare words search the fulltext field. Each word is run
// through the index analyzer: a word yielding several terms requires all of
// them and a word yielding none is dropped.
package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

// SyntaxError locates the token the grammar rejected. Pos is a byte offset
// into the query text.
type SyntaxError struct {
	Token string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s %q at position %d", e.Msg, e.Token, e.Pos)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokQuoted
	tokField
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokPlus
	tokMinus
)

type token struct {
	kind  tokenKind
	text  string
	field string
	pos   int
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '+':
			tokens = append(tokens, token{kind: tokPlus, text: "+", pos: i})
			i++
		case r == '-':
			tokens = append(tokens, token{kind: tokMinus, text: "-", pos: i})
			i++
		case r == '"':
			end := strings.IndexByte(input[i+1:], '"')
			if end < 0 {
				return nil, &SyntaxError{Token: input[i:], Pos: i, Msg: "unterminated quote"}
			}
			tokens = append(tokens, token{kind: tokQuoted, text: input[i+1 : i+1+end], pos: i})
			i += end + 2
		default:
			j := i
			for j < len(input) {
				r, size := utf8.DecodeRuneInString(input[j:])
				if unicode.IsSpace(r) || r == '(' || r == ')' || r == '"' {
					break
				}
				j += size
			}
			tok, err := wordToken(input, i, j)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = j
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(input)}), nil
}

func wordToken(input string, start, end int) (token, error) {
	w := input[start:end]
	switch w {
	case "AND", "&&":
		return token{kind: tokAnd, text: w, pos: start}, nil
	case "OR", "||":
		return token{kind: tokOr, text: w, pos: start}, nil
	case "NOT":
		return token{kind: tokNot, text: w, pos: start}, nil
	}
	k := strings.IndexByte(w, ':')
	if k < 0 {
		return token{kind: tokWord, text: w, pos: start}, nil
	}
	field, rest := w[:k], w[k+1:]
	if field == "" {
		return token{}, &SyntaxError{Token: w, Pos: start, Msg: "empty field name"}
	}
	if rest != "" {
		return token{kind: tokWord, text: rest, field: field, pos: start}, nil
	}
	if end < len(input) && (input[end] == '(' || input[end] == '"') {
		return token{kind: tokField, text: w, field: field, pos: start}, nil
	}
	return token{}, &SyntaxError{Token: w, Pos: start, Msg: "missing term after field"}
}

// operand is a parsed sub-expression with the occur marker a prefix
// operator put on it, if any.
type operand struct {
	q      Query
	occur  Occur
	marked bool
}

type parser struct {
	input    string
	tokens   []token
	pos      int
	analyzer *analysis.Analyzer
	keyword  *analysis.Analyzer
	fields   []string
}

// Parse parses text, analyzing words with analyzer (the standard analyzer
// when nil). It fails with an error matching ErrQuerySyntax that wraps a
// *SyntaxError. A query whose words all analyze to nothing parses to an
// empty BooleanQuery, which matches no documents.
func Parse(text string, analyzer *analysis.Analyzer) (Query, error) {
	q, err := parse(text, analyzer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQuerySyntax, "parse query", "", err)
	}
	return q, nil
}

func parse(text string, analyzer *analysis.Analyzer) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}
	if analyzer == nil {
		analyzer = analysis.Default()
	}
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	keyword, _ := analysis.Lookup(analysis.Keyword)
	p := &parser{input: text, tokens: tokens, analyzer: analyzer, keyword: keyword}

	op, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "unbalanced parenthesis"}
		}
		return nil, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "unexpected token"}
	}
	if op.q == nil {
		return &BooleanQuery{}, nil
	}
	return op.q, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func endsOperand(k tokenKind) bool {
	return k == tokEOF || k == tokRParen || k == tokAnd || k == tokOr
}

func (p *parser) orExpr() (operand, error) {
	var operands []operand
	for {
		op, err := p.andExpr()
		if err != nil {
			return operand{}, err
		}
		operands = append(operands, op)

		t := p.peek()
		if t.kind == tokEOF || t.kind == tokRParen {
			break
		}
		if t.kind == tokOr {
			p.next()
			if endsOperand(p.peek().kind) {
				return operand{}, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "dangling operator"}
			}
		}
	}
	if len(operands) == 1 && !operands[0].marked {
		return operands[0], nil
	}
	b := &BooleanQuery{}
	for _, op := range operands {
		if op.q == nil {
			continue
		}
		occur := Should
		if op.marked {
			occur = op.occur
		}
		b.Clauses = append(b.Clauses, Clause{Occur: occur, Query: op.q})
	}
	return operand{q: simplify(b)}, nil
}

func (p *parser) andExpr() (operand, error) {
	first, err := p.unary()
	if err != nil {
		return operand{}, err
	}
	operands := []operand{first}
	for p.peek().kind == tokAnd {
		and := p.next()
		if endsOperand(p.peek().kind) {
			return operand{}, &SyntaxError{Token: and.text, Pos: and.pos, Msg: "dangling operator"}
		}
		op, err := p.unary()
		if err != nil {
			return operand{}, err
		}
		operands = append(operands, op)
	}
	if len(operands) == 1 {
		return first, nil
	}
	b := &BooleanQuery{}
	for _, op := range operands {
		if op.q == nil {
			continue
		}
		occur := Must
		if op.marked && op.occur == MustNot {
			occur = MustNot
		}
		b.Clauses = append(b.Clauses, Clause{Occur: occur, Query: op.q})
	}
	return operand{q: simplify(b)}, nil
}

func (p *parser) unary() (operand, error) {
	t := p.peek()
	var occur Occur
	switch t.kind {
	case tokPlus:
		occur = Must
	case tokMinus, tokNot:
		occur = MustNot
	default:
		return p.primary()
	}
	p.next()
	if endsOperand(p.peek().kind) {
		return operand{}, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "operator without operand"}
	}
	op, err := p.unary()
	if err != nil {
		return operand{}, err
	}
	// a prohibition anywhere in a stack of prefixes wins: "+-fox" excludes fox
	if !op.marked || op.occur != MustNot {
		op.occur = occur
	}
	op.marked = true
	return op, nil
}

func (p *parser) primary() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		op, err := p.orExpr()
		if err != nil {
			return operand{}, err
		}
		if p.peek().kind != tokRParen {
			return operand{}, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "unbalanced parenthesis"}
		}
		p.next()
		return operand{q: op.q}, nil
	case tokField:
		p.fields = append(p.fields, t.field)
		op, err := p.primary()
		p.fields = p.fields[:len(p.fields)-1]
		return op, err
	case tokWord:
		field := t.field
		if field == "" {
			field = p.currentField()
		}
		return operand{q: p.analyze(field, t.text)}, nil
	case tokQuoted:
		return operand{q: p.analyze(p.currentField(), t.text)}, nil
	case tokEOF:
		return operand{}, &SyntaxError{Pos: t.pos, Msg: "unexpected end of query"}
	case tokRParen:
		return operand{}, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "unbalanced parenthesis"}
	default:
		return operand{}, &SyntaxError{Token: t.text, Pos: t.pos, Msg: "unexpected operator"}
	}
}

func (p *parser) currentField() string {
	if len(p.fields) == 0 {
		return document.FullTextField
	}
	return p.fields[len(p.fields)-1]
}

func (p *parser) analyze(field, text string) Query {
	a := p.analyzer
	if field == document.IDField {
		a = p.keyword
	}
	terms := a.Terms(text)
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return &TermQuery{Field: field, Term: terms[0]}
	}
	b := &BooleanQuery{}
	for _, term := range terms {
		b.Clauses = append(b.Clauses, Clause{Occur: Must, Query: &TermQuery{Field: field, Term: term}})
	}
	return b
}

// simplify unwraps single positive clauses and turns empty queries into nil.
func simplify(b *BooleanQuery) Query {
	switch {
	case len(b.Clauses) == 0:
		return nil
	case len(b.Clauses) == 1 && b.Clauses[0].Occur != MustNot:
		return b.Clauses[0].Query
	}
	return b
}
