// Package analysis turns raw field text into normalised terms. Analyzers
// NFKC-normalise and lower-case the input, split on non-alphanumeric
// boundaries and drop stop-words; the english analyzer also stems. The
// keyword analyzer keeps its input verbatim as a single term.
package analysis

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/unicode/norm"
)

const (
	Standard = "standard"
	English  = "english"
	Keyword  = "keyword"
)

// Token represents a single normalised term and its position among the
// kept tokens of the original text.
type Token struct {
	Term     string
	Position int
}

// Analyzer is a fixed tokenisation pipeline. The zero value is not usable;
// obtain analyzers with Lookup.
type Analyzer struct {
	name      string
	stopWords map[string]struct{}
	stem      bool
	keyword   bool
}

var englishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {},
}

var analyzers = map[string]*Analyzer{
	Standard: {name: Standard, stopWords: map[string]struct{}{}},
	English:  {name: English, stopWords: englishStopWords, stem: true},
	Keyword:  {name: Keyword, keyword: true},
}

// Lookup returns the analyzer registered under name. An empty name selects
// the standard analyzer.
func Lookup(name string) (*Analyzer, error) {
	if name == "" {
		name = Standard
	}
	a, ok := analyzers[name]
	if !ok {
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
	return a, nil
}

// Default returns the standard analyzer.
func Default() *Analyzer {
	return analyzers[Standard]
}

func (a *Analyzer) Name() string {
	return a.name
}

// Tokenize breaks text into normalised tokens. It never fails; input that
// contains no letters or digits yields no tokens.
func (a *Analyzer) Tokenize(text string) []Token {
	if a.keyword {
		if text == "" {
			return nil
		}
		return []Token{{Term: text, Position: 0}}
	}
	text = strings.ToLower(norm.NFKC.String(text))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if _, isStop := a.stopWords[word]; isStop {
			continue
		}
		if a.stem {
			word = english.Stem(word, false)
		}
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms is Tokenize without positions.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}
