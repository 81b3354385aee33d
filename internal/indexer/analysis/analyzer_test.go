package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardTokenize(t *testing.T) {
	a := Default()
	tokens := a.Tokenize("The Quick-Brown fox, 42 times!")

	assert.Equal(t, []Token{
		{Term: "the", Position: 0},
		{Term: "quick", Position: 1},
		{Term: "brown", Position: 2},
		{Term: "fox", Position: 3},
		{Term: "42", Position: 4},
		{Term: "times", Position: 5},
	}, tokens)
}

func TestStandardKeepsSingleCharacters(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Default().Terms("a.b,c"))
}

func TestTokenizeNoAlphanumerics(t *testing.T) {
	assert.Empty(t, Default().Tokenize(""))
	assert.Empty(t, Default().Tokenize("  --- ... !!! "))
}

func TestNFKCNormalisation(t *testing.T) {
	// full-width letters and the "ﬁ" ligature fold to plain ASCII
	assert.Equal(t, []string{"file", "abc"}, Default().Terms("ﬁle ＡＢＣ"))
}

func TestEnglishStopWordsAndStemming(t *testing.T) {
	a, err := Lookup(English)
	require.NoError(t, err)

	tokens := a.Tokenize("The foxes are running into the woods")
	assert.Equal(t, []Token{
		{Term: "fox", Position: 0},
		{Term: "run", Position: 1},
		{Term: "wood", Position: 2},
	}, tokens)
}

func TestKeywordKeepsInputVerbatim(t *testing.T) {
	a, err := Lookup(Keyword)
	require.NoError(t, err)

	assert.Equal(t, []string{"Doc-ID 7"}, a.Terms("Doc-ID 7"))
	assert.Empty(t, a.Terms(""))
}

func TestLookup(t *testing.T) {
	a, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, Standard, a.Name())

	_, err = Lookup("klingon")
	assert.Error(t, err)
}

func TestTokenizeIsDeterministic(t *testing.T) {
	text := "Distributed search engines process queries across multiple shards"
	first := Default().Tokenize(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Default().Tokenize(text))
	}
}
