package ranker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDF(t *testing.T) {
	assert.InDelta(t, 1.0, IDF(10, 10), 1e-9)
	assert.Greater(t, IDF(10, 1), IDF(10, 5), "rarer terms weigh more")
	assert.Greater(t, IDF(2, 2), 0.0)
	assert.InDelta(t, 1+math.Log(3.0/2.0), IDF(2, 1), 1e-9)
}

func TestTF(t *testing.T) {
	assert.Equal(t, 1.0, TF(1))
	assert.Equal(t, 2.0, TF(4))
}

func TestRankOrdersByScoreThenID(t *testing.T) {
	got := Rank(map[string]float64{
		"b": 1.0,
		"a": 1.0,
		"c": 2.5,
		"d": 0.99999,
	}, 0)
	assert.Equal(t, []ScoredDoc{
		{DocID: "c", Score: 2.5},
		{DocID: "a", Score: 1.0},
		{DocID: "b", Score: 1.0},
		{DocID: "d", Score: 1.0},
	}, got)
}

func TestRankLimit(t *testing.T) {
	got := Rank(map[string]float64{"a": 3, "b": 2, "c": 1}, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DocID)
	assert.Empty(t, Rank(nil, 5))
}
