package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilko77/splink/pkg/types"
)

func pair(left, right string, prob float64) types.ScoredPair {
	return types.ScoredPair{LeftID: left, RightID: right, MatchProbability: prob}
}

func TestClusterBasic(t *testing.T) {
	pairs := []types.ScoredPair{
		pair("a", "b", 0.99),
		pair("b", "c", 0.95),
		pair("d", "e", 0.90),
		pair("a", "d", 0.10), // below threshold, no edge
	}
	got, err := Cluster(pairs, 0.5, []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)

	// Transitive closure over retained edges; cluster ids are the
	// smallest member; f keeps a singleton cluster.
	assert.Equal(t, map[string]string{
		"a": "a", "b": "a", "c": "a",
		"d": "d", "e": "d",
		"f": "f",
	}, got)
}

func TestClusterThresholdInclusive(t *testing.T) {
	pairs := []types.ScoredPair{pair("a", "b", 0.5)}
	got, err := Cluster(pairs, 0.5, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", got["b"])
}

func TestClusterThresholdRange(t *testing.T) {
	for _, threshold := range []float64{-0.1, 1.5} {
		_, err := Cluster(nil, threshold, nil)
		var specErr *types.SpecificationError
		require.ErrorAs(t, err, &specErr)
	}
}

func TestClusterDeterministicAcrossOrderings(t *testing.T) {
	pairs := []types.ScoredPair{
		pair("03", "07", 0.9),
		pair("07", "11", 0.9),
		pair("01", "02", 0.9),
		pair("11", "05", 0.9),
		pair("04", "09", 0.9),
	}
	ids := []string{"01", "02", "03", "04", "05", "06", "07", "09", "11"}

	want, err := Cluster(pairs, 0.5, ids)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(17))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]types.ScoredPair, len(pairs))
		copy(shuffled, pairs)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := Cluster(shuffled, 0.5, ids)
		require.NoError(t, err)
		assert.Equal(t, want, got, "trial %d", trial)
	}
	assert.Equal(t, "03", want["05"])
	assert.Equal(t, "06", want["06"])
}

func TestForestUnionFind(t *testing.T) {
	f := NewForest()
	f.Union("a", "b")
	f.Union("c", "d")
	assert.Equal(t, 4, f.Size())
	assert.Equal(t, f.Find("a"), f.Find("b"))
	assert.NotEqual(t, f.Find("a"), f.Find("c"))

	f.Union("b", "c")
	assert.Equal(t, f.Find("a"), f.Find("d"))

	// Find on an unknown id creates a singleton.
	root := f.Find("z")
	assert.Equal(t, "z", root)
	assert.Equal(t, 5, f.Size())
}

func TestForestMerge(t *testing.T) {
	left := NewForest()
	left.Union("a", "b")
	left.Add("x")

	right := NewForest()
	right.Union("b", "c")
	right.Union("d", "e")

	left.Merge(right)
	assert.Equal(t, left.Find("a"), left.Find("c"))
	assert.Equal(t, left.Find("d"), left.Find("e"))
	assert.NotEqual(t, left.Find("a"), left.Find("d"))

	got := left.Assignments()
	assert.Equal(t, "a", got["c"])
	assert.Equal(t, "x", got["x"])
}

func TestForestLongChain(t *testing.T) {
	f := NewForest()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = string(rune('0'+i/10)) + string(rune('0'+i%10))
	}
	for i := 1; i < len(ids); i++ {
		f.Union(ids[i-1], ids[i])
	}
	got := f.Assignments()
	for _, id := range ids {
		assert.Equal(t, "00", got[id])
	}
}
