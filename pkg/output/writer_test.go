package output

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilko77/splink/pkg/types"
)

func samplePairs() []types.ScoredPair {
	return []types.ScoredPair{
		{LeftID: "1", RightID: "2", Levels: []int{1, 3}, MatchWeight: 7.25, MatchProbability: 0.99},
		{LeftID: "1", RightID: "3", Levels: []int{0, 2}, MatchWeight: -1.5, MatchProbability: 0.26},
	}
}

func TestNewResultWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewResultWriter(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, w.RunID())
	assert.DirExists(t, filepath.Join(dir, "predictions"))
	assert.DirExists(t, filepath.Join(dir, "clusters"))

	// Distinct writers get distinct run ids.
	w2, err := NewResultWriter(dir)
	require.NoError(t, err)
	assert.NotEqual(t, w.RunID(), w2.RunID())
}

func TestWriteScoredPairs(t *testing.T) {
	ctx := context.Background()
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)

	path, err := w.WriteScoredPairs(ctx, samplePairs())
	require.NoError(t, err)
	assert.Contains(t, path, w.RunID())

	rows, err := parquet.ReadFile[ParquetScoredPair](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].LeftID)
	assert.Equal(t, "2", rows[0].RightID)
	assert.Equal(t, []int32{1, 3}, rows[0].Levels)
	assert.Equal(t, 7.25, rows[0].MatchWeight)
	assert.Equal(t, w.RunID(), rows[0].RunID)
	assert.False(t, rows[0].WrittenAt.IsZero())
}

func TestWriteClusters(t *testing.T) {
	ctx := context.Background()
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)

	path, err := w.WriteClusters(ctx, map[string]string{
		"3": "1",
		"1": "1",
		"2": "1",
		"9": "9",
	})
	require.NoError(t, err)

	rows, err := parquet.ReadFile[ParquetClusterAssignment](path)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	// Rows are sorted by record id.
	assert.Equal(t, "1", rows[0].RecordID)
	assert.Equal(t, "9", rows[3].RecordID)
	assert.Equal(t, "9", rows[3].ClusterID)
	for _, r := range rows {
		assert.Equal(t, w.RunID(), r.RunID)
	}
}

func TestWriteScoredPairsCSV(t *testing.T) {
	ctx := context.Background()
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)

	path, err := w.WriteScoredPairsCSV(ctx, samplePairs())
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"left_id", "right_id", "levels", "match_weight", "match_probability"}, records[0])
	assert.Equal(t, []string{"1", "2", "1|3", "7.25", "0.99"}, records[1])
}

func TestWriteHonoursCancellation(t *testing.T) {
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.WriteScoredPairs(ctx, samplePairs())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = w.WriteClusters(ctx, map[string]string{"1": "1"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = w.WriteScoredPairsCSV(ctx, samplePairs())
	assert.ErrorIs(t, err, context.Canceled)
}
