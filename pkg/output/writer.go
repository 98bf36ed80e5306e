// Package output persists prediction results as parquet datasets, with a
// CSV writer for interop. Each write is stamped with a run identifier so
// successive prediction runs over the same directory never collide.
package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/wilko77/splink/pkg/types"
)

// ResultWriter writes scored pairs and cluster assignments under a base
// directory, one subdirectory per dataset kind.
type ResultWriter struct {
	baseDir string
	runID   string
}

// NewResultWriter creates a writer rooted at baseDir, creating the dataset
// directories.
func NewResultWriter(baseDir string) (*ResultWriter, error) {
	for _, d := range []string{"predictions", "clusters"} {
		if err := os.MkdirAll(filepath.Join(baseDir, d), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return &ResultWriter{
		baseDir: baseDir,
		runID:   uuid.NewString(),
	}, nil
}

// RunID returns the identifier stamped on this writer's output files.
func (w *ResultWriter) RunID() string { return w.runID }

// ParquetScoredPair is the parquet schema for one scored pair.
type ParquetScoredPair struct {
	LeftID           string    `parquet:"left_id"`
	RightID          string    `parquet:"right_id"`
	Levels           []int32   `parquet:"levels"`
	MatchWeight      float64   `parquet:"match_weight"`
	MatchProbability float64   `parquet:"match_probability"`
	RunID            string    `parquet:"run_id"`
	WrittenAt        time.Time `parquet:"written_at"`
}

// ParquetClusterAssignment is the parquet schema for one record's cluster.
type ParquetClusterAssignment struct {
	RecordID  string    `parquet:"record_id"`
	ClusterID string    `parquet:"cluster_id"`
	RunID     string    `parquet:"run_id"`
	WrittenAt time.Time `parquet:"written_at"`
}

// WriteScoredPairs writes scored pairs as one parquet file and returns its
// path.
func (w *ResultWriter) WriteScoredPairs(ctx context.Context, pairs []types.ScoredPair) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	rows := make([]ParquetScoredPair, 0, len(pairs))
	for _, p := range pairs {
		levels := make([]int32, len(p.Levels))
		for i, lvl := range p.Levels {
			levels[i] = int32(lvl)
		}
		rows = append(rows, ParquetScoredPair{
			LeftID:           p.LeftID,
			RightID:          p.RightID,
			Levels:           levels,
			MatchWeight:      p.MatchWeight,
			MatchProbability: p.MatchProbability,
			RunID:            w.runID,
			WrittenAt:        now,
		})
	}

	path := filepath.Join(w.baseDir, "predictions", fmt.Sprintf("predictions_%s.parquet", w.runID))
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("failed to write predictions parquet: %w", err)
	}
	return path, nil
}

// WriteClusters writes cluster assignments as one parquet file and returns
// its path. Assignments are sorted by record id for reproducible output.
func (w *ResultWriter) WriteClusters(ctx context.Context, assignments map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	rows := make([]ParquetClusterAssignment, 0, len(assignments))
	for recordID, clusterID := range assignments {
		rows = append(rows, ParquetClusterAssignment{
			RecordID:  recordID,
			ClusterID: clusterID,
			RunID:     w.runID,
			WrittenAt: now,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RecordID < rows[j].RecordID })

	path := filepath.Join(w.baseDir, "clusters", fmt.Sprintf("clusters_%s.parquet", w.runID))
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("failed to write clusters parquet: %w", err)
	}
	return path, nil
}

// WriteScoredPairsCSV writes scored pairs as CSV for tools without parquet
// support.
func (w *ResultWriter) WriteScoredPairsCSV(ctx context.Context, pairs []types.ScoredPair) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(w.baseDir, "predictions", fmt.Sprintf("predictions_%s.csv", w.runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create csv file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"left_id", "right_id", "levels", "match_weight", "match_probability"}); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range pairs {
		levels := make([]string, len(p.Levels))
		for i, lvl := range p.Levels {
			levels[i] = strconv.Itoa(lvl)
		}
		row := []string{
			p.LeftID,
			p.RightID,
			strings.Join(levels, "|"),
			strconv.FormatFloat(p.MatchWeight, 'g', -1, 64),
			strconv.FormatFloat(p.MatchProbability, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return path, nil
}
