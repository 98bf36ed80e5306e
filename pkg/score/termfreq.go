// Package score turns comparison-level observations into match weights and
// probabilities under the Fellegi-Sunter model, with optional
// term-frequency corrections for skewed value distributions.
package score

import (
	"fmt"

	"github.com/wilko77/splink/pkg/types"
)

// TermFrequencyTable holds empirical relative frequencies per column value.
// Tables are precomputed by the caller, typically from the full input
// rather than the candidate pairs, and treated as read-only during scoring.
type TermFrequencyTable struct {
	freqs map[string]map[string]float64
}

// NewTermFrequencyTable creates an empty table.
func NewTermFrequencyTable() *TermFrequencyTable {
	return &TermFrequencyTable{freqs: make(map[string]map[string]float64)}
}

// Set records the relative frequency of one column value.
func (t *TermFrequencyTable) Set(column, value string, freq float64) {
	col, ok := t.freqs[column]
	if !ok {
		col = make(map[string]float64)
		t.freqs[column] = col
	}
	col[value] = freq
}

// Lookup returns the relative frequency of a column value.
func (t *TermFrequencyTable) Lookup(column, value string) (float64, bool) {
	col, ok := t.freqs[column]
	if !ok {
		return 0, false
	}
	f, ok := col[value]
	return f, ok
}

// Columns returns the number of columns with frequencies loaded.
func (t *TermFrequencyTable) Columns() int { return len(t.freqs) }

// ComputeTermFrequencies builds a table from raw records: for each listed
// column, each distinct non-missing value's share of the column's
// non-missing values.
func ComputeTermFrequencies(records []types.Record, columns []string) *TermFrequencyTable {
	table := NewTermFrequencyTable()
	for _, col := range columns {
		counts := make(map[string]int)
		total := 0
		for _, rec := range records {
			if rec.IsMissing(col) {
				continue
			}
			counts[fmt.Sprintf("%v", rec.Get(col))]++
			total++
		}
		for value, n := range counts {
			table.Set(col, value, float64(n)/float64(total))
		}
	}
	return table
}
