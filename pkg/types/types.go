package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrEmptyRecordID  = errors.New("record id cannot be empty")
	ErrEmptyTableName = errors.New("table name cannot be empty")
	ErrNoRecords      = errors.New("table contains no records")
	ErrUnknownColumn  = errors.New("referenced column absent from input")
)

// Record is a single input row keyed by column name. Values are untyped;
// comparison levels decide how to interpret them. A nil or empty-string
// value is treated as missing by null levels.
type Record map[string]any

// Get returns the value for a column, or nil when the column is absent.
func (r Record) Get(column string) any {
	if r == nil {
		return nil
	}
	return r[column]
}

// IsMissing reports whether a column holds no usable value.
func (r Record) IsMissing(column string) bool {
	v := r.Get(column)
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// Table is a named collection of records registered with a backend.
type Table struct {
	Name    string
	Records []Record
}

// Validate checks the table has a name and at least one record.
func (t *Table) Validate() error {
	if t.Name == "" {
		return ErrEmptyTableName
	}
	if len(t.Records) == 0 {
		return fmt.Errorf("table %q: %w", t.Name, ErrNoRecords)
	}
	return nil
}

// PairObservation is one candidate pair after comparison evaluation: the
// comparison-level table row the external engine hands back to the core.
type PairObservation struct {
	// LeftID and RightID identify the two records.
	LeftID  string `json:"left_id"`
	RightID string `json:"right_id"`

	// MatchKey is the index of the first blocking rule that produced
	// this pair, for per-rule diagnostics.
	MatchKey int `json:"match_key"`

	// Levels holds, per comparison (in settings order), the ordinal index
	// of the winning comparison level.
	Levels []int `json:"levels"`

	// Nulls flags, per comparison, whether the winning level was the
	// designated null level.
	Nulls []bool `json:"nulls"`

	// TFValues carries the observed value per term-frequency adjustment
	// column, for levels that apply a frequency correction.
	TFValues map[string]string `json:"tf_values,omitempty"`
}

// PairTable is the materialized comparison-level table for a candidate set.
type PairTable struct {
	Pairs []PairObservation

	// RecordIDs lists every record id that entered blocking, so cluster
	// resolution can emit singleton clusters.
	RecordIDs []string

	// RuleCounts holds the number of pairs attributed to each blocking
	// rule (post-deduplication, first-matching-rule attribution).
	RuleCounts []int
}

// ScoredPair is the scored output for one retained candidate pair.
type ScoredPair struct {
	LeftID  string `json:"left_id" parquet:"left_id"`
	RightID string `json:"right_id" parquet:"right_id"`

	// Levels is the per-comparison level assignment the score was
	// computed from.
	Levels []int `json:"levels" parquet:"levels"`

	// MatchWeight is the total log2 Bayes factor, prior included.
	MatchWeight float64 `json:"match_weight" parquet:"match_weight"`

	// MatchProbability is the logistic transform of MatchWeight.
	MatchProbability float64 `json:"match_probability" parquet:"match_probability"`
}

// ClusterAssignment maps a record to its entity cluster.
type ClusterAssignment struct {
	RecordID  string `json:"record_id" parquet:"record_id"`
	ClusterID string `json:"cluster_id" parquet:"cluster_id"`
}
