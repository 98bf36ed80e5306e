// Package backend defines the execution engine boundary. The core hands a
// backend a compiled job (typed settings plus the dialect-lowered plan) and
// receives the materialized comparison-level table back; everything on the
// far side of this interface is the engine's business.
package backend

import (
	"context"

	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/compiler"
	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
)

// Job is one compiled unit of pairwise work. Rules are the blocking rules
// in effect for this job: the prediction rules for scoring, the training
// rules for an estimation session. Plan is the dialect-specific lowering of
// the same job; in-process engines evaluate the typed form and ignore it.
type Job struct {
	Settings *settings.Settings
	Rules    []blocking.Rule
	Plan     *compiler.Plan
}

// Backend executes compiled pairwise jobs against registered input tables.
type Backend interface {
	// Name identifies the engine for logs and diagnostics.
	Name() string

	// RegisterTable makes an input table available to subsequent jobs.
	// Table names double as source dataset labels for link jobs.
	RegisterTable(ctx context.Context, table *types.Table) error

	// Pairs generates the job's candidate pairs, evaluates every
	// comparison on each, and returns the comparison-level table. Each
	// eligible pair appears exactly once, attributed to the first rule
	// that matched it.
	Pairs(ctx context.Context, job *Job) (*types.PairTable, error)

	// SamplePairs draws random record pairs without blocking, for
	// u-probability estimation. maxPairs bounds the number of pairs
	// produced; seed fixes the sample for reproducibility where the
	// engine supports seeded sampling.
	SamplePairs(ctx context.Context, job *Job, maxPairs int, seed int64) (*types.PairTable, error)

	// Close releases engine resources.
	Close() error
}
