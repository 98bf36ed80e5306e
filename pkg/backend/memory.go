package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/wilko77/splink/pkg/blocking"
	"github.com/wilko77/splink/pkg/types"
	"github.com/wilko77/splink/pkg/utils"
)

// Memory is the in-process reference engine. It evaluates the typed job
// directly rather than executing the compiled plan: exact-match blocking
// rules become hash joins on the concatenated key columns, everything else
// falls back to a predicate scan over the cross product.
type Memory struct {
	logger  *slog.Logger
	workers int

	mu     sync.RWMutex
	stored []storedRow
	tables map[string]int // table name -> record count
}

type storedRow struct {
	source string
	rec    types.Record
}

// memRow is a stored row with its unique id resolved against one job's
// configured id column.
type memRow struct {
	id     string
	source string
	rec    types.Record
}

// MemoryOption configures the in-memory engine.
type MemoryOption func(*Memory)

// WithWorkers sets the concurrency for pair evaluation.
func WithWorkers(n int) MemoryOption {
	return func(m *Memory) { m.workers = n }
}

// NewMemory creates an in-memory backend. A nil logger falls back to the
// default slog logger.
func NewMemory(logger *slog.Logger, opts ...MemoryOption) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		logger:  logger.With("backend", "memory"),
		workers: utils.DefaultConcurrency(),
		tables:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements Backend.
func (m *Memory) Name() string { return "memory" }

// RegisterTable implements Backend. The id column is only known per job,
// so id validation happens when a job snapshots the rows.
func (m *Memory) RegisterTable(ctx context.Context, table *types.Table) error {
	if err := table.Validate(); err != nil {
		return &types.DataError{Op: "register table", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tables[table.Name]; exists {
		return &types.DataError{Op: "register table", Err: fmt.Errorf("table %q already registered", table.Name)}
	}
	for _, rec := range table.Records {
		m.stored = append(m.stored, storedRow{source: table.Name, rec: rec})
	}
	m.tables[table.Name] = len(table.Records)
	m.logger.Debug("registered table", "table", table.Name, "records", len(table.Records))
	return nil
}

// Close implements Backend.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = nil
	m.tables = make(map[string]int)
	return nil
}

// Pairs implements Backend.
func (m *Memory) Pairs(ctx context.Context, job *Job) (*types.PairTable, error) {
	rows, err := m.snapshot(job)
	if err != nil {
		return nil, err
	}
	if err := m.checkColumns(job, rows); err != nil {
		return nil, err
	}

	linkType := job.Settings.LinkType
	qualify := linkType != blocking.DedupeOnly

	type candidate struct {
		left, right memRow
		matchKey    int
	}
	seen := make(map[[2]string]struct{})
	var cands []candidate
	ruleCounts := make([]int, len(job.Rules))

	emit := func(a, b memRow, key int) {
		left, right, ok := orient(a, b, linkType)
		if !ok {
			return
		}
		pk := [2]string{qualifiedID(left, qualify), qualifiedID(right, qualify)}
		if _, dup := seen[pk]; dup {
			return
		}
		// First-matching-rule attribution: a pair matched by an earlier
		// rule was already emitted (or will be) under that rule's key.
		for j := 0; j < key; j++ {
			if job.Rules[j].Matches(left.rec, right.rec) {
				return
			}
		}
		seen[pk] = struct{}{}
		ruleCounts[key]++
		cands = append(cands, candidate{left: left, right: right, matchKey: key})
	}

	for i, rule := range job.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rule.IsExactMatch() {
			buckets := make(map[string][]memRow)
			for _, row := range rows {
				key, ok := blockKey(row.rec, rule.ExactMatchColumns)
				if !ok {
					continue
				}
				buckets[key] = append(buckets[key], row)
			}
			for _, bucket := range buckets {
				for a := 0; a < len(bucket); a++ {
					for b := a + 1; b < len(bucket); b++ {
						emit(bucket[a], bucket[b], i)
					}
				}
			}
			continue
		}
		if rule.Predicate == nil {
			return nil, types.NewSpecificationError("blocking",
				"rule %d (%q) is neither an equality rule nor carries a predicate; the in-memory backend cannot evaluate it", i, rule.Condition)
		}
		for a := 0; a < len(rows); a++ {
			for b := a + 1; b < len(rows); b++ {
				if rule.Matches(rows[a].rec, rows[b].rec) {
					emit(rows[a], rows[b], i)
				}
			}
		}
	}

	m.logger.Debug("generated candidate pairs", "rules", len(job.Rules), "pairs", len(cands))

	evalPair := func(c candidate) types.PairObservation {
		obs := m.observe(job, c.left, c.right, qualify)
		obs.MatchKey = c.matchKey
		return obs
	}
	pairs, err := evaluateAll(ctx, m, cands, evalPair)
	if err != nil {
		return nil, err
	}

	return &types.PairTable{
		Pairs:      pairs,
		RecordIDs:  recordIDs(rows, qualify),
		RuleCounts: ruleCounts,
	}, nil
}

// SamplePairs implements Backend. The sample draws a record subset sized so
// its link-type-eligible pairs reach maxPairs, then emits every eligible
// pair from that subset, capped at maxPairs. Eligible pairs among n rows
// sampled uniformly from N scale with (n/N)^2, so the subset size scales
// with the square root of the requested fraction; for link jobs the total
// counts cross-source pairs only, the sum of pairwise table products.
func (m *Memory) SamplePairs(ctx context.Context, job *Job, maxPairs int, seed int64) (*types.PairTable, error) {
	if maxPairs <= 0 {
		return nil, types.NewSpecificationError("sampling", "max pairs must be positive, got %d", maxPairs)
	}
	rows, err := m.snapshot(job)
	if err != nil {
		return nil, err
	}
	if err := m.checkColumns(job, rows); err != nil {
		return nil, err
	}

	total := eligiblePairTotal(rows, job.Settings.LinkType)
	if total <= 0 {
		return nil, &types.DataError{Op: "sampling", Err: fmt.Errorf("no eligible pairs for link type %q", job.Settings.LinkType)}
	}
	needed := len(rows)
	if float64(maxPairs) < total {
		needed = int(math.Ceil(float64(len(rows)) * math.Sqrt(float64(maxPairs)/total)))
	}
	if needed < 2 {
		needed = 2
	}
	if needed > len(rows) {
		needed = len(rows)
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(rows))
	sample := make([]memRow, needed)
	for i := 0; i < needed; i++ {
		sample[i] = rows[perm[i]]
	}

	linkType := job.Settings.LinkType
	qualify := linkType != blocking.DedupeOnly

	type pair struct{ left, right memRow }
	var cands []pair
	for a := 0; a < len(sample) && len(cands) < maxPairs; a++ {
		for b := a + 1; b < len(sample) && len(cands) < maxPairs; b++ {
			left, right, ok := orient(sample[a], sample[b], linkType)
			if !ok {
				continue
			}
			cands = append(cands, pair{left: left, right: right})
		}
	}
	m.logger.Debug("sampled random pairs", "records", needed, "pairs", len(cands), "seed", seed)

	pairs, err := evaluateAll(ctx, m, cands, func(p pair) types.PairObservation {
		obs := m.observe(job, p.left, p.right, qualify)
		obs.MatchKey = -1
		return obs
	})
	if err != nil {
		return nil, err
	}
	return &types.PairTable{
		Pairs:     pairs,
		RecordIDs: recordIDs(rows, qualify),
	}, nil
}

// evaluateAll runs the per-pair evaluation over contiguous shards so each
// worker appends to its own slice without locking.
func evaluateAll[T any](ctx context.Context, m *Memory, cands []T, eval func(T) types.PairObservation) ([]types.PairObservation, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	shards := utils.Shard(cands, m.workers)
	pool := utils.NewWorkerPool(m.workers, func(ctx context.Context, shard []T) ([]types.PairObservation, error) {
		out := make([]types.PairObservation, 0, len(shard))
		for _, c := range shard {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out = append(out, eval(c))
		}
		return out, nil
	})
	results, errs := pool.ProcessItems(ctx, shards)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	pairs := make([]types.PairObservation, 0, len(cands))
	for _, shard := range results {
		pairs = append(pairs, shard...)
	}
	return pairs, nil
}

// observe evaluates every comparison for one oriented pair.
func (m *Memory) observe(job *Job, left, right memRow, qualify bool) types.PairObservation {
	s := job.Settings
	obs := types.PairObservation{
		LeftID:  qualifiedID(left, qualify),
		RightID: qualifiedID(right, qualify),
		Levels:  make([]int, len(s.Comparisons)),
		Nulls:   make([]bool, len(s.Comparisons)),
	}
	for i, cc := range s.Comparisons {
		obs.Levels[i], obs.Nulls[i] = cc.Evaluate(left.rec, right.rec)
	}
	if tfCols := s.TFColumns(); len(tfCols) > 0 {
		obs.TFValues = make(map[string]string, len(tfCols))
		for _, col := range tfCols {
			v := left.rec.Get(col)
			if left.rec.IsMissing(col) {
				v = right.rec.Get(col)
			}
			if v != nil {
				obs.TFValues[col] = fmt.Sprintf("%v", v)
			}
		}
	}
	return obs
}

// snapshot copies the registered rows under the read lock, resolves each
// row's id against the job's id column, and validates the job's structural
// requirements: non-empty ids, per-table id uniqueness, enough tables for
// the link type.
func (m *Memory) snapshot(job *Job) ([]memRow, error) {
	if job == nil || job.Settings == nil {
		return nil, types.NewSpecificationError("backend", "job has no settings")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.stored) == 0 {
		return nil, &types.DataError{Op: "pairs", Err: types.ErrNoRecords}
	}
	if job.Settings.LinkType == blocking.LinkOnly && len(m.tables) < 2 {
		return nil, &types.DataError{Op: "pairs", Err: fmt.Errorf("link_only requires at least two registered tables, have %d", len(m.tables))}
	}

	idCol := job.Settings.UniqueIDColumn
	seen := make(map[[2]string]struct{}, len(m.stored))
	rows := make([]memRow, 0, len(m.stored))
	for i, sr := range m.stored {
		v := sr.rec.Get(idCol)
		if sr.rec.IsMissing(idCol) {
			return nil, &types.DataError{Op: "pairs", Err: fmt.Errorf("table %q record %d: %w", sr.source, i, types.ErrEmptyRecordID)}
		}
		id := fmt.Sprintf("%v", v)
		key := [2]string{sr.source, id}
		if _, dup := seen[key]; dup {
			return nil, &types.DataError{Op: "pairs", Err: fmt.Errorf("table %q: duplicate unique id %q", sr.source, id)}
		}
		seen[key] = struct{}{}
		rows = append(rows, memRow{id: id, source: sr.source, rec: sr.rec})
	}
	return rows, nil
}

// checkColumns rejects jobs referencing columns no input record carries.
func (m *Memory) checkColumns(job *Job, rows []memRow) error {
	present := make(map[string]struct{})
	for _, row := range rows {
		for col := range row.rec {
			present[col] = struct{}{}
		}
	}
	check := func(col string) error {
		if col == "" {
			return nil
		}
		if _, ok := present[col]; !ok {
			return &types.DataError{Op: "pairs", Err: fmt.Errorf("%w: %q", types.ErrUnknownColumn, col)}
		}
		return nil
	}
	for _, cc := range job.Settings.Comparisons {
		for i := range cc.Levels {
			if err := check(cc.Levels[i].Column); err != nil {
				return err
			}
		}
	}
	for _, rule := range job.Rules {
		for _, col := range rule.ExactMatchColumns {
			if err := check(col); err != nil {
				return err
			}
		}
	}
	return nil
}

// eligiblePairTotal counts the unordered pairs the link type admits: every
// pair for dedupe jobs, only cross-source pairs for link_only.
func eligiblePairTotal(rows []memRow, lt blocking.LinkType) float64 {
	n := float64(len(rows))
	total := n * (n - 1) / 2
	if lt != blocking.LinkOnly {
		return total
	}
	perSource := make(map[string]float64)
	for _, row := range rows {
		perSource[row.source]++
	}
	for _, c := range perSource {
		total -= c * (c - 1) / 2
	}
	return total
}

// orient orders a pair per the link type, or rejects it.
func orient(a, b memRow, lt blocking.LinkType) (left, right memRow, ok bool) {
	if lt.PairEligible(a.id, b.id, a.source, b.source) {
		return a, b, true
	}
	if lt.PairEligible(b.id, a.id, b.source, a.source) {
		return b, a, true
	}
	return memRow{}, memRow{}, false
}

// qualifiedID prefixes the id with its source dataset for link jobs, so
// ids colliding across input tables stay distinct downstream.
func qualifiedID(r memRow, qualify bool) string {
	if !qualify {
		return r.id
	}
	return r.source + ":" + r.id
}

func recordIDs(rows []memRow, qualify bool) []string {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = qualifiedID(row, qualify)
	}
	sort.Strings(ids)
	return ids
}

// blockKey concatenates the blocking column values; rows missing any
// column never block.
func blockKey(rec types.Record, cols []string) (string, bool) {
	key := ""
	for _, col := range cols {
		if rec.IsMissing(col) {
			return "", false
		}
		key += fmt.Sprintf("%v\x1f", rec.Get(col))
	}
	return key, true
}
