package utils

import (
	"context"
	"runtime"
	"sync"
)

// DefaultConcurrency is the worker count used when a caller passes a
// non-positive limit.
func DefaultConcurrency() int {
	return runtime.GOMAXPROCS(0)
}

// Worker processes one item and produces a result.
type Worker[T any, R any] func(ctx context.Context, item T) (R, error)

// WorkerPool fans a slice of items out over a fixed number of goroutines.
// The expensive loops in this codebase (expectation passes over pair
// shards, pairwise candidate scans) are embarrassingly parallel, so the
// pool keeps results positionally aligned with the input and leaves
// aggregation to the caller.
type WorkerPool[T any, R any] struct {
	numWorkers int
	worker     Worker[T, R]
}

// NewWorkerPool creates a pool with the given concurrency; non-positive
// falls back to DefaultConcurrency.
func NewWorkerPool[T any, R any](numWorkers int, worker Worker[T, R]) *WorkerPool[T, R] {
	if numWorkers <= 0 {
		numWorkers = DefaultConcurrency()
	}
	return &WorkerPool[T, R]{numWorkers: numWorkers, worker: worker}
}

// ProcessItems processes every item and returns results and errors aligned
// by index. Worker panics are recovered into PanicError entries. A
// cancelled context stops workers from picking up further items; already
// running items finish.
func (wp *WorkerPool[T, R]) ProcessItems(ctx context.Context, items []T) ([]R, []error) {
	if len(items) == 0 {
		return nil, nil
	}

	type job struct {
		item  T
		index int
	}
	jobs := make(chan job, len(items))
	for i, item := range items {
		jobs <- job{item: item, index: i}
	}
	close(jobs)

	results := make([]R, len(items))
	errors := make([]error, len(items))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < wp.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case j, ok := <-jobs:
					if !ok {
						return
					}
					func() {
						defer RecoverWithCallback(func(err error) {
							mu.Lock()
							errors[j.index] = err
							mu.Unlock()
						})
						results[j.index], errors[j.index] = wp.worker(ctx, j.item)
					}()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()
	return results, errors
}

// Shard splits items into at most n contiguous shards of near-equal size.
// Used to hand one shard per worker so per-shard accumulators need no
// locking.
func Shard[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = DefaultConcurrency()
	}
	if len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	shards := make([][]T, 0, n)
	size := (len(items) + n - 1) / n
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		shards = append(shards, items[start:end])
	}
	return shards
}
