package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolAlignsResults(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	pool := NewWorkerPool(8, func(_ context.Context, item int) (int, error) {
		return item * item, nil
	})

	results, errs := pool.ProcessItems(context.Background(), items)
	require.Len(t, results, 100)
	for i, r := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, i*i, r)
	}
}

func TestWorkerPoolErrors(t *testing.T) {
	oddErr := errors.New("odd item")
	pool := NewWorkerPool(4, func(_ context.Context, item int) (int, error) {
		if item%2 == 1 {
			return 0, fmt.Errorf("item %d: %w", item, oddErr)
		}
		return item, nil
	})

	_, errs := pool.ProcessItems(context.Background(), []int{0, 1, 2, 3})
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], oddErr)
	assert.NoError(t, errs[2])
	assert.ErrorIs(t, errs[3], oddErr)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(2, func(_ context.Context, item int) (int, error) {
		if item == 2 {
			panic("boom")
		}
		return item, nil
	})

	results, errs := pool.ProcessItems(context.Background(), []int{1, 2, 3})
	assert.NoError(t, errs[0])
	assert.Equal(t, 3, results[2])

	var panicErr *PanicError
	require.ErrorAs(t, errs[1], &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
	assert.NotEmpty(t, panicErr.StackTrace)
}

func TestWorkerPoolEmptyInput(t *testing.T) {
	pool := NewWorkerPool(4, func(_ context.Context, item int) (int, error) {
		return item, nil
	})
	results, errs := pool.ProcessItems(context.Background(), nil)
	assert.Nil(t, results)
	assert.Nil(t, errs)
}

func TestWorkerPoolDefaultsConcurrency(t *testing.T) {
	pool := NewWorkerPool(0, func(_ context.Context, item int) (int, error) {
		return item, nil
	})
	assert.Equal(t, DefaultConcurrency(), pool.numWorkers)
}

func TestShard(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	t.Run("splits contiguously", func(t *testing.T) {
		shards := Shard(items, 3)
		require.Len(t, shards, 3)
		var flat []int
		for _, s := range shards {
			flat = append(flat, s...)
		}
		assert.Equal(t, items, flat)
	})

	t.Run("more shards than items", func(t *testing.T) {
		shards := Shard(items, 100)
		assert.Len(t, shards, 7)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, Shard([]int(nil), 4))
	})

	t.Run("non-positive count", func(t *testing.T) {
		shards := Shard(items, 0)
		var flat []int
		for _, s := range shards {
			flat = append(flat, s...)
		}
		assert.Equal(t, items, flat)
	})
}

func TestRecoverAsError(t *testing.T) {
	fn := func() (err error) {
		defer RecoverAsError(&err)
		panic("kaput")
	}
	err := fn()
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaput", panicErr.Value)
}
