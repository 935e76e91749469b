package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	err := For(context.Background(), n, cfg, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(n), counter)
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{NumWorkers: 0}

	var order []int
	err := For(context.Background(), 5, cfg, func(_ context.Context, i int) error {
		order = append(order, i)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFor_BoundedWorkers(t *testing.T) {
	cfg := Config{NumWorkers: 3}

	var running, peak int64
	err := For(context.Background(), 50, cfg, func(_ context.Context, _ int) error {
		cur := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		atomic.AddInt64(&running, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int64(3))
}

func TestFor_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	for _, workers := range []int{1, 4} {
		err := For(context.Background(), 20, Config{NumWorkers: workers}, func(_ context.Context, i int) error {
			if i == 7 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom, "workers=%d", workers)
	}
}

func TestFor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	err := For(ctx, 10, Config{NumWorkers: 4}, func(_ context.Context, _ int) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestMap_PreservesOrder(t *testing.T) {
	out, err := Map(context.Background(), 100, Config{NumWorkers: 8}, func(_ context.Context, i int) (int, error) {
		return i * i, nil
	})
	require.NoError(t, err)
	require.Len(t, out, 100)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}
