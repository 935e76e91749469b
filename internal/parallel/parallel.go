// Package parallel provides the bounded worker fan-out used by the data
// loaders to fetch and transform the items of a batch.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	NumWorkers int // Number of worker goroutines; <= 1 runs in the caller.
}

// DefaultConfig returns one worker per CPU.
func DefaultConfig() Config {
	return Config{NumWorkers: runtime.NumCPU()}
}

// Enabled reports whether f runs on worker goroutines.
func (c Config) Enabled() bool {
	return c.NumWorkers > 1
}

// For executes f(ctx, i) for i in [0, n).
//
// At most cfg.NumWorkers calls run at once. The first error cancels ctx for
// the remaining calls and is returned. Results written by f to index i of a
// caller-owned slice keep their order.
func For(ctx context.Context, n int, cfg Config, f func(ctx context.Context, i int) error) error {
	if !cfg.Enabled() || n < 2 {
		// Sequential fallback.
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(cfg.NumWorkers, n))
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return f(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Map applies f to every index and collects the results in index order.
func Map[T any](ctx context.Context, n int, cfg Config, f func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	err := For(ctx, n, cfg, func(ctx context.Context, i int) error {
		v, err := f(ctx, i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
