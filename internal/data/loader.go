package data

import (
	"context"
	"iter"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/parallel"
)

// LastBatch decides what happens to a trailing partial batch.
type LastBatch int

const (
	// Keep yields the trailing partial batch as a smaller batch.
	Keep LastBatch = iota
	// Discard drops the trailing partial batch.
	Discard
	// Rollover carries the trailing items over to the front of the next
	// epoch, so every batch is full.
	Rollover
)

func (l LastBatch) String() string {
	switch l {
	case Keep:
		return "keep"
	case Discard:
		return "discard"
	case Rollover:
		return "rollover"
	default:
		return "unknown"
	}
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	LastBatch LastBatch
	Workers   int   // items of one batch are fetched by this many workers
	Seed      int64 // shuffle seed
}

// Loader iterates a dataset in batches.
//
// A Loader is not safe for concurrent iteration: with Rollover it carries
// state from one epoch to the next.
//
// Example:
//
//	loader, _ := data.NewLoader(ds, data.StackTuple(6), data.LoaderConfig{
//	    BatchSize: 16,
//	    Shuffle:   true,
//	    LastBatch: data.Rollover,
//	})
//	for batch, err := range loader.Batches(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
type Loader struct {
	ds       Dataset[Item]
	batchify Batchify
	cfg      LoaderConfig
	rng      *rand.Rand
	leftover []int
}

// NewLoader creates a loader over ds.
func NewLoader(ds Dataset[Item], batchify Batchify, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if batchify == nil {
		return nil, errors.New("loader needs a batchify function")
	}
	return &Loader{
		ds:       ds,
		batchify: batchify,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // G404: shuffling, not crypto
	}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset[Item] {
	return l.ds
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int {
	return l.cfg.BatchSize
}

// Len returns the number of batches the next epoch yields.
func (l *Loader) Len() int {
	n, bs := l.ds.Len(), l.cfg.BatchSize
	switch l.cfg.LastBatch {
	case Keep:
		return (n + bs - 1) / bs
	case Discard:
		return n / bs
	case Rollover:
		return (len(l.leftover) + n) / bs
	default:
		return 0
	}
}

// epochIndices returns the index stream of the next epoch.
func (l *Loader) epochIndices() []int {
	n := l.ds.Len()
	var order []int
	if l.cfg.Shuffle {
		order = l.rng.Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	if l.cfg.LastBatch == Rollover && len(l.leftover) > 0 {
		order = append(append([]int(nil), l.leftover...), order...)
	}
	l.leftover = nil
	return order
}

// Batches yields the batches of one epoch. Iteration stops at the first
// error, which is yielded with a nil batch.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		order := l.epochIndices()
		bs := l.cfg.BatchSize
		workers := parallel.Config{NumWorkers: l.cfg.Workers}

		for start := 0; start < len(order); start += bs {
			end := min(start+bs, len(order))
			if end-start < bs {
				switch l.cfg.LastBatch {
				case Discard:
					return
				case Rollover:
					l.leftover = append([]int(nil), order[start:]...)
					return
				case Keep:
				}
			}

			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			idx := order[start:end]
			items, err := parallel.Map(ctx, len(idx), workers, func(ctx context.Context, i int) (Item, error) {
				return l.ds.Get(ctx, idx[i])
			})
			if err != nil {
				yield(nil, errors.Wrapf(err, "load batch at %d", start))
				return
			}
			batch, err := l.batchify(items)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}
