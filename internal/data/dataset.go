// Package data adapts raw detection datasets into batched, padded,
// device-ready iterators for training and validation.
package data

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/tensor"
)

// Dataset is a random-access collection of items.
type Dataset[T any] interface {
	Len() int
	Get(ctx context.Context, i int) (T, error)
}

// Object is one annotated object in pixel coordinates.
type Object struct {
	Box       [4]float32 // xmin, ymin, xmax, ymax
	Class     int
	Difficult bool
}

// Sample is one raw image with its annotations.
type Sample struct {
	Image   *tensor.Tensor // HWC, values in [0, 255]
	Objects []Object
	// HasDifficult reports whether Objects carry difficult flags.
	HasDifficult bool
	// Ref identifies the source image (path or URL).
	Ref string
}

// Label returns the annotation matrix [N, 5] (box, class) or [N, 6] when
// the sample carries difficult flags.
func (s Sample) Label() *tensor.Tensor {
	cols := 5
	if s.HasDifficult {
		cols = 6
	}
	data := make([]float32, 0, len(s.Objects)*cols)
	for _, o := range s.Objects {
		data = append(data, o.Box[0], o.Box[1], o.Box[2], o.Box[3], float32(o.Class))
		if s.HasDifficult {
			d := float32(0)
			if o.Difficult {
				d = 1
			}
			data = append(data, d)
		}
	}
	return tensor.MustNew(data, tensor.Shape{len(s.Objects), cols})
}

// DetectionDataset is a dataset of annotated images with named classes.
type DetectionDataset interface {
	Dataset[Sample]
	Classes() []string
}

type mapped[T, U any] struct {
	src Dataset[T]
	fn  func(T) (U, error)
}

func (m mapped[T, U]) Len() int {
	return m.src.Len()
}

func (m mapped[T, U]) Get(ctx context.Context, i int) (U, error) {
	var zero U
	item, err := m.src.Get(ctx, i)
	if err != nil {
		return zero, err
	}
	out, err := m.fn(item)
	if err != nil {
		return zero, errors.Wrapf(err, "transform item %d", i)
	}
	return out, nil
}

// Transform returns a view of ds with fn applied to every item on access.
func Transform[T, U any](ds Dataset[T], fn func(T) (U, error)) Dataset[U] {
	return mapped[T, U]{src: ds, fn: fn}
}

// Subset is a view of a detection dataset restricted to some indices.
type Subset struct {
	src     DetectionDataset
	indices []int
}

// NewSubset returns the items of src at indices, in that order.
func NewSubset(src DetectionDataset, indices []int) *Subset {
	return &Subset{src: src, indices: append([]int(nil), indices...)}
}

// Len returns the number of items.
func (s *Subset) Len() int {
	return len(s.indices)
}

// Get returns item i of the subset.
func (s *Subset) Get(ctx context.Context, i int) (Sample, error) {
	if i < 0 || i >= len(s.indices) {
		return Sample{}, errors.Errorf("index %d out of range [0, %d)", i, len(s.indices))
	}
	return s.src.Get(ctx, s.indices[i])
}

// Classes returns the class names of the source dataset.
func (s *Subset) Classes() []string {
	return s.src.Classes()
}

// Split partitions ds into a training and a validation subset. fraction is
// the share of items kept for training; the permutation is seeded.
func Split(ds DetectionDataset, fraction float64, seed int64) (*Subset, *Subset, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, errors.Errorf("split fraction must be in (0, 1), got %g", fraction)
	}
	n := ds.Len()
	nTrain := int(float64(n) * fraction)
	if nTrain == 0 || nTrain == n {
		return nil, nil, errors.Errorf("cannot split %d items with fraction %g", n, fraction)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n) //nolint:gosec // G404: shuffling, not crypto
	return NewSubset(ds, perm[:nTrain]), NewSubset(ds, perm[nTrain:]), nil
}
