package tensor

import (
	"fmt"

	"github.com/born-ml/centernet/internal/device"
)

// Stack joins same-shaped tensors along a new leading axis.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("stack: no tensors")
	}
	elem := ts[0].shape
	data := make([]float32, 0, len(ts)*elem.NumElements())
	for i, t := range ts {
		if !t.shape.Equal(elem) {
			return nil, fmt.Errorf("stack: tensor %d has shape %v, expected %v", i, t.shape, elem)
		}
		data = append(data, t.data...)
	}
	return New(data, elem.WithLeading(len(ts)))
}

// Pad stacks tensors whose leading axis differs, padding every tensor to the
// largest leading size (at least 1) with val. Trailing axes must match.
//
// Used to batch variable-length label tensors: [n_i, k] -> [B, max(n_i), k].
func Pad(ts []*Tensor, val float32) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("pad: no tensors")
	}
	tail := ts[0].shape.Tail()
	maxLen := 1
	for i, t := range ts {
		if len(t.shape) == 0 {
			return nil, fmt.Errorf("pad: tensor %d is a scalar", i)
		}
		if !t.shape.Tail().Equal(tail) {
			return nil, fmt.Errorf("pad: tensor %d has trailing shape %v, expected %v", i, t.shape.Tail(), tail)
		}
		maxLen = max(maxLen, t.shape[0])
	}

	rowSize := tail.NumElements()
	out := Full(append(Shape{len(ts), maxLen}, tail...), val)
	for i, t := range ts {
		copy(out.data[i*maxLen*rowSize:], t.data)
	}
	return out, nil
}

// SplitSizes partitions size items into at most n near-even sections.
//
// The first size%n sections get one extra item, so later sections are never
// larger than earlier ones. Empty sections are dropped, so the result has
// min(n, size) entries. With even set, size must be divisible by n.
func SplitSizes(size, n int, even bool) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("split: number of sections must be positive, got %d", n)
	}
	if size <= 0 {
		return nil, fmt.Errorf("split: cannot split an empty batch into %d sections", n)
	}
	if even && size%n != 0 {
		return nil, fmt.Errorf("split: batch of %d cannot be evenly split into %d sections", size, n)
	}

	each, extras := size/n, size%n
	sizes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		s := each
		if i < extras {
			s++
		}
		if s == 0 {
			break
		}
		sizes = append(sizes, s)
	}
	return sizes, nil
}

// Split cuts t along its leading axis into at most n views (see SplitSizes).
func Split(t *Tensor, n int, even bool) ([]*Tensor, error) {
	sizes, err := SplitSizes(t.Len(), n, even)
	if err != nil {
		return nil, err
	}
	parts := make([]*Tensor, len(sizes))
	begin := 0
	for i, s := range sizes {
		parts[i] = t.Slice(begin, begin+s)
		begin += s
	}
	return parts, nil
}

// SplitAndLoad splits t along its leading axis and places shard i on ctxs[i].
// A single context receives the whole tensor.
func SplitAndLoad(t *Tensor, ctxs []device.Context, even bool) ([]*Tensor, error) {
	if len(ctxs) == 1 {
		return []*Tensor{t.AsIn(ctxs[0])}, nil
	}
	parts, err := Split(t, len(ctxs), even)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		parts[i] = parts[i].AsIn(ctxs[i])
	}
	return parts, nil
}
