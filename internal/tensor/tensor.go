// Package tensor provides the dense float32 tensors exchanged between the
// data pipeline, the detection network and the training loop.
//
// Tensors are row-major host buffers tagged with the device.Context they were
// loaded on. Views along the leading axis share memory with their parent;
// every other operation returns a fresh buffer.
package tensor

import (
	"fmt"

	"github.com/born-ml/centernet/internal/device"
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	shape  Shape
	stride []int
	data   []float32
	ctx    device.Context
}

// New wraps data with the given shape. len(data) must match the shape.
func New(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &Tensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		data:   data,
		ctx:    device.Host(),
	}, nil
}

// MustNew is New for shapes known to be valid; it panics on mismatch.
func MustNew(data []float32, shape Shape) *Tensor {
	t, err := New(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	return MustNew(make([]float32, shape.NumElements()), shape)
}

// Full allocates a tensor with every element set to v.
func Full(shape Shape, v float32) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the underlying buffer. Mutations are visible to views.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Context returns the device context the tensor is placed on.
func (t *Tensor) Context() device.Context {
	return t.ctx
}

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Dim returns the size of axis i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Len returns the size of the leading axis (0 for scalars).
func (t *Tensor) Len() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[0]
}

// AsIn returns a tensor placed on ctx sharing the same buffer.
func (t *Tensor) AsIn(ctx device.Context) *Tensor {
	return &Tensor{shape: t.shape, stride: t.stride, data: t.data, ctx: ctx}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), stride: t.shape.ComputeStrides(), data: data, ctx: t.ctx}
}

// Reshape returns a view with a new shape of the same element count.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(t.data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{shape: shape.Clone(), stride: shape.ComputeStrides(), data: t.data, ctx: t.ctx}, nil
}

// offset converts a multi-index into a flat offset.
func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match shape %v", len(idx), t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off += v * t.stride[i]
	}
	return off
}

// At returns the element at idx.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set writes v at idx.
func (t *Tensor) Set(v float32, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Slice returns a view of rows [begin, end) along the leading axis.
func (t *Tensor) Slice(begin, end int) *Tensor {
	if len(t.shape) == 0 || begin < 0 || end > t.shape[0] || begin > end {
		panic(fmt.Sprintf("tensor: slice [%d:%d] out of range for shape %v", begin, end, t.shape))
	}
	row := 1
	if len(t.shape) > 1 {
		row = t.stride[0]
	}
	shape := t.shape.Clone()
	shape[0] = end - begin
	return &Tensor{
		shape:  shape,
		stride: shape.ComputeStrides(),
		data:   t.data[begin*row : end*row],
		ctx:    t.ctx,
	}
}

// Index returns a view of row i with the leading axis removed.
func (t *Tensor) Index(i int) *Tensor {
	s := t.Slice(i, i+1)
	tail := t.shape.Tail()
	return &Tensor{shape: tail, stride: tail.ComputeStrides(), data: s.data, ctx: t.ctx}
}

// SliceLast copies columns [begin, end) of the last axis.
func (t *Tensor) SliceLast(begin, end int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("cannot slice last axis of a scalar")
	}
	last := t.shape[len(t.shape)-1]
	if begin < 0 || end > last || begin > end {
		return nil, fmt.Errorf("column range [%d:%d] out of bounds for last axis %d", begin, end, last)
	}
	width := end - begin
	rows := 0
	if last > 0 {
		rows = len(t.data) / last
	}
	out := make([]float32, 0, rows*width)
	for r := 0; r < rows; r++ {
		out = append(out, t.data[r*last+begin:r*last+end]...)
	}
	shape := t.shape.Clone()
	shape[len(shape)-1] = width
	res := MustNew(out, shape)
	res.ctx = t.ctx
	return res, nil
}

// Clip returns a copy with every element clamped to [lo, hi].
func (t *Tensor) Clip(lo, hi float32) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		switch {
		case v < lo:
			out.data[i] = lo
		case v > hi:
			out.data[i] = hi
		}
	}
	return out
}

// String prints the shape and context, not the data.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, ctx=%s)", []int(t.shape), t.ctx)
}
