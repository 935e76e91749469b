package data

import (
	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/tensor"
)

// Item is one transformed dataset item: aligned tensors, one per field.
type Item []*tensor.Tensor

// Batch holds one tensor per field with the batch on the leading axis.
type Batch []*tensor.Tensor

// Size returns the number of items in the batch.
func (b Batch) Size() int {
	if len(b) == 0 {
		return 0
	}
	return b[0].Len()
}

// Field collates one field across the items of a batch.
type Field func(ts []*tensor.Tensor) (*tensor.Tensor, error)

// Batchify collates items into a batch.
type Batchify func(items []Item) (Batch, error)

// Stack collates same-shaped tensors.
func Stack() Field {
	return tensor.Stack
}

// Pad collates tensors of varying leading size, filling with val.
func Pad(val float32) Field {
	return func(ts []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Pad(ts, val)
	}
}

// Tuple collates field i of every item with fields[i].
func Tuple(fields ...Field) Batchify {
	return func(items []Item) (Batch, error) {
		if len(items) == 0 {
			return nil, errors.New("batchify: empty batch")
		}
		batch := make(Batch, len(fields))
		column := make([]*tensor.Tensor, len(items))
		for f, collate := range fields {
			for i, item := range items {
				if len(item) != len(fields) {
					return nil, errors.Errorf("batchify: item %d has %d fields, expected %d", i, len(item), len(fields))
				}
				column[i] = item[f]
			}
			t, err := collate(column)
			if err != nil {
				return nil, errors.Wrapf(err, "batchify field %d", f)
			}
			batch[f] = t
		}
		return batch, nil
	}
}

// StackTuple stacks every one of n fields.
func StackTuple(n int) Batchify {
	fields := make([]Field, n)
	for i := range fields {
		fields[i] = Stack()
	}
	return Tuple(fields...)
}
