package autodiff

import (
	"github.com/born-ml/centernet/internal/tensor"
)

// Operation is a differentiable operation recorded during the forward pass.
type Operation interface {
	// Backward returns one gradient per input, given the output gradient.
	// A nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.Tensor) []*tensor.Tensor

	// Inputs returns the input tensors of the operation.
	Inputs() []*tensor.Tensor

	// Output returns the tensor the operation produced.
	Output() *tensor.Tensor
}

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... perform operations through a Backend ...
//	grads := tape.Backward(map[*tensor.Tensor]*tensor.Tensor{out: dOut})
type GradientTape struct {
	operations []Operation
	recording  bool
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]Operation, 0, 32),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds an operation to the tape if it is recording.
func (t *GradientTape) Record(op Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear drops all recorded operations. Recording state is preserved.
func (t *GradientTape) Clear() {
	clear(t.operations)
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Backward walks the tape in reverse starting from the given output
// gradients and returns the accumulated gradient of every tensor reached,
// keyed by tensor identity. Tensors used by several operations receive the
// sum of their gradients.
func (t *GradientTape) Backward(seeds map[*tensor.Tensor]*tensor.Tensor) map[*tensor.Tensor]*tensor.Tensor {
	grads := make(map[*tensor.Tensor]*tensor.Tensor, len(seeds)+len(t.operations))
	for out, g := range seeds {
		grads[out] = g
	}

	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		g, ok := grads[op.Output()]
		if !ok {
			continue
		}
		inputGrads := op.Backward(g)
		for j, input := range op.Inputs() {
			if j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			if existing, ok := grads[input]; ok {
				grads[input] = add(existing, inputGrads[j])
			} else {
				grads[input] = inputGrads[j]
			}
		}
	}
	return grads
}

func add(a, b *tensor.Tensor) *tensor.Tensor {
	out := a.Clone()
	for i, v := range b.Data() {
		out.Data()[i] += v
	}
	return out
}
