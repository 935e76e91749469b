// Package autodiff implements reverse-mode automatic differentiation for the
// convolutional layers of the detection network.
//
// Backend runs the host kernels and, while its tape is recording, records
// each operation so that gradients can be computed afterwards:
//
//	b := autodiff.New()
//	b.Tape().StartRecording()
//	y, _ := b.Conv2D(x, w, 1, 1)
//	y = b.ReLU(y)
//	grads := b.Tape().Backward(map[*tensor.Tensor]*tensor.Tensor{y: dy})
//	dw := grads[w]
//
// A Backend whose tape is not recording computes the forward pass only.
package autodiff

import (
	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/tensor"
)

// Backend computes operations on host memory and records them on a tape.
type Backend struct {
	tape *GradientTape
}

// New creates a backend with an idle tape.
func New() *Backend {
	return &Backend{tape: NewGradientTape()}
}

// Tape returns the gradient tape for manual control.
func (b *Backend) Tape() *GradientTape {
	return b.tape
}

// Conv2D convolves input [N,C_in,H,W] with kernel [C_out,C_in,K_h,K_w].
func (b *Backend) Conv2D(input, kernel *tensor.Tensor, stride, padding int) (*tensor.Tensor, error) {
	is, ks := input.Shape(), kernel.Shape()
	if len(is) != 4 {
		return nil, errors.Errorf("conv2d: input must be 4D [N,C,H,W], got %v", is)
	}
	if len(ks) != 4 {
		return nil, errors.Errorf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %v", ks)
	}
	if is[1] != ks[1] {
		return nil, errors.Errorf("conv2d: input channels %d != kernel channels %d", is[1], ks[1])
	}
	if stride <= 0 || padding < 0 {
		return nil, errors.Errorf("conv2d: invalid stride %d or padding %d", stride, padding)
	}
	g := newConvGeometry(is, ks, stride, padding)
	if g.hOut <= 0 || g.wOut <= 0 {
		return nil, errors.Errorf("conv2d: invalid output size %dx%d for input %v", g.hOut, g.wOut, is)
	}

	out := tensor.MustNew(conv2d(input.Data(), kernel.Data(), g), tensor.Shape{g.n, g.cOut, g.hOut, g.wOut}).
		AsIn(input.Context())
	b.tape.Record(&conv2DOp{input: input, kernel: kernel, output: out, geom: g})
	return out, nil
}

// AddBias adds bias [C] to every position of channel c of x [N,C,H,W].
func (b *Backend) AddBias(x, bias *tensor.Tensor) (*tensor.Tensor, error) {
	s := x.Shape()
	if len(s) != 4 || len(bias.Shape()) != 1 || bias.Dim(0) != s[1] {
		return nil, errors.Errorf("add bias: bias %v does not match input %v", bias.Shape(), s)
	}
	out := x.Clone()
	plane := s[2] * s[3]
	y, bd := out.Data(), bias.Data()
	for n := 0; n < s[0]; n++ {
		for c := 0; c < s[1]; c++ {
			dst := y[(n*s[1]+c)*plane : (n*s[1]+c+1)*plane]
			for i := range dst {
				dst[i] += bd[c]
			}
		}
	}
	b.tape.Record(&biasOp{input: x, bias: bias, output: out})
	return out, nil
}

// ReLU returns max(0, x).
func (b *Backend) ReLU(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	for i, v := range out.Data() {
		if v < 0 {
			out.Data()[i] = 0
		}
	}
	b.tape.Record(&reluOp{input: x, output: out})
	return out
}
