package autodiff

import (
	"github.com/born-ml/centernet/internal/tensor"
)

// conv2DOp records a 2D convolution.
//
// Backward:
//   - d_input:  transposed convolution of d_output with the kernel
//   - d_kernel: correlation of the input with d_output
type conv2DOp struct {
	input  *tensor.Tensor
	kernel *tensor.Tensor
	output *tensor.Tensor
	geom   convGeometry
}

func (op *conv2DOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.kernel}
}

func (op *conv2DOp) Output() *tensor.Tensor {
	return op.output
}

func (op *conv2DOp) Backward(outputGrad *tensor.Tensor) []*tensor.Tensor {
	g := op.geom
	inputGrad := conv2dInputBackward(outputGrad.Data(), op.kernel.Data(), g)
	kernelGrad := conv2dKernelBackward(op.input.Data(), outputGrad.Data(), g)
	return []*tensor.Tensor{
		tensor.MustNew(inputGrad, op.input.Shape().Clone()).AsIn(op.input.Context()),
		tensor.MustNew(kernelGrad, op.kernel.Shape().Clone()).AsIn(op.kernel.Context()),
	}
}

// biasOp records a per-channel bias addition. The input gradient is the
// output gradient; the bias gradient sums it over batch and positions.
type biasOp struct {
	input  *tensor.Tensor
	bias   *tensor.Tensor
	output *tensor.Tensor
}

func (op *biasOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.bias}
}

func (op *biasOp) Output() *tensor.Tensor {
	return op.output
}

func (op *biasOp) Backward(outputGrad *tensor.Tensor) []*tensor.Tensor {
	s := outputGrad.Shape()
	plane := s[2] * s[3]
	biasGrad := tensor.Zeros(op.bias.Shape()).AsIn(op.bias.Context())
	g, db := outputGrad.Data(), biasGrad.Data()
	for n := 0; n < s[0]; n++ {
		for c := 0; c < s[1]; c++ {
			for _, v := range g[(n*s[1]+c)*plane : (n*s[1]+c+1)*plane] {
				db[c] += v
			}
		}
	}
	return []*tensor.Tensor{outputGrad, biasGrad}
}

// reluOp records max(0, x). d(ReLU(x))/dx = 1 if x > 0, else 0.
type reluOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

func (op *reluOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

func (op *reluOp) Output() *tensor.Tensor {
	return op.output
}

func (op *reluOp) Backward(outputGrad *tensor.Tensor) []*tensor.Tensor {
	grad := outputGrad.Clone()
	x := op.input.Data()
	for i := range grad.Data() {
		if x[i] <= 0 {
			grad.Data()[i] = 0
		}
	}
	return []*tensor.Tensor{grad}
}
