package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/centernet/internal/autodiff"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/tensor"
)

// Conv2D is a 2D convolution with a per-channel bias.
//
// Input shape:  [batch, in_channels, height, width]
// Output shape: [batch, out_channels, out_height, out_width]
//
// Parameters are named <name>.weight [out, in, k, k] and <name>.bias [out].
//
// Example:
//
//	conv, _ := nn.NewConv2D("heatmap.conv1", 64, 64, 3, 1, 1)
//	conv.InitXavier(rng)
//	y, err := conv.Forward(backend, x)
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter
	bias   *Parameter
}

// NewConv2D creates a zero-initialized convolution.
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride, padding int) (*Conv2D, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("conv2d %s: invalid channels in=%d, out=%d", name, inChannels, outChannels)
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("conv2d %s: invalid kernel %d, stride %d or padding %d", name, kernelSize, stride, padding)
	}
	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter(name+".weight", tensor.Zeros(tensor.Shape{outChannels, inChannels, kernelSize, kernelSize})),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outChannels})),
	}, nil
}

// Forward convolves x and adds the bias, recording on b's tape.
func (c *Conv2D) Forward(b *autodiff.Backend, x *tensor.Tensor) (*tensor.Tensor, error) {
	if s := x.Shape(); len(s) != 4 || s[1] != c.inChannels {
		return nil, fmt.Errorf("conv2d %s: expected input [N,%d,H,W], got %v", c.weight.Name(), c.inChannels, s)
	}
	y, err := b.Conv2D(x, c.weight.Tensor(), c.stride, c.padding)
	if err != nil {
		return nil, err
	}
	return b.AddBias(y, c.bias.Tensor())
}

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter {
	return c.weight
}

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Parameter {
	return c.bias
}

// Parameters returns the weight and bias.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int {
	return c.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int {
	return c.outChannels
}

// FanIn returns the number of inputs feeding one output, in_channels*k*k.
func (c *Conv2D) FanIn() int {
	return c.inChannels * c.kernelSize * c.kernelSize
}

// InitXavier draws the weight from U(-a, a), a = sqrt(6/(fan_in+fan_out)),
// and zeroes the bias.
func (c *Conv2D) InitXavier(rng *rand.Rand) {
	fanOut := c.outChannels * c.kernelSize * c.kernelSize
	limit := math.Sqrt(6 / float64(c.FanIn()+fanOut))
	for i := range c.weight.Tensor().Data() {
		c.weight.Tensor().Data()[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	clear(c.bias.Tensor().Data())
}

// InitNormal draws the weight from N(0, std²) and fills the bias with bias.
func (c *Conv2D) InitNormal(rng *rand.Rand, std float64, bias float32) {
	for i := range c.weight.Tensor().Data() {
		c.weight.Tensor().Data()[i] = float32(rng.NormFloat64() * std)
	}
	for i := range c.bias.Tensor().Data() {
		c.bias.Tensor().Data()[i] = bias
	}
}

// ResetCtx places the parameters on ctx.
func (c *Conv2D) ResetCtx(ctx device.Context) {
	c.weight.ResetCtx(ctx)
	c.bias.ResetCtx(ctx)
}
