package centernet

import (
	"math/rand"

	"github.com/born-ml/centernet/internal/autodiff"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
)

// head is conv3x3 -> ReLU -> conv1x1.
type head struct {
	name  string
	conv1 *nn.Conv2D // [mid, in, 3, 3]
	conv2 *nn.Conv2D // [out, mid, 1, 1]
}

func newHead(name string, in, mid, out int) (*head, error) {
	conv1, err := nn.NewConv2D(name+".conv1", in, mid, 3, 1, 1)
	if err != nil {
		return nil, err
	}
	conv2, err := nn.NewConv2D(name+".conv2", mid, out, 1, 1, 0)
	if err != nil {
		return nil, err
	}
	return &head{name: name, conv1: conv1, conv2: conv2}, nil
}

func (h *head) params() []*nn.Parameter {
	return append(h.conv1.Parameters(), h.conv2.Parameters()...)
}

// initialize draws Xavier hidden weights, small normal output weights and a
// constant output bias.
func (h *head) initialize(rng *rand.Rand, outBias float32) {
	h.conv1.InitXavier(rng)
	h.conv2.InitNormal(rng, 0.01, outBias)
}

func (h *head) forward(b *autodiff.Backend, feat *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := h.conv1.Forward(b, feat)
	if err != nil {
		return nil, err
	}
	return h.conv2.Forward(b, b.ReLU(hidden))
}

func (h *head) resetCtx(ctx device.Context) {
	h.conv1.ResetCtx(ctx)
	h.conv2.ResetCtx(ctx)
}
