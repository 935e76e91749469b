// Package centernet provides the CenterNet detection network, its decoder,
// the pretrained-model zoo and the builder that prepares a network for a
// training run.
//
// A CenterNet predicts, on a grid downsampled by Scale, a per-class center
// heatmap, box sizes (wh) and sub-cell center offsets (reg). Detections are
// the top-K heatmap peaks.
package centernet

import (
	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
)

// Errors returned by the builder and networks.
var (
	ErrUnknownClassCount = errors.New("number of classes is unknown")
	ErrClassMismatch     = errors.New("class list does not match num_class")
	ErrUnknownNetwork    = errors.New("unknown network")
)

// Head names, in output order.
const (
	HeadHeatmap = "heatmap"
	HeadWH      = "wh"
	HeadReg     = "reg"
)

// HeadsSpec is the fixed head topology.
type HeadsSpec struct {
	Bias            float32 `json:"bias"` // initial heatmap bias
	WHOutputs       int     `json:"wh_outputs"`
	RegOutputs      int     `json:"reg_outputs"`
	HeadConvChannel int     `json:"head_conv_channel"`
}

// Spec fully describes a network's architecture and class binding.
type Spec struct {
	BaseNetwork string    `json:"base_network"`
	Classes     []string  `json:"classes"`
	Heads       HeadsSpec `json:"heads"`
	Scale       int       `json:"scale"`
	TopK        int       `json:"topk"`
}

// HeadOutputs are the raw per-shard head outputs: heatmap logits [B,C,h,w],
// wh [B,2,h,w] and reg [B,2,h,w]. The same type carries gradients with
// respect to those outputs.
type HeadOutputs struct {
	Heatmap *tensor.Tensor
	WH      *tensor.Tensor
	Reg     *tensor.Tensor
}

// Detections are decoded predictions: ids [B,K,1], scores [B,K,1] and
// boxes [B,K,4] (xmin, ymin, xmax, ymax) in input pixels. Unused slots carry
// id -1 and score -1.
type Detections struct {
	IDs    *tensor.Tensor
	Scores *tensor.Tensor
	Boxes  *tensor.Tensor
}

// Recorder records training-mode forward passes so that one Backward call
// can accumulate the gradients of all of them.
type Recorder interface {
	// Forward runs the network on one shard and remembers what the backward
	// pass needs.
	Forward(x *tensor.Tensor) (HeadOutputs, error)
	// Backward takes one gradient per recorded forward, in the same order,
	// and accumulates parameter gradients.
	Backward(grads []HeadOutputs) error
}

// Network is a CenterNet detector.
type Network interface {
	Classes() []string
	Spec() Spec
	Scale() int
	// Record starts a training-mode recording.
	Record() Recorder
	// Predict runs inference without recording. It is safe for concurrent
	// use across device shards.
	Predict(x *tensor.Tensor) (Detections, error)
	SetFlipTest(enabled bool)
	// ResetClass rebinds the heatmap head to classes. reuse maps a new class
	// name to an old one whose weights it keeps.
	ResetClass(classes []string, reuse map[string]string) error
	// CollectParams returns the parameters whose names match pattern.
	CollectParams(pattern string) ([]*nn.Parameter, error)
	// ResetCtx places the parameters for the given contexts.
	ResetCtx(ctxs []device.Context)
	// Initialize draws fresh weights from seed.
	Initialize(seed int64)
}
