package centernet

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/autodiff"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
)

// PoolNet is a compact CenterNet: a fixed pooling stem with stride Scale, a
// trainable 3x3 convolution with ReLU, and three heads. It runs on the host;
// device contexts only tag where tensors live.
//
// Example:
//
//	net, err := centernet.NewPoolNet(centernet.Spec{
//	    BaseNetwork: "avgpool",
//	    Classes:     []string{"cat", "dog"},
//	    Heads:       centernet.HeadsSpec{Bias: -2.19, WHOutputs: 2, RegOutputs: 2, HeadConvChannel: 64},
//	    Scale:       4,
//	    TopK:        100,
//	})
//	net.Initialize(0)
//	dets, err := net.Predict(x) // x: [B,3,H,W]
type PoolNet struct {
	spec     Spec
	pool     Stem
	stem     *nn.Conv2D // [mid, pool channels, 3, 3]
	heatmap  *head
	wh       *head
	reg      *head
	flipTest bool
	ctxs     []device.Context
	rng      *rand.Rand
}

// NewPoolNet allocates a network for spec. Weights are zero until
// Initialize or a state dict load.
func NewPoolNet(spec Spec) (*PoolNet, error) {
	if len(spec.Classes) == 0 {
		return nil, ErrUnknownClassCount
	}
	switch {
	case spec.Heads.WHOutputs != 2:
		return nil, errors.Errorf("wh head must have 2 outputs, got %d", spec.Heads.WHOutputs)
	case spec.Heads.RegOutputs != 2:
		return nil, errors.Errorf("reg head must have 2 outputs, got %d", spec.Heads.RegOutputs)
	case spec.Heads.HeadConvChannel <= 0:
		return nil, errors.Errorf("head conv channels must be positive, got %d", spec.Heads.HeadConvChannel)
	case spec.Scale <= 0:
		return nil, errors.Errorf("scale must be positive, got %d", spec.Scale)
	case spec.TopK <= 0:
		return nil, errors.Errorf("topk must be positive, got %d", spec.TopK)
	}
	pool, err := NewStem(spec.BaseNetwork)
	if err != nil {
		return nil, err
	}

	spec.Classes = append([]string(nil), spec.Classes...)
	mid := spec.Heads.HeadConvChannel
	n := &PoolNet{
		spec: spec,
		pool: pool,
		ctxs: []device.Context{device.Host()},
		rng:  rand.New(rand.NewSource(0)), //nolint:gosec // G404: weight init, not crypto
	}
	if n.stem, err = nn.NewConv2D("stem.conv", pool.Channels(), mid, 3, 1, 1); err != nil {
		return nil, err
	}
	if n.heatmap, err = newHead(HeadHeatmap, mid, mid, len(spec.Classes)); err != nil {
		return nil, err
	}
	if n.wh, err = newHead(HeadWH, mid, mid, spec.Heads.WHOutputs); err != nil {
		return nil, err
	}
	if n.reg, err = newHead(HeadReg, mid, mid, spec.Heads.RegOutputs); err != nil {
		return nil, err
	}
	return n, nil
}

// Classes returns the bound class names.
func (n *PoolNet) Classes() []string {
	return n.spec.Classes
}

// Spec returns a copy of the network description.
func (n *PoolNet) Spec() Spec {
	s := n.spec
	s.Classes = append([]string(nil), n.spec.Classes...)
	return s
}

// Scale returns the output stride.
func (n *PoolNet) Scale() int {
	return n.spec.Scale
}

// SetFlipTest enables averaging with the horizontally flipped input at
// prediction time.
func (n *PoolNet) SetFlipTest(enabled bool) {
	n.flipTest = enabled
}

func (n *PoolNet) heads() []*head {
	return []*head{n.heatmap, n.wh, n.reg}
}

func (n *PoolNet) params() []*nn.Parameter {
	all := n.stem.Parameters()
	for _, h := range n.heads() {
		all = append(all, h.params()...)
	}
	return all
}

// CollectParams returns the parameters matching pattern, sorted by name.
func (n *PoolNet) CollectParams(pattern string) ([]*nn.Parameter, error) {
	return nn.Collect(n.params(), pattern)
}

// ResetCtx places the parameters on the first context.
func (n *PoolNet) ResetCtx(ctxs []device.Context) {
	if len(ctxs) == 0 {
		ctxs = []device.Context{device.Host()}
	}
	n.ctxs = append([]device.Context(nil), ctxs...)
	n.stem.ResetCtx(ctxs[0])
	for _, h := range n.heads() {
		h.resetCtx(ctxs[0])
	}
}

// Contexts returns the contexts the network was placed for.
func (n *PoolNet) Contexts() []device.Context {
	return append([]device.Context(nil), n.ctxs...)
}

// Initialize draws fresh weights. The heatmap output bias starts at the
// configured prior so early predictions are mostly background.
func (n *PoolNet) Initialize(seed int64) {
	n.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // G404: weight init, not crypto
	n.stem.InitXavier(n.rng)
	n.heatmap.initialize(n.rng, n.spec.Heads.Bias)
	n.wh.initialize(n.rng, 0)
	n.reg.initialize(n.rng, 0)
}

// ResetClass rebinds the heatmap head to classes.
func (n *PoolNet) ResetClass(classes []string, reuse map[string]string) error {
	if len(classes) == 0 {
		return ErrUnknownClassCount
	}
	old := make(map[string]int, len(n.spec.Classes))
	for i, c := range n.spec.Classes {
		old[c] = i
	}

	prev := n.heatmap.conv2
	mid := prev.InChannels()
	conv2, err := nn.NewConv2D(HeadHeatmap+".conv2", mid, len(classes), 1, 1, 0)
	if err != nil {
		return err
	}
	oldW, oldB := prev.Weight().Tensor().Data(), prev.Bias().Tensor().Data()
	w, b := conv2.Weight().Tensor().Data(), conv2.Bias().Tensor().Data()
	for i, c := range classes {
		row := w[i*mid : (i+1)*mid]
		if src, ok := reuse[c]; ok {
			j, found := old[src]
			if !found {
				return errors.Errorf("cannot reuse weights of class %q: not in %v", src, n.spec.Classes)
			}
			copy(row, oldW[j*mid:(j+1)*mid])
			b[i] = oldB[j]
			continue
		}
		for k := range row {
			row[k] = float32(n.rng.NormFloat64() * 0.01)
		}
		b[i] = n.spec.Heads.Bias
	}

	conv2.Weight().WDMult = prev.Weight().WDMult
	conv2.Bias().WDMult = prev.Bias().WDMult
	conv2.ResetCtx(prev.Weight().Tensor().Context())
	n.heatmap.conv2 = conv2
	n.spec.Classes = append([]string(nil), classes...)
	return nil
}

func (n *PoolNet) forward(b *autodiff.Backend, x *tensor.Tensor) (HeadOutputs, error) {
	pooled, err := n.pool.Forward(x, n.spec.Scale)
	if err != nil {
		return HeadOutputs{}, err
	}
	feat, err := n.stem.Forward(b, pooled)
	if err != nil {
		return HeadOutputs{}, err
	}
	feat = b.ReLU(feat)

	var outs [3]*tensor.Tensor
	for i, h := range n.heads() {
		if outs[i], err = h.forward(b, feat); err != nil {
			return HeadOutputs{}, err
		}
	}
	return HeadOutputs{Heatmap: outs[0], WH: outs[1], Reg: outs[2]}, nil
}

// Predict decodes detections for x [B,3,H,W].
func (n *PoolNet) Predict(x *tensor.Tensor) (Detections, error) {
	b := autodiff.New()
	out, err := n.forward(b, x)
	if err != nil {
		return Detections{}, err
	}
	heat := sigmoid(out.Heatmap)
	wh := out.WH

	if n.flipTest {
		flipped, err := n.forward(b, flipW(x))
		if err != nil {
			return Detections{}, err
		}
		heat = average(heat, flipW(sigmoid(flipped.Heatmap)))
		wh = average(wh, flipW(flipped.WH))
	}

	return decode(peakNMS(heat), wh, out.Reg, n.spec.TopK, n.spec.Scale), nil
}

// Record starts a training-mode recording.
func (n *PoolNet) Record() Recorder {
	b := autodiff.New()
	b.Tape().StartRecording()
	return &poolRecorder{net: n, backend: b}
}

type poolRecorder struct {
	net     *PoolNet
	backend *autodiff.Backend
	outputs []HeadOutputs
}

func (r *poolRecorder) Forward(x *tensor.Tensor) (HeadOutputs, error) {
	out, err := r.net.forward(r.backend, x)
	if err != nil {
		return HeadOutputs{}, err
	}
	r.outputs = append(r.outputs, out)
	return out, nil
}

func (r *poolRecorder) Backward(grads []HeadOutputs) error {
	if len(grads) != len(r.outputs) {
		return errors.Errorf("backward got %d gradients for %d recorded forwards", len(grads), len(r.outputs))
	}
	seeds := make(map[*tensor.Tensor]*tensor.Tensor, 3*len(grads))
	for i, g := range grads {
		out := r.outputs[i]
		for _, pair := range [3][2]*tensor.Tensor{{out.Heatmap, g.Heatmap}, {out.WH, g.WH}, {out.Reg, g.Reg}} {
			if pair[1] == nil {
				continue
			}
			if !pair[1].Shape().Equal(pair[0].Shape()) {
				return errors.Errorf("gradient shape %v does not match output %v", pair[1].Shape(), pair[0].Shape())
			}
			seeds[pair[0]] = pair[1]
		}
	}

	all := r.backend.Tape().Backward(seeds)
	for _, p := range r.net.params() {
		g, ok := all[p.Tensor()]
		if !ok {
			continue
		}
		acc := p.Grad().Data()
		for i, v := range g.Data() {
			acc[i] += v
		}
	}
	r.backend.Tape().Clear()
	r.outputs = nil
	return nil
}

func sigmoid(t *tensor.Tensor) *tensor.Tensor {
	out := t.Clone()
	for i, v := range out.Data() {
		out.Data()[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return out
}

func average(a, b *tensor.Tensor) *tensor.Tensor {
	out := a.Clone()
	for i, v := range b.Data() {
		out.Data()[i] = (out.Data()[i] + v) / 2
	}
	return out
}

var _ Network = (*PoolNet)(nil)
