package centernet

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/born-ml/centernet/internal/autodiff"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/serialization"
	"github.com/born-ml/centernet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(classes ...string) Spec {
	return Spec{
		BaseNetwork: "avgpool",
		Classes:     classes,
		Heads:       HeadsSpec{Bias: -2.19, WHOutputs: 2, RegOutputs: 2, HeadConvChannel: 4},
		Scale:       2,
		TopK:        5,
	}
}

func randomInput(seed int64, shape tensor.Shape) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	t := tensor.Zeros(shape)
	for i := range t.Data() {
		t.Data()[i] = float32(rng.NormFloat64())
	}
	return t
}

func TestNewPoolNet_Validation(t *testing.T) {
	_, err := NewPoolNet(testSpec())
	assert.True(t, errors.Is(err, ErrUnknownClassCount))

	spec := testSpec("a")
	spec.BaseNetwork = "resnet1000"
	_, err = NewPoolNet(spec)
	assert.True(t, errors.Is(err, ErrUnknownNetwork))

	spec = testSpec("a")
	spec.TopK = 0
	_, err = NewPoolNet(spec)
	assert.Error(t, err)
}

func TestPoolNet_PredictShapes(t *testing.T) {
	net, err := NewPoolNet(testSpec("a", "b"))
	require.NoError(t, err)
	net.Initialize(1)

	// 2 classes x 1x1 grid = 2 candidates for 5 slots.
	dets, err := net.Predict(randomInput(1, tensor.Shape{3, 3, 2, 2}))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 1}, []int(dets.IDs.Shape()))
	assert.Equal(t, []int{3, 5, 1}, []int(dets.Scores.Shape()))
	assert.Equal(t, []int{3, 5, 4}, []int(dets.Boxes.Shape()))
	assert.Equal(t, float32(-1), dets.IDs.At(0, 4, 0), "unused slots carry id -1")
	assert.Equal(t, float32(-1), dets.Scores.At(0, 4, 0))
	assert.GreaterOrEqual(t, dets.IDs.At(0, 0, 0), float32(0))
}

func TestPoolNet_FlipTestIsDeterministic(t *testing.T) {
	net, err := NewPoolNet(testSpec("a"))
	require.NoError(t, err)
	net.Initialize(3)
	net.SetFlipTest(true)

	x := randomInput(2, tensor.Shape{1, 3, 8, 8})
	a, err := net.Predict(x)
	require.NoError(t, err)
	b, err := net.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, a.Scores.Data(), b.Scores.Data())
	assert.Equal(t, a.Boxes.Data(), b.Boxes.Data())
}

func TestDecode(t *testing.T) {
	// 1 class, 3x3 grid, one peak at (x=2, y=1).
	heat := tensor.Zeros(tensor.Shape{1, 1, 3, 3})
	heat.Set(0.9, 0, 0, 1, 2)
	heat.Set(0.5, 0, 0, 1, 1) // suppressed by its neighbour
	wh := tensor.Zeros(tensor.Shape{1, 2, 3, 3})
	wh.Set(2, 0, 0, 1, 2)
	wh.Set(4, 0, 1, 1, 2)
	reg := tensor.Zeros(tensor.Shape{1, 2, 3, 3})
	reg.Set(0.5, 0, 0, 1, 2)
	reg.Set(0.25, 0, 1, 1, 2)

	dets := decode(peakNMS(heat), wh, reg, 2, 4)
	assert.Equal(t, float32(0), dets.IDs.At(0, 0, 0))
	assert.InDelta(t, 0.9, dets.Scores.At(0, 0, 0), 1e-7)
	// center (2.5, 1.25), size 2x4, stride 4.
	assert.Equal(t, []float32{6, -3, 14, 13}, dets.Boxes.Index(0).Index(0).Data())
	assert.Zero(t, dets.Scores.At(0, 1, 0), "non-peaks are zeroed")
}

func TestFlipW(t *testing.T) {
	x := tensor.MustNew([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 1, 2, 3})
	assert.Equal(t, []float32{3, 2, 1, 6, 5, 4}, flipW(x).Data())
}

// TestRecorder_GradientMatchesFiniteDifference checks the recorded backward
// pass against the loss L = sum(out * G) for fixed random G. L is linear in
// the output convolutions, so central differences are exact there.
func TestRecorder_GradientMatchesFiniteDifference(t *testing.T) {
	net, err := NewPoolNet(testSpec("a", "b"))
	require.NoError(t, err)
	net.Initialize(7)

	x := randomInput(11, tensor.Shape{2, 3, 4, 4})
	out, err := net.forward(autodiff.New(), x)
	require.NoError(t, err)
	g := HeadOutputs{
		Heatmap: randomInput(12, out.Heatmap.Shape()),
		WH:      randomInput(13, out.WH.Shape()),
		Reg:     randomInput(14, out.Reg.Shape()),
	}
	objective := func() float64 {
		o, err := net.forward(autodiff.New(), x)
		require.NoError(t, err)
		var s float64
		for _, pair := range [][2]*tensor.Tensor{{o.Heatmap, g.Heatmap}, {o.WH, g.WH}, {o.Reg, g.Reg}} {
			for i, v := range pair[0].Data() {
				s += float64(v) * float64(pair[1].Data()[i])
			}
		}
		return s
	}

	rec := net.Record()
	_, err = rec.Forward(x)
	require.NoError(t, err)
	require.NoError(t, rec.Backward([]HeadOutputs{g}))

	params, err := net.CollectParams("")
	require.NoError(t, err)
	assert.Len(t, params, 14)
	for _, p := range params {
		require.True(t, p.HasGrad(), p.Name())
		assert.NotEqual(t, make([]float32, p.Grad().NumElements()), p.Grad().Data(), "%s receives a gradient", p.Name())
	}

	linear, err := net.CollectParams(`.*\.conv2\..*`)
	require.NoError(t, err)
	require.Len(t, linear, 6)
	const h = 1e-2
	for _, p := range linear {
		for _, i := range []int{0, p.Tensor().NumElements() - 1} {
			orig := p.Tensor().Data()[i]
			p.Tensor().Data()[i] = orig + h
			up := objective()
			p.Tensor().Data()[i] = orig - h
			down := objective()
			p.Tensor().Data()[i] = orig

			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, p.Grad().Data()[i], 1e-2*max(1, abs(numeric)), "%s[%d]", p.Name(), i)
		}
	}

	assert.Error(t, net.Record().Backward([]HeadOutputs{g}), "backward without forward")
}

func TestRecorder_AccumulatesShards(t *testing.T) {
	net, err := NewPoolNet(testSpec("a"))
	require.NoError(t, err)
	net.Initialize(3)
	x := randomInput(5, tensor.Shape{1, 3, 4, 4})

	backward := func(shards int) []float32 {
		params, err := net.CollectParams(`stem\.conv\.weight`)
		require.NoError(t, err)
		params[0].ZeroGrad()
		rec := net.Record()
		grads := make([]HeadOutputs, shards)
		for i := range grads {
			out, err := rec.Forward(x)
			require.NoError(t, err)
			grads[i] = HeadOutputs{
				Heatmap: tensor.Full(out.Heatmap.Shape(), 1),
				WH:      tensor.Full(out.WH.Shape(), 1),
				Reg:     tensor.Full(out.Reg.Shape(), 1),
			}
		}
		require.NoError(t, rec.Backward(grads))
		return append([]float32(nil), params[0].Grad().Data()...)
	}

	one, two := backward(1), backward(2)
	for i := range one {
		assert.InDelta(t, 2*one[i], two[i], 1e-4)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestResetClass(t *testing.T) {
	net, err := NewPoolNet(testSpec("cat", "dog"))
	require.NoError(t, err)
	net.Initialize(5)
	dogRow := append([]float32(nil), net.heatmap.conv2.Weight().Tensor().Data()[4:8]...)

	require.NoError(t, net.ResetClass([]string{"dog", "bird"}, map[string]string{"dog": "dog"}))
	assert.Equal(t, []string{"dog", "bird"}, net.Classes())
	assert.Equal(t, dogRow, net.heatmap.conv2.Weight().Tensor().Data()[0:4], "reused class keeps its weights")
	assert.Equal(t, float32(-2.19), net.heatmap.conv2.Bias().Tensor().Data()[1], "new class gets the prior bias")
	assert.Equal(t, []int{2, 4, 1, 1}, []int(net.heatmap.conv2.Weight().Tensor().Shape()))

	err = net.ResetClass([]string{"x"}, map[string]string{"x": "missing"})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	net, err := NewPoolNet(testSpec("a"))
	require.NoError(t, err)
	net.Initialize(9)

	path := filepath.Join(t.TempDir(), "net.born")
	require.NoError(t, Save(path, net, &serialization.CheckpointMeta{IsCheckpoint: true, Epoch: 2}))

	loaded, header, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, header.CheckpointMeta.Epoch)
	assert.Equal(t, net.Spec(), loaded.Spec())

	x := randomInput(4, tensor.Shape{1, 3, 6, 6})
	a, err := net.Predict(x)
	require.NoError(t, err)
	b, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, a.Boxes.Data(), b.Boxes.Data())
	assert.Equal(t, a.Scores.Data(), b.Scores.Data())
}

func TestBuild(t *testing.T) {
	cfg := BuildConfig{
		BaseNetwork: "avgmaxpool",
		Heads:       HeadsSpec{Bias: -2.19, WHOutputs: 2, RegOutputs: 2, HeadConvChannel: 8},
		Scale:       4,
		TopK:        10,
	}
	ctxs := []device.Context{{Kind: device.GPU, ID: 0}, {Kind: device.GPU, ID: 1}}

	_, err := Build(cfg, nil, ctxs, nil)
	assert.True(t, errors.Is(err, ErrUnknownClassCount))

	cfg.NumClass = 3
	_, err = Build(cfg, []string{"a", "b"}, ctxs, nil)
	assert.True(t, errors.Is(err, ErrClassMismatch))

	cfg.NumClass = 0
	net, err := Build(cfg, []string{"a", "b"}, ctxs, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, cfg.Mode())

	params, err := net.CollectParams("")
	require.NoError(t, err)
	assert.Len(t, params, 14)
	for _, p := range params {
		assert.Equal(t, ctxs[0], p.Tensor().Context())
		if filepath.Ext(p.Name()) == ".bias" {
			assert.Zero(t, p.WDMult, p.Name())
		} else {
			assert.Equal(t, float32(1), p.WDMult, p.Name())
		}
	}
}

func TestBuild_Transfer(t *testing.T) {
	root := t.TempDir()
	pre, err := NewPoolNet(testSpec("cat", "dog"))
	require.NoError(t, err)
	pre.Initialize(1)
	require.NoError(t, Save(filepath.Join(root, "center_net_voc.born"), pre, nil))

	cfg := BuildConfig{Transfer: "center_net_voc"}
	assert.Equal(t, ModeTransfer, cfg.Mode())

	net, err := Build(cfg, []string{"dog", "fox"}, []device.Context{device.Host()}, FileZoo{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "fox"}, net.Classes())
	assert.Equal(t, 2, net.Scale(), "architecture comes from the pretrained network")

	_, err = Build(BuildConfig{Transfer: "missing"}, []string{"dog"}, nil, FileZoo{Root: root})
	assert.True(t, errors.Is(err, ErrUnknownNetwork))
}
