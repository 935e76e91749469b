package nn

import (
	"testing"

	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() []*Parameter {
	return []*Parameter{
		NewParameter("wh.conv2.weight", tensor.Zeros(tensor.Shape{2, 4})),
		NewParameter("heatmap.conv1.bias", tensor.Zeros(tensor.Shape{4})),
		NewParameter("heatmap.conv1.weight", tensor.Zeros(tensor.Shape{4, 3})),
		NewParameter("wh.conv2.bias", tensor.Zeros(tensor.Shape{2})),
	}
}

func TestCollect(t *testing.T) {
	params := testParams()

	all, err := Collect(params, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "heatmap.conv1.bias", all[0].Name())

	biases, err := Collect(params, ".*bias")
	require.NoError(t, err)
	require.Len(t, biases, 2)
	assert.Equal(t, "heatmap.conv1.bias", biases[0].Name())
	assert.Equal(t, "wh.conv2.bias", biases[1].Name())

	_, err = Collect(params, "(")
	require.Error(t, err)
}

func TestGradLifecycle(t *testing.T) {
	p := NewParameter("x", tensor.MustNew([]float32{1, 2}, tensor.Shape{2}))
	assert.False(t, p.HasGrad())

	p.Grad().Data()[1] = 3
	assert.True(t, p.HasGrad())
	assert.Equal(t, []float32{0, 3}, p.Grad().Data())

	p.ZeroGrad()
	assert.False(t, p.HasGrad())
}

func TestResetCtx(t *testing.T) {
	p := NewParameter("x", tensor.Zeros(tensor.Shape{1}))
	gpu := device.Context{Kind: device.GPU, ID: 1}
	p.ResetCtx(gpu)
	assert.Equal(t, gpu, p.Tensor().Context())
	assert.Equal(t, gpu, p.Grad().Context())
}

func TestStateDictRoundTrip(t *testing.T) {
	src := testParams()
	src[2].Tensor().Data()[5] = 7

	dst := testParams()
	require.NoError(t, LoadStateDict(dst, StateDict(src)))
	assert.Equal(t, float32(7), dst[2].Tensor().Data()[5])

	src[2].Tensor().Data()[5] = 8
	assert.Equal(t, float32(7), dst[2].Tensor().Data()[5], "loaded values are copies")

	err := LoadStateDict(dst, map[string]*tensor.Tensor{})
	require.Error(t, err)
}
