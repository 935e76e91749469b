package nn

import (
	"math/rand"
	"testing"

	"github.com/born-ml/centernet/internal/autodiff"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConv2D(t *testing.T) {
	conv, err := NewConv2D("head.conv1", 3, 8, 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "head.conv1.weight", conv.Weight().Name())
	assert.Equal(t, "head.conv1.bias", conv.Bias().Name())
	assert.Equal(t, []int{8, 3, 3, 3}, []int(conv.Weight().Tensor().Shape()))
	assert.Equal(t, []int{8}, []int(conv.Bias().Tensor().Shape()))
	assert.Equal(t, 27, conv.FanIn())

	_, err = NewConv2D("bad", 0, 8, 3, 1, 1)
	assert.Error(t, err)
	_, err = NewConv2D("bad", 3, 8, 3, 0, 1)
	assert.Error(t, err)
}

func TestConv2D_Forward(t *testing.T) {
	conv, err := NewConv2D("c", 2, 3, 1, 1, 0)
	require.NoError(t, err)
	conv.InitNormal(rand.New(rand.NewSource(1)), 0, 0.5)

	y, err := conv.Forward(autodiff.New(), tensor.Full(tensor.Shape{2, 2, 4, 5}, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, []int(y.Shape()))
	for _, v := range y.Data() {
		assert.Equal(t, float32(0.5), v, "zero weights leave the bias")
	}

	_, err = conv.Forward(autodiff.New(), tensor.Zeros(tensor.Shape{1, 3, 4, 4}))
	assert.Error(t, err)
}

func TestConv2D_InitAndResetCtx(t *testing.T) {
	conv, err := NewConv2D("c", 4, 4, 3, 1, 1)
	require.NoError(t, err)
	conv.InitXavier(rand.New(rand.NewSource(2)))

	limit := float32(0.2887) // sqrt(6 / (36 + 36))
	for _, v := range conv.Weight().Tensor().Data() {
		assert.LessOrEqual(t, v, limit*1.01)
		assert.GreaterOrEqual(t, v, -limit*1.01)
	}
	assert.Equal(t, make([]float32, 4), conv.Bias().Tensor().Data())

	gpu := device.Context{Kind: device.GPU, ID: 1}
	conv.ResetCtx(gpu)
	for _, p := range conv.Parameters() {
		assert.Equal(t, gpu, p.Tensor().Context())
	}
}
