package transform

import (
	"testing"

	"github.com/born-ml/centernet/internal/data"
	"github.com/born-ml/centernet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianRadius(t *testing.T) {
	// Larger boxes tolerate larger displacements.
	small := gaussianRadius(4, 4, 0.7)
	large := gaussianRadius(40, 40, 0.7)
	assert.Greater(t, small, 0.0)
	assert.Greater(t, large, small)
}

func TestDrawGaussian_PeakAndClipping(t *testing.T) {
	plane := make([]float32, 5*5)
	drawGaussian(plane, 5, 5, 0, 0, 2)

	assert.Equal(t, float32(1), plane[0], "peak is exactly one")
	assert.Greater(t, plane[1], float32(0))
	assert.Less(t, plane[1], float32(1))
	assert.Zero(t, plane[4], "outside the radius")

	// A second, weaker splat never lowers existing values.
	before := plane[1]
	drawGaussian(plane, 5, 5, 4, 4, 1)
	assert.Equal(t, before, plane[1])
}

func TestNormalize(t *testing.T) {
	img := tensor.Full(tensor.Shape{2, 3, 3}, 255)
	x, err := Normalize(img)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 3}, []int(x.Shape()))
	assert.InDelta(t, (1-0.485)/0.229, x.At(0, 1, 2), 1e-5)
	assert.InDelta(t, (1-0.406)/0.225, x.At(2, 0, 0), 1e-5)

	_, err = Normalize(tensor.Zeros(tensor.Shape{2, 2}))
	assert.Error(t, err)
}

func TestTrain_Targets(t *testing.T) {
	cfg := Config{Width: 32, Height: 32, Scale: 4, NumClass: 2}
	fn, err := Train(cfg)
	require.NoError(t, err)

	// 64x64 image, box scaled by 0.5 to input then by 1/4 to output:
	// [8,8,24,24] -> [4,4,12,12] -> [1,1,3,3] on the 8x8 output.
	s := data.Sample{
		Image:   tensor.Full(tensor.Shape{64, 64, 3}, 128),
		Objects: []data.Object{{Box: [4]float32{8, 8, 24, 24}, Class: 1}},
	}
	item, err := fn(s)
	require.NoError(t, err)
	require.Len(t, item, 6)

	assert.Equal(t, []int{3, 32, 32}, []int(item[0].Shape()))
	heatmap, wh, whMask, reg, regMask := item[1], item[2], item[3], item[4], item[5]
	assert.Equal(t, []int{2, 8, 8}, []int(heatmap.Shape()))
	assert.Equal(t, float32(1), heatmap.At(1, 2, 2), "peak at the box center")
	assert.Zero(t, heatmap.At(0, 2, 2), "other classes stay empty")

	assert.Equal(t, float32(2), wh.At(0, 2, 2))
	assert.Equal(t, float32(2), wh.At(1, 2, 2))
	assert.Equal(t, float32(1), whMask.At(0, 2, 2))
	assert.Equal(t, float32(1), regMask.At(1, 2, 2))
	assert.Zero(t, reg.At(0, 2, 2))

	var maskSum float32
	for _, v := range whMask.Data() {
		maskSum += v
	}
	assert.Equal(t, float32(2), maskSum, "one object sets one position per channel")
}

func TestTargets_FractionalCenter(t *testing.T) {
	cfg := Config{Width: 16, Height: 16, Scale: 4, NumClass: 1}
	out, err := Targets([]data.Object{{Box: [4]float32{0, 0, 6, 10}}}, cfg)
	require.NoError(t, err)
	reg := out[3]
	// Output box [0,0,1.5,2.5] has center (0.75, 1.25) -> cell (0, 1).
	assert.InDelta(t, 0.75, reg.At(0, 1, 0), 1e-6)
	assert.InDelta(t, 0.25, reg.At(1, 1, 0), 1e-6)
}

func TestTargets_BadClass(t *testing.T) {
	_, err := Targets([]data.Object{{Box: [4]float32{0, 0, 8, 8}, Class: 3}}, Config{Width: 16, Height: 16, Scale: 4, NumClass: 1})
	assert.Error(t, err)
}

func TestVal(t *testing.T) {
	fn, err := Val(Config{Width: 16, Height: 8, Scale: 4, NumClass: 1})
	require.NoError(t, err)

	item, err := fn(data.Sample{
		Image:        tensor.Full(tensor.Shape{16, 32, 3}, 0),
		Objects:      []data.Object{{Box: [4]float32{4, 2, 40, 12}, Difficult: true}},
		HasDifficult: true,
	})
	require.NoError(t, err)
	require.Len(t, item, 2)
	assert.Equal(t, []int{3, 8, 16}, []int(item[0].Shape()))
	assert.Equal(t, []float32{2, 1, 16, 6, 0, 1}, item[1].Data(), "boxes scaled and clipped to the input")
}

func TestConfigValidate(t *testing.T) {
	_, err := Train(Config{Width: 30, Height: 32, Scale: 4, NumClass: 1})
	assert.Error(t, err)
	_, err = Val(Config{Width: 32, Height: 32, Scale: 4})
	assert.Error(t, err)
}

func TestTest(t *testing.T) {
	x, err := Test(tensor.Full(tensor.Shape{10, 20, 3}, 0), 5, 1024)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5, 10}, []int(x.Shape()))
}
