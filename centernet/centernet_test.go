// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package centernet_test

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/centernet/centernet"
)

func writeDataset(t *testing.T, dir string, n int) string {
	t.Helper()
	type object struct {
		XMin  float32 `json:"xmin"`
		YMin  float32 `json:"ymin"`
		XMax  float32 `json:"xmax"`
		YMax  float32 `json:"ymax"`
		Class string  `json:"class"`
	}
	type item struct {
		Image   string   `json:"image"`
		Objects []object `json:"objects"`
	}
	manifest := struct {
		Classes []string `json:"classes"`
		Items   []item   `json:"items"`
	}{Classes: []string{"square", "bar"}}

	for i := 0; i < n; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				v := uint8(20)
				if x >= 2 && x < 8 && y >= 2 && y < 8 {
					v = 230
				}
				img.Set(x, y, color.NRGBA{R: v, G: v, B: uint8(i * 10), A: 255})
			}
		}
		name := filepath.Join(dir, "img", string(rune('a'+i))+".png")
		require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o750))
		f, err := os.Create(name)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())

		manifest.Items = append(manifest.Items, item{
			Image: filepath.Join("img", filepath.Base(name)),
			Objects: []object{
				{XMin: 2, YMin: 2, XMax: 8, YMax: 8, Class: "square"},
				{XMin: 10, YMin: 1, XMax: 12, YMax: 15, Class: "bar"},
			},
		})
	}
	b, err := json.Marshal(manifest)
	require.NoError(t, err)
	path := filepath.Join(dir, "train.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	train, err := centernet.LoadManifest(writeDataset(t, dir, 5))
	require.NoError(t, err)
	assert.Equal(t, []string{"square", "bar"}, train.Classes())

	cfg := centernet.DefaultConfig()
	cfg.LogDir = filepath.Join(dir, "run")
	cfg.CenterNet.DataShape = []int{16, 16}
	cfg.CenterNet.Heads.HeadConvChannel = 4
	cfg.CenterNet.TopK = 8
	cfg.Train.BatchSize = 2
	cfg.Train.Epochs = 2
	cfg.Train.LR = 1e-3
	cfg.Train.NumWorkers = 2
	cfg.Valid.BatchSize = 2

	est, err := centernet.New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	sess, res, err := est.Fit(ctx, train, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.State.Epoch)
	assert.Equal(t, 4, sess.State.TrainSize, "one of five images is held out")
	assert.GreaterOrEqual(t, res.ValidMAP, 0.0)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	var fields map[string]float64
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.Contains(t, fields, "train_map")
	assert.Contains(t, fields, "valid_map")
	assert.Contains(t, fields, "time")

	dets, err := est.Predict(ctx, sess, centernet.PathInput(filepath.Join(dir, "img", "a.png")))
	require.NoError(t, err)
	for _, d := range dets {
		assert.Greater(t, d.Score, 0.0)
		assert.Contains(t, []string{"square", "bar"}, d.Class)
		assert.True(t, d.Box.XMin >= 0 && d.Box.XMax <= 1)
	}

	_, err = est.Predict(ctx, sess, centernet.TableInput(centernet.Table{Columns: []string{"file"}}))
	assert.ErrorIs(t, err, centernet.ErrMissingImageColumn)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("valid:\n  metric: coco\n"), 0o600))
	_, err := centernet.LoadConfig(path)
	assert.ErrorIs(t, err, centernet.ErrInvalidConfig)
}
