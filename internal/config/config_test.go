package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "avgpool", cfg.CenterNet.BaseNetwork)
	assert.Equal(t, []int{512, 512}, cfg.CenterNet.DataShape)
	assert.Equal(t, 4, cfg.CenterNet.Scale)
	assert.Equal(t, 100, cfg.CenterNet.TopK)
	assert.Equal(t, 64, cfg.CenterNet.Heads.HeadConvChannel)
	assert.InDelta(t, -2.19, cfg.CenterNet.Heads.Bias, 1e-12)
	assert.InDelta(t, 0.1, cfg.CenterNet.WHWeight, 1e-12)
	assert.InDelta(t, 1.25e-4, cfg.Train.LR, 1e-12)
	assert.Equal(t, LRStep, cfg.Train.LRMode)
	assert.Equal(t, []int{90, 120}, cfg.Train.LRDecayEpoch)
	assert.Equal(t, 15, cfg.Train.Epochs)
	assert.Equal(t, MetricVOC07, cfg.Valid.Metric)
	assert.True(t, cfg.Valid.FlipTest)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
center_net:
  data_shape: [256, 128]
  transfer: center_net_voc
train:
  epochs: 30
  lr_mode: cosine
valid:
  interval: 5
`)
	t.Setenv("CFG_TRAIN__BATCH_SIZE", "8")
	t.Setenv("CFG_TRAIN__GPUS", "0,1")
	t.Setenv("CFG_VALID__FLIP_TEST", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	w, h := cfg.DataShape()
	assert.Equal(t, 256, w)
	assert.Equal(t, 128, h)
	assert.Equal(t, "center_net_voc", cfg.CenterNet.Transfer)
	assert.Equal(t, 30, cfg.Train.Epochs)
	assert.Equal(t, LRCosine, cfg.Train.LRMode)
	assert.Equal(t, 5, cfg.Valid.Interval)
	assert.Equal(t, 8, cfg.Train.BatchSize, "environment overrides the file")
	assert.Equal(t, []int{0, 1}, cfg.Train.GPUs)
	assert.False(t, cfg.Valid.FlipTest)
	assert.Equal(t, 64, cfg.CenterNet.Heads.HeadConvChannel, "untouched keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown lr mode", "train:\n  lr_mode: exponential\n"},
		{"unknown metric", "valid:\n  metric: coco\n"},
		{"zero batch", "train:\n  batch_size: 0\n"},
		{"bad data shape", "center_net:\n  data_shape: [512]\n"},
		{"not divisible by scale", "center_net:\n  data_shape: [510, 512]\n"},
		{"warmup longer than training", "train:\n  epochs: 2\n  warmup_epochs: 3\n"},
		{"duplicate gpus", "train:\n  gpus: [1, 1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.Train.LRDecayEpoch[0] = 1
	cp.CenterNet.DataShape[0] = 64
	assert.Equal(t, 90, cfg.Train.LRDecayEpoch[0])
	assert.Equal(t, 512, cfg.CenterNet.DataShape[0])
}

func TestResolveLogDirAndDump(t *testing.T) {
	root := t.TempDir()
	cfg := Default()

	dir, err := cfg.ResolveLogDir(root)
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(dir))
	_, err = uuid.FromString(filepath.Base(dir))
	assert.NoError(t, err, "run directories are named by uuid")

	path, err := cfg.Dump(dir)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var tree map[string]any
	require.NoError(t, yamlv3.Unmarshal(b, &tree))
	train := tree["train"].(map[string]any)
	assert.Equal(t, "step", train["lr_mode"])

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Train.LRDecayEpoch, reloaded.Train.LRDecayEpoch)
	assert.Equal(t, cfg.Train.LR, reloaded.Train.LR)
	assert.Equal(t, cfg.CenterNet.DataShape, reloaded.CenterNet.DataShape)
	assert.Equal(t, cfg.LogDir, reloaded.LogDir)
}
