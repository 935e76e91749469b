// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package centernet

import (
	"github.com/born-ml/centernet/internal/config"
	"github.com/born-ml/centernet/internal/data"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/estimator"
	"github.com/born-ml/centernet/internal/imageio"
	"github.com/born-ml/centernet/internal/tensor"
)

// Config is the run configuration.
type Config = config.Config

// LoadConfig reads defaults, then the YAML file at path (may be empty),
// then CFG_ environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// Estimator trains, evaluates and serves CenterNet detectors.
type Estimator = estimator.Estimator

// Option configures an Estimator.
type Option = estimator.Option

// Session is one training run.
type Session = estimator.Session

// TrainingState is the resumable progress of a run.
type TrainingState = estimator.TrainingState

// Result summarizes a training invocation.
type Result = estimator.Result

// New creates an estimator for cfg.
func New(cfg *Config, opts ...Option) (*Estimator, error) {
	return estimator.New(cfg, opts...)
}

// Estimator options.
var (
	WithLogger      = estimator.WithLogger
	WithReporter    = estimator.WithReporter
	WithZoo         = estimator.WithZoo
	WithProber      = estimator.WithProber
	WithImageLoader = estimator.WithImageLoader
	WithRunRoot     = estimator.WithRunRoot

	WithTracerProvider = estimator.WithTracerProvider
)

// Prober reports how many accelerators are visible.
type Prober = device.Prober

// StaticProber is a Prober with a fixed device count.
type StaticProber = device.StaticProber

// Prediction inputs and outputs.
type (
	Input     = estimator.Input
	Table     = estimator.Table
	Detection = estimator.Detection
	Box       = estimator.Box
)

// PathInput refers to a local image file or an http(s) URL.
func PathInput(path string) Input {
	return estimator.PathInput(path)
}

// TensorInput wraps a decoded HWC image with values in [0, 255].
func TensorInput(img *Tensor) Input {
	return estimator.TensorInput(img)
}

// TableInput wraps a table whose "image" column holds paths or URLs.
func TableInput(t Table) Input {
	return estimator.TableInput(t)
}

// Tensor is a dense float32 tensor.
type Tensor = tensor.Tensor

// DetectionDataset is a dataset of annotated images with named classes.
type DetectionDataset = data.DetectionDataset

// Manifest is a dataset described by a JSON manifest file.
type Manifest = data.Manifest

// LoadManifest reads a JSON dataset manifest. Image paths are relative to
// the manifest file; URLs are fetched on access.
func LoadManifest(path string) (*Manifest, error) {
	return data.LoadManifest(path, imageio.NewLoader())
}

// Errors.
var (
	ErrInvalidConfig      = config.ErrInvalidConfig
	ErrInvalidDevice      = device.ErrInvalidDevice
	ErrUnsupportedInput   = estimator.ErrUnsupportedInput
	ErrMissingImageColumn = estimator.ErrMissingImageColumn
)
