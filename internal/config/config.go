// Package config loads the run configuration: built-in defaults, then an
// optional YAML file, then CFG_ environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
	yamlv3 "gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// LRMode names a learning-rate decay mode.
type LRMode string

// Learning-rate decay modes.
const (
	LRStep     LRMode = "step"
	LRPoly     LRMode = "poly"
	LRCosine   LRMode = "cosine"
	LRLinear   LRMode = "linear"
	LRConstant LRMode = "constant"
)

// MetricKind names a validation metric.
type MetricKind string

// Validation metrics.
const (
	MetricVOC   MetricKind = "voc"
	MetricVOC07 MetricKind = "voc07"
)

// HeadsConfig describes the CenterNet heads.
type HeadsConfig struct {
	Bias            float64 `json:"bias"`
	WHOutputs       int     `json:"wh_outputs"`
	RegOutputs      int     `json:"reg_outputs"`
	HeadConvChannel int     `json:"head_conv_channel"`
}

// CenterNetConfig describes the network and its loss weights.
type CenterNetConfig struct {
	BaseNetwork     string      `json:"base_network"`
	Transfer        string      `json:"transfer"`
	Root            string      `json:"root"`
	NumClass        int         `json:"num_class"`
	Heads           HeadsConfig `json:"heads"`
	Scale           int         `json:"scale"`
	TopK            int         `json:"topk"`
	WHWeight        float64     `json:"wh_weight"`
	CenterRegWeight float64     `json:"center_reg_weight"`
	DataShape       []int       `json:"data_shape"` // width, height
}

// TrainConfig describes the optimization schedule.
type TrainConfig struct {
	GPUs         []int   `json:"gpus"`
	VisibleGPUs  int     `json:"visible_gpus"` // accelerators the runtime exposes
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
	LR           float64 `json:"lr"`
	LRDecay      float64 `json:"lr_decay"`
	LRDecayEpoch []int   `json:"lr_decay_epoch"`
	LRMode       LRMode  `json:"lr_mode"`
	WarmupEpochs int     `json:"warmup_epochs"`
	WD           float64 `json:"wd"`
	NumWorkers   int     `json:"num_workers"`
	LogInterval  int     `json:"log_interval"`
	StartEpoch   int     `json:"start_epoch"`
	Seed         int64   `json:"seed"`
	SplitRatio   float64 `json:"split_ratio"`
}

// ValidConfig describes periodic validation.
type ValidConfig struct {
	FlipTest   bool       `json:"flip_test"`
	Metric     MetricKind `json:"metric"`
	IOUThresh  float64    `json:"iou_thresh"`
	BatchSize  int        `json:"batch_size"`
	NumWorkers int        `json:"num_workers"`
	Interval   int        `json:"interval"`
}

// InfluxConfig configures the InfluxDB score reporter.
type InfluxConfig struct {
	URL         string `json:"url"`
	Token       string `json:"token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`
}

// RedisConfig configures the Redis score reporter.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// ReporterConfig enables external score reporters.
type ReporterConfig struct {
	Influx InfluxConfig `json:"influx"`
	Redis  RedisConfig  `json:"redis"`
}

// Config is the complete run configuration.
type Config struct {
	LogDir    string          `json:"logdir"`
	Debug     bool            `json:"debug"`
	CenterNet CenterNetConfig `json:"center_net"`
	Train     TrainConfig     `json:"train"`
	Valid     ValidConfig     `json:"valid"`
	Reporter  ReporterConfig  `json:"reporter"`
}

func defaults() map[string]any {
	return map[string]any{
		"logdir":                             "",
		"debug":                              false,
		"center_net.base_network":            "avgpool",
		"center_net.transfer":                "",
		"center_net.root":                    "models",
		"center_net.num_class":               0,
		"center_net.heads.bias":              -2.19,
		"center_net.heads.wh_outputs":        2,
		"center_net.heads.reg_outputs":       2,
		"center_net.heads.head_conv_channel": 64,
		"center_net.scale":                   4,
		"center_net.topk":                    100,
		"center_net.wh_weight":               0.1,
		"center_net.center_reg_weight":       1.0,
		"center_net.data_shape":              []int{512, 512},
		"train.gpus":                         []int{},
		"train.visible_gpus":                 0,
		"train.batch_size":                   16,
		"train.epochs":                       15,
		"train.lr":                           1.25e-4,
		"train.lr_decay":                     0.1,
		"train.lr_decay_epoch":               []int{90, 120},
		"train.lr_mode":                      string(LRStep),
		"train.warmup_epochs":                0,
		"train.wd":                           1e-4,
		"train.num_workers":                  4,
		"train.log_interval":                 100,
		"train.start_epoch":                  0,
		"train.seed":                         233,
		"train.split_ratio":                  0.8,
		"valid.flip_test":                    true,
		"valid.metric":                       string(MetricVOC07),
		"valid.iou_thresh":                   0.5,
		"valid.batch_size":                   16,
		"valid.num_workers":                  4,
		"valid.interval":                     1,
		"reporter.influx.measurement":        "centernet",
		"reporter.redis.key":                 "centernet",
	}
}

// envKey maps CFG_TRAIN__BATCH_SIZE to train.batch_size.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "__", ".")
}

// Load reads the configuration. filePath may be empty to use only defaults
// and the environment.
func Load(filePath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := envKey(s)
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, errors.Wrap(err, "unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	var cfg Config
	_ = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"})
	return &cfg
}

// Validate checks the configuration against the embedded JSON schema and
// the cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}

	switch c.Train.LRMode {
	case LRStep, LRPoly, LRCosine, LRLinear, LRConstant:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown lr_mode %q", c.Train.LRMode)
	}
	switch c.Valid.Metric {
	case MetricVOC, MetricVOC07:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown valid metric %q", c.Valid.Metric)
	}

	w, h := c.DataShape()
	if s := c.CenterNet.Scale; w%s != 0 || h%s != 0 {
		return errors.Wrapf(ErrInvalidConfig, "data_shape %dx%d is not divisible by scale %d", w, h, s)
	}
	if c.Train.WarmupEpochs > c.Train.Epochs {
		return errors.Wrapf(ErrInvalidConfig, "warmup_epochs %d exceeds epochs %d", c.Train.WarmupEpochs, c.Train.Epochs)
	}
	return nil
}

// DataShape returns the network input width and height.
func (c *Config) DataShape() (int, int) {
	return c.CenterNet.DataShape[0], c.CenterNet.DataShape[1]
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.CenterNet.DataShape = append([]int(nil), c.CenterNet.DataShape...)
	out.Train.GPUs = append([]int(nil), c.Train.GPUs...)
	out.Train.LRDecayEpoch = append([]int(nil), c.Train.LRDecayEpoch...)
	return &out
}

// ResolveLogDir fixes LogDir, naming a fresh run directory under root when
// it is empty, and creates it.
func (c *Config) ResolveLogDir(root string) (string, error) {
	if c.LogDir == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return "", errors.Wrap(err, "generate run id")
		}
		c.LogDir = filepath.Join(root, id.String())
	}
	if err := os.MkdirAll(c.LogDir, 0o750); err != nil {
		return "", errors.Wrapf(err, "create log directory %s", c.LogDir)
	}
	return c.LogDir, nil
}

// Dump writes the configuration as YAML to dir/config.yaml.
func (c *Config) Dump(dir string) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "marshal configuration")
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return "", errors.Wrap(err, "convert configuration")
	}
	out, err := yamlv3.Marshal(tree)
	if err != nil {
		return "", errors.Wrap(err, "encode configuration")
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}
