// Package estimator drives CenterNet training, evaluation and prediction.
//
// A run is an explicit Session threaded through each phase:
//
//	est, _ := estimator.New(cfg, estimator.WithLogger(log))
//	sess, _ := est.NewSession(ctx, train.Classes(), train.Len())
//	res, _ := est.Resume(ctx, sess, train, val)
//	names, values, _ := est.EvaluateDataset(ctx, sess, val)
//	dets, _ := est.Predict(ctx, sess, estimator.PathInput("dog.jpg"))
//
// Fit wraps the first two steps.
package estimator

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/born-ml/centernet/internal/centernet"
	"github.com/born-ml/centernet/internal/config"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/imageio"
	"github.com/born-ml/centernet/internal/optim"
	"github.com/born-ml/centernet/internal/reporter"
)

const tracerName = "github.com/born-ml/centernet/internal/estimator"

// Errors returned by the estimator.
var (
	ErrUnsupportedInput   = errors.New("input is not supported")
	ErrMissingImageColumn = errors.New("expect column image for input images")
)

// Estimator holds the collaborators shared by every session.
type Estimator struct {
	cfg      *config.Config
	logger   *zap.Logger
	reporter reporter.Reporter
	zoo      centernet.Zoo
	prober   device.Prober
	images   *imageio.Loader
	tracer   trace.Tracer
	runRoot  string
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// WithReporter sets the reporter called after each validation.
func WithReporter(r reporter.Reporter) Option {
	return func(e *Estimator) { e.reporter = r }
}

// WithZoo sets where pretrained networks are loaded from for transfer
// learning. The default reads center_net.root.
func WithZoo(z centernet.Zoo) Option {
	return func(e *Estimator) { e.zoo = z }
}

// WithProber sets the GPU prober used to validate train.gpus. The default
// trusts train.visible_gpus.
func WithProber(p device.Prober) Option {
	return func(e *Estimator) { e.prober = p }
}

// WithTracerProvider sets where the estimator's spans go. The default is
// the global provider, which drops spans unless one is installed.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Estimator) { e.tracer = tp.Tracer(tracerName) }
}

// WithImageLoader sets the loader used for path and URL inputs.
func WithImageLoader(l *imageio.Loader) Option {
	return func(e *Estimator) { e.images = l }
}

// WithRunRoot sets the directory under which run directories are created
// when logdir is not configured.
func WithRunRoot(root string) Option {
	return func(e *Estimator) { e.runRoot = root }
}

// New validates cfg and returns an estimator working on a private copy.
func New(cfg *config.Config, opts ...Option) (*Estimator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{
		cfg:      cfg.Clone(),
		logger:   zap.NewNop(),
		reporter: reporter.Nop,
		zoo:      centernet.FileZoo{Root: cfg.CenterNet.Root},
		runRoot:  "runs",
		tracer:   otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(e)
	}
	if e.images == nil {
		e.images = imageio.NewLoader()
	}
	if e.prober == nil {
		e.prober = device.StaticProber(e.cfg.Train.VisibleGPUs)
	}
	return e, nil
}

// Config returns a copy of the estimator configuration.
func (e *Estimator) Config() *config.Config {
	return e.cfg.Clone()
}

// TrainingState is the resumable progress of a run.
type TrainingState struct {
	// Epoch is the next epoch to run, i.e. the number of completed epochs.
	Epoch     int
	BestMAP   float64
	Elapsed   float64 // seconds
	TrainSize int
}

// Session is one training run: its configuration snapshot, network,
// trainer, devices and progress.
type Session struct {
	Config   *config.Config
	Classes  []string
	Net      centernet.Network
	Trainer  *optim.Trainer // nil until the training set size is known
	Contexts []device.Context
	State    TrainingState
	LogDir   string
}

// Result summarizes a training invocation.
type Result struct {
	TrainMAP float64 `json:"train_map"`
	ValidMAP float64 `json:"valid_map"`
	Time     float64 `json:"time"`
}

func buildConfig(cfg *config.Config) centernet.BuildConfig {
	cn := cfg.CenterNet
	return centernet.BuildConfig{
		BaseNetwork: cn.BaseNetwork,
		Transfer:    cn.Transfer,
		NumClass:    cn.NumClass,
		Heads: centernet.HeadsSpec{
			Bias:            float32(cn.Heads.Bias),
			WHOutputs:       cn.Heads.WHOutputs,
			RegOutputs:      cn.Heads.RegOutputs,
			HeadConvChannel: cn.Heads.HeadConvChannel,
		},
		Scale: cn.Scale,
		TopK:  cn.TopK,
		Seed:  cfg.Train.Seed,
	}
}

func trainerConfig(cfg *config.Config, trainSize int) (optim.TrainerConfig, error) {
	mode, err := optim.ParseMode(string(cfg.Train.LRMode))
	if err != nil {
		return optim.TrainerConfig{}, err
	}
	t := cfg.Train
	return optim.TrainerConfig{
		LR:           t.LR,
		WD:           t.WD,
		Mode:         mode,
		DecayFactor:  t.LRDecay,
		DecayEpochs:  append([]int(nil), t.LRDecayEpoch...),
		WarmupEpochs: t.WarmupEpochs,
		Epochs:       t.Epochs,
		BatchSize:    t.BatchSize,
		TrainSize:    trainSize,
	}, nil
}

func (e *Estimator) resolveContexts(gpus []int) ([]device.Context, error) {
	ctxs, err := device.Resolve(gpus, e.prober)
	if err != nil {
		return nil, err
	}
	host := device.DescribeHost()
	e.logger.Info("resolved devices",
		zap.String("contexts", device.Names(ctxs)),
		zap.String("cpu", host.Brand),
		zap.Int("physical_cores", host.PhysicalCores),
		zap.Int("logical_cores", host.LogicalCores),
		zap.Bool("avx2", host.AVX2),
		zap.Bool("avx512", host.AVX512))
	return ctxs, nil
}

// NewSession builds a network for classes, a trainer for trainSize samples
// (skipped when trainSize is 0) and the run directory.
func (e *Estimator) NewSession(ctx context.Context, classes []string, trainSize int) (*Session, error) {
	_, span := e.tracer.Start(ctx, "NewSession")
	defer span.End()

	cfg := e.cfg.Clone()
	ctxs, err := e.resolveContexts(cfg.Train.GPUs)
	if err != nil {
		return nil, err
	}

	bc := buildConfig(cfg)
	if bc.Mode() == centernet.ModeTransfer {
		e.logger.Info("using transfer learning, ignoring some of the network configs",
			zap.String("transfer", bc.Transfer))
	}
	net, err := centernet.Build(bc, classes, ctxs, e.zoo)
	if err != nil {
		return nil, err
	}

	logDir, err := cfg.ResolveLogDir(e.runRoot)
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Dump(logDir); err != nil {
		return nil, err
	}

	sess := &Session{
		Config:   cfg,
		Classes:  append([]string(nil), classes...),
		Net:      net,
		Contexts: ctxs,
		LogDir:   logDir,
	}
	if trainSize > 0 {
		if err := e.initTrainer(sess, trainSize); err != nil {
			return nil, err
		}
	}
	e.logger.Info("session ready",
		zap.String("logdir", logDir),
		zap.Strings("classes", sess.Classes),
		zap.Stringer("mode", bc.Mode()))
	return sess, nil
}

func (e *Estimator) initTrainer(sess *Session, trainSize int) error {
	tc, err := trainerConfig(sess.Config, trainSize)
	if err != nil {
		return err
	}
	params, err := sess.Net.CollectParams("")
	if err != nil {
		return err
	}
	trainer, err := optim.NewTrainer(params, tc)
	if err != nil {
		return err
	}
	sess.Trainer = trainer
	sess.State.TrainSize = trainSize
	return nil
}
