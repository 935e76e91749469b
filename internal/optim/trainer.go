package optim

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
)

// TrainerConfig describes the learning-rate plan and weight decay of a run.
type TrainerConfig struct {
	LR           float64
	WD           float64
	Mode         Mode
	DecayFactor  float64 // step mode multiplier per milestone
	DecayEpochs  []int   // step mode milestones, in absolute epochs
	WarmupEpochs int
	Epochs       int
	BatchSize    int
	TrainSize    int // number of training samples; must be > 0
}

// Trainer applies optimizer steps with a per-iteration learning-rate schedule.
//
// The schedule has two phases: a linear warmup from 0 to LR over
// WarmupEpochs, then Mode decay over the remaining epochs with milestones
// shifted earlier by the warmup length.
type Trainer struct {
	opt           Optimizer
	schedule      Schedule
	itersPerEpoch int
	numUpdate     int
}

// ItersPerEpoch returns floor(trainSize / batchSize), at least 1.
func ItersPerEpoch(trainSize, batchSize int) (int, error) {
	if trainSize <= 0 {
		return 0, errors.Wrapf(ErrUnknownTrainSize, "got %d samples", trainSize)
	}
	if batchSize <= 0 {
		return 0, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	return max(1, trainSize/batchSize), nil
}

// NewSchedule builds the warmup + decay schedule for cfg.
func NewSchedule(cfg TrainerConfig) (Schedule, int, error) {
	iters, err := ItersPerEpoch(cfg.TrainSize, cfg.BatchSize)
	if err != nil {
		return nil, 0, err
	}

	warmup := NewScheduler(ModeLinear, 0, cfg.LR, cfg.WarmupEpochs, iters, nil, 1, 1)

	milestones := make([]int, 0, len(cfg.DecayEpochs))
	for _, e := range cfg.DecayEpochs {
		milestones = append(milestones, e-cfg.WarmupEpochs)
	}
	sort.Ints(milestones)
	decay := NewScheduler(cfg.Mode, cfg.LR, 0, max(0, cfg.Epochs-cfg.WarmupEpochs), iters,
		milestones, cfg.DecayFactor, 2)

	return NewSequential(warmup, decay), iters, nil
}

// NewTrainer binds an Adam optimizer over params to the schedule for cfg.
func NewTrainer(params []*nn.Parameter, cfg TrainerConfig) (*Trainer, error) {
	schedule, iters, err := NewSchedule(cfg)
	if err != nil {
		return nil, err
	}
	opt := NewAdam(params, AdamConfig{WD: float32(cfg.WD)})
	return &Trainer{opt: opt, schedule: schedule, itersPerEpoch: iters}, nil
}

// NewTrainerWith binds a custom optimizer and schedule.
func NewTrainerWith(opt Optimizer, schedule Schedule, itersPerEpoch int) *Trainer {
	return &Trainer{opt: opt, schedule: schedule, itersPerEpoch: max(1, itersPerEpoch)}
}

// Step applies one update. Gradients were summed over numShards device
// shards and are averaged by rescaling with 1/numShards.
func (t *Trainer) Step(numShards int) error {
	if numShards <= 0 {
		return errors.Errorf("step needs at least one shard, got %d", numShards)
	}
	t.opt.Step(float32(t.LearningRate()), 1/float32(numShards))
	t.numUpdate++
	return nil
}

// LearningRate returns the learning rate the next Step will use.
func (t *Trainer) LearningRate() float64 {
	return t.schedule.LR(t.numUpdate)
}

// NumUpdate returns the number of steps taken.
func (t *Trainer) NumUpdate() int {
	return t.numUpdate
}

// SetNumUpdate repositions the schedule, e.g. when resuming.
func (t *Trainer) SetNumUpdate(n int) {
	t.numUpdate = max(0, n)
}

// ResumeAt repositions the schedule to the first update of epoch.
func (t *Trainer) ResumeAt(epoch int) {
	t.SetNumUpdate(epoch * t.itersPerEpoch)
}

// ItersPerEpoch returns the schedule's iterations per epoch.
func (t *Trainer) ItersPerEpoch() int {
	return t.itersPerEpoch
}

// Params returns the trained parameters.
func (t *Trainer) Params() []*nn.Parameter {
	return t.opt.Params()
}

// States returns the optimizer's running state, or nil when the optimizer
// keeps none.
func (t *Trainer) States() map[string]*tensor.Tensor {
	if s, ok := t.opt.(Stateful); ok {
		return s.States()
	}
	return nil
}

// LoadStates restores optimizer state written by States.
func (t *Trainer) LoadStates(states map[string]*tensor.Tensor) error {
	s, ok := t.opt.(Stateful)
	if !ok {
		return errors.New("optimizer keeps no state to restore")
	}
	return s.LoadStates(states)
}
