// Package optim implements the optimizer, learning-rate schedules and the
// trainer that binds them to network parameters.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - Adam: Adaptive Moment Estimation with per-parameter weight decay
//   - Scheduler/Sequential: per-iteration learning-rate schedules
//   - Trainer: warmup + decay schedule bound to an optimizer
//
// Example usage:
//
//	trainer, err := optim.NewTrainer(net.CollectParams(""), optim.TrainerConfig{
//	    LR:           1.25e-4,
//	    WD:           1e-4,
//	    Mode:         optim.ModeStep,
//	    DecayFactor:  0.1,
//	    DecayEpochs:  []int{90, 120},
//	    Epochs:       140,
//	    BatchSize:    16,
//	    TrainSize:    len(dataset),
//	})
//
//	for batch := range batches {
//	    // forward + backward on every shard
//	    trainer.Step(len(shards))
//	}
package optim

import (
	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
)

// ErrUnknownTrainSize is returned when a trainer is built without a known,
// positive training-set size.
var ErrUnknownTrainSize = errors.New("training set size is unknown")

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters based on the gradients accumulated
// on them during the backward pass.
type Optimizer interface {
	// Step applies one update with learning rate lr. Every gradient is
	// multiplied by rescale before use. Parameters without a gradient are
	// skipped.
	Step(lr, rescale float32)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// Params returns the parameters bound to the optimizer.
	Params() []*nn.Parameter
}

// Stateful is implemented by optimizers whose running state can be
// checkpointed alongside the network.
type Stateful interface {
	States() map[string]*tensor.Tensor
	LoadStates(states map[string]*tensor.Tensor) error
}
