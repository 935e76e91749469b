package optim

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Mode selects the shape of a learning-rate decay.
type Mode int

// Decay modes.
const (
	ModeStep Mode = iota
	ModePoly
	ModeCosine
	ModeLinear
	ModeConstant
)

// ErrUnknownMode is returned by ParseMode for unsupported names.
var ErrUnknownMode = errors.New("unknown learning rate mode")

// ParseMode maps a configuration name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "step":
		return ModeStep, nil
	case "poly":
		return ModePoly, nil
	case "cosine":
		return ModeCosine, nil
	case "linear":
		return ModeLinear, nil
	case "constant":
		return ModeConstant, nil
	default:
		return 0, errors.Wrapf(ErrUnknownMode, "%q", name)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeStep:
		return "step"
	case ModePoly:
		return "poly"
	case ModeCosine:
		return "cosine"
	case ModeLinear:
		return "linear"
	case ModeConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Schedule maps an update index to a learning rate.
type Schedule interface {
	LR(numUpdate int) float64
	// Iters is the number of updates the schedule spans.
	Iters() int
}

// Scheduler is a single-phase schedule moving from BaseLR towards TargetLR
// over NIters updates.
//
// For every mode but step the rate is TargetLR + (BaseLR-TargetLR)*factor,
// with factor 1 at the first update and 0 at the last. Constant mode stays
// at BaseLR. Step mode multiplies BaseLR by StepFactor once for every
// milestone in Steps already reached.
type Scheduler struct {
	Mode       Mode
	BaseLR     float64
	TargetLR   float64
	NIters     int
	Offset     int
	Steps      []int // milestone update indices, step mode only
	StepFactor float64
	Power      float64 // poly mode exponent
}

// NewScheduler creates a schedule spanning nepochs epochs. stepEpochs are
// converted to update indices.
func NewScheduler(mode Mode, baseLR, targetLR float64, nepochs, itersPerEpoch int, stepEpochs []int, stepFactor, power float64) *Scheduler {
	steps := make([]int, len(stepEpochs))
	for i, e := range stepEpochs {
		steps[i] = e * itersPerEpoch
	}
	sort.Ints(steps)
	return &Scheduler{
		Mode:       mode,
		BaseLR:     baseLR,
		TargetLR:   targetLR,
		NIters:     nepochs * itersPerEpoch,
		Steps:      steps,
		StepFactor: stepFactor,
		Power:      power,
	}
}

// Iters returns the number of updates the scheduler spans.
func (s *Scheduler) Iters() int {
	return s.NIters
}

// LR returns the learning rate for update numUpdate.
func (s *Scheduler) LR(numUpdate int) float64 {
	n := s.NIters - 1
	t := min(max(0, numUpdate-s.Offset), max(n, 0))

	// progress runs from 0 at the first update to 1 at the last
	progress := 1.0
	if n > 0 {
		progress = float64(t) / float64(n)
	}

	var factor float64
	switch s.Mode {
	case ModeConstant:
		factor = 1
	case ModeLinear:
		factor = 1 - progress
	case ModePoly:
		factor = math.Pow(1-progress, s.Power)
	case ModeCosine:
		factor = (1 + math.Cos(math.Pi*progress)) / 2
	case ModeStep:
		count := 0
		for _, step := range s.Steps {
			if step <= t {
				count++
			}
		}
		return s.BaseLR * math.Pow(s.StepFactor, float64(count))
	}
	return s.TargetLR + (s.BaseLR-s.TargetLR)*factor
}

// Sequential chains schedules; each phase sees update indices relative to
// its own start. Updates past the end stay on the last update of the last
// phase.
type Sequential struct {
	phases []Schedule
	seps   []int // cumulative phase boundaries, seps[0] == 0
}

// NewSequential chains phases in order.
func NewSequential(phases ...Schedule) *Sequential {
	seps := make([]int, 1, len(phases)+1)
	for _, p := range phases {
		seps = append(seps, seps[len(seps)-1]+p.Iters())
	}
	return &Sequential{phases: phases, seps: seps}
}

// Iters returns the total number of updates across phases.
func (s *Sequential) Iters() int {
	return s.seps[len(s.seps)-1]
}

// LR returns the learning rate for update numUpdate.
func (s *Sequential) LR(numUpdate int) float64 {
	if len(s.phases) == 0 {
		return 0
	}
	numUpdate = max(0, min(numUpdate, s.Iters()-1))
	idx := len(s.phases) - 1
	for i, sep := range s.seps {
		if sep > numUpdate {
			idx = i - 1
			break
		}
	}
	return s.phases[idx].LR(numUpdate - s.seps[idx])
}
