package optim

import (
	"errors"
	"testing"

	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarParam(name string, v float32) *nn.Parameter {
	return nn.NewParameter(name, tensor.MustNew([]float32{v}, tensor.Shape{1}))
}

func TestAdam_FirstStep(t *testing.T) {
	p := scalarParam("x", 2.0)
	p.Grad().Data()[0] = 1.0

	opt := NewAdam([]*nn.Parameter{p}, AdamConfig{})
	opt.Step(0.1, 1)

	// Bias-corrected moments equal the gradient on the first step.
	assert.InDelta(t, 1.9, p.Tensor().Data()[0], 1e-6)
	assert.False(t, p.HasGrad(), "gradients are cleared after the step")
	assert.Equal(t, 1, opt.Timestep())
}

func TestAdam_RescaleAveragesShards(t *testing.T) {
	a := scalarParam("a", 2.0)
	b := scalarParam("b", 2.0)
	a.Grad().Data()[0] = 1.0 // one shard
	b.Grad().Data()[0] = 2.0 // two shards summed

	NewAdam([]*nn.Parameter{a}, AdamConfig{}).Step(0.1, 1)
	NewAdam([]*nn.Parameter{b}, AdamConfig{}).Step(0.1, 0.5)

	assert.InDelta(t, a.Tensor().Data()[0], b.Tensor().Data()[0], 1e-7)
}

func TestAdam_WeightDecayMultiplier(t *testing.T) {
	weight := scalarParam("conv.weight", 2.0)
	bias := scalarParam("conv.bias", 2.0)
	bias.WDMult = 0
	weight.Grad()
	bias.Grad()

	NewAdam([]*nn.Parameter{weight, bias}, AdamConfig{WD: 0.5}).Step(0.1, 1)

	assert.InDelta(t, 1.9, weight.Tensor().Data()[0], 1e-6, "decay acts like a unit gradient")
	assert.Equal(t, float32(2.0), bias.Tensor().Data()[0], "bias is excluded from decay")
}

func TestAdam_SkipsParamsWithoutGrad(t *testing.T) {
	p := scalarParam("frozen", 3.0)
	NewAdam([]*nn.Parameter{p}, AdamConfig{WD: 1}).Step(0.1, 1)
	assert.Equal(t, float32(3.0), p.Tensor().Data()[0])
}

func TestAdam_StatesRoundTrip(t *testing.T) {
	x, y := scalarParam("x", 2.0), scalarParam("y", 1.0)
	opt := NewAdam([]*nn.Parameter{x, y}, AdamConfig{})
	x.Grad().Data()[0] = 0.5
	opt.Step(0.1, 1)

	states := opt.States()
	assert.Equal(t, []float32{1}, states["adam.timestep"].Data())
	assert.Contains(t, states, "x.m")
	assert.Contains(t, states, "x.v")
	assert.NotContains(t, states, "y.m", "untouched parameters have no moments")

	// A restored optimizer takes the same next step as the original.
	x2 := scalarParam("x", x.Tensor().Data()[0])
	restored := NewAdam([]*nn.Parameter{x2, scalarParam("y", 1.0)}, AdamConfig{})
	require.NoError(t, restored.LoadStates(states))
	assert.Equal(t, 1, restored.Timestep())

	x.Grad().Data()[0] = -0.25
	x2.Grad().Data()[0] = -0.25
	opt.Step(0.1, 1)
	restored.Step(0.1, 1)
	assert.Equal(t, x.Tensor().Data()[0], x2.Tensor().Data()[0])

	wide := nn.NewParameter("x", tensor.Zeros(tensor.Shape{2}))
	assert.Error(t, NewAdam([]*nn.Parameter{wide}, AdamConfig{}).LoadStates(states))
	assert.Error(t, restored.LoadStates(map[string]*tensor.Tensor{}))
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"step", "poly", "cosine", "linear", "constant"} {
		m, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}
	_, err := ParseMode("exp")
	assert.True(t, errors.Is(err, ErrUnknownMode))
}

func TestScheduler_Modes(t *testing.T) {
	tests := []struct {
		mode  Mode
		mid   float64 // LR at update 5 of 11
		final float64
	}{
		{ModeLinear, 0.5, 0},
		{ModePoly, 0.25, 0},
		{ModeCosine, 0.5, 0},
		{ModeConstant, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			s := &Scheduler{Mode: tt.mode, BaseLR: 1, TargetLR: 0, NIters: 11, Power: 2}
			assert.InDelta(t, 1.0, s.LR(0), 1e-12)
			assert.InDelta(t, tt.mid, s.LR(5), 1e-12)
			assert.InDelta(t, tt.final, s.LR(10), 1e-12)
			assert.InDelta(t, tt.final, s.LR(1000), 1e-12, "clamped past the end")
		})
	}
}

func TestScheduler_Step(t *testing.T) {
	s := NewScheduler(ModeStep, 1, 0, 10, 10, []int{5, 3}, 0.1, 2)
	assert.Equal(t, []int{30, 50}, s.Steps)
	assert.InDelta(t, 1.0, s.LR(29), 1e-12)
	assert.InDelta(t, 0.1, s.LR(30), 1e-12)
	assert.InDelta(t, 0.01, s.LR(50), 1e-12)
}

func TestScheduler_EmptySpan(t *testing.T) {
	s := NewScheduler(ModeLinear, 0, 0.1, 0, 10, nil, 1, 1)
	assert.Equal(t, 0, s.Iters())
	assert.NotPanics(t, func() { s.LR(0) })
}

func TestSequential_Boundaries(t *testing.T) {
	a := &Scheduler{Mode: ModeConstant, BaseLR: 1, TargetLR: 1, NIters: 3}
	b := &Scheduler{Mode: ModeConstant, BaseLR: 2, TargetLR: 2, NIters: 2}
	seq := NewSequential(a, b)

	assert.Equal(t, 5, seq.Iters())
	got := make([]float64, 0, 7)
	for i := 0; i < 7; i++ {
		got = append(got, seq.LR(i))
	}
	assert.Equal(t, []float64{1, 1, 1, 2, 2, 2, 2}, got)
}

func TestNewSchedule_Warmup(t *testing.T) {
	// warmup=2 epochs, total=10 epochs, lr=0.1, 10 iterations per epoch.
	s, iters, err := NewSchedule(TrainerConfig{
		LR:           0.1,
		Mode:         ModeStep,
		DecayFactor:  0.1,
		DecayEpochs:  []int{8, 5},
		WarmupEpochs: 2,
		Epochs:       10,
		BatchSize:    10,
		TrainSize:    105,
	})
	require.NoError(t, err)
	require.Equal(t, 10, iters)

	assert.InDelta(t, 0.0, s.LR(0), 1e-12, "iteration 0 of epoch 0")
	prev := s.LR(0)
	for i := 1; i < 20; i++ {
		lr := s.LR(i)
		assert.Greater(t, lr, prev, "warmup increases monotonically at update %d", i)
		prev = lr
	}
	assert.InDelta(t, 0.1, s.LR(19), 1e-12, "reaches lr by the end of epoch 1")

	// Decay phase starts at epoch 2; milestones 5 and 8 shift to 3 and 6.
	assert.InDelta(t, 0.1, s.LR(20), 1e-12)
	assert.InDelta(t, 0.1, s.LR(49), 1e-12)
	assert.InDelta(t, 0.01, s.LR(50), 1e-12)
	assert.InDelta(t, 0.001, s.LR(80), 1e-12)
	assert.InDelta(t, 0.001, s.LR(500), 1e-12)
}

func TestNewSchedule_NoWarmupPoly(t *testing.T) {
	s, _, err := NewSchedule(TrainerConfig{
		LR: 0.2, Mode: ModePoly, Epochs: 3, BatchSize: 4, TrainSize: 8,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, s.LR(0), 1e-12, "no warmup starts at lr")
	assert.InDelta(t, 0.0, s.LR(5), 1e-12)
}

func TestNewTrainer_UnknownTrainSize(t *testing.T) {
	_, err := NewTrainer(nil, TrainerConfig{LR: 0.1, Epochs: 1, BatchSize: 2})
	assert.True(t, errors.Is(err, ErrUnknownTrainSize))
}

func TestItersPerEpoch(t *testing.T) {
	n, err := ItersPerEpoch(3, 16)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "at least one iteration")

	n, err = ItersPerEpoch(100, 16)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestTrainer_StepAndResume(t *testing.T) {
	p := scalarParam("x", 1.0)
	tr, err := NewTrainer([]*nn.Parameter{p}, TrainerConfig{
		LR: 0.1, Mode: ModeConstant, Epochs: 4, BatchSize: 2, TrainSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, tr.ItersPerEpoch())

	p.Grad().Data()[0] = 1
	require.NoError(t, tr.Step(2))
	assert.Equal(t, 1, tr.NumUpdate())
	assert.Less(t, p.Tensor().Data()[0], float32(1.0))

	assert.Error(t, tr.Step(0))

	tr.ResumeAt(3)
	assert.Equal(t, 15, tr.NumUpdate())
}
