package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/tensor"
)

// timestepKey names the step counter in an Adam state dict.
const timestepKey = "adam.timestep"

// Adam implements the Adam (Adaptive Moment Estimation) optimizer with L2
// weight decay folded into the gradient.
//
// Update rule:
//
//	g     = rescale * gradient + wd * wd_mult * param   // Weight decay
//	m_t   = beta1 * m_{t-1} + (1-beta1) * g             // First moment
//	v_t   = beta2 * v_{t-1} + (1-beta2) * g²            // Second moment
//	m_hat = m_t / (1 - beta1^t)                         // Bias correction
//	v_hat = v_t / (1 - beta2^t)                         // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)    // Parameter update
//
// The per-parameter weight decay multiplier (Parameter.WDMult) lets biases
// opt out of decay.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*nn.Parameter
	beta1  float32
	beta2  float32
	eps    float32
	wd     float32
	t      int                         // Timestep for bias correction
	m      map[*nn.Parameter][]float32 // First moment estimates
	v      map[*nn.Parameter][]float32 // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
	WD    float32    // Weight decay coefficient
}

// NewAdam creates a new Adam optimizer over params.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	// Set defaults
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		params: params,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		wd:     config.WD,
		m:      make(map[*nn.Parameter][]float32),
		v:      make(map[*nn.Parameter][]float32),
	}
}

// Step performs a single optimization step and clears the gradients.
func (a *Adam) Step(lr, rescale float32) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		if !param.HasGrad() {
			// Parameter didn't participate in forward pass, skip
			continue
		}

		n := param.Tensor().NumElements()
		m, ok := a.m[param]
		if !ok {
			m = make([]float32, n)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = make([]float32, n)
			a.v[param] = v
		}

		wd := a.wd * param.WDMult
		gradData := param.Grad().Data()
		paramData := param.Tensor().Data()
		for i := range paramData {
			g := gradData[i]*rescale + wd*paramData[i]

			m[i] = a.beta1*m[i] + (1.0-a.beta1)*g
			v[i] = a.beta2*v[i] + (1.0-a.beta2)*g*g

			mHat := m[i] / biasCorrection1
			vHat := v[i] / biasCorrection2

			paramData[i] -= lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
	a.ZeroGrad()
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// Params returns the optimized parameters.
func (a *Adam) Params() []*nn.Parameter {
	return a.params
}

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int {
	return a.t
}

// States returns the moment estimates as <param>.m and <param>.v tensors
// plus the timestep. The tensors alias the optimizer's buffers.
func (a *Adam) States() map[string]*tensor.Tensor {
	states := map[string]*tensor.Tensor{
		timestepKey: tensor.MustNew([]float32{float32(a.t)}, tensor.Shape{1}),
	}
	for _, p := range a.params {
		m, ok := a.m[p]
		if !ok {
			continue
		}
		states[p.Name()+".m"] = tensor.MustNew(m, p.Tensor().Shape())
		states[p.Name()+".v"] = tensor.MustNew(a.v[p], p.Tensor().Shape())
	}
	return states
}

// LoadStates restores moment estimates and the timestep written by States.
// Parameters absent from states start with zero moments.
func (a *Adam) LoadStates(states map[string]*tensor.Tensor) error {
	ts, ok := states[timestepKey]
	if !ok || ts.NumElements() != 1 {
		return fmt.Errorf("optimizer states are missing %s", timestepKey)
	}
	m := make(map[*nn.Parameter][]float32, len(a.params))
	v := make(map[*nn.Parameter][]float32, len(a.params))
	for _, p := range a.params {
		mt, okM := states[p.Name()+".m"]
		vt, okV := states[p.Name()+".v"]
		if !okM && !okV {
			continue
		}
		n := p.Tensor().NumElements()
		if !okM || !okV || mt.NumElements() != n || vt.NumElements() != n {
			return fmt.Errorf("optimizer states for %s do not match its shape %v", p.Name(), p.Tensor().Shape())
		}
		m[p] = append([]float32(nil), mt.Data()...)
		v[p] = append([]float32(nil), vt.Data()...)
	}
	a.t = int(ts.Data()[0])
	a.m, a.v = m, v
	return nil
}
