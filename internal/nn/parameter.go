// Package nn holds trainable parameters and the helpers networks use to
// expose them: name-pattern collection, gradient bookkeeping, state dicts.
package nn

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that receive gradients during the backward pass.
// They typically represent weights and biases of layers.
//
// Example:
//
//	weight := nn.NewParameter("heatmap.conv1.weight", tensor.Zeros(tensor.Shape{64, 3}))
//	bias := nn.NewParameter("heatmap.conv1.bias", tensor.Zeros(tensor.Shape{64}))
//	bias.WDMult = 0
type Parameter struct {
	name   string
	tensor *tensor.Tensor
	grad   *tensor.Tensor

	// WDMult scales the optimizer's weight decay for this parameter.
	WDMult float32
}

// NewParameter creates a new trainable parameter with weight decay multiplier 1.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
		WDMult: 1,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// SetTensor replaces the parameter value. The shape must not change.
func (p *Parameter) SetTensor(t *tensor.Tensor) error {
	if !t.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("parameter %s: shape %v does not match %v", p.name, t.Shape(), p.tensor.Shape())
	}
	p.tensor = t.AsIn(p.tensor.Context())
	return nil
}

// Grad returns the accumulated gradient, allocating it on first use.
func (p *Parameter) Grad() *tensor.Tensor {
	if p.grad == nil {
		p.grad = tensor.Zeros(p.tensor.Shape()).AsIn(p.tensor.Context())
	}
	return p.grad
}

// HasGrad reports whether a gradient has been accumulated since the last ZeroGrad.
func (p *Parameter) HasGrad() bool {
	return p.grad != nil
}

// ZeroGrad clears the gradient.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// ResetCtx moves the parameter (and its gradient) to ctx.
func (p *Parameter) ResetCtx(ctx device.Context) {
	p.tensor = p.tensor.AsIn(ctx)
	if p.grad != nil {
		p.grad = p.grad.AsIn(ctx)
	}
}

// Collect returns the parameters whose names match pattern, sorted by name.
// An empty pattern selects every parameter.
func Collect(params []*Parameter, pattern string) ([]*Parameter, error) {
	out := make([]*Parameter, 0, len(params))
	if pattern == "" {
		out = append(out, params...)
	} else {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter pattern %q: %w", pattern, err)
		}
		for _, p := range params {
			if re.MatchString(p.name) {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// StateDict maps parameter names to their current values.
func StateDict(params []*Parameter) map[string]*tensor.Tensor {
	sd := make(map[string]*tensor.Tensor, len(params))
	for _, p := range params {
		sd[p.name] = p.tensor
	}
	return sd
}

// LoadStateDict copies values from sd into params by name.
// Every parameter must be present with a matching shape.
func LoadStateDict(params []*Parameter, sd map[string]*tensor.Tensor) error {
	for _, p := range params {
		t, ok := sd[p.name]
		if !ok {
			return fmt.Errorf("state dict is missing parameter %s", p.name)
		}
		if err := p.SetTensor(t.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// CountElements returns the total number of scalar weights in params.
func CountElements(params []*Parameter) int {
	total := 0
	for _, p := range params {
		total += p.tensor.NumElements()
	}
	return total
}
