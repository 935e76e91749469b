package loss

import (
	"github.com/born-ml/centernet/internal/tensor"
)

// MaskedL1 computes the mean absolute error over masked positions.
//
//	loss = Weight * sum(|label*mask - pred*mask|) / max(sum(mask), 1)
//
// Used for the box size (wh) and center offset (reg) heads, where only the
// positions at object centers carry a target.
type MaskedL1 struct {
	Weight float32
}

// NewMaskedL1 creates a masked L1 loss scaled by weight.
func NewMaskedL1(weight float32) MaskedL1 {
	return MaskedL1{Weight: weight}
}

// Forward computes the loss of pred against label under mask. Label and mask
// are reshaped like pred.
func (l MaskedL1) Forward(pred, label, mask *tensor.Tensor) (Result, error) {
	if err := checkSameShape("masked l1", pred, label, mask); err != nil {
		return Result{}, err
	}

	p, y, m := pred.Data(), label.Data(), mask.Data()

	var norm float64
	for _, v := range m {
		norm += float64(v)
	}
	norm = max(norm, 1)

	grad := tensor.Zeros(pred.Shape()).AsIn(pred.Context())
	g := grad.Data()

	var sum float64
	scale := float64(l.Weight) / norm
	for i := range p {
		diff := float64(p[i])*float64(m[i]) - float64(y[i])*float64(m[i])
		switch {
		case diff > 0:
			sum += diff
			g[i] = float32(scale * float64(m[i]))
		case diff < 0:
			sum -= diff
			g[i] = float32(-scale * float64(m[i]))
		}
	}
	return Result{Value: float32(sum * scale), Grad: grad}, nil
}
