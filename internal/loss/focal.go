package loss

import (
	"math"

	"github.com/born-ml/centernet/internal/tensor"
)

const (
	focalAlpha = 2 // modulating exponent on (1-p) and p
	focalBeta  = 4 // penalty reduction exponent near gaussian peaks
	probEps    = 1e-4
)

// HeatmapFocal is the CenterNet variant of focal loss on the class heatmap.
//
// Predictions are logits. With p = sigmoid(pred):
//
//	pos (label == 1): -log(p) * (1-p)^2
//	neg (label <  1): -log(1-p) * p^2 * (1-label)^4
//
// The summed loss is divided by the number of positive positions (at least 1).
// p is clamped to [1e-4, 1-1e-4]; where the clamp is active the loss is
// constant in the logit and its gradient is zero.
type HeatmapFocal struct{}

// NewHeatmapFocal creates the focal loss for logits.
func NewHeatmapFocal() HeatmapFocal {
	return HeatmapFocal{}
}

// Forward computes the loss of heatmap logits pred against the gaussian
// target label.
func (HeatmapFocal) Forward(pred, label *tensor.Tensor) (Result, error) {
	if err := checkSameShape("heatmap focal", pred, label); err != nil {
		return Result{}, err
	}

	z, y := pred.Data(), label.Data()

	numPos := 0
	for _, v := range y {
		if v == 1 {
			numPos++
		}
	}
	norm := float64(max(numPos, 1))

	grad := tensor.Zeros(pred.Shape()).AsIn(pred.Context())
	g := grad.Data()

	var sum float64
	for i := range z {
		raw := sigmoid(float64(z[i]))
		p := min(max(raw, probEps), 1-probEps)
		clamped := p != raw

		if y[i] == 1 {
			logp := math.Log(p)
			sum -= logp * math.Pow(1-p, focalAlpha)
			if !clamped {
				g[i] = float32(-(math.Pow(1-p, 3) - 2*p*(1-p)*(1-p)*logp) / norm)
			}
			continue
		}
		if y[i] < 1 {
			w := math.Pow(1-float64(y[i]), focalBeta)
			log1p := math.Log(1 - p)
			sum -= log1p * math.Pow(p, focalAlpha) * w
			if !clamped {
				g[i] = float32(w * (p*p*p - 2*p*p*(1-p)*log1p) / norm)
			}
		}
	}
	return Result{Value: float32(sum / norm), Grad: grad}, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
