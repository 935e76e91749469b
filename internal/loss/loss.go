// Package loss implements the CenterNet training objectives.
//
// Every loss returns its scalar value together with the gradient of that
// value with respect to the prediction, so networks without an autodiff tape
// can run their backward pass directly from it.
package loss

import (
	"fmt"

	"github.com/born-ml/centernet/internal/tensor"
)

// Result is a scalar loss and its gradient with respect to the prediction.
type Result struct {
	Value float32
	Grad  *tensor.Tensor
}

func checkSameShape(name string, pred *tensor.Tensor, others ...*tensor.Tensor) error {
	for _, o := range others {
		if o.NumElements() != pred.NumElements() {
			return fmt.Errorf("%s: shape %v does not match prediction shape %v", name, o.Shape(), pred.Shape())
		}
	}
	return nil
}
