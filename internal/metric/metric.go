// Package metric implements the detection quality metrics reported during
// validation and the running loss averages logged during training.
package metric

import (
	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/tensor"
)

// ErrUnknownMetric is returned for unsupported metric names.
var ErrUnknownMetric = errors.New("unknown validation metric")

// Kind enumerates the supported mAP variants.
type Kind int

const (
	// KindVOC integrates the interpolated precision-recall curve.
	KindVOC Kind = iota
	// KindVOC07 averages interpolated precision at 11 recall points.
	KindVOC07
)

func (k Kind) String() string {
	switch k {
	case KindVOC:
		return "voc"
	case KindVOC07:
		return "voc07"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "voc":
		return KindVOC, nil
	case "voc07":
		return KindVOC07, nil
	default:
		return 0, errors.Wrapf(ErrUnknownMetric, "%q", name)
	}
}

// Detection is the interface of a ranking-based detection metric.
//
// Every argument of Update is a list of per-shard tensors:
// boxes [B,N,4] (xmin, ymin, xmax, ymax), ids [B,N,1], scores [B,N,1].
// Rows with a negative id are padding. gtDifficults may be nil when the
// dataset carries no difficult flags.
type Detection interface {
	Reset()
	Update(predBoxes, predIDs, predScores, gtBoxes, gtIDs, gtDifficults []*tensor.Tensor) error
	// Get returns one name and value per class followed by "mAP".
	Get() ([]string, []float64)
}

// New creates the metric named name ("voc" or "voc07").
func New(name string, iouThresh float64, classNames []string) (Detection, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return NewVOC(kind, iouThresh, classNames), nil
}
