package estimator

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/tensor"
	"github.com/born-ml/centernet/internal/transform"
)

const maxPredictSize = 1024

// Box is a detection box normalized to [0, 1] by the image size.
type Box struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Detection is one predicted object.
type Detection struct {
	Class string  `json:"predict_class"`
	Score float64 `json:"predict_score"`
	Box   Box     `json:"predict_rois"`
	// Image is the source reference; set for table inputs only.
	Image string `json:"image,omitempty"`
}

// Predict detects objects in the input. Only detections with a positive
// score are returned, in the network's order.
func (e *Estimator) Predict(ctx context.Context, sess *Session, in Input) ([]Detection, error) {
	short := slices.Min(sess.Config.CenterNet.DataShape)

	switch in.kind {
	case InputPath:
		img, err := e.images.Load(ctx, in.path)
		if err != nil {
			return nil, err
		}
		return e.predictImage(sess, img, short)
	case InputTensor:
		if in.tensor == nil {
			return nil, errors.Wrap(ErrUnsupportedInput, "nil tensor")
		}
		return e.predictImage(sess, in.tensor, short)
	case InputTable:
		return e.predictTable(ctx, sess, in.table)
	default:
		return nil, errors.Wrapf(ErrUnsupportedInput, "kind %s", in.kind)
	}
}

func (e *Estimator) predictTable(ctx context.Context, sess *Session, t Table) ([]Detection, error) {
	if !slices.Contains(t.Columns, ImageColumn) {
		return nil, errors.Wrapf(ErrMissingImageColumn, "columns %v", t.Columns)
	}
	var out []Detection
	for i, row := range t.Rows {
		ref, ok := row[ImageColumn].(string)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedInput, "row %d: image is %T, expected a path", i, row[ImageColumn])
		}
		dets, err := e.Predict(ctx, sess, PathInput(ref))
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		for _, d := range dets {
			d.Image = ref
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *Estimator) predictImage(sess *Session, img *tensor.Tensor, short int) ([]Detection, error) {
	x, err := transform.Test(img, short, maxPredictSize)
	if err != nil {
		return nil, err
	}
	height, width := x.Dim(2), x.Dim(3)
	det, err := sess.Net.Predict(x.AsIn(sess.Contexts[0]))
	if err != nil {
		return nil, err
	}
	return toDetections(det.IDs.Index(0), det.Scores.Index(0), det.Boxes.Index(0), sess.Classes, float32(width), float32(height))
}

// toDetections converts the first image of decoded network outputs, ids
// [K,1], scores [K,1] and pixel boxes [K,4], into records.
func toDetections(ids, scores, boxes *tensor.Tensor, classes []string, width, height float32) ([]Detection, error) {
	idData, scoreData, boxData := ids.Data(), scores.Data(), boxes.Data()
	out := make([]Detection, 0, len(scoreData))
	for k, score := range scoreData {
		if score <= 0 {
			continue
		}
		id := int(idData[k])
		if id < 0 || id >= len(classes) {
			return nil, errors.Errorf("class id %d out of range for %d classes", id, len(classes))
		}
		b := boxData[k*4 : k*4+4]
		out = append(out, Detection{
			Class: classes[id],
			Score: float64(score),
			Box: Box{
				XMin: float64(clamp(b[0]/width, 0, 1)),
				YMin: float64(clamp(b[1]/height, 0, 1)),
				XMax: float64(clamp(b[2]/width, 0, 1)),
				YMax: float64(clamp(b[3]/height, 0, 1)),
			},
		})
	}
	return out, nil
}
