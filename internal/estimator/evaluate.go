package estimator

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/born-ml/centernet/internal/centernet"
	"github.com/born-ml/centernet/internal/data"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/metric"
	"github.com/born-ml/centernet/internal/tensor"
)

// EvaluateDataset evaluates sess on ds with the validation transform.
func (e *Estimator) EvaluateDataset(ctx context.Context, sess *Session, ds data.DetectionDataset) ([]string, []float64, error) {
	loader, err := newEvalLoader(sess.Config, sess.Net.Scale(), len(sess.Classes), ds)
	if err != nil {
		return nil, nil, err
	}
	return e.Evaluate(ctx, sess, loader)
}

// Evaluate computes the configured mAP metric of sess over the batches of
// loader, which must yield (image, padded label) pairs. It returns the per
// class names and values followed by "mAP" and the mean.
func (e *Estimator) Evaluate(ctx context.Context, sess *Session, loader *data.Loader) ([]string, []float64, error) {
	ctx, span := e.tracer.Start(ctx, "evaluate", trace.WithAttributes(attribute.Int("batches", loader.Len())))
	defer span.End()

	cfg := sess.Config
	m, err := metric.New(string(cfg.Valid.Metric), cfg.Valid.IOUThresh, sess.Classes)
	if err != nil {
		return nil, nil, err
	}
	sess.Net.SetFlipTest(cfg.Valid.FlipTest)
	if err := device.Synchronize(sess.Contexts); err != nil {
		return nil, nil, errors.Wrap(err, "synchronize devices")
	}

	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return nil, nil, err
		}
		if err := e.evaluateBatch(sess, batch, m); err != nil {
			return nil, nil, err
		}
	}
	names, values := m.Get()
	return names, values, nil
}

func (e *Estimator) evaluateBatch(sess *Session, batch data.Batch, m metric.Detection) error {
	if len(batch) != 2 {
		return errors.Errorf("validation batch has %d fields, expected 2", len(batch))
	}
	images, err := tensor.SplitAndLoad(batch[0], sess.Contexts, false)
	if err != nil {
		return err
	}
	labels, err := tensor.SplitAndLoad(batch[1], sess.Contexts, false)
	if err != nil {
		return err
	}
	height, width := batch[0].Dim(2), batch[0].Dim(3)

	dets := make([]centernet.Detections, len(images))
	for i, x := range images {
		device.Launch(x.Context(), func() error {
			d, err := sess.Net.Predict(x)
			dets[i] = d
			return err
		})
	}
	if err := device.Synchronize(sess.Contexts); err != nil {
		return err
	}

	var (
		detBoxes, detIDs, detScores []*tensor.Tensor
		gtBoxes, gtIDs, gtDiffs     []*tensor.Tensor
	)
	for i, det := range dets {
		detIDs = append(detIDs, det.IDs)
		detScores = append(detScores, det.Scores)
		detBoxes = append(detBoxes, clipBoxes(det.Boxes, float32(width), float32(height)))

		y := labels[i]
		boxes, err := y.SliceLast(0, 4)
		if err != nil {
			return err
		}
		ids, err := y.SliceLast(4, 5)
		if err != nil {
			return err
		}
		gtBoxes = append(gtBoxes, boxes)
		gtIDs = append(gtIDs, ids)
		if y.Dim(-1) > 5 {
			diff, err := y.SliceLast(5, 6)
			if err != nil {
				return err
			}
			gtDiffs = append(gtDiffs, diff)
		}
	}
	if len(gtDiffs) != len(gtIDs) {
		gtDiffs = nil
	}
	return m.Update(detBoxes, detIDs, detScores, gtBoxes, gtIDs, gtDiffs)
}

// clipBoxes clamps x coordinates of [..., 4] boxes to [0, width] and y
// coordinates to [0, height].
func clipBoxes(boxes *tensor.Tensor, width, height float32) *tensor.Tensor {
	out := boxes.Clone()
	d := out.Data()
	for i := 0; i+3 < len(d); i += 4 {
		d[i] = clamp(d[i], 0, width)
		d[i+1] = clamp(d[i+1], 0, height)
		d[i+2] = clamp(d[i+2], 0, width)
		d[i+3] = clamp(d[i+3], 0, height)
	}
	return out
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
