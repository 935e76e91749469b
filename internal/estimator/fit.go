package estimator

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/born-ml/centernet/internal/centernet"
	"github.com/born-ml/centernet/internal/data"
	"github.com/born-ml/centernet/internal/device"
	"github.com/born-ml/centernet/internal/loss"
	"github.com/born-ml/centernet/internal/metric"
	"github.com/born-ml/centernet/internal/tensor"
)

// Fit builds a session for train and trains it. When val is nil a
// validation subset is held out of train using train.split_ratio.
func (e *Estimator) Fit(ctx context.Context, train, val data.DetectionDataset) (*Session, Result, error) {
	if val == nil {
		tr, va, err := data.Split(train, e.cfg.Train.SplitRatio, e.cfg.Train.Seed)
		if err != nil {
			return nil, Result{}, errors.Wrap(err, "hold out validation split")
		}
		e.logger.Info("no validation set given, holding out a split",
			zap.Int("train", tr.Len()), zap.Int("valid", va.Len()))
		train, val = tr, va
	}
	sess, err := e.NewSession(ctx, train.Classes(), train.Len())
	if err != nil {
		return nil, Result{}, err
	}
	res, err := e.Resume(ctx, sess, train, val)
	return sess, res, err
}

// done reports whether the session has no epoch left to run.
func (s *Session) done() bool {
	return max(s.Config.Train.StartEpoch, s.State.Epoch) >= s.Config.Train.Epochs
}

// Resume continues training sess from max(start_epoch, completed epochs).
// A finished session is returned as is, without touching the network.
func (e *Estimator) Resume(ctx context.Context, sess *Session, train, val data.DetectionDataset) (Result, error) {
	if sess.done() {
		e.logger.Info("training already finished",
			zap.Int("epoch", sess.State.Epoch),
			zap.Int("epochs", sess.Config.Train.Epochs))
		return Result{ValidMAP: sess.State.BestMAP, Time: sess.State.Elapsed}, nil
	}
	if len(sess.Classes) == 0 {
		return Result{}, errors.Wrap(centernet.ErrUnknownClassCount, "unable to determine classes of dataset")
	}
	for _, ds := range []data.DetectionDataset{train, val} {
		if ds != nil && !slices.Equal(ds.Classes(), sess.Classes) {
			return Result{}, errors.Wrapf(centernet.ErrClassMismatch,
				"dataset classes %v differ from session classes %v", ds.Classes(), sess.Classes)
		}
	}
	if sess.Trainer == nil {
		if err := e.initTrainer(sess, train.Len()); err != nil {
			return Result{}, err
		}
	}

	ls, err := newLoaders(sess.Config, sess.Net.Scale(), len(sess.Classes), train, val)
	if err != nil {
		return Result{}, err
	}
	return e.trainLoop(ctx, sess, ls)
}

// objective holds the losses and their running averages.
type objective struct {
	wh, reg    loss.MaskedL1
	heatmap    loss.HeatmapFocal
	whMetric   *metric.Loss
	regMetric  *metric.Loss
	heatMetric *metric.Loss
}

func newObjective(whWeight, regWeight float64) *objective {
	return &objective{
		wh:         loss.NewMaskedL1(float32(whWeight)),
		reg:        loss.NewMaskedL1(float32(regWeight)),
		heatmap:    loss.NewHeatmapFocal(),
		whMetric:   metric.NewLoss("WHL1"),
		regMetric:  metric.NewLoss("CenterRegL1"),
		heatMetric: metric.NewLoss("HeatmapFocal"),
	}
}

func (o *objective) reset() {
	o.whMetric.Reset()
	o.regMetric.Reset()
	o.heatMetric.Reset()
}

func (o *objective) fields() []zap.Field {
	fields := make([]zap.Field, 0, 3)
	for _, m := range []*metric.Loss{o.whMetric, o.regMetric, o.heatMetric} {
		name, v := m.Get()
		fields = append(fields, zap.Float64(name, v))
	}
	return fields
}

// shouldValidate reports whether validation runs after epoch.
func shouldValidate(epoch, interval, epochs int) bool {
	return (interval > 0 && epoch%interval == 0) || epoch == epochs-1
}

func (e *Estimator) trainLoop(ctx context.Context, sess *Session, ls loaders) (Result, error) {
	cfg := sess.Config
	obj := newObjective(cfg.CenterNet.WHWeight, cfg.CenterNet.CenterRegWeight)

	start := max(cfg.Train.StartEpoch, sess.State.Epoch)
	sess.Trainer.ResumeAt(start)
	e.logger.Info("start training", zap.Int("epoch", start), zap.Int("epochs", cfg.Train.Epochs))

	for epoch := start; epoch < cfg.Train.Epochs; epoch++ {
		if err := e.runEpoch(ctx, sess, ls, obj, epoch); err != nil {
			return Result{}, err
		}
	}

	_, values, err := e.Evaluate(ctx, sess, ls.trainEval)
	if err != nil {
		return Result{}, errors.Wrap(err, "evaluate on training data")
	}
	return Result{
		TrainMAP: values[len(values)-1],
		ValidMAP: sess.State.BestMAP,
		Time:     sess.State.Elapsed,
	}, nil
}

func (e *Estimator) runEpoch(ctx context.Context, sess *Session, ls loaders, obj *objective, epoch int) error {
	ctx, span := e.tracer.Start(ctx, "epoch", trace.WithAttributes(attribute.Int("epoch", epoch)))
	defer span.End()

	cfg := sess.Config
	obj.reset()
	tic := time.Now()
	btic := time.Now()

	i := 0
	for batch, err := range ls.train.Batches(ctx) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return errors.Wrapf(err, "epoch %d", epoch)
		}
		if err := e.trainBatch(sess, batch, obj); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
		}
		if n := cfg.Train.LogInterval; n > 0 && (i+1)%n == 0 {
			speed := float64(batch.Size()) / time.Since(btic).Seconds()
			e.logger.Info("batch", append([]zap.Field{
				zap.Int("epoch", epoch),
				zap.Int("batch", i),
				zap.Float64("samples_per_sec", speed),
				zap.Float64("lr", sess.Trainer.LearningRate()),
			}, obj.fields()...)...)
		}
		btic = time.Now()
		i++
	}
	e.logger.Info("epoch done", append([]zap.Field{
		zap.Int("epoch", epoch),
		zap.Float64("training_cost", time.Since(tic).Seconds()),
	}, obj.fields()...)...)
	sess.State.Epoch = epoch + 1

	validate := shouldValidate(epoch, cfg.Valid.Interval, cfg.Train.Epochs)
	current := 0.0
	if validate {
		names, values, err := e.Evaluate(ctx, sess, ls.val)
		if err != nil {
			return errors.Wrapf(err, "validate epoch %d", epoch)
		}
		fields := make([]zap.Field, 0, len(names)+1)
		fields = append(fields, zap.Int("epoch", epoch))
		for k, name := range names {
			fields = append(fields, zap.Float64(name, values[k]))
		}
		e.logger.Info("validation", fields...)
		current = values[len(values)-1]
		span.SetAttributes(attribute.Float64("map", current))
	}
	sess.State.Elapsed += time.Since(tic).Seconds()

	if !validate {
		return nil
	}
	if current > sess.State.BestMAP {
		path, err := e.saveCheckpoint(sess, current)
		if err != nil {
			return err
		}
		e.logger.Info("current best map",
			zap.Int("epoch", epoch),
			zap.Float64("map", current),
			zap.Float64("previous", sess.State.BestMAP),
			zap.String("path", path))
		sess.State.BestMAP = current
	}
	if err := e.reporter.Report(ctx, epoch, current); err != nil {
		e.logger.Warn("reporter failed", zap.Int("epoch", epoch), zap.Error(err))
	}
	return nil
}

// splitBatch cuts every field of batch across ctxs and regroups the pieces
// per shard: shards[i][f] is field f of shard i. Uneven splits are allowed
// and empty shards are dropped.
func splitBatch(batch data.Batch, ctxs []device.Context) ([][]*tensor.Tensor, error) {
	var shards [][]*tensor.Tensor
	for f, field := range batch {
		parts, err := tensor.SplitAndLoad(field, ctxs, false)
		if err != nil {
			return nil, errors.Wrapf(err, "split field %d", f)
		}
		if shards == nil {
			shards = make([][]*tensor.Tensor, len(parts))
		}
		if len(parts) != len(shards) {
			return nil, errors.Errorf("field %d split into %d shards, expected %d", f, len(parts), len(shards))
		}
		for i, p := range parts {
			shards[i] = append(shards[i], p)
		}
	}
	return shards, nil
}

// trainBatch runs forward on every shard, one backward over all of them and
// one optimizer step averaged over the shard count.
func (e *Estimator) trainBatch(sess *Session, batch data.Batch, obj *objective) error {
	if len(batch) != 6 {
		return errors.Errorf("training batch has %d fields, expected 6", len(batch))
	}
	shards, err := splitBatch(batch, sess.Contexts)
	if err != nil {
		return err
	}

	rec := sess.Net.Record()
	grads := make([]centernet.HeadOutputs, len(shards))
	whLosses := make([]float32, len(shards))
	regLosses := make([]float32, len(shards))
	heatLosses := make([]float32, len(shards))
	for i, s := range shards {
		x, heatTarget, whTarget, whMask, regTarget, regMask := s[0], s[1], s[2], s[3], s[4], s[5]
		out, err := rec.Forward(x)
		if err != nil {
			return err
		}
		wh, err := obj.wh.Forward(out.WH, whTarget, whMask)
		if err != nil {
			return err
		}
		reg, err := obj.reg.Forward(out.Reg, regTarget, regMask)
		if err != nil {
			return err
		}
		heat, err := obj.heatmap.Forward(out.Heatmap, heatTarget)
		if err != nil {
			return err
		}
		grads[i] = centernet.HeadOutputs{Heatmap: heat.Grad, WH: wh.Grad, Reg: reg.Grad}
		whLosses[i], regLosses[i], heatLosses[i] = wh.Value, reg.Value, heat.Value
	}
	if err := rec.Backward(grads); err != nil {
		return err
	}
	if err := sess.Trainer.Step(len(shards)); err != nil {
		return err
	}

	obj.heatMetric.Update(heatLosses...)
	obj.whMetric.Update(whLosses...)
	obj.regMetric.Update(regLosses...)
	return nil
}
