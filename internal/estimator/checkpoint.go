package estimator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/born-ml/centernet/internal/centernet"
	"github.com/born-ml/centernet/internal/serialization"
)

// CheckpointName is the file holding the best network of a run.
const CheckpointName = "best_checkpoint.born"

const statesModelType = "AdamStates"

// StatesPath returns the optimizer state file kept next to checkpoint.
func StatesPath(checkpoint string) string {
	return strings.TrimSuffix(checkpoint, filepath.Ext(checkpoint)) + ".states"
}

// saveCheckpoint writes the network and progress of sess with best as the
// best score.
func (e *Estimator) saveCheckpoint(sess *Session, best float64) (string, error) {
	path := filepath.Join(sess.LogDir, CheckpointName)
	meta := &serialization.CheckpointMeta{
		IsCheckpoint:   true,
		Epoch:          sess.State.Epoch,
		BestScore:      best,
		ElapsedSeconds: sess.State.Elapsed,
		TrainSize:      sess.State.TrainSize,
	}
	if sess.Trainer != nil {
		meta.Step = int64(sess.Trainer.NumUpdate())
	}
	if err := centernet.Save(path, sess.Net, meta); err != nil {
		return "", err
	}
	if sess.Trainer == nil {
		return path, nil
	}
	if states := sess.Trainer.States(); states != nil {
		header := serialization.Header{ModelType: statesModelType, CheckpointMeta: meta}
		if err := serialization.WriteFile(StatesPath(path), states, header); err != nil {
			return "", errors.Wrapf(err, "save optimizer states of %s", path)
		}
	}
	return path, nil
}

// LoadSession restores a session from a checkpoint written by a training
// run. The run directory defaults to the checkpoint's directory.
func (e *Estimator) LoadSession(ctx context.Context, path string) (*Session, error) {
	_, span := e.tracer.Start(ctx, "LoadSession")
	defer span.End()

	net, header, err := centernet.Load(path)
	if err != nil {
		return nil, err
	}
	classes := net.Classes()
	cfg := e.cfg.Clone()
	if n := cfg.CenterNet.NumClass; n > 0 && n != len(classes) {
		return nil, errors.Wrapf(centernet.ErrClassMismatch, "num_class is %d but %s has %d classes", n, path, len(classes))
	}

	ctxs, err := e.resolveContexts(cfg.Train.GPUs)
	if err != nil {
		return nil, err
	}
	biases, err := net.CollectParams(`.*bias`)
	if err != nil {
		return nil, err
	}
	for _, p := range biases {
		p.WDMult = 0
	}
	net.ResetCtx(ctxs)

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Dir(path)
	}
	logDir, err := cfg.ResolveLogDir(e.runRoot)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Config:   cfg,
		Classes:  classes,
		Net:      net,
		Contexts: ctxs,
		LogDir:   logDir,
	}
	if meta := header.CheckpointMeta; meta != nil {
		sess.State = TrainingState{
			Epoch:     meta.Epoch,
			BestMAP:   meta.BestScore,
			Elapsed:   meta.ElapsedSeconds,
			TrainSize: meta.TrainSize,
		}
		if meta.TrainSize > 0 {
			if err := e.initTrainer(sess, meta.TrainSize); err != nil {
				return nil, err
			}
			if err := e.loadStates(sess, StatesPath(path)); err != nil {
				return nil, err
			}
		}
	}
	e.logger.Info("session restored",
		zap.String("path", path),
		zap.Int("epoch", sess.State.Epoch),
		zap.Float64("best_map", sess.State.BestMAP))
	return sess, nil
}

// loadStates restores the optimizer moments saved beside a checkpoint. A
// missing file leaves the optimizer fresh. The schedule position is set by
// Resume from the completed epochs.
func (e *Estimator) loadStates(sess *Session, path string) error {
	header, states, err := serialization.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("no optimizer states next to checkpoint, moments start at zero", zap.String("path", path))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load optimizer states from %s", path)
	}
	if header.ModelType != statesModelType {
		return errors.Errorf("%s holds %q, expected %q", path, header.ModelType, statesModelType)
	}
	return errors.Wrapf(sess.Trainer.LoadStates(states), "%s", path)
}
