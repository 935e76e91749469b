package estimator

import (
	"github.com/born-ml/centernet/internal/config"
	"github.com/born-ml/centernet/internal/data"
	"github.com/born-ml/centernet/internal/transform"
)

// loaders are the three iterators of a training run.
type loaders struct {
	train     *data.Loader
	val       *data.Loader
	trainEval *data.Loader
}

func transformConfig(cfg *config.Config, scale, numClass int) transform.Config {
	w, h := cfg.DataShape()
	return transform.Config{Width: w, Height: h, Scale: scale, NumClass: numClass}
}

// newTrainLoader shuffles and rolls leftover samples over to the next epoch
// so that every batch is full.
func newTrainLoader(cfg *config.Config, scale, numClass int, ds data.DetectionDataset) (*data.Loader, error) {
	fn, err := transform.Train(transformConfig(cfg, scale, numClass))
	if err != nil {
		return nil, err
	}
	return data.NewLoader(data.Transform(data.Dataset[data.Sample](ds), fn), data.StackTuple(6), data.LoaderConfig{
		BatchSize: cfg.Train.BatchSize,
		Shuffle:   true,
		LastBatch: data.Rollover,
		Workers:   cfg.Train.NumWorkers,
		Seed:      cfg.Train.Seed,
	})
}

// newEvalLoader keeps the dataset order and pads labels with -1.
func newEvalLoader(cfg *config.Config, scale, numClass int, ds data.DetectionDataset) (*data.Loader, error) {
	fn, err := transform.Val(transformConfig(cfg, scale, numClass))
	if err != nil {
		return nil, err
	}
	return data.NewLoader(data.Transform(data.Dataset[data.Sample](ds), fn), data.Tuple(data.Stack(), data.Pad(-1)), data.LoaderConfig{
		BatchSize: cfg.Valid.BatchSize,
		LastBatch: data.Keep,
		Workers:   cfg.Valid.NumWorkers,
	})
}

func newLoaders(cfg *config.Config, scale, numClass int, train, val data.DetectionDataset) (loaders, error) {
	var (
		l   loaders
		err error
	)
	if l.train, err = newTrainLoader(cfg, scale, numClass, train); err != nil {
		return l, err
	}
	if l.val, err = newEvalLoader(cfg, scale, numClass, val); err != nil {
		return l, err
	}
	if l.trainEval, err = newEvalLoader(cfg, scale, numClass, train); err != nil {
		return l, err
	}
	return l, nil
}
