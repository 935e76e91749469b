// Package main provides the centernet command: train, evaluate and predict
// with CenterNet detectors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/born-ml/centernet/centernet"
	"github.com/born-ml/centernet/internal/logger"
	"github.com/born-ml/centernet/internal/reporter"
)

const version = "v0.1.0-dev"

func usage() {
	fmt.Println("CenterNet object detection")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  train      -config cfg.yaml -train train.json [-val val.json] [-resume checkpoint.born]")
	fmt.Println("  evaluate   -config cfg.yaml -checkpoint checkpoint.born -data val.json")
	fmt.Println("  predict    -config cfg.yaml -checkpoint checkpoint.born image [image...]")
	fmt.Println("  version    Show version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(ctx, os.Args[2:])
	case "evaluate":
		err = runEvaluate(ctx, os.Args[2:])
	case "predict":
		err = runPredict(ctx, os.Args[2:])
	case "version":
		fmt.Printf("centernet %s\n", version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "centernet %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// setup loads the configuration, fixes the run directory and builds the
// logger and estimator for it.
func setup(ctx context.Context, cfgPath string) (*centernet.Estimator, *zap.Logger, func(), error) {
	cfg, err := centernet.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logDir, err := cfg.ResolveLogDir("runs")
	if err != nil {
		return nil, nil, nil, err
	}
	log, closeLog, err := logger.New(ctx, logger.Options{Debug: cfg.Debug, Dir: logDir})
	if err != nil {
		return nil, nil, nil, err
	}
	rep := reporter.FromConfig(cfg.Reporter, filepath.Base(logDir))
	tp := logger.NewTracerProvider(log)

	est, err := centernet.New(cfg,
		centernet.WithLogger(log),
		centernet.WithReporter(rep),
		centernet.WithProber(centernet.StaticProber(cfg.Train.VisibleGPUs)),
		centernet.WithTracerProvider(tp))
	if err != nil {
		_ = closeLog()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := rep.Close(); err != nil {
			log.Warn("close reporter", zap.Error(err))
		}
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("shut down tracer provider", zap.Error(err))
		}
		_ = log.Sync()
		_ = closeLog()
	}
	return est, log, cleanup, nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	trainPath := fs.String("train", "", "training manifest")
	valPath := fs.String("val", "", "validation manifest; a split of the training data when empty")
	resume := fs.String("resume", "", "checkpoint to resume from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trainPath == "" {
		return fmt.Errorf("-train is required")
	}

	est, log, cleanup, err := setup(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	train, err := centernet.LoadManifest(*trainPath)
	if err != nil {
		return err
	}
	var val centernet.DetectionDataset
	if *valPath != "" {
		v, err := centernet.LoadManifest(*valPath)
		if err != nil {
			return err
		}
		val = v
	}

	var res centernet.Result
	if *resume != "" {
		sess, err := est.LoadSession(ctx, *resume)
		if err != nil {
			return err
		}
		if val == nil {
			return fmt.Errorf("-val is required when resuming")
		}
		res, err = est.Resume(ctx, sess, train, val)
		if err != nil {
			return err
		}
	} else {
		_, res, err = est.Fit(ctx, train, val)
		if err != nil {
			return err
		}
	}

	log.Info("training finished",
		zap.Float64("train_map", res.TrainMAP),
		zap.Float64("valid_map", res.ValidMAP),
		zap.Float64("time", res.Time))
	return json.NewEncoder(os.Stdout).Encode(res)
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	checkpoint := fs.String("checkpoint", "", "checkpoint to evaluate")
	dataPath := fs.String("data", "", "evaluation manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" || *dataPath == "" {
		return fmt.Errorf("-checkpoint and -data are required")
	}

	est, _, cleanup, err := setup(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := est.LoadSession(ctx, *checkpoint)
	if err != nil {
		return err
	}
	ds, err := centernet.LoadManifest(*dataPath)
	if err != nil {
		return err
	}
	names, values, err := est.EvaluateDataset(ctx, sess, ds)
	if err != nil {
		return err
	}
	for i, name := range names {
		fmt.Printf("%s=%f\n", name, values[i])
	}
	return nil
}

func runPredict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	checkpoint := fs.String("checkpoint", "", "checkpoint to predict with")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" || fs.NArg() == 0 {
		return fmt.Errorf("-checkpoint and at least one image are required")
	}

	est, _, cleanup, err := setup(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := est.LoadSession(ctx, *checkpoint)
	if err != nil {
		return err
	}

	in := centernet.PathInput(fs.Arg(0))
	if fs.NArg() > 1 {
		table := centernet.Table{Columns: []string{"image"}}
		for _, ref := range fs.Args() {
			table.Rows = append(table.Rows, map[string]any{"image": ref})
		}
		in = centernet.TableInput(table)
	}
	dets, err := est.Predict(ctx, sess, in)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, d := range dets {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}
