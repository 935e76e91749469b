// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package centernet trains CenterNet object detectors, evaluates them with
// VOC mean average precision and serves predictions.
//
// # Overview
//
// A run goes through an explicit Session:
//
//	cfg, err := centernet.LoadConfig("train.yaml")
//	if err != nil {
//	    return err
//	}
//	est, err := centernet.New(cfg, centernet.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	train, err := centernet.LoadManifest("train.json")
//	if err != nil {
//	    return err
//	}
//	sess, res, err := est.Fit(ctx, train, nil) // holds out a validation split
//
// Training runs data parallel over train.gpus; every batch is split across
// the devices, one optimizer step is taken per batch and the learning rate
// follows a warmup plus decay schedule. The network is validated every
// valid.interval epochs and the best one is written to
// <logdir>/best_checkpoint.born.
//
// # Resuming
//
//	sess, err := est.LoadSession(ctx, "runs/1234/best_checkpoint.born")
//	res, err := est.Resume(ctx, sess, train, val)
//
// A session whose epochs are all done is returned unchanged.
//
// # Prediction
//
//	dets, err := est.Predict(ctx, sess, centernet.PathInput("https://example.com/dog.jpg"))
//	for _, d := range dets {
//	    fmt.Println(d.Class, d.Score, d.Box)
//	}
//
// Inputs may be a path or URL, a decoded HWC image tensor, or a table
// whose "image" column holds paths; table detections carry their image.
package centernet
