// Package reporter forwards per-epoch validation scores to external sinks.
package reporter

import (
	"context"

	"go.uber.org/multierr"

	"github.com/born-ml/centernet/internal/config"
)

// Reporter receives the validation score of an epoch.
type Reporter interface {
	Report(ctx context.Context, epoch int, score float64) error
	Close() error
}

// Func adapts a function to the Reporter interface.
type Func func(ctx context.Context, epoch int, score float64) error

// Report calls f.
func (f Func) Report(ctx context.Context, epoch int, score float64) error {
	return f(ctx, epoch, score)
}

// Close is a no-op.
func (Func) Close() error { return nil }

type nop struct{}

func (nop) Report(context.Context, int, float64) error { return nil }
func (nop) Close() error { return nil }

// Nop discards every score.
var Nop Reporter = nop{}

// Multi fans a score out to several reporters. Every reporter is called
// even when an earlier one fails.
type Multi []Reporter

// Report forwards the score to every reporter.
func (m Multi) Report(ctx context.Context, epoch int, score float64) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Report(ctx, epoch, score))
	}
	return err
}

// Close closes every reporter.
func (m Multi) Close() error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// FromConfig builds the reporters enabled in cfg, tagging scores with run.
// It returns Nop when none is configured.
func FromConfig(cfg config.ReporterConfig, run string) Reporter {
	var m Multi
	if cfg.Influx.URL != "" {
		m = append(m, NewInflux(cfg.Influx, run))
	}
	if cfg.Redis.Addr != "" {
		m = append(m, NewRedis(cfg.Redis, run))
	}
	switch len(m) {
	case 0:
		return Nop
	case 1:
		return m[0]
	default:
		return m
	}
}
