// Package logger builds the zap loggers used across the trainer.
package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName is the log file written inside a run directory.
const FileName = "train.log"

// Options configures a logger.
type Options struct {
	Debug bool
	// Dir, when set, receives a copy of every entry in Dir/train.log.
	Dir string
	// Stdout and Stderr default to the process streams.
	Stdout zapcore.WriteSyncer
	Stderr zapcore.WriteSyncer
}

// New returns a logger writing debug/info entries to stdout and warnings
// and errors to stderr. Entries logged while ctx carries a recording span
// are added to the span as events. The returned close function flushes and
// releases the log file.
func New(ctx context.Context, opts Options) (*zap.Logger, func() error, error) {
	// debug and info level enabler
	debugInfoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.DebugLevel || level == zapcore.InfoLevel
	})

	// info level enabler
	infoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.InfoLevel
	})

	// warn, error and fatal level enabler
	warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	stdoutSyncer, stderrSyncer := opts.Stdout, opts.Stderr
	if stdoutSyncer == nil {
		stdoutSyncer = zapcore.Lock(os.Stdout)
	}
	if stderrSyncer == nil {
		stderrSyncer = zapcore.Lock(os.Stderr)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	stdoutLevel := zapcore.LevelEnabler(infoLevel)
	fileLevel := zapcore.InfoLevel
	if opts.Debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		stdoutLevel = debugInfoLevel
		fileLevel = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stdoutSyncer, stdoutLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stderrSyncer, warnErrorFatalLevel),
	}

	closeFn := func() error { return nil }
	if opts.Dir != "" {
		//nolint:gosec // G304: the run directory is created by the trainer
		f, err := os.OpenFile(filepath.Join(opts.Dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(f), fileLevel))
		closeFn = func() error {
			_ = f.Sync()
			return f.Close()
		}
	}

	// finally construct the logger with the tee core
	// and add hooks to inject logs to traces
	logger := zap.New(zapcore.NewTee(cores...)).WithOptions(
		zap.Hooks(func(entry zapcore.Entry) error {
			span := trace.SpanFromContext(ctx)
			if !span.IsRecording() {
				return nil
			}

			span.AddEvent("log", trace.WithAttributes(
				attribute.KeyValue{
					Key:   "log.severity",
					Value: attribute.StringValue(entry.Level.String()),
				},
				attribute.KeyValue{
					Key:   "log.message",
					Value: attribute.StringValue(entry.Message),
				},
			))
			if entry.Level >= zap.ErrorLevel {
				span.SetStatus(codes.Error, entry.Message)
			}

			return nil
		}))

	return logger, closeFn, nil
}
