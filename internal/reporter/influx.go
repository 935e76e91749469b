package reporter

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/born-ml/centernet/internal/config"
)

const (
	defaultMeasurement = "centernet_validation"
	influxTimeout      = 10 // seconds
)

// Influx writes one point per validated epoch.
type Influx struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	run         string
}

// NewInflux returns a reporter writing to the bucket described by cfg.
func NewInflux(cfg config.InfluxConfig, run string) *Influx {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(influxTimeout))
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		run:         run,
	}
}

// Report writes the score as field "map" tagged with the run id.
func (r *Influx) Report(ctx context.Context, epoch int, score float64) error {
	p := influxdb2.NewPoint(r.measurement,
		map[string]string{"run": r.run},
		map[string]any{"epoch": epoch, "map": score},
		time.Now())
	if err := r.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write influx point: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Influx) Close() error {
	r.client.Close()
	return nil
}
