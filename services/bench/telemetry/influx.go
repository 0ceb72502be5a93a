// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string `mapstructure:"url" validate:"required,url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org" validate:"required"`
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Measurement names result points. Comparison points use
	// Measurement + "_comparison". Default: "benchmark"
	Measurement string `mapstructure:"measurement"`

	// Logger for write failures. Default: slog.Default()
	Logger *slog.Logger `mapstructure:"-"`
}

// Validate checks that the configuration is valid.
func (c *InfluxConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if c.Org == "" {
		errs = append(errs, errors.New("org is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	return errors.Join(errs...)
}

// InfluxSink writes results and comparisons to InfluxDB v2.
//
// Description:
//
//	Every (benchmark, metric) pair becomes one point tagged with target,
//	benchmark, metric, baseline and run_id, carrying one field per
//	percentile in base units plus mean, stddev and iterations. Points are
//	written synchronously through the blocking write API.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	guard       closeGuard
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger
}

// NewInfluxSink creates a sink writing to the configured bucket.
func NewInfluxSink(config *InfluxConfig) (*InfluxSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	measurement := config.Measurement
	if measurement == "" {
		measurement = "benchmark"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(config.URL, config.Token)
	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(config.Org, config.Bucket),
		measurement: measurement,
		logger:      logger.With(slog.String("sink", "influx")),
	}, nil
}

// Export implements Sink.
func (s *InfluxSink) Export(ctx context.Context, b *baseline.Baseline) error {
	if b == nil {
		return ErrNilData
	}
	if err := s.guard.check(ctx); err != nil {
		return err
	}

	points := s.resultPoints(b)
	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		s.logger.Warn("writing result points failed",
			slog.String("baseline", b.Name),
			slog.Int("points", len(points)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("writing %d result points: %w", len(points), err)
	}
	return nil
}

// resultPoints builds one point per benchmark and metric.
func (s *InfluxSink) resultPoints(b *baseline.Baseline) []*write.Point {
	ts := b.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var points []*write.Point
	for _, id := range b.IDs() {
		for _, r := range b.Results[id] {
			base := r.Rescaled(metric.Nanoseconds, metric.One)
			p := influxdb2.NewPointWithMeasurement(s.measurement).
				AddTag("target", id.Target).
				AddTag("benchmark", id.Name).
				AddTag("metric", r.Metric.Name()).
				AddTag("baseline", b.Name).
				AddTag("run_id", b.RunID.String()).
				AddField("mean", base.Mean).
				AddField("stddev", base.StdDev).
				AddField("iterations", r.Iterations).
				SetTime(ts)
			for _, pct := range metric.Percentiles() {
				if v, ok := base.Value(pct); ok {
					p.AddField(pct.String(), v)
				}
			}
			points = append(points, p)
		}
	}
	return points
}

// ExportReport implements Sink.
func (s *InfluxSink) ExportReport(ctx context.Context, r *compare.Report) error {
	if r == nil {
		return ErrNilData
	}
	if err := s.guard.check(ctx); err != nil {
		return err
	}

	ts := r.ComparedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	p := influxdb2.NewPointWithMeasurement(s.measurement+"_comparison").
		AddTag("mode", r.Mode.String()).
		AddTag("candidate", r.Candidate).
		AddTag("baseline", r.Baseline).
		AddField("passed", r.Passed).
		AddField("compared", r.Compared).
		AddField("regressions", len(r.Regressions)).
		AddField("improvements", len(r.Improvements)).
		AddField("skips", len(r.Skips)).
		SetTime(ts)

	if err := s.writer.WritePoint(ctx, p); err != nil {
		s.logger.Warn("writing comparison point failed",
			slog.String("candidate", r.Candidate),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("writing comparison point: %w", err)
	}
	return nil
}

// Flush flushes the blocking writer's batch, if batching was enabled.
func (s *InfluxSink) Flush(ctx context.Context) error {
	if err := s.guard.check(ctx); err != nil {
		return err
	}
	return s.writer.Flush(ctx)
}

// Close closes the client. Idempotent.
func (s *InfluxSink) Close() error {
	if !s.guard.markClosed() {
		return nil
	}
	s.client.Close()
	return nil
}

var _ Sink = (*InfluxSink)(nil)
