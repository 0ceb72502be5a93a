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

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/AleutianAI/AleutianBench/services/bench/telemetry"

// ErrOTelInitFailed is returned when instrument creation fails.
var ErrOTelInitFailed = errors.New("opentelemetry initialization failed")

// OTelConfig configures the OpenTelemetry sink.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type OTelConfig struct {
	// ServiceName is the service name for telemetry. Required.
	ServiceName string

	// ServiceVersion is recorded as the instrumentation version.
	ServiceVersion string

	// TracerProvider to use. If nil, uses the global tracer provider.
	TracerProvider trace.TracerProvider

	// MeterProvider to use. If nil, uses the global meter provider.
	MeterProvider otelmetric.MeterProvider

	// TraceEnabled enables export spans.
	TraceEnabled bool

	// MetricsEnabled enables instrument recording.
	MetricsEnabled bool
}

// DefaultOTelConfig returns a configuration with tracing and metrics enabled.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "benchctl",
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// Validate checks that the configuration is valid.
func (c *OTelConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	return nil
}

// OTelSink records results as OpenTelemetry instruments.
//
// Description:
//
//	Each result percentile is recorded on the bench.result.percentile gauge
//	with target, benchmark, metric and percentile attributes. Comparison
//	outcomes increment counters. Exports are wrapped in spans when tracing
//	is enabled. Export to a backend is the providers' responsibility.
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	guard  closeGuard
	config *OTelConfig
	tracer trace.Tracer
	meter  otelmetric.Meter

	percentile  otelmetric.Float64Gauge
	mean        otelmetric.Float64Gauge
	results     otelmetric.Int64Counter
	comparisons otelmetric.Int64Counter
	deviations  otelmetric.Int64Counter
	skips       otelmetric.Int64Counter
}

// NewOTelSink creates an OpenTelemetry sink.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *OTelSink: The sink. Never nil on success.
//   - error: ErrInvalidConfig or ErrOTelInitFailed.
//
// Assumptions:
//   - The caller owns the providers and shuts them down.
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	s := &OTelSink{
		config: &cfg,
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:  mp.Meter(instrumentationName, otelmetric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}

	if cfg.MetricsEnabled {
		if err := s.initializeMetrics(); err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
	}
	return s, nil
}

func (s *OTelSink) initializeMetrics() error {
	var err error

	s.percentile, err = s.meter.Float64Gauge(
		"bench.result.percentile",
		otelmetric.WithDescription("Benchmark result percentile in base units"),
	)
	if err != nil {
		return err
	}

	s.mean, err = s.meter.Float64Gauge(
		"bench.result.mean",
		otelmetric.WithDescription("Benchmark result mean in base units"),
	)
	if err != nil {
		return err
	}

	s.results, err = s.meter.Int64Counter(
		"bench.results",
		otelmetric.WithDescription("Results exported"),
		otelmetric.WithUnit("{result}"),
	)
	if err != nil {
		return err
	}

	s.comparisons, err = s.meter.Int64Counter(
		"bench.comparisons",
		otelmetric.WithDescription("Comparisons performed"),
		otelmetric.WithUnit("{comparison}"),
	)
	if err != nil {
		return err
	}

	s.deviations, err = s.meter.Int64Counter(
		"bench.comparison.deviations",
		otelmetric.WithDescription("Regressions and improvements reported"),
		otelmetric.WithUnit("{deviation}"),
	)
	if err != nil {
		return err
	}

	s.skips, err = s.meter.Int64Counter(
		"bench.comparison.skips",
		otelmetric.WithDescription("Skipped comparisons"),
		otelmetric.WithUnit("{skip}"),
	)
	return err
}

// startSpan starts a span when tracing is enabled.
func (s *OTelSink) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !s.config.TraceEnabled {
		return ctx, noop.Span{}
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Export implements Sink.
func (s *OTelSink) Export(ctx context.Context, b *baseline.Baseline) error {
	if b == nil {
		return ErrNilData
	}
	if err := s.guard.check(ctx); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "telemetry.export",
		attribute.String("baseline.name", b.Name),
		attribute.String("baseline.run_id", b.RunID.String()),
		attribute.Int("baseline.benchmarks", b.Len()),
	)
	defer span.End()

	if !s.config.MetricsEnabled {
		return nil
	}

	for _, smp := range samples(b) {
		s.percentile.Record(ctx, smp.base, otelmetric.WithAttributes(
			attribute.String("target", smp.id.Target),
			attribute.String("benchmark", smp.id.Name),
			attribute.String("metric", smp.result.Metric.Name()),
			attribute.String("percentile", smp.percentile.String()),
		))
	}

	var exported int64
	for _, id := range b.IDs() {
		for _, r := range b.Results[id] {
			s.mean.Record(ctx, baseMean(r), otelmetric.WithAttributes(
				attribute.String("target", id.Target),
				attribute.String("benchmark", id.Name),
				attribute.String("metric", r.Metric.Name()),
			))
			exported++
		}
	}
	s.results.Add(ctx, exported, otelmetric.WithAttributes(attribute.String("baseline", b.Name)))
	span.SetAttributes(attribute.Int64("telemetry.results", exported))
	return nil
}

// ExportReport implements Sink.
func (s *OTelSink) ExportReport(ctx context.Context, r *compare.Report) error {
	if r == nil {
		return ErrNilData
	}
	if err := s.guard.check(ctx); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "telemetry.export_report",
		attribute.String("compare.mode", r.Mode.String()),
		attribute.String("compare.candidate", r.Candidate),
		attribute.Bool("compare.passed", r.Passed),
	)
	defer span.End()
	if !r.Passed {
		span.SetStatus(codes.Error, r.Summary())
	}

	if !s.config.MetricsEnabled {
		return nil
	}

	outcome := "pass"
	if !r.Passed {
		outcome = "fail"
	}
	s.comparisons.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("mode", r.Mode.String()),
		attribute.String("result", outcome),
	))
	for _, d := range r.Regressions {
		s.deviations.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("kind", "regression"),
			attribute.String("metric", d.Metric.Name()),
		))
	}
	for _, d := range r.Improvements {
		s.deviations.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("kind", "improvement"),
			attribute.String("metric", d.Metric.Name()),
		))
	}
	if len(r.Skips) > 0 {
		s.skips.Add(ctx, int64(len(r.Skips)))
	}
	return nil
}

// Flush is a no-op; the providers own export.
func (s *OTelSink) Flush(ctx context.Context) error {
	return s.guard.check(ctx)
}

// Close marks the sink closed. Idempotent.
func (s *OTelSink) Close() error {
	s.guard.markClosed()
	return nil
}

var _ Sink = (*OTelSink)(nil)
