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
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// otherLabel replaces label values beyond the cardinality limit.
const otherLabel = "_other"

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	// Namespace prefixes every metric name. Required.
	Namespace string

	// Subsystem is an optional second prefix.
	Subsystem string

	// Registry receives the collectors. If nil, a private registry is
	// created; it is returned by Registry and used by WriteTextfile.
	Registry *prometheus.Registry

	// MaxLabelCardinality bounds distinct values per label. Values beyond
	// it are mapped to "_other". Default: 1000
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns a configuration with sensible defaults.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:           "bench",
		MaxLabelCardinality: 1000,
	}
}

// Validate checks that the configuration is valid.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.MaxLabelCardinality < 0 {
		return errors.New("max label cardinality must not be negative")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Prometheus Sink
// -----------------------------------------------------------------------------

// PrometheusSink exposes results and comparison outcomes as Prometheus
// metrics.
//
// Description:
//
//	Result percentiles are gauges, overwritten by each export. Comparison
//	outcomes are counters. Collectors are registered on creation and
//	unregistered on Close.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	guard    closeGuard
	registry *prometheus.Registry

	percentile *prometheus.GaugeVec
	mean       *prometheus.GaugeVec
	iterations *prometheus.GaugeVec
	exported   *prometheus.CounterVec

	comparisons *prometheus.CounterVec
	deviations  *prometheus.CounterVec
	skips       prometheus.Counter

	collectors []prometheus.Collector

	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{}
	maxCardinality int
}

// NewPrometheusSink creates a Prometheus sink and registers its collectors.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *PrometheusSink: The sink. Never nil on success.
//   - error: ErrInvalidConfig, or a registration error.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.MaxLabelCardinality == 0 {
		cfg.MaxLabelCardinality = 1000
	}

	s := &PrometheusSink{
		registry:       cfg.Registry,
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: cfg.MaxLabelCardinality,
	}

	resultLabels := []string{"target", "benchmark", "metric"}

	s.percentile = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "result_percentile",
			Help:      "Benchmark result percentile in base units (ns or count)",
		},
		append(append([]string(nil), resultLabels...), "percentile"),
	)

	s.mean = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "result_mean",
			Help:      "Benchmark result mean in base units (ns or count)",
		},
		resultLabels,
	)

	s.iterations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "result_iterations",
			Help:      "Measured iterations behind a benchmark result",
		},
		resultLabels,
	)

	s.exported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "results_exported_total",
			Help:      "Results exported, by baseline",
		},
		[]string{"baseline"},
	)

	s.comparisons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "comparisons_total",
			Help:      "Comparisons performed, by mode and outcome",
		},
		[]string{"mode", "result"},
	)

	s.deviations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "comparison_deviations_total",
			Help:      "Deviations reported by comparisons",
		},
		[]string{"kind", "metric"},
	)

	s.skips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "comparison_skips_total",
			Help:      "Benchmarks, metrics or percentiles skipped by comparisons",
		},
	)

	s.collectors = []prometheus.Collector{
		s.percentile,
		s.mean,
		s.iterations,
		s.exported,
		s.comparisons,
		s.deviations,
		s.skips,
	}
	for _, c := range s.collectors {
		if err := s.registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return s, nil
}

// Registry returns the registry holding the sink's collectors.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Export implements Sink.
func (s *PrometheusSink) Export(ctx context.Context, b *baseline.Baseline) error {
	if b == nil {
		return ErrNilData
	}
	if err := s.guard.check(ctx); err != nil {
		return err
	}

	for _, smp := range samples(b) {
		s.percentile.WithLabelValues(s.resultLabels(smp.id.Target, smp.id.Name, smp.result.Metric.Name(), smp.percentile.String())...).Set(smp.base)
	}
	exported := 0
	for _, id := range b.IDs() {
		for _, r := range b.Results[id] {
			labels := s.resultLabels(id.Target, id.Name, r.Metric.Name())
			s.mean.WithLabelValues(labels...).Set(baseMean(r))
			s.iterations.WithLabelValues(labels...).Set(float64(r.Iterations))
			exported++
		}
	}
	s.exported.WithLabelValues(s.sanitizeLabel("baseline", b.Name)).Add(float64(exported))
	return nil
}

// ExportReport implements Sink.
func (s *PrometheusSink) ExportReport(ctx context.Context, r *compare.Report) error {
	if r == nil {
		return ErrNilData
	}
	if err := s.guard.check(ctx); err != nil {
		return err
	}

	outcome := "pass"
	if !r.Passed {
		outcome = "fail"
	}
	s.comparisons.WithLabelValues(r.Mode.String(), outcome).Inc()
	for _, d := range r.Regressions {
		s.deviations.WithLabelValues("regression", s.sanitizeLabel("metric", d.Metric.Name())).Inc()
	}
	for _, d := range r.Improvements {
		s.deviations.WithLabelValues("improvement", s.sanitizeLabel("metric", d.Metric.Name())).Inc()
	}
	s.skips.Add(float64(len(r.Skips)))
	return nil
}

// Handler serves the sink's registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// WriteTextfile writes the registry in the text exposition format for the
// node exporter's textfile collector.
func (s *PrometheusSink) WriteTextfile(path string) error {
	if s.guard.isClosed() {
		return ErrSinkClosed
	}
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("writing textfile %s: %w", path, err)
	}
	return nil
}

// Flush is a no-op; Prometheus is pull-based.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	return s.guard.check(ctx)
}

// Close unregisters all collectors. Idempotent.
func (s *PrometheusSink) Close() error {
	if !s.guard.markClosed() {
		return nil
	}
	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	return nil
}

// resultLabels sanitizes target, benchmark and metric labels, passing any
// extra values through.
func (s *PrometheusSink) resultLabels(target, name, metricName string, extra ...string) []string {
	out := []string{
		s.sanitizeLabel("target", target),
		s.sanitizeLabel("benchmark", target+":"+name),
		s.sanitizeLabel("metric", metricName),
	}
	// The benchmark label carries the bare name once admitted.
	if out[1] != otherLabel {
		out[1] = name
	}
	return append(out, extra...)
}

// sanitizeLabel protects against label cardinality explosion.
func (s *PrometheusSink) sanitizeLabel(labelName, labelValue string) string {
	s.labelMu.RLock()
	seen := s.seenLabels[labelName]
	if seen != nil {
		if _, exists := seen[labelValue]; exists {
			s.labelMu.RUnlock()
			return labelValue
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return otherLabel
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	if s.seenLabels[labelName] == nil {
		s.seenLabels[labelName] = make(map[string]struct{})
	}
	if _, exists := s.seenLabels[labelName][labelValue]; exists {
		return labelValue
	}
	if len(s.seenLabels[labelName]) >= s.maxCardinality {
		return otherLabel
	}
	s.seenLabels[labelName][labelValue] = struct{}{}
	return labelValue
}

var _ Sink = (*PrometheusSink)(nil)
