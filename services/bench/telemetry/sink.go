// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports benchmark results and comparison reports to
// monitoring backends.
//
// # Sinks
//
//   - PrometheusSink: gauges on a registry, scraped or written as a
//     node-exporter textfile.
//   - OTelSink: OpenTelemetry meter instruments and spans.
//   - InfluxSink: one point per benchmark and metric through the blocking
//     write API.
//   - CompositeSink: fans out to several sinks.
//
// Percentile values are exported in base units: nanoseconds for duration
// metrics and raw counts for countable metrics.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when a nil baseline or report is provided.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrInvalidConfig is returned when a sink configuration is invalid.
	ErrInvalidConfig = errors.New("invalid sink configuration")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink exports benchmark telemetry.
//
// Thread Safety: All implementations must be safe for concurrent use.
//
// Example:
//
//	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//	if err := sink.Export(ctx, b); err != nil {
//	    logger.Warn("telemetry export failed", slog.String("error", err.Error()))
//	}
type Sink interface {
	// Export records every result of a baseline.
	Export(ctx context.Context, b *baseline.Baseline) error

	// ExportReport records the outcome of a comparison.
	ExportReport(ctx context.Context, r *compare.Report) error

	// Flush pushes buffered data to the backend.
	Flush(ctx context.Context) error

	// Close releases resources. After Close, Export returns ErrSinkClosed.
	// Idempotent.
	Close() error
}

// sample is one percentile value of one result.
type sample struct {
	id         result.ID
	result     result.Result
	percentile metric.Percentile
	base       float64
}

// samples flattens b into base-unit percentile values in deterministic
// order.
func samples(b *baseline.Baseline) []sample {
	var out []sample
	for _, id := range b.IDs() {
		for _, r := range b.Results[id] {
			for _, p := range metric.Percentiles() {
				v, ok := r.Base(p)
				if !ok {
					continue
				}
				out = append(out, sample{id: id, result: r, percentile: p, base: v})
			}
		}
	}
	return out
}

// baseMean returns the mean of r in base units.
func baseMean(r result.Result) float64 {
	return r.Rescaled(metric.Nanoseconds, metric.One).Mean
}

// closeGuard tracks the closed state shared by every sink.
type closeGuard struct {
	mu     sync.RWMutex
	closed bool
}

func (g *closeGuard) check(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrSinkClosed
	}
	return nil
}

// markClosed reports whether this call closed the guard.
func (g *closeGuard) markClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	return true
}

func (g *closeGuard) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink forwards everything to several sinks.
//
// Description:
//
//	Errors from individual sinks are joined; one sink's failure does not
//	prevent the others from receiving the data.
type CompositeSink struct {
	guard closeGuard
	sinks []Sink
}

// NewCompositeSink creates a sink fanning out to sinks.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: append([]Sink(nil), sinks...)}, nil
}

// Export implements Sink.
func (c *CompositeSink) Export(ctx context.Context, b *baseline.Baseline) error {
	if b == nil {
		return ErrNilData
	}
	if err := c.guard.check(ctx); err != nil {
		return err
	}
	var errs []error
	for _, s := range c.sinks {
		if err := s.Export(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExportReport implements Sink.
func (c *CompositeSink) ExportReport(ctx context.Context, r *compare.Report) error {
	if r == nil {
		return ErrNilData
	}
	if err := c.guard.check(ctx); err != nil {
		return err
	}
	var errs []error
	for _, s := range c.sinks {
		if err := s.ExportReport(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every child concurrently.
func (c *CompositeSink) Flush(ctx context.Context) error {
	if err := c.guard.check(ctx); err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range c.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Flush(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every child.
func (c *CompositeSink) Close() error {
	if !c.guard.markClosed() {
		return nil
	}
	var errs []error
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// No-Op Sink
// -----------------------------------------------------------------------------

// NoOpSink discards everything. Used when no telemetry is configured.
type NoOpSink struct{}

// Export implements Sink.
func (NoOpSink) Export(ctx context.Context, b *baseline.Baseline) error {
	if ctx == nil {
		return ErrNilContext
	}
	if b == nil {
		return ErrNilData
	}
	return nil
}

// ExportReport implements Sink.
func (NoOpSink) ExportReport(ctx context.Context, r *compare.Report) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r == nil {
		return ErrNilData
	}
	return nil
}

// Flush implements Sink.
func (NoOpSink) Flush(context.Context) error { return nil }

// Close implements Sink.
func (NoOpSink) Close() error { return nil }

var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = NoOpSink{}
)
