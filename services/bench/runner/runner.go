// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes benchmarks and turns their iterations into
// per-metric results.
//
// A Runner measures one benchmark at a time on the calling goroutine:
// optional warmup, then a loop of pre-hook, closure, post-hook until the
// configured iteration and duration bounds are met. A background sampler
// tracks peak memory and thread levels while measuring.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/probe"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "bench.runner"

// -----------------------------------------------------------------------------
// Runner Options
// -----------------------------------------------------------------------------

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDefaults sets the configuration used by benchmarks without their own.
func WithDefaults(cfg Configuration) RunnerOption {
	return func(r *Runner) {
		r.defaults = cfg.Clone()
	}
}

// WithOSProducer replaces the OS counter producer used by the loop.
func WithOSProducer(p probe.Producer) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.os = p
		}
	}
}

// WithAllocatorProducer replaces the allocator counter producer.
func WithAllocatorProducer(p probe.AllocatorProducer) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.alloc = p
		}
	}
}

// WithSamplerProducer sets the factory for the sampler's own producer. The
// sampler never shares the loop's producer.
func WithSamplerProducer(newProducer func() probe.Producer) RunnerOption {
	return func(r *Runner) {
		if newProducer != nil {
			r.newSamplerProducer = newProducer
		}
	}
}

// WithSampling enables or disables the background peak sampler.
func WithSampling(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.sampling = enabled
	}
}

// WithSampleInterval sets the sampler's nominal interval.
func WithSampleInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.sampleInterval = d
		}
	}
}

// WithProgress sets the progress receiver.
func WithProgress(p Progress) RunnerOption {
	return func(r *Runner) {
		r.progress = p
	}
}

// WithProgressInterval sets the minimum time between progress updates.
func WithProgressInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.progressEvery = d
		}
	}
}

// WithClock replaces the clock used for the measured window.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner executes benchmarks.
//
// Description:
//
//	Runs are serialized: concurrent calls to Run wait for each other, so
//	per-iteration deltas are never contaminated by a sibling benchmark.
//	Each run gets fresh recorders; nothing carries over between runs.
//
// Thread Safety: Safe for concurrent use; runs execute one at a time.
type Runner struct {
	mu sync.Mutex

	defaults           Configuration
	os                 probe.Producer
	alloc              probe.AllocatorProducer
	newSamplerProducer func() probe.Producer
	sampling           bool
	sampleInterval     time.Duration
	progress           Progress
	progressEvery      time.Duration
	clock              Clock
	logger             *slog.Logger
}

// NewRunner creates a runner.
//
// Description:
//
//	Without options the runner measures with the platform OS producer, the
//	Go runtime allocator producer and a 5ms peak sampler, and uses
//	DefaultConfiguration for benchmarks without their own.
//
// Inputs:
//   - opts: Optional configuration.
//
// Outputs:
//   - *Runner: The new runner. Never nil.
//
// Example:
//
//	r := runner.NewRunner(runner.WithLogger(logger))
//	runs, failures := r.RunAll(ctx, registry)
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		defaults:           DefaultConfiguration(),
		newSamplerProducer: probe.NewOSProducer,
		sampling:           true,
		sampleInterval:     probe.DefaultSampleInterval,
		progressEvery:      DefaultProgressInterval,
		clock:              systemClock{},
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.os == nil {
		r.os = probe.NewOSProducer()
	}
	if r.alloc == nil {
		r.alloc = probe.NewAllocatorProducer()
	}
	return r
}

// SetLogger replaces the runner's logger. Nil values are ignored.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.mu.Lock()
		r.logger = logger
		r.mu.Unlock()
	}
}

// Supported reports whether m can be measured by this runner.
func (r *Runner) Supported(m metric.Metric) bool {
	switch probe.SourceOf(m) {
	case probe.SourceOS:
		return r.os.Supported(m)
	case probe.SourceAllocator:
		return r.alloc.Supported(m)
	default:
		return m.Valid()
	}
}

// Run executes one benchmark.
//
// Description:
//
//	Validates the benchmark and its configuration, runs Setup, warmup, the
//	measured loop and Teardown, and summarizes each metric. A failure
//	reported by the closure, a panic, a Setup error or context
//	cancellation aborts after the current iteration and discards every
//	statistic.
//
// Inputs:
//   - ctx: Context for cancellation and tracing. Must not be nil.
//   - bm: The benchmark. Must not be nil.
//
// Outputs:
//   - *Run: The run, in state Completed or Failed. Nil only when bm is nil.
//   - error: Wraps ErrInvalidConfig for configuration errors and
//     ErrBenchmarkFailed for aborted runs.
//
// Thread Safety: Safe for concurrent use; runs are serialized.
func (r *Runner) Run(ctx context.Context, bm *Benchmark) (*Run, error) {
	if bm == nil {
		return nil, ErrNilBenchmark
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.Runner.Run",
		trace.WithAttributes(
			attribute.String("bench.target", bm.Target),
			attribute.String("bench.name", bm.Name),
		),
	)
	defer span.End()

	run := &Run{ID: bm.ID(), State: StateIdle}
	logger := r.logger.With("benchmark", run.ID.String())

	cfg := r.defaults.Clone()
	if bm.Config != nil {
		cfg = bm.Config.Clone()
	}
	if err := bm.validate(); err != nil {
		return run, r.abort(span, run, logger, fmt.Errorf("configuring %s: %w", run.ID, err))
	}
	if err := cfg.Validate(); err != nil {
		return run, r.abort(span, run, logger, fmt.Errorf("configuring %s: %w", run.ID, err))
	}
	run.Tags = cfg.Tags

	refs := &probe.RefCounter{}
	m := newMeasurement(r.filter(cfg.Metrics, refs, logger), r.os, r.alloc, refs, r.clock, logger)
	b := &B{
		ctx:    ctx,
		id:     run.ID,
		scaled: int(cfg.ScalingFactor.Divisor()),
		refs:   refs,
	}

	span.SetAttributes(
		attribute.Int("bench.max_iterations", cfg.MaxIterations),
		attribute.Int64("bench.max_duration_ms", cfg.MaxDuration.Milliseconds()),
		attribute.Int("bench.metrics", len(m.metrics)),
	)

	run.StartedAt = time.Now()
	if bm.Setup != nil {
		if err := bm.Setup(ctx); err != nil {
			return run, r.abort(span, run, logger, fmt.Errorf("running %s: %w: setup: %w", run.ID, ErrBenchmarkFailed, err))
		}
	}

	err := r.execute(ctx, bm, cfg, m, b, run, logger)

	if bm.Teardown != nil {
		if terr := bm.Teardown(ctx); terr != nil {
			logger.Warn("teardown failed", "error", terr)
		}
	}

	if err != nil {
		return run, r.abort(span, run, logger, fmt.Errorf("running %s: %w: %w", run.ID, ErrBenchmarkFailed, err))
	}

	run.State = StateCompleted
	if r.progress != nil {
		r.progress.Finish(run)
	}

	span.SetAttributes(
		attribute.Int("bench.result.iterations", run.Iterations),
		attribute.Int("bench.result.metrics", len(run.Results)),
		attribute.Int64("bench.result.elapsed_ms", run.Elapsed.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "benchmark completed")

	logger.Debug("benchmark completed",
		"iterations", run.Iterations,
		"elapsed", run.Elapsed,
		"metrics", len(run.Results),
	)
	return run, nil
}

// execute runs warmup and the measured loop.
func (r *Runner) execute(ctx context.Context, bm *Benchmark, cfg Configuration, m *measurement, b *B, run *Run, logger *slog.Logger) error {
	run.State = StateWarmup
	for i := 0; i < cfg.warmup(); i++ {
		invoke(bm, b)
		if err := b.err(); err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i, err)
		}
		run.Warmup++
	}

	run.State = StateMeasuring
	b.m = m
	m.compensate()

	var sampler *probe.Sampler
	if r.sampling && m.hasLevels() {
		sampler = probe.NewSampler(r.newSamplerProducer(), probe.WithInterval(r.sampleInterval))
		if err := sampler.Start(); err != nil {
			logger.Warn("peak sampler not started", "error", err)
			sampler = nil
		}
	}

	throttle := rate.Sometimes{First: 1, Interval: r.progressEvery}
	loopStart := r.clock.Now()
	var (
		elapsed time.Duration
		failure error
	)
	for !cfg.done(run.Iterations, elapsed) {
		if err := ctx.Err(); err != nil {
			failure = err
			break
		}
		if r.progress != nil {
			update := Update{
				ID:            run.ID,
				State:         run.State,
				Iterations:    run.Iterations,
				MaxIterations: cfg.MaxIterations,
				Elapsed:       elapsed,
				MaxDuration:   cfg.MaxDuration,
			}
			throttle.Do(func() { r.progress.Update(update) })
		}

		m.begin()
		invoke(bm, b)
		m.finish()

		run.Iterations++
		elapsed = r.clock.Now().Sub(loopStart)

		if err := b.err(); err != nil {
			failure = fmt.Errorf("iteration %d: %w", run.Iterations, err)
			break
		}
	}
	b.m = nil
	run.Elapsed = elapsed

	if sampler != nil {
		run.Peaks = sampler.Stop()
	}
	if failure != nil {
		return failure
	}

	run.Results = m.results(cfg, run.Iterations, run.Warmup, run.Peaks)
	return nil
}

// invoke calls the closure once, joining async closures and converting
// panics into failures.
func invoke(bm *Benchmark, b *B) {
	defer func() {
		if p := recover(); p != nil {
			b.Error(fmt.Errorf("panic: %v", p))
		}
	}()
	if bm.Run != nil {
		bm.Run(b)
		return
	}
	done := bm.RunAsync(b)
	if done == nil {
		return
	}
	if err := <-done; err != nil {
		b.Error(err)
	}
}

// filter drops duplicate metrics and metrics the producers cannot measure,
// then narrows the OS producer to what remains.
func (r *Runner) filter(ms []metric.Metric, refs *probe.RefCounter, logger *slog.Logger) []metric.Metric {
	out := make([]metric.Metric, 0, len(ms))
	var osMetrics []metric.Metric
	for _, m := range ms {
		if slices.Contains(out, m) {
			continue
		}
		supported := true
		switch probe.SourceOf(m) {
		case probe.SourceOS:
			supported = r.os.Supported(m)
			if supported {
				osMetrics = append(osMetrics, m)
			}
		case probe.SourceAllocator:
			supported = r.alloc.Supported(m)
		case probe.SourceReference:
			supported = refs.Supported(m)
		}
		if !supported {
			logger.Debug("metric unsupported on this platform, skipping", "metric", m.Name())
			continue
		}
		out = append(out, m)
	}
	r.os.Select(osMetrics)
	return out
}

// abort moves run to Failed, drops its results and records err.
func (r *Runner) abort(span trace.Span, run *Run, logger *slog.Logger, err error) error {
	run.State = StateFailed
	run.Results = nil
	run.Failure = err.Error()

	span.RecordError(err)
	span.SetStatus(codes.Error, "benchmark failed")

	if errors.Is(err, ErrInvalidConfig) {
		logger.Error("benchmark misconfigured", "error", err)
	} else {
		logger.Warn("benchmark failed", "error", err)
	}
	if r.progress != nil {
		r.progress.Finish(run)
	}
	return err
}

// RunAll executes every benchmark in registry, in List order.
//
// Description:
//
//	A failing benchmark does not stop its siblings. When ctx is cancelled
//	the remaining benchmarks are reported as failures without running.
//
// Outputs:
//   - []*Run: Completed runs, in execution order.
//   - []Failure: One entry per benchmark that did not complete.
func (r *Runner) RunAll(ctx context.Context, registry *Registry) ([]*Run, []Failure) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.Runner.RunAll",
		trace.WithAttributes(attribute.Int("bench.count", registry.Count())),
	)
	defer span.End()

	var (
		runs     []*Run
		failures []Failure
	)
	for _, bm := range registry.Benchmarks() {
		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{ID: bm.ID(), Err: fmt.Errorf("not started: %w", err)})
			continue
		}
		run, err := r.Run(ctx, bm)
		if err != nil {
			failures = append(failures, Failure{ID: bm.ID(), Err: err})
			continue
		}
		runs = append(runs, run)
	}

	span.SetAttributes(
		attribute.Int("bench.completed", len(runs)),
		attribute.Int("bench.failed", len(failures)),
	)
	if len(failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d benchmarks failed", len(failures)))
	}
	return runs, failures
}
