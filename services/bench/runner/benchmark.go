// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/probe"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
)

// -----------------------------------------------------------------------------
// Benchmark
// -----------------------------------------------------------------------------

// Benchmark is one named measurement.
//
// Description:
//
//	Exactly one of Run or RunAsync must be set. Run is called once per
//	iteration and measured from before the call to after it returns.
//	RunAsync returns a channel that is received from before the iteration
//	ends; the clock keeps running while the closure waits on it. Setup and
//	Teardown run once, outside the measured window.
type Benchmark struct {
	// Name identifies the benchmark within its target.
	Name string

	// Target groups benchmarks, typically by package or executable.
	Target string

	// Config overrides the runner's default configuration when non-nil.
	Config *Configuration

	Setup    func(ctx context.Context) error
	Teardown func(ctx context.Context) error

	Run      func(b *B)
	RunAsync func(b *B) <-chan error
}

// ID returns the (target, name) key of the benchmark.
func (bm *Benchmark) ID() result.ID {
	return result.ID{Target: bm.Target, Name: bm.Name}
}

// validate checks the shape of the benchmark.
func (bm *Benchmark) validate() error {
	if bm.Name == "" {
		return fmt.Errorf("benchmark without name: %w", ErrInvalidConfig)
	}
	if (bm.Run == nil) == (bm.RunAsync == nil) {
		return fmt.Errorf("benchmark %s: exactly one of Run and RunAsync must be set: %w", bm.ID(), ErrInvalidConfig)
	}
	return nil
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is the lifecycle phase of a run.
type State int

const (
	StateIdle State = iota
	StateWarmup
	StateMeasuring
	StateCompleted
	StateFailed
)

// String returns the string representation.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmup:
		return "warmup"
	case StateMeasuring:
		return "measuring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

// Run is the outcome of one benchmark execution.
type Run struct {
	ID    result.ID
	State State

	// Results holds one entry per measured metric, sorted by description.
	// Empty when the run failed.
	Results []result.Result

	Iterations int
	Warmup     int
	Elapsed    time.Duration
	StartedAt  time.Time

	// Peaks are the levels seen by the background sampler.
	Peaks probe.Peaks

	// Failure is the human-readable reason for a failed run.
	Failure string

	Tags map[string]string
}

// Failed reports whether the run produced no results because it aborted.
func (r *Run) Failed() bool {
	return r.State == StateFailed
}

// Failure pairs a failed benchmark with its error.
type Failure struct {
	ID  result.ID
	Err error
}

// Error implements error.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.ID, f.Err)
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error {
	return f.Err
}

// -----------------------------------------------------------------------------
// B
// -----------------------------------------------------------------------------

// B is the handle passed to a benchmark closure.
//
// Description:
//
//	StartMeasurement and StopMeasurement narrow the measured window to
//	part of the closure; when neither is called the whole call is
//	measured. Error and Failf abort the benchmark after the current
//	iteration and discard every statistic gathered so far.
//
// Thread Safety: Error, Failf, Record, Retain and Release are safe for
// concurrent use. StartMeasurement and StopMeasurement must be called from
// the closure's goroutine.
type B struct {
	ctx    context.Context
	id     result.ID
	scaled int
	refs   *probe.RefCounter

	// m is nil during warmup.
	m *measurement

	mu      sync.Mutex
	failure error
}

// Name returns the benchmark name.
func (b *B) Name() string {
	return b.id.Name
}

// Context returns the run context.
func (b *B) Context() context.Context {
	return b.ctx
}

// ScaledIterations returns how many inner operations one call should
// perform, per the configured scaling factor.
func (b *B) ScaledIterations() int {
	return b.scaled
}

// StartMeasurement restarts the measured window at this point.
func (b *B) StartMeasurement() {
	if b.m != nil {
		b.m.start()
	}
}

// StopMeasurement ends the measured window at this point.
func (b *B) StopMeasurement() {
	if b.m != nil {
		b.m.stop()
	}
}

// Error marks the benchmark failed. Nil errors are ignored; only the first
// failure is kept.
func (b *B) Error(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failure == nil {
		b.failure = err
	}
}

// Failf marks the benchmark failed with a formatted reason.
func (b *B) Failf(format string, args ...any) {
	b.Error(fmt.Errorf(format, args...))
}

// Failed reports whether the benchmark has been marked failed.
func (b *B) Failed() bool {
	return b.err() != nil
}

func (b *B) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

// Record adds one observation of a custom metric. Ignored during warmup.
// Built-in metrics are measured by the runner and ignored here.
func (b *B) Record(m metric.Metric, value int64) {
	if b.m == nil || !m.IsCustom() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m.recordCustom(m, value)
}

// Retain counts one retain of a reference-counted resource.
func (b *B) Retain() {
	b.refs.Retain()
}

// Release counts one release of a reference-counted resource.
func (b *B) Release() {
	b.refs.Release()
}
