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
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig indicates a configuration that cannot be run.
	ErrInvalidConfig = errors.New("invalid benchmark configuration")

	// ErrBenchmarkFailed indicates the benchmark aborted and produced no
	// results.
	ErrBenchmarkFailed = errors.New("benchmark failed")

	// ErrNotFound indicates no benchmark is registered under the name.
	ErrNotFound = errors.New("benchmark not found")

	// ErrDuplicate indicates a benchmark with the same target and name is
	// already registered.
	ErrDuplicate = errors.New("benchmark already registered")

	// ErrNilBenchmark indicates a nil benchmark was passed.
	ErrNilBenchmark = errors.New("benchmark must not be nil")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// DefaultWarmupIterations is the warmup count unless SkipWarmup is set.
	DefaultWarmupIterations = 3

	// DefaultMaxIterations caps the measured iterations.
	DefaultMaxIterations = 10_000

	// DefaultMaxDuration caps the measuring phase.
	DefaultMaxDuration = time.Second
)

// Configuration controls how one benchmark is measured.
//
// Description:
//
//	The loop keeps iterating until both minimums are reached, and stops
//	as soon as either maximum is reached. A zero minimum means "equal to
//	the matching maximum". Configuration is always passed explicitly; there
//	is no process-wide default instance.
type Configuration struct {
	// Metrics lists what to measure. Unsupported metrics are dropped when
	// the run starts.
	Metrics []metric.Metric `json:"metrics" yaml:"metrics"`

	// TimeUnit is the display unit of duration metrics.
	TimeUnit metric.TimeUnit `json:"time_unit" yaml:"time_unit"`

	// ScalingFactor divides countable metrics and is reported to the
	// closure through B.ScaledIterations.
	ScalingFactor metric.ScalingFactor `json:"scaling_factor" yaml:"scaling_factor"`

	// WarmupIterations run before measuring. Ignored when SkipWarmup is set.
	WarmupIterations int `json:"warmup_iterations" yaml:"warmup_iterations"`

	// SkipWarmup disables warmup.
	SkipWarmup bool `json:"skip_warmup" yaml:"skip_warmup"`

	MinIterations int           `json:"min_iterations" yaml:"min_iterations"`
	MaxIterations int           `json:"max_iterations" yaml:"max_iterations"`
	MinDuration   time.Duration `json:"min_duration" yaml:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration" yaml:"max_duration"`

	// Thresholds are attached to the emitted results per metric.
	Thresholds map[metric.Metric]threshold.Set `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Tags are free-form labels copied onto the run.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// DefaultConfiguration returns the configuration used when a benchmark
// does not carry its own.
//
// Outputs:
//   - Configuration: Default metrics, automatic time unit, 3 warmup
//     iterations, at most 10 000 iterations or 1s.
func DefaultConfiguration() Configuration {
	return Configuration{
		Metrics:          slices.Clone(metric.Default),
		TimeUnit:         metric.Automatic,
		ScalingFactor:    metric.One,
		WarmupIterations: DefaultWarmupIterations,
		MaxIterations:    DefaultMaxIterations,
		MaxDuration:      DefaultMaxDuration,
	}
}

// Validate checks the configuration before any iteration runs.
//
// Outputs:
//   - error: Nil if valid, otherwise wraps ErrInvalidConfig.
func (c Configuration) Validate() error {
	if len(c.Metrics) == 0 {
		return fmt.Errorf("no metrics: %w", ErrInvalidConfig)
	}
	for _, m := range c.Metrics {
		if !m.Valid() {
			return fmt.Errorf("metric %v: %w", m, ErrInvalidConfig)
		}
	}
	if c.WarmupIterations < 0 {
		return fmt.Errorf("warmup iterations %d: %w", c.WarmupIterations, ErrInvalidConfig)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max iterations %d: %w", c.MaxIterations, ErrInvalidConfig)
	}
	if c.MinIterations < 0 || c.MinIterations > c.MaxIterations {
		return fmt.Errorf("min iterations %d outside [0, %d]: %w", c.MinIterations, c.MaxIterations, ErrInvalidConfig)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("max duration %v: %w", c.MaxDuration, ErrInvalidConfig)
	}
	if c.MinDuration < 0 || c.MinDuration > c.MaxDuration {
		return fmt.Errorf("min duration %v outside [0, %v]: %w", c.MinDuration, c.MaxDuration, ErrInvalidConfig)
	}
	if c.ScalingFactor < 0 {
		return fmt.Errorf("scaling factor %d: %w", c.ScalingFactor, ErrInvalidConfig)
	}
	for m, set := range c.Thresholds {
		if !m.Valid() {
			return fmt.Errorf("threshold metric %v: %w", m, ErrInvalidConfig)
		}
		if err := set.Validate(); err != nil {
			return fmt.Errorf("thresholds for %v: %w: %w", m, ErrInvalidConfig, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	out := c
	out.Metrics = slices.Clone(c.Metrics)
	if c.Thresholds != nil {
		out.Thresholds = make(map[metric.Metric]threshold.Set, len(c.Thresholds))
		for m, set := range c.Thresholds {
			out.Thresholds[m] = set.Clone()
		}
	}
	out.Tags = maps.Clone(c.Tags)
	return out
}

// minIterations resolves the zero default.
func (c Configuration) minIterations() int {
	if c.MinIterations == 0 {
		return c.MaxIterations
	}
	return c.MinIterations
}

// minDuration resolves the zero default.
func (c Configuration) minDuration() time.Duration {
	if c.MinDuration == 0 {
		return c.MaxDuration
	}
	return c.MinDuration
}

// warmup returns the effective warmup count.
func (c Configuration) warmup() int {
	if c.SkipWarmup {
		return 0
	}
	return c.WarmupIterations
}

// done reports whether the loop must stop after iterations and elapsed.
func (c Configuration) done(iterations int, elapsed time.Duration) bool {
	if iterations >= c.MaxIterations || elapsed >= c.MaxDuration {
		return true
	}
	return iterations >= c.minIterations() && elapsed >= c.minDuration()
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Option modifies a Configuration. Options are applied in order, so later
// options override earlier ones.
type Option func(*Configuration)

// Apply returns a copy of c with opts applied.
func (c Configuration) Apply(opts ...Option) Configuration {
	out := c.Clone()
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// WithMetrics replaces the metric list.
//
// Example:
//
//	cfg := runner.DefaultConfiguration().Apply(runner.WithMetrics(metric.CPU...))
func WithMetrics(ms ...metric.Metric) Option {
	return func(c *Configuration) {
		c.Metrics = slices.Clone(ms)
	}
}

// WithTimeUnit sets the display unit of duration metrics.
func WithTimeUnit(u metric.TimeUnit) Option {
	return func(c *Configuration) {
		c.TimeUnit = u
	}
}

// WithScalingFactor sets the scaling factor.
func WithScalingFactor(s metric.ScalingFactor) Option {
	return func(c *Configuration) {
		c.ScalingFactor = s
	}
}

// WithWarmup sets the warmup count. Negative values are ignored; zero
// keeps warmup enabled but runs no iterations.
func WithWarmup(n int) Option {
	return func(c *Configuration) {
		if n >= 0 {
			c.WarmupIterations = n
		}
	}
}

// WithoutWarmup disables warmup.
func WithoutWarmup() Option {
	return func(c *Configuration) {
		c.SkipWarmup = true
	}
}

// WithIterations sets the iteration bounds. A zero min means min = max.
func WithIterations(minN, maxN int) Option {
	return func(c *Configuration) {
		c.MinIterations = minN
		c.MaxIterations = maxN
	}
}

// WithDuration sets the duration bounds. A zero min means min = max.
func WithDuration(minD, maxD time.Duration) Option {
	return func(c *Configuration) {
		c.MinDuration = minD
		c.MaxDuration = maxD
	}
}

// WithThresholds sets the thresholds for m.
func WithThresholds(m metric.Metric, set threshold.Set) Option {
	return func(c *Configuration) {
		if c.Thresholds == nil {
			c.Thresholds = make(map[metric.Metric]threshold.Set)
		}
		c.Thresholds[m] = set.Clone()
	}
}

// WithThresholdsForAll sets the same thresholds on every configured metric.
func WithThresholdsForAll(set threshold.Set) Option {
	return func(c *Configuration) {
		c.Thresholds = make(map[metric.Metric]threshold.Set, len(c.Metrics))
		for _, m := range c.Metrics {
			c.Thresholds[m] = set.Clone()
		}
	}
}

// WithTag adds a label.
func WithTag(key, value string) Option {
	return func(c *Configuration) {
		if c.Tags == nil {
			c.Tags = make(map[string]string)
		}
		c.Tags[key] = value
	}
}
