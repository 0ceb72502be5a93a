// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats records benchmark observations into a streaming HDR
// histogram and answers percentile, mean and deviation queries.
package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/HdrHistogram/hdrhistogram-go"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidPrecision indicates significant digits outside [1, 5].
	ErrInvalidPrecision = errors.New("significant digits must be between 1 and 5")

	// ErrInvalidRange indicates an unusable trackable range.
	ErrInvalidRange = errors.New("invalid trackable range")
)

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

const (
	// DefaultSignificantDigits gives roughly 0.1% bucket error.
	DefaultSignificantDigits = 3

	// DefaultHighestTrackable is the initial range (1s in nanoseconds).
	DefaultHighestTrackable int64 = 1_000_000_000

	// DefaultMaxTrackable caps auto-resize growth (1h in nanoseconds).
	DefaultMaxTrackable int64 = 3_600_000_000_000
)

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Option configures Statistics.
type Option func(*Statistics)

// WithSignificantDigits sets the histogram precision (1 to 5).
func WithSignificantDigits(n int) Option {
	return func(s *Statistics) {
		s.digits = n
	}
}

// WithHighestTrackable sets the initial highest trackable value.
func WithHighestTrackable(v int64) Option {
	return func(s *Statistics) {
		s.highest = v
	}
}

// WithMaxTrackable caps how far auto-resize may grow the range.
func WithMaxTrackable(v int64) Option {
	return func(s *Statistics) {
		s.maxTrackable = v
	}
}

// WithAutoResize enables or disables range growth on overflow. When
// disabled, values above the range are clamped to it.
func WithAutoResize(enabled bool) Option {
	return func(s *Statistics) {
		s.autoResize = enabled
	}
}

// WithPolarity sets the polarity used by PercentileFor and Percentiles.
func WithPolarity(p metric.Polarity) Option {
	return func(s *Statistics) {
		s.polarity = p
	}
}

// -----------------------------------------------------------------------------
// Statistics
// -----------------------------------------------------------------------------

// Statistics is a streaming recorder over non-negative integer values.
//
// Description:
//
//	Values go into an HdrHistogram with bounded relative error. The range
//	grows on demand up to a cap, preserving counts already recorded. Exact
//	minimum and maximum are kept next to the histogram so p0 and p100 are
//	exact. Mean and standard deviation are computed with Welford's method
//	over the exact values, not from bucket midpoints.
//
// Thread Safety: Not safe for concurrent use. A Statistics is owned by one
// benchmark run.
type Statistics struct {
	hist         *hdrhistogram.Histogram
	digits       int
	highest      int64
	maxTrackable int64
	autoResize   bool
	polarity     metric.Polarity

	count   int64
	min     int64
	max     int64
	mean    float64
	m2      float64
	clamped int64

	cacheCount int64
	cacheValid bool
	cache      [metric.PercentileCount]int64
}

// New creates a Statistics.
//
// Inputs:
//   - opts: Optional configuration.
//
// Outputs:
//   - *Statistics: The recorder. Never nil on success.
//   - error: ErrInvalidPrecision or ErrInvalidRange.
//
// Example:
//
//	s, err := stats.New(stats.WithPolarity(metric.Throughput.Polarity()))
func New(opts ...Option) (*Statistics, error) {
	s := &Statistics{
		digits:       DefaultSignificantDigits,
		highest:      DefaultHighestTrackable,
		maxTrackable: DefaultMaxTrackable,
		autoResize:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.digits < 1 || s.digits > 5 {
		return nil, fmt.Errorf("creating statistics with %d digits: %w", s.digits, ErrInvalidPrecision)
	}
	if s.highest < 2 {
		return nil, fmt.Errorf("highest trackable %d: %w", s.highest, ErrInvalidRange)
	}
	if s.maxTrackable < s.highest {
		return nil, fmt.Errorf("max trackable %d below highest %d: %w", s.maxTrackable, s.highest, ErrInvalidRange)
	}

	s.hist = hdrhistogram.New(1, s.highest, s.digits)
	return s, nil
}

// MustNew is New that panics on error.
func MustNew(opts ...Option) *Statistics {
	s, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Record adds one observation. Negative values are ignored.
func (s *Statistics) Record(v int64) {
	if v < 0 {
		return
	}
	if v > s.highest {
		v = s.fit(v)
	}
	if err := s.hist.RecordValue(v); err != nil {
		s.clamped++
		return
	}

	s.count++
	if s.count == 1 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	delta := float64(v) - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (float64(v) - s.mean)
}

// fit grows the range to hold v, or returns the clamped value when growth
// is disabled or capped.
func (s *Statistics) fit(v int64) int64 {
	if !s.autoResize {
		s.clamped++
		return s.highest
	}

	next := s.highest
	for next < v && next < s.maxTrackable {
		if next > math.MaxInt64/2 {
			next = s.maxTrackable
			break
		}
		next *= 2
	}
	if next > s.maxTrackable {
		next = s.maxTrackable
	}
	if next != s.highest {
		grown := hdrhistogram.New(1, next, s.digits)
		grown.Merge(s.hist)
		s.hist = grown
		s.highest = next
	}
	if v > s.highest {
		s.clamped++
		return s.highest
	}
	return v
}

// Count returns the number of recorded observations.
func (s *Statistics) Count() int64 {
	return s.count
}

// Min returns the exact smallest recorded value, or 0 when empty.
func (s *Statistics) Min() int64 {
	return s.min
}

// Max returns the exact largest recorded value, or 0 when empty.
func (s *Statistics) Max() int64 {
	return s.max
}

// Mean returns the arithmetic mean, or 0 when empty.
func (s *Statistics) Mean() float64 {
	return s.mean
}

// StdDev returns the population standard deviation, or 0 with fewer than
// two observations.
func (s *Statistics) StdDev() float64 {
	if s.count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.count))
}

// Clamped returns how many values were clamped to the range cap.
func (s *Statistics) Clamped() int64 {
	return s.clamped
}

// HighestTrackable returns the current top of the range.
func (s *Statistics) HighestTrackable() int64 {
	return s.highest
}

// Polarity returns the polarity used for inverted queries.
func (s *Statistics) Polarity() metric.Polarity {
	return s.polarity
}

// Percentile returns the smallest value such that at least p percent of the
// observations are at or below it. p is clamped to [0, 100]; an empty
// recorder returns 0.
func (s *Statistics) Percentile(p float64) int64 {
	if s.count == 0 {
		return 0
	}
	if p <= 0 {
		return s.min
	}
	if p >= 100 {
		return s.max
	}
	v := s.hist.ValueAtQuantile(p)
	if v < s.min {
		return s.min
	}
	if v > s.max {
		return s.max
	}
	return v
}

// PercentileFor returns Percentile(p), or Percentile(100-p) when larger
// values are better, so that higher cut points always point at worse
// values.
func (s *Statistics) PercentileFor(p float64) int64 {
	if s.polarity == metric.PrefersLarger {
		return s.Percentile(100 - p)
	}
	return s.Percentile(p)
}

// Percentiles returns the seven standard cut points, polarity-adjusted.
// Results are cached until the observation count changes.
func (s *Statistics) Percentiles() map[metric.Percentile]int64 {
	if !s.cacheValid || s.cacheCount != s.count {
		for _, p := range metric.Percentiles() {
			s.cache[p] = s.PercentileFor(p.Value())
		}
		s.cacheCount = s.count
		s.cacheValid = true
	}

	out := make(map[metric.Percentile]int64, metric.PercentileCount)
	for _, p := range metric.Percentiles() {
		out[p] = s.cache[p]
	}
	return out
}

// Reset clears all observations and the percentile cache. The histogram
// storage, including any range growth, is kept.
func (s *Statistics) Reset() {
	s.hist.Reset()
	s.count = 0
	s.min = 0
	s.max = 0
	s.mean = 0
	s.m2 = 0
	s.clamped = 0
	s.cacheValid = false
}
