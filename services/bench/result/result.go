// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package result holds the immutable per-metric summary of a benchmark run.
package result

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
)

// ErrInvalidID indicates a malformed benchmark identifier.
var ErrInvalidID = errors.New("invalid benchmark id")

// -----------------------------------------------------------------------------
// Benchmark ID
// -----------------------------------------------------------------------------

// ID identifies a benchmark by the target it belongs to and its name.
type ID struct {
	Target string
	Name   string
}

// String returns "target:name".
func (id ID) String() string {
	return id.Target + ":" + id.Name
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if id.Name == "" {
		return nil, fmt.Errorf("marshalling %q: %w", id.String(), ErrInvalidID)
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses "target:name". The target ends at the first colon; a
// string without a colon is a name with an empty target.
func ParseID(s string) (ID, error) {
	target, name, found := strings.Cut(s, ":")
	if !found {
		target, name = "", s
	}
	if name == "" {
		return ID{}, fmt.Errorf("parsing %q: %w", s, ErrInvalidID)
	}
	return ID{Target: target, Name: name}, nil
}

// SortIDs orders IDs by target then name.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Target != ids[j].Target {
			return ids[i].Target < ids[j].Target
		}
		return ids[i].Name < ids[j].Name
	})
}

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// Result is the distribution of one metric for one benchmark run.
//
// Description:
//
//	Percentile values are expressed in Unit for duration metrics and divided
//	by Scaling for countable metrics. Base values (nanoseconds or raw
//	counts) are recovered with Base. A Result is a value type; methods
//	return copies.
type Result struct {
	Metric      metric.Metric                 `json:"metric"`
	Unit        metric.TimeUnit               `json:"unit"`
	Scaling     metric.ScalingFactor          `json:"scaling"`
	Iterations  int                           `json:"iterations"`
	Warmup      int                           `json:"warmup"`
	Count       int64                         `json:"count"`
	Percentiles map[metric.Percentile]float64 `json:"percentiles"`
	Mean        float64                       `json:"mean"`
	StdDev      float64                       `json:"std_dev"`
	Thresholds  *threshold.Set                `json:"thresholds,omitempty"`
	SampledPeak int64                         `json:"sampled_peak,omitempty"`
}

// FromStatistics builds a Result from a recorder holding base values.
//
// Inputs:
//   - m: The metric the recorder belongs to.
//   - s: The recorder. Must not be nil.
//   - unit: Display unit for duration metrics. Automatic resolves from p50.
//   - scaling: Display divisor for countable metrics.
//   - iterations: Measured iterations, including those excluded from s.
//   - warmup: Warmup iterations run before measuring.
//
// Outputs:
//   - Result: The summary, with unit resolved. An empty recorder yields no
//     percentiles.
func FromStatistics(m metric.Metric, s *stats.Statistics, unit metric.TimeUnit, scaling metric.ScalingFactor, iterations, warmup int) Result {
	base := s.Percentiles()

	if m.Countable() {
		unit = metric.Nanoseconds
	} else {
		unit = unit.Resolve(float64(base[metric.P50]))
	}
	if scaling <= 0 {
		scaling = metric.One
	}

	r := Result{
		Metric:      m,
		Unit:        unit,
		Scaling:     scaling,
		Iterations:  iterations,
		Warmup:      warmup,
		Count:       s.Count(),
		Percentiles: make(map[metric.Percentile]float64, len(base)),
	}
	if r.Count == 0 {
		return r
	}
	div := r.divisor()
	for p, v := range base {
		r.Percentiles[p] = float64(v) / div
	}
	r.Mean = s.Mean() / div
	r.StdDev = s.StdDev() / div
	return r
}

// divisor converts base values into this Result's unit.
func (r Result) divisor() float64 {
	if r.Metric.Countable() {
		return r.Scaling.Divisor()
	}
	return r.Unit.Nanos()
}

// Value returns the percentile value and whether it is present.
func (r Result) Value(p metric.Percentile) (float64, bool) {
	v, ok := r.Percentiles[p]
	return v, ok
}

// Base returns the percentile in base units.
func (r Result) Base(p metric.Percentile) (float64, bool) {
	v, ok := r.Percentiles[p]
	if !ok {
		return 0, false
	}
	return v * r.divisor(), true
}

// Rescaled returns a copy expressed in unit (duration metrics) or scaling
// (countable metrics). Automatic keeps the current unit.
func (r Result) Rescaled(unit metric.TimeUnit, scaling metric.ScalingFactor) Result {
	out := r.Clone()
	if r.Metric.Countable() {
		if scaling <= 0 {
			scaling = metric.One
		}
		out.Scaling = scaling
	} else if unit != metric.Automatic {
		out.Unit = unit
	}

	factor := r.divisor() / out.divisor()
	if factor == 1 {
		return out
	}
	for p, v := range out.Percentiles {
		out.Percentiles[p] = v * factor
	}
	out.Mean *= factor
	out.StdDev *= factor
	return out
}

// RescaledTo returns a copy in other's unit and scaling.
func (r Result) RescaledTo(other Result) Result {
	return r.Rescaled(other.Unit, other.Scaling)
}

// UnitLabel returns the label of the values, e.g. "ms" or "K".
func (r Result) UnitLabel() string {
	if r.Metric.Countable() {
		return r.Scaling.String()
	}
	return r.Unit.String()
}

// Clone returns a copy sharing no maps or thresholds with r.
func (r Result) Clone() Result {
	out := r
	out.Percentiles = make(map[metric.Percentile]float64, len(r.Percentiles))
	for p, v := range r.Percentiles {
		out.Percentiles[p] = v
	}
	if r.Thresholds != nil {
		t := r.Thresholds.Clone()
		out.Thresholds = &t
	}
	return out
}

// Sort orders results by metric description.
func Sort(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Metric.Description() < rs[j].Metric.Description()
	})
}

// Find returns the result for m.
func Find(rs []Result, m metric.Metric) (Result, bool) {
	for _, r := range rs {
		if r.Metric == m {
			return r, true
		}
	}
	return Result{}, false
}
