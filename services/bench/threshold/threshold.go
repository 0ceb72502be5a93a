// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package threshold defines per-percentile tolerances and their presets.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidThreshold indicates a malformed tolerance.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrUnknownPreset indicates an unrecognised preset name.
	ErrUnknownPreset = errors.New("unknown threshold preset")
)

// -----------------------------------------------------------------------------
// Set
// -----------------------------------------------------------------------------

// Set holds the tolerances for the seven tracked percentiles.
//
// Description:
//
//	Relative values are percentages. Absolute values are in base units:
//	nanoseconds for duration metrics, raw counts for countable metrics.
//	A percentile missing from both maps is never checked.
type Set struct {
	Relative map[metric.Percentile]float64 `json:"relative,omitempty" yaml:"relative,omitempty"`
	Absolute map[metric.Percentile]int64   `json:"absolute,omitempty" yaml:"absolute,omitempty"`
}

// IsEmpty reports whether no percentile is checked.
func (s Set) IsEmpty() bool {
	return len(s.Relative) == 0 && len(s.Absolute) == 0
}

// RelativeFor returns the relative tolerance at p.
func (s Set) RelativeFor(p metric.Percentile) (float64, bool) {
	v, ok := s.Relative[p]
	return v, ok
}

// AbsoluteFor returns the absolute tolerance at p in base units.
func (s Set) AbsoluteFor(p metric.Percentile) (int64, bool) {
	v, ok := s.Absolute[p]
	return v, ok
}

// AbsoluteIn returns the absolute tolerance at p converted into the unit a
// Result of metric m is expressed in.
func (s Set) AbsoluteIn(p metric.Percentile, m metric.Metric, unit metric.TimeUnit, scaling metric.ScalingFactor) (float64, bool) {
	v, ok := s.Absolute[p]
	if !ok {
		return 0, false
	}
	if m.Countable() {
		return float64(v) / scaling.Divisor(), true
	}
	return float64(v) / unit.Nanos(), true
}

// Percentiles returns every percentile with at least one tolerance, sorted.
func (s Set) Percentiles() []metric.Percentile {
	seen := make(map[metric.Percentile]bool, metric.PercentileCount)
	for p := range s.Relative {
		seen[p] = true
	}
	for p := range s.Absolute {
		seen[p] = true
	}
	out := make([]metric.Percentile, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that every key is a tracked percentile and every
// tolerance is non-negative and finite.
func (s Set) Validate() error {
	for p, v := range s.Relative {
		if !p.Valid() {
			return fmt.Errorf("relative threshold at %v: %w", p, ErrInvalidThreshold)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("relative threshold %v at %v: %w", v, p, ErrInvalidThreshold)
		}
	}
	for p, v := range s.Absolute {
		if !p.Valid() {
			return fmt.Errorf("absolute threshold at %v: %w", p, ErrInvalidThreshold)
		}
		if v < 0 {
			return fmt.Errorf("absolute threshold %d at %v: %w", v, p, ErrInvalidThreshold)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	out := Set{}
	if s.Relative != nil {
		out.Relative = make(map[metric.Percentile]float64, len(s.Relative))
		for p, v := range s.Relative {
			out.Relative[p] = v
		}
	}
	if s.Absolute != nil {
		out.Absolute = make(map[metric.Percentile]int64, len(s.Absolute))
		for p, v := range s.Absolute {
			out.Absolute[p] = v
		}
	}
	return out
}

// String renders the set compactly, e.g. "p50≤5% p90≤1000".
func (s Set) String() string {
	if s.IsEmpty() {
		return "none"
	}
	var parts []string
	for _, p := range s.Percentiles() {
		if v, ok := s.Relative[p]; ok {
			parts = append(parts, fmt.Sprintf("%v≤%g%%", p, v))
		}
		if v, ok := s.Absolute[p]; ok {
			parts = append(parts, fmt.Sprintf("%v≤%d", p, v))
		}
	}
	return strings.Join(parts, " ")
}

// -----------------------------------------------------------------------------
// Presets
// -----------------------------------------------------------------------------

// Preset names accepted by Preset.
const (
	PresetStrict  = "strict"
	PresetDefault = "default"
	PresetRelaxed = "relaxed"
	PresetNone    = "none"
)

// RelaxedAbsolute is the absolute band of the relaxed preset in base units.
const RelaxedAbsolute int64 = 1_000_000

// Strict tolerates no difference at any percentile.
func Strict() Set {
	s := Set{
		Relative: make(map[metric.Percentile]float64, metric.PercentileCount),
		Absolute: make(map[metric.Percentile]int64, metric.PercentileCount),
	}
	for _, p := range metric.Percentiles() {
		s.Relative[p] = 0
		s.Absolute[p] = 0
	}
	return s
}

// Default tolerates 5% at p25, p50 and p75.
func Default() Set {
	return Set{
		Relative: map[metric.Percentile]float64{
			metric.P25: 5,
			metric.P50: 5,
			metric.P75: 5,
		},
	}
}

// Relaxed tolerates 25% and RelaxedAbsolute base units at p25, p50 and p75.
func Relaxed() Set {
	return Set{
		Relative: map[metric.Percentile]float64{
			metric.P25: 25,
			metric.P50: 25,
			metric.P75: 25,
		},
		Absolute: map[metric.Percentile]int64{
			metric.P25: RelaxedAbsolute,
			metric.P50: RelaxedAbsolute,
			metric.P75: RelaxedAbsolute,
		},
	}
}

// None checks nothing.
func None() Set {
	return Set{}
}

// Preset returns the named preset.
func Preset(name string) (Set, error) {
	switch strings.ToLower(name) {
	case PresetStrict:
		return Strict(), nil
	case PresetDefault, "":
		return Default(), nil
	case PresetRelaxed:
		return Relaxed(), nil
	case PresetNone:
		return None(), nil
	default:
		return Set{}, fmt.Errorf("preset %q: %w", name, ErrUnknownPreset)
	}
}
