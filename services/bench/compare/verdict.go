// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compare decides whether candidate results regressed against a
// baseline.
//
// Each percentile with a configured tolerance is checked twice: once
// against the relative tolerance (percent of the baseline value) and once
// against the absolute tolerance (converted into the result's unit). The
// direction that counts as worse follows the metric's polarity. A single
// violated percentile fails the comparison; better-than-tolerance values
// are reported as improvements and never fail it.
package compare

import (
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
)

// -----------------------------------------------------------------------------
// Deviation
// -----------------------------------------------------------------------------

// Deviation is one percentile that moved past a tolerance.
//
// Description:
//
//	Difference is measured in the worse direction for regressions and in
//	the better direction for improvements, so it is always positive and
//	greater than DifferenceThreshold. Relative tells whether both are
//	percentages or values in Unit.
type Deviation struct {
	Metric              metric.Metric     `json:"metric"`
	Name                string            `json:"name"`
	Target              string            `json:"target"`
	Percentile          metric.Percentile `json:"percentile"`
	Difference          float64           `json:"difference"`
	DifferenceThreshold float64           `json:"difference_threshold"`
	Relative            bool              `json:"relative"`
	Baseline            float64           `json:"baseline"`
	Candidate           float64           `json:"candidate"`
	Unit                string            `json:"unit"`
}

// ID returns the benchmark the deviation belongs to.
func (d Deviation) ID() result.ID {
	return result.ID{Target: d.Target, Name: d.Name}
}

// String renders e.g. "core:sort Time (wall clock) p50 +33.3% > 5%".
func (d Deviation) String() string {
	if d.Relative {
		return fmt.Sprintf("%s %s %s %s%% > %g%%", d.ID(), d.Metric.Description(), d.Percentile,
			formatDiff(d.Difference), d.DifferenceThreshold)
	}
	return fmt.Sprintf("%s %s %s %s %s > %g %s", d.ID(), d.Metric.Description(), d.Percentile,
		formatDiff(d.Difference), d.Unit, d.DifferenceThreshold, d.Unit)
}

func formatDiff(v float64) string {
	if math.IsInf(v, 0) {
		return "+∞"
	}
	return fmt.Sprintf("%+.4g", v)
}

// -----------------------------------------------------------------------------
// Skip
// -----------------------------------------------------------------------------

// SkipScope tells what a skip covers.
type SkipScope int

const (
	// SkipBenchmark means a whole benchmark exists on one side only.
	SkipBenchmark SkipScope = iota

	// SkipMetric means a metric exists on one side only.
	SkipMetric

	// SkipPercentile means a checked percentile is missing on one side.
	SkipPercentile
)

// String implements fmt.Stringer.
func (s SkipScope) String() string {
	switch s {
	case SkipBenchmark:
		return "benchmark"
	case SkipMetric:
		return "metric"
	case SkipPercentile:
		return "percentile"
	default:
		return "unknown"
	}
}

// Skip records something that could not be compared.
type Skip struct {
	Scope      SkipScope         `json:"scope"`
	Target     string            `json:"target"`
	Name       string            `json:"name"`
	Metric     metric.Metric     `json:"metric,omitzero"`
	Percentile metric.Percentile `json:"percentile,omitempty"`
	Reason     string            `json:"reason"`
}

// ID returns the benchmark the skip belongs to.
func (s Skip) ID() result.ID {
	return result.ID{Target: s.Target, Name: s.Name}
}

// String implements fmt.Stringer.
func (s Skip) String() string {
	switch s.Scope {
	case SkipMetric:
		return fmt.Sprintf("%s %s: %s", s.ID(), s.Metric.Description(), s.Reason)
	case SkipPercentile:
		return fmt.Sprintf("%s %s %s: %s", s.ID(), s.Metric.Description(), s.Percentile, s.Reason)
	default:
		return fmt.Sprintf("%s: %s", s.ID(), s.Reason)
	}
}

// Reasons used in skips.
const (
	ReasonMissingInBaseline  = "missing in baseline"
	ReasonMissingInCandidate = "missing in candidate"
	ReasonNoStoredThreshold  = "no stored p90 threshold"
	ReasonMetricMismatch     = "metric mismatch"
)

// -----------------------------------------------------------------------------
// Verdict
// -----------------------------------------------------------------------------

// Verdict is the outcome of comparing one or more result pairs.
type Verdict struct {
	Passed       bool        `json:"passed"`
	Regressions  []Deviation `json:"regressions,omitempty"`
	Improvements []Deviation `json:"improvements,omitempty"`
	Skips        []Skip      `json:"skips,omitempty"`
}

// Pass returns an empty passing verdict.
func Pass() Verdict {
	return Verdict{Passed: true}
}

// Merge combines two verdicts. The result passes only if both pass.
func (v Verdict) Merge(other Verdict) Verdict {
	return Verdict{
		Passed:       v.Passed && other.Passed,
		Regressions:  append(append([]Deviation(nil), v.Regressions...), other.Regressions...),
		Improvements: append(append([]Deviation(nil), v.Improvements...), other.Improvements...),
		Skips:        append(append([]Skip(nil), v.Skips...), other.Skips...),
	}
}

// Sort orders deviations and skips by benchmark, metric description,
// percentile, and relative before absolute.
func (v *Verdict) Sort() {
	sortDeviations(v.Regressions)
	sortDeviations(v.Improvements)
	sort.SliceStable(v.Skips, func(i, j int) bool {
		a, b := v.Skips[i], v.Skips[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if da, db := a.Metric.Description(), b.Metric.Description(); da != db {
			return da < db
		}
		return a.Percentile < b.Percentile
	})
}

func sortDeviations(ds []Deviation) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if da, db := a.Metric.Description(), b.Metric.Description(); da != db {
			return da < db
		}
		if a.Percentile != b.Percentile {
			return a.Percentile < b.Percentile
		}
		return a.Relative && !b.Relative
	})
}

// -----------------------------------------------------------------------------
// Comparison
// -----------------------------------------------------------------------------

// CompareResults checks candidate against baseline at every percentile set
// has a tolerance for.
//
// Description:
//
//	The candidate is rescaled into the baseline's unit first. For each
//	checked percentile the worse-direction differences are
//
//	  prefers smaller:  100·(c/b − 1)  and  c − b
//	  prefers larger:   100·(1 − c/b)  and  b − c
//
//	A relative tolerance is violated when the relative difference exceeds
//	it, an absolute one when the absolute difference exceeds it. When the
//	negated difference exceeds a tolerance the percentile is reported as
//	an improvement instead. A percentile missing on either side becomes a
//	skip.
//
// Inputs:
//   - id: The benchmark both results belong to.
//   - candidate: The new result.
//   - baseline: The reference result. Its unit is authoritative.
//   - set: Tolerances. Percentiles without one are not checked.
//
// Outputs:
//   - Verdict: Passed unless at least one regression was found.
//
// Thread Safety: Pure function.
func CompareResults(id result.ID, candidate, baseline result.Result, set threshold.Set) Verdict {
	v := Pass()
	if candidate.Metric != baseline.Metric {
		v.Skips = append(v.Skips, Skip{
			Scope:  SkipMetric,
			Target: id.Target,
			Name:   id.Name,
			Metric: baseline.Metric,
			Reason: fmt.Sprintf("%s: candidate is %s", ReasonMetricMismatch, candidate.Metric),
		})
		return v
	}

	m := baseline.Metric
	c := candidate.RescaledTo(baseline)
	unit := baseline.UnitLabel()

	for _, p := range set.Percentiles() {
		bv, bok := baseline.Value(p)
		cv, cok := c.Value(p)
		if !bok || !cok {
			reason := ReasonMissingInCandidate
			if !bok {
				reason = ReasonMissingInBaseline
			}
			v.Skips = append(v.Skips, Skip{
				Scope:      SkipPercentile,
				Target:     id.Target,
				Name:       id.Name,
				Metric:     m,
				Percentile: p,
				Reason:     reason,
			})
			continue
		}

		rel, abs := WorseDifference(m.Polarity(), cv, bv)
		dev := Deviation{
			Metric:     m,
			Name:       id.Name,
			Target:     id.Target,
			Percentile: p,
			Baseline:   bv,
			Candidate:  cv,
			Unit:       unit,
		}

		if limit, ok := set.RelativeFor(p); ok {
			v.classify(dev, rel, limit, true)
		}
		if limit, ok := set.AbsoluteIn(p, m, baseline.Unit, baseline.Scaling); ok {
			v.classify(dev, abs, limit, false)
		}
	}
	return v
}

// classify records dev as a regression when worse exceeds limit, or as an
// improvement when the better-direction difference does.
func (v *Verdict) classify(dev Deviation, worse, limit float64, relative bool) {
	dev.Relative = relative
	dev.DifferenceThreshold = limit
	switch {
	case worse > limit:
		dev.Difference = worse
		v.Regressions = append(v.Regressions, dev)
		v.Passed = false
	case -worse > limit:
		dev.Difference = -worse
		v.Improvements = append(v.Improvements, dev)
	}
}

// WorseDifference returns the relative (percent) and absolute differences
// of candidate against baseline, signed so that positive means worse for
// the polarity.
//
// A zero baseline yields 0 when the candidate is also zero and an infinite
// relative difference otherwise.
func WorseDifference(pol metric.Polarity, candidate, baseline float64) (relative, absolute float64) {
	absolute = candidate - baseline
	switch {
	case baseline != 0:
		relative = 100 * (candidate/baseline - 1)
	case candidate == 0:
		relative = 0
	case candidate > 0:
		relative = math.Inf(1)
	default:
		relative = math.Inf(-1)
	}
	if pol == metric.PrefersLarger {
		return -relative, -absolute
	}
	return relative, absolute
}
