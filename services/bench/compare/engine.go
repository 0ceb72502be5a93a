// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compare

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold/table"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "bench.compare"

// ErrNilInput indicates a nil baseline or table was passed.
var ErrNilInput = errors.New("nil comparison input")

// -----------------------------------------------------------------------------
// Engine Options
// -----------------------------------------------------------------------------

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for skip warnings.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConcurrency bounds how many benchmarks are compared at once.
// Values below one are ignored.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithClock sets the time source stamped on reports.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// -----------------------------------------------------------------------------
// Comparison Options
// -----------------------------------------------------------------------------

// Option configures one comparison.
type Option func(*options)

type options struct {
	override   *threshold.Set
	perMetric  map[metric.Metric]threshold.Set
	metrics    map[metric.Metric]bool
	benchmarks func(result.ID) bool
}

// WithThresholds applies set to every metric, replacing the tolerances
// stored in the candidate results.
func WithThresholds(set threshold.Set) Option {
	return func(o *options) {
		s := set.Clone()
		o.override = &s
	}
}

// WithMetricThresholds applies set to m only. It takes precedence over
// WithThresholds.
func WithMetricThresholds(m metric.Metric, set threshold.Set) Option {
	return func(o *options) {
		if o.perMetric == nil {
			o.perMetric = make(map[metric.Metric]threshold.Set)
		}
		o.perMetric[m] = set.Clone()
	}
}

// WithMetrics restricts the comparison to ms.
func WithMetrics(ms ...metric.Metric) Option {
	return func(o *options) {
		o.metrics = make(map[metric.Metric]bool, len(ms))
		for _, m := range ms {
			o.metrics[m] = true
		}
	}
}

// WithBenchmarkFilter restricts the comparison to benchmarks keep accepts.
func WithBenchmarkFilter(keep func(result.ID) bool) Option {
	return func(o *options) {
		o.benchmarks = keep
	}
}

func (o *options) includes(m metric.Metric) bool {
	return o.metrics == nil || o.metrics[m]
}

func (o *options) includesID(id result.ID) bool {
	return o.benchmarks == nil || o.benchmarks(id)
}

// thresholdsFor picks the tolerances for a pair: per-metric override,
// global override, the candidate's stored set, then the baseline's.
func (o *options) thresholdsFor(candidate, base result.Result) threshold.Set {
	if set, ok := o.perMetric[candidate.Metric]; ok {
		return set
	}
	if o.override != nil {
		return *o.override
	}
	if candidate.Thresholds != nil {
		return *candidate.Thresholds
	}
	if base.Thresholds != nil {
		return *base.Thresholds
	}
	return threshold.None()
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine compares baselines and produces reports.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewEngine creates a comparison engine.
//
// Example:
//
//	e := compare.NewEngine(compare.WithLogger(logger))
//	report, err := e.CompareBaselines(ctx, candidate, reference,
//	    compare.WithThresholds(threshold.Default()))
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		concurrency: runtime.GOMAXPROCS(0),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CompareBaselines compares every benchmark of candidate against ref.
//
// Description:
//
//	Benchmarks are paired by (target, name) and results by metric.
//	Anything present on one side only becomes a skip and is logged as a
//	warning. Pairs are evaluated concurrently; the report is sorted so its
//	content does not depend on scheduling.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - candidate: The new results.
//   - ref: The reference baseline.
//   - opts: Threshold overrides and filters.
//
// Outputs:
//   - *Report: The comparison. Passed is false when any regression exists.
//   - error: ErrNilInput or the context error.
func (e *Engine) CompareBaselines(ctx context.Context, candidate, ref *baseline.Baseline, opts ...Option) (*Report, error) {
	if candidate == nil || ref == nil {
		return nil, ErrNilInput
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "compare.Engine.CompareBaselines",
		trace.WithAttributes(
			attribute.String("candidate", candidate.Name),
			attribute.String("baseline", ref.Name),
		),
	)
	defer span.End()

	ids := unionIDs(candidate, ref)
	verdicts := make([]Verdict, len(ids))
	compared := make([]int, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		if !o.includesID(id) {
			verdicts[i] = Pass()
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i], compared[i] = compareBenchmark(id, candidate.Results[id], ref.Results[id], o)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := e.newReport(ModeRelative, candidate.Name, ref.Name, verdicts, compared)
	e.finish(span, report)
	return report, nil
}

// compareBenchmark compares the results of one benchmark.
func compareBenchmark(id result.ID, cands, refs []result.Result, o *options) (Verdict, int) {
	switch {
	case cands == nil:
		return benchmarkSkip(id, ReasonMissingInCandidate), 0
	case refs == nil:
		return benchmarkSkip(id, ReasonMissingInBaseline), 0
	}

	v := Pass()
	compared := 0
	for _, c := range cands {
		if !o.includes(c.Metric) {
			continue
		}
		b, ok := result.Find(refs, c.Metric)
		if !ok {
			v.Skips = append(v.Skips, metricSkip(id, c.Metric, ReasonMissingInBaseline))
			continue
		}
		v = v.Merge(CompareResults(id, c, b, o.thresholdsFor(c, b)))
		compared++
	}
	for _, b := range refs {
		if !o.includes(b.Metric) {
			continue
		}
		if _, ok := result.Find(cands, b.Metric); !ok {
			v.Skips = append(v.Skips, metricSkip(id, b.Metric, ReasonMissingInCandidate))
		}
	}
	return v, compared
}

// CheckAbsolute compares the candidate's p90 values with a table of stored
// p90 constants.
//
// Description:
//
//	Each candidate result is compared with the stored p90 for its
//	benchmark and metric using the p90 tolerances of the applicable set.
//	When the set has no p90 tolerance the candidate must not be worse than
//	the stored value at all; improvements are then not reported. Results
//	without a stored value are skipped.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - candidate: The new results.
//   - tbl: Stored p90 values in base units.
//   - opts: Threshold overrides and filters.
//
// Outputs:
//   - *Report: The comparison in ModeAbsolute.
//   - error: ErrNilInput or the context error.
func (e *Engine) CheckAbsolute(ctx context.Context, candidate *baseline.Baseline, tbl *table.Table, opts ...Option) (*Report, error) {
	if candidate == nil || tbl == nil {
		return nil, ErrNilInput
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "compare.Engine.CheckAbsolute",
		trace.WithAttributes(
			attribute.String("candidate", candidate.Name),
			attribute.Int("stored_benchmarks", tbl.Len()),
		),
	)
	defer span.End()

	ids := candidate.IDs()
	verdicts := make([]Verdict, 0, len(ids))
	compared := make([]int, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if !o.includesID(id) {
			continue
		}

		v := Pass()
		n := 0
		for _, c := range candidate.Results[id] {
			if !o.includes(c.Metric) {
				continue
			}
			stored, ok := tbl.P90(id, c.Metric)
			if !ok {
				v.Skips = append(v.Skips, metricSkip(id, c.Metric, ReasonNoStoredThreshold))
				continue
			}
			v = v.Merge(checkP90(id, c, stored, o.thresholdsFor(c, result.Result{})))
			n++
		}
		verdicts = append(verdicts, v)
		compared = append(compared, n)
	}

	report := e.newReport(ModeAbsolute, candidate.Name, "", verdicts, compared)
	e.finish(span, report)
	return report, nil
}

// checkP90 compares one candidate result with a stored p90 base value.
func checkP90(id result.ID, c result.Result, stored int64, set threshold.Set) Verdict {
	ref := result.Result{
		Metric:      c.Metric,
		Unit:        metric.Nanoseconds,
		Scaling:     metric.One,
		Percentiles: map[metric.Percentile]float64{metric.P90: float64(stored)},
	}
	// Express the stored value in the candidate's unit for readable reports.
	ref = ref.Rescaled(c.Unit, c.Scaling)

	p90 := threshold.Set{}
	if v, ok := set.RelativeFor(metric.P90); ok {
		p90.Relative = map[metric.Percentile]float64{metric.P90: v}
	}
	if v, ok := set.AbsoluteFor(metric.P90); ok {
		p90.Absolute = map[metric.Percentile]int64{metric.P90: v}
	}
	if !p90.IsEmpty() {
		return CompareResults(id, c, ref, p90)
	}

	v := CompareResults(id, c, ref, threshold.Set{Absolute: map[metric.Percentile]int64{metric.P90: 0}})
	v.Improvements = nil
	return v
}

func (e *Engine) newReport(mode Mode, candidate, ref string, verdicts []Verdict, compared []int) *Report {
	v := Pass()
	for _, part := range verdicts {
		v = v.Merge(part)
	}
	v.Sort()

	total := 0
	for _, n := range compared {
		total += n
	}

	for _, s := range v.Skips {
		e.logger.Warn("comparison skipped",
			slog.String("benchmark", s.ID().String()),
			slog.String("scope", s.Scope.String()),
			slog.String("detail", s.String()),
		)
	}

	return &Report{
		Mode:       mode,
		Candidate:  candidate,
		Baseline:   ref,
		Verdict:    v,
		Compared:   total,
		ComparedAt: e.now().UTC(),
	}
}

func (e *Engine) finish(span trace.Span, r *Report) {
	span.SetAttributes(
		attribute.Bool("passed", r.Passed),
		attribute.Int("compared", r.Compared),
		attribute.Int("regressions", len(r.Regressions)),
		attribute.Int("improvements", len(r.Improvements)),
		attribute.Int("skips", len(r.Skips)),
	)
	if r.Passed {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "regression detected")
	}

	e.logger.Info("comparison completed",
		slog.String("mode", r.Mode.String()),
		slog.String("candidate", r.Candidate),
		slog.String("baseline", r.Baseline),
		slog.Bool("passed", r.Passed),
		slog.Int("compared", r.Compared),
		slog.Int("regressions", len(r.Regressions)),
		slog.Int("improvements", len(r.Improvements)),
		slog.Int("skips", len(r.Skips)),
	)
}

// unionIDs returns the benchmarks of both baselines, sorted.
func unionIDs(a, b *baseline.Baseline) []result.ID {
	seen := make(map[result.ID]bool, len(a.Results)+len(b.Results))
	ids := make([]result.ID, 0, len(a.Results)+len(b.Results))
	for _, bl := range []*baseline.Baseline{a, b} {
		for id := range bl.Results {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	result.SortIDs(ids)
	return ids
}

func benchmarkSkip(id result.ID, reason string) Verdict {
	v := Pass()
	v.Skips = []Skip{{Scope: SkipBenchmark, Target: id.Target, Name: id.Name, Reason: reason}}
	return v
}

func metricSkip(id result.ID, m metric.Metric, reason string) Skip {
	return Skip{Scope: SkipMetric, Target: id.Target, Name: id.Name, Metric: m, Reason: reason}
}
