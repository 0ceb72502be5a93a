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
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/probe"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// Clock reads the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// measurement owns the per-metric recorders and snapshots of one run.
//
// Thread Safety: Not safe for concurrent use; it belongs to the loop
// goroutine. recordCustom is serialized by B.
type measurement struct {
	clock  Clock
	logger *slog.Logger

	metrics []metric.Metric
	custom  []metric.Metric
	stats   map[metric.Metric]*stats.Statistics

	os    probe.Producer
	alloc probe.AllocatorProducer
	refs  probe.ReferenceProducer

	osMetrics    []metric.Metric
	allocMetrics []metric.Metric
	refMetrics   []metric.Metric
	wall         bool
	throughput   bool

	overhead map[metric.Metric]int64

	startTime  time.Time
	startOS    probe.Counters
	startAlloc probe.AllocatorCounters
	startRefs  probe.ReferenceCounts
	osErr      bool
	allocErr   bool
	refsErr    bool

	open     bool
	recorded bool
	logged   map[probe.Source]bool
}

func newMeasurement(ms []metric.Metric, os probe.Producer, alloc probe.AllocatorProducer, refs probe.ReferenceProducer, clock Clock, logger *slog.Logger) *measurement {
	m := &measurement{
		clock:    clock,
		logger:   logger,
		metrics:  ms,
		stats:    make(map[metric.Metric]*stats.Statistics, len(ms)),
		os:       os,
		alloc:    alloc,
		refs:     refs,
		overhead: make(map[metric.Metric]int64),
		logged:   make(map[probe.Source]bool),
	}
	for _, mt := range ms {
		m.stats[mt] = stats.MustNew(stats.WithPolarity(mt.Polarity()))
		switch probe.SourceOf(mt) {
		case probe.SourceOS:
			m.osMetrics = append(m.osMetrics, mt)
		case probe.SourceAllocator:
			m.allocMetrics = append(m.allocMetrics, mt)
		case probe.SourceReference:
			m.refMetrics = append(m.refMetrics, mt)
		default:
			switch mt {
			case metric.WallClock:
				m.wall = true
			case metric.Throughput:
				m.throughput = true
			}
		}
	}
	return m
}

// hasLevels reports whether any level metric is measured.
func (m *measurement) hasLevels() bool {
	for _, mt := range m.osMetrics {
		if probe.IsLevel(mt) {
			return true
		}
	}
	return false
}

// compensate measures the cost of two back-to-back snapshots per counter.
func (m *measurement) compensate() {
	if len(m.osMetrics) > 0 {
		a, errA := m.os.Snapshot()
		b, errB := m.os.Snapshot()
		if errA == nil && errB == nil {
			for _, mt := range m.osMetrics {
				if probe.IsLevel(mt) {
					continue
				}
				before, _ := probe.OSValue(a, mt)
				after, _ := probe.OSValue(b, mt)
				m.overhead[mt] = max(after-before, 0)
			}
		}
	}
	if len(m.allocMetrics) > 0 {
		a, errA := m.alloc.Snapshot()
		b, errB := m.alloc.Snapshot()
		if errA == nil && errB == nil {
			for _, mt := range m.allocMetrics {
				before, _ := probe.AllocatorValue(a, mt)
				after, _ := probe.AllocatorValue(b, mt)
				m.overhead[mt] = max(after-before, 0)
			}
		}
	}
}

// begin resets the per-iteration window and runs the pre-hook.
func (m *measurement) begin() {
	m.recorded = false
	m.open = false
	m.start()
}

// start is the pre-hook: OS, allocator, references, then the clock last.
func (m *measurement) start() {
	if m.recorded {
		return
	}
	var err error
	if len(m.osMetrics) > 0 {
		m.startOS, err = m.os.Snapshot()
		m.osErr = m.report(probe.SourceOS, err)
	}
	if len(m.allocMetrics) > 0 {
		m.startAlloc, err = m.alloc.Snapshot()
		m.allocErr = m.report(probe.SourceAllocator, err)
	}
	if len(m.refMetrics) > 0 {
		m.startRefs, err = m.refs.Snapshot()
		m.refsErr = m.report(probe.SourceReference, err)
	}
	m.open = true
	m.startTime = m.clock.Now()
}

// stop is the post-hook: the clock first, then references, allocator, OS.
func (m *measurement) stop() {
	if !m.open {
		return
	}
	stopTime := m.clock.Now()

	var (
		refs  probe.ReferenceCounts
		alloc probe.AllocatorCounters
		osc   probe.Counters
		err   error
	)
	refsErr, allocErr, osErr := m.refsErr, m.allocErr, m.osErr
	if len(m.refMetrics) > 0 {
		refs, err = m.refs.Snapshot()
		refsErr = m.report(probe.SourceReference, err) || refsErr
	}
	if len(m.allocMetrics) > 0 {
		alloc, err = m.alloc.Snapshot()
		allocErr = m.report(probe.SourceAllocator, err) || allocErr
	}
	if len(m.osMetrics) > 0 {
		osc, err = m.os.Snapshot()
		osErr = m.report(probe.SourceOS, err) || osErr
	}

	m.open = false
	m.recorded = true

	ns := stopTime.Sub(m.startTime).Nanoseconds()
	if ns > 0 {
		if m.wall {
			m.stats[metric.WallClock].Record(ns)
		}
		if m.throughput {
			m.stats[metric.Throughput].Record(int64(math.Round(1e9 / float64(ns))))
		}
	}

	for _, mt := range m.osMetrics {
		after, _ := probe.OSValue(osc, mt)
		if probe.IsLevel(mt) {
			if !osErr {
				m.stats[mt].Record(after)
			}
			continue
		}
		before, _ := probe.OSValue(m.startOS, mt)
		m.recordDelta(mt, after-before, osErr)
	}
	for _, mt := range m.allocMetrics {
		after, _ := probe.AllocatorValue(alloc, mt)
		before, _ := probe.AllocatorValue(m.startAlloc, mt)
		m.recordDelta(mt, after-before, allocErr)
	}
	for _, mt := range m.refMetrics {
		after, _ := probe.ReferenceValue(refs, mt)
		before, _ := probe.ReferenceValue(m.startRefs, mt)
		m.recordDelta(mt, after-before, refsErr)
	}
}

// finish closes a window the closure left open.
func (m *measurement) finish() {
	if m.open {
		m.stop()
	}
}

// recordDelta records d minus the snapshot overhead, floored at zero. A
// failed snapshot records zero.
func (m *measurement) recordDelta(mt metric.Metric, d int64, failed bool) {
	if failed {
		m.stats[mt].Record(0)
		return
	}
	m.stats[mt].Record(max(d-m.overhead[mt], 0))
}

// report logs the first error of each source and reports whether err is
// non-nil.
func (m *measurement) report(src probe.Source, err error) bool {
	if err == nil {
		return false
	}
	if !m.logged[src] {
		m.logged[src] = true
		m.logger.Warn("snapshot failed, recording zero deltas", "source", src, "error", err)
	}
	return true
}

// recordCustom adds an observation for a metric the closure reports itself.
func (m *measurement) recordCustom(mt metric.Metric, v int64) {
	s, ok := m.stats[mt]
	if !ok {
		s = stats.MustNew(stats.WithPolarity(mt.Polarity()))
		m.stats[mt] = s
		m.custom = append(m.custom, mt)
	}
	s.Record(v)
}

// results summarizes every recorder, sorted by metric description.
func (m *measurement) results(cfg Configuration, iterations, warmup int, peaks probe.Peaks) []result.Result {
	all := append(append([]metric.Metric(nil), m.metrics...), m.custom...)
	out := make([]result.Result, 0, len(all))
	for _, mt := range all {
		r := result.FromStatistics(mt, m.stats[mt], cfg.TimeUnit, cfg.ScalingFactor, iterations, warmup)
		if set, ok := cfg.Thresholds[mt]; ok {
			set = set.Clone()
			r.Thresholds = &set
		}
		if probe.IsLevel(mt) {
			if v, ok := peaks.For(mt); ok && peaks.Samples > 0 {
				r.SampledPeak = v
			}
		}
		out = append(out, r)
	}
	result.Sort(out)
	return out
}
