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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/probe"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// manualClock only moves when advanced.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
	log *callLog
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.log.add("clock")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeOS returns CPUUser growing by step on every snapshot plus whatever
// the closure adds with work.
type fakeOS struct {
	mu        sync.Mutex
	supported map[metric.Metric]bool
	cpu       int64
	step      int64
	resident  int64
	threads   int64
	err       error
	log       *callLog
	selected  []metric.Metric
}

func (p *fakeOS) Supported(m metric.Metric) bool { return p.supported[m] }

func (p *fakeOS) Select(ms []metric.Metric) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = append([]metric.Metric(nil), ms...)
}

func (p *fakeOS) Snapshot() (probe.Counters, error) {
	p.log.add("os")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpu += p.step
	return probe.Counters{
		CPUUser:            p.cpu,
		PeakMemoryResident: p.resident,
		Threads:            p.threads,
	}, p.err
}

func (p *fakeOS) work(cpu, resident int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpu += cpu
	p.resident += resident
}

type fakeAlloc struct {
	mu      sync.Mutex
	mallocs int64
	log     *callLog
}

func (a *fakeAlloc) Supported(m metric.Metric) bool {
	return probe.SourceOf(m) == probe.SourceAllocator
}

func (a *fakeAlloc) Snapshot() (probe.AllocatorCounters, error) {
	a.log.add("alloc")
	a.mu.Lock()
	defer a.mu.Unlock()
	return probe.AllocatorCounters{MallocCountTotal: a.mallocs}, nil
}

func (a *fakeAlloc) allocate(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mallocs += n
}

func cpuOS() *fakeOS {
	return &fakeOS{supported: map[metric.Metric]bool{
		metric.CPUUser:                 true,
		metric.PeakMemoryResident:      true,
		metric.PeakMemoryResidentDelta: true,
		metric.Threads:                 true,
	}}
}

func testRunner(clock *manualClock, os *fakeOS, alloc *fakeAlloc, opts ...RunnerOption) *Runner {
	base := []RunnerOption{
		WithClock(clock),
		WithOSProducer(os),
		WithAllocatorProducer(alloc),
		WithSampling(false),
	}
	return NewRunner(append(base, opts...)...)
}

func config(opts ...Option) *Configuration {
	cfg := DefaultConfiguration().Apply(append([]Option{
		WithMetrics(metric.WallClock, metric.Throughput),
		WithoutWarmup(),
	}, opts...)...)
	return &cfg
}

func mustFind(t *testing.T, run *Run, m metric.Metric) result.Result {
	t.Helper()
	r, ok := result.Find(run.Results, m)
	require.True(t, ok, "missing result for %s", m.Name())
	return r
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func TestConfiguration_Validate(t *testing.T) {
	valid := DefaultConfiguration()

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"defaults", nil, false},
		{"no metrics", []Option{WithMetrics()}, true},
		{"invalid custom metric", []Option{WithMetrics(metric.Custom("", metric.PrefersSmaller))}, true},
		{"negative warmup ignored", []Option{WithWarmup(-1)}, false},
		{"zero max iterations", []Option{WithIterations(0, 0)}, true},
		{"min above max iterations", []Option{WithIterations(10, 5)}, true},
		{"negative min iterations", []Option{WithIterations(-1, 5)}, true},
		{"zero max duration", []Option{WithDuration(0, 0)}, true},
		{"min above max duration", []Option{WithDuration(2*time.Second, time.Second)}, true},
		{"negative threshold", []Option{WithThresholds(metric.WallClock, threshold.Set{
			Relative: map[metric.Percentile]float64{metric.P50: -1},
		})}, true},
		{"threshold on untracked percentile", []Option{WithThresholds(metric.WallClock, threshold.Set{
			Relative: map[metric.Percentile]float64{metric.Percentile(42): 5},
		})}, true},
		{"preset thresholds", []Option{WithThresholdsForAll(threshold.Default())}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := valid.Apply(tt.opts...).Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfiguration_Done(t *testing.T) {
	t.Run("zero minimums equal maximums", func(t *testing.T) {
		c := DefaultConfiguration().Apply(WithIterations(0, 10), WithDuration(0, time.Second))
		assert.False(t, c.done(9, 500*time.Millisecond))
		assert.True(t, c.done(10, 0))
		assert.True(t, c.done(0, time.Second))
	})

	t.Run("both minimums required", func(t *testing.T) {
		c := DefaultConfiguration().Apply(WithIterations(5, 100), WithDuration(50*time.Millisecond, time.Second))
		assert.False(t, c.done(5, 10*time.Millisecond))
		assert.False(t, c.done(2, 60*time.Millisecond))
		assert.True(t, c.done(5, 50*time.Millisecond))
	})
}

func TestConfiguration_Clone(t *testing.T) {
	c := DefaultConfiguration().Apply(WithTag("k", "v"), WithThresholdsForAll(threshold.Default()))
	clone := c.Clone()
	clone.Metrics[0] = metric.Threads
	clone.Tags["k"] = "changed"
	clone.Thresholds[metric.WallClock].Relative[metric.P50] = 99

	assert.Equal(t, metric.WallClock, c.Metrics[0])
	assert.Equal(t, "v", c.Tags["k"])
	assert.Equal(t, 5.0, c.Thresholds[metric.WallClock].Relative[metric.P50])
}

// -----------------------------------------------------------------------------
// Loop
// -----------------------------------------------------------------------------

func TestRunner_MaxIterationsNoop(t *testing.T) {
	r := NewRunner(WithSampling(false))
	cfg := DefaultConfiguration().Apply(WithIterations(0, 3))

	var calls int
	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "noop",
		Config: &cfg,
		Run:    func(b *B) { calls++ },
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 3, run.Iterations)
	assert.Equal(t, DefaultWarmupIterations, run.Warmup)
	assert.Equal(t, 3+DefaultWarmupIterations, calls)

	var supported int
	for _, m := range cfg.Metrics {
		if r.Supported(m) {
			supported++
		}
	}
	require.Len(t, run.Results, supported)
	for _, res := range run.Results {
		assert.Equal(t, 3, res.Iterations, res.Metric.Name())
		assert.LessOrEqual(t, res.Count, int64(3), res.Metric.Name())
	}
	if r.Supported(metric.CPUTotal) {
		assert.Equal(t, int64(3), mustFind(t, run, metric.CPUTotal).Count)
	}
}

func TestRunner_TerminationBounds(t *testing.T) {
	const step = 10 * time.Millisecond

	tests := []struct {
		name           string
		minN, maxN     int
		minD, maxD     time.Duration
		wantIterations int
	}{
		{"minimums reached first", 5, 1000, 50 * time.Millisecond, 95 * time.Millisecond, 5},
		{"max duration", 0, 1000, 0, 95 * time.Millisecond, 10},
		{"max iterations", 0, 4, 0, time.Second, 4},
		{"max duration beats min iterations", 20, 1000, 10 * time.Millisecond, 95 * time.Millisecond, 10},
		{"min duration dominates", 1, 1000, 75 * time.Millisecond, time.Second, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newManualClock()
			r := testRunner(clock, cpuOS(), &fakeAlloc{})
			cfg := config(WithIterations(tt.minN, tt.maxN), WithDuration(tt.minD, tt.maxD))

			run, err := r.Run(context.Background(), &Benchmark{
				Name:   tt.name,
				Config: cfg,
				Run:    func(b *B) { clock.Advance(step) },
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantIterations, run.Iterations)

			// At least min(N, floor(E/d)) and at most M iterations, and no
			// more than one step past the max duration.
			lower := min(cfg.minIterations(), int(cfg.MaxDuration/step))
			assert.GreaterOrEqual(t, run.Iterations, lower)
			assert.LessOrEqual(t, run.Iterations, cfg.MaxIterations)
			assert.LessOrEqual(t, run.Elapsed, cfg.MaxDuration+step)

			wall := mustFind(t, run, metric.WallClock)
			assert.Equal(t, int64(run.Iterations), wall.Count)
			assert.Equal(t, 10.0, wall.Percentiles[metric.P50])
			assert.Equal(t, metric.Milliseconds, wall.Unit)
		})
	}
}

func TestRunner_ZeroDurationIterations(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	var i int
	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "coarse clock",
		Config: config(WithIterations(0, 10), WithDuration(0, time.Hour)),
		Run: func(b *B) {
			if i%2 == 1 {
				clock.Advance(time.Millisecond)
			}
			i++
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, run.Iterations)
	wall := mustFind(t, run, metric.WallClock)
	thr := mustFind(t, run, metric.Throughput)
	assert.Equal(t, int64(5), wall.Count)
	assert.Equal(t, int64(5), thr.Count)
	assert.Equal(t, 10, wall.Iterations)
	assert.Equal(t, 1000.0, thr.Percentiles[metric.P50])
}

func TestRunner_AllZeroDurationEmitsEmptyResult(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "frozen",
		Config: config(WithIterations(0, 3)),
		Run:    func(b *B) {},
	})
	require.NoError(t, err)

	require.Len(t, run.Results, 2)
	wall := mustFind(t, run, metric.WallClock)
	assert.Zero(t, wall.Count)
	assert.Empty(t, wall.Percentiles)
}

func TestRunner_HookOrder(t *testing.T) {
	log := &callLog{}
	clock := newManualClock()
	clock.log = log
	os := cpuOS()
	os.log = log
	alloc := &fakeAlloc{log: log}
	r := testRunner(clock, os, alloc)

	_, err := r.Run(context.Background(), &Benchmark{
		Name: "order",
		Config: config(
			WithMetrics(metric.WallClock, metric.CPUUser, metric.MallocCountTotal),
			WithIterations(0, 1),
		),
		Run: func(b *B) { log.add("run") },
	})
	require.NoError(t, err)

	// Compensation, loop start, pre-hook, closure, post-hook, elapsed.
	assert.Equal(t, []string{
		"os", "os", "alloc", "alloc",
		"clock",
		"os", "alloc", "clock",
		"run",
		"clock", "alloc", "os",
		"clock",
	}, log.snapshot())
	assert.Equal(t, []metric.Metric{metric.CPUUser}, os.selected)
}

func TestRunner_DeltasAndLevels(t *testing.T) {
	clock := newManualClock()
	os := cpuOS()
	os.step = 100
	os.threads = 7
	os.resident = 1 << 20
	alloc := &fakeAlloc{}
	r := testRunner(clock, os, alloc)

	run, err := r.Run(context.Background(), &Benchmark{
		Name: "counters",
		Config: config(
			WithMetrics(metric.CPUUser, metric.Threads, metric.PeakMemoryResident,
				metric.PeakMemoryResidentDelta, metric.MallocCountTotal),
			WithIterations(0, 4),
		),
		Run: func(b *B) {
			os.work(1000, -4096)
			alloc.allocate(3)
			clock.Advance(time.Microsecond)
		},
	})
	require.NoError(t, err)

	cpu := mustFind(t, run, metric.CPUUser)
	assert.Equal(t, 1000.0, cpu.Percentiles[metric.P0], "snapshot overhead is subtracted")
	assert.Equal(t, 1000.0, cpu.Percentiles[metric.P100])

	threads := mustFind(t, run, metric.Threads)
	assert.Equal(t, 7.0, threads.Percentiles[metric.P50])

	resident := mustFind(t, run, metric.PeakMemoryResident)
	assert.Equal(t, float64((1<<20)-4*4096), resident.Percentiles[metric.P0])

	delta := mustFind(t, run, metric.PeakMemoryResidentDelta)
	assert.Equal(t, 0.0, delta.Percentiles[metric.P100], "shrinking memory floors at zero")

	mallocs := mustFind(t, run, metric.MallocCountTotal)
	assert.Equal(t, 3.0, mallocs.Percentiles[metric.P50])
	assert.Equal(t, int64(4), mallocs.Count)
}

func TestRunner_SnapshotErrorsRecordZero(t *testing.T) {
	clock := newManualClock()
	os := cpuOS()
	os.err = errors.New("proc unavailable")
	r := testRunner(clock, os, &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "broken producer",
		Config: config(WithMetrics(metric.CPUUser, metric.Threads), WithIterations(0, 3)),
		Run: func(b *B) {
			os.work(500, 0)
			clock.Advance(time.Microsecond)
		},
	})
	require.NoError(t, err)

	cpu := mustFind(t, run, metric.CPUUser)
	assert.Equal(t, int64(3), cpu.Count)
	assert.Equal(t, 0.0, cpu.Percentiles[metric.P100])

	threads := mustFind(t, run, metric.Threads)
	assert.Zero(t, threads.Count)
}

func TestRunner_FiltersUnsupportedMetrics(t *testing.T) {
	clock := newManualClock()
	os := &fakeOS{supported: map[metric.Metric]bool{metric.CPUUser: true}}
	r := testRunner(clock, os, &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name: "filtered",
		Config: config(
			WithMetrics(metric.WallClock, metric.CPUUser, metric.ThreadsRunning, metric.CPUUser),
			WithIterations(0, 2),
		),
		Run: func(b *B) { clock.Advance(time.Millisecond) },
	})
	require.NoError(t, err)

	require.Len(t, run.Results, 2)
	_, ok := result.Find(run.Results, metric.ThreadsRunning)
	assert.False(t, ok)
}

func TestRunner_ResultsSortedByDescription(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name: "sorted",
		Config: config(
			WithMetrics(metric.WallClock, metric.MallocCountTotal, metric.Throughput, metric.CPUUser),
			WithIterations(0, 2),
		),
		Run: func(b *B) { clock.Advance(time.Millisecond) },
	})
	require.NoError(t, err)

	for i := 1; i < len(run.Results); i++ {
		assert.LessOrEqual(t,
			run.Results[i-1].Metric.Description(),
			run.Results[i].Metric.Description(),
		)
	}
}

func TestRunner_ExplicitWindow(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "window",
		Config: config(WithMetrics(metric.WallClock), WithIterations(0, 5)),
		Run: func(b *B) {
			clock.Advance(5 * time.Millisecond)
			b.StartMeasurement()
			clock.Advance(2 * time.Millisecond)
			b.StopMeasurement()
			clock.Advance(3 * time.Millisecond)
			b.StopMeasurement()
		},
	})
	require.NoError(t, err)

	wall := mustFind(t, run, metric.WallClock)
	assert.Equal(t, int64(5), wall.Count)
	assert.Equal(t, 2.0, wall.Percentiles[metric.P50])
	assert.Equal(t, 50*time.Millisecond, run.Elapsed)
}

func TestRunner_Async(t *testing.T) {
	t.Run("joins before post-hook", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})

		run, err := r.Run(context.Background(), &Benchmark{
			Name:   "async",
			Config: config(WithMetrics(metric.WallClock), WithIterations(0, 3)),
			RunAsync: func(b *B) <-chan error {
				done := make(chan error, 1)
				go func() {
					time.Sleep(time.Millisecond)
					clock.Advance(4 * time.Millisecond)
					done <- nil
				}()
				return done
			},
		})
		require.NoError(t, err)

		wall := mustFind(t, run, metric.WallClock)
		assert.Equal(t, int64(3), wall.Count)
		assert.Equal(t, 4.0, wall.Percentiles[metric.P50])
	})

	t.Run("error fails the run", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})
		boom := errors.New("boom")

		run, err := r.Run(context.Background(), &Benchmark{
			Name:   "async failure",
			Config: config(WithIterations(0, 10)),
			RunAsync: func(b *B) <-chan error {
				done := make(chan error, 1)
				done <- boom
				return done
			},
		})
		assert.ErrorIs(t, err, ErrBenchmarkFailed)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateFailed, run.State)
		assert.Equal(t, 1, run.Iterations)
	})
}

func TestRunner_Failure(t *testing.T) {
	t.Run("failf discards statistics", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})

		var n int
		run, err := r.Run(context.Background(), &Benchmark{
			Name:   "fails",
			Config: config(WithIterations(0, 100)),
			Run: func(b *B) {
				n++
				clock.Advance(time.Millisecond)
				if n == 3 {
					b.Failf("bad checksum %d", n)
				}
			},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBenchmarkFailed)
		assert.Equal(t, StateFailed, run.State)
		assert.Empty(t, run.Results)
		assert.Equal(t, 3, run.Iterations)
		assert.Contains(t, run.Failure, "bad checksum 3")
	})

	t.Run("panic", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})

		run, err := r.Run(context.Background(), &Benchmark{
			Name:   "panics",
			Config: config(WithIterations(0, 10)),
			Run:    func(b *B) { panic("nil map") },
		})
		assert.ErrorIs(t, err, ErrBenchmarkFailed)
		assert.Contains(t, run.Failure, "panic: nil map")
	})

	t.Run("failure during warmup", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})
		cfg := DefaultConfiguration().Apply(WithMetrics(metric.WallClock), WithWarmup(2))

		run, err := r.Run(context.Background(), &Benchmark{
			Name:   "warmup fails",
			Config: &cfg,
			Run:    func(b *B) { b.Error(errors.New("cold")) },
		})
		assert.ErrorIs(t, err, ErrBenchmarkFailed)
		assert.Zero(t, run.Iterations)
	})

	t.Run("setup error", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})
		var ran, tornDown bool

		run, err := r.Run(context.Background(), &Benchmark{
			Name:     "setup",
			Config:   config(),
			Setup:    func(context.Context) error { return errors.New("no fixture") },
			Teardown: func(context.Context) error { tornDown = true; return nil },
			Run:      func(b *B) { ran = true },
		})
		assert.ErrorIs(t, err, ErrBenchmarkFailed)
		assert.Equal(t, StateFailed, run.State)
		assert.False(t, ran)
		assert.False(t, tornDown)
	})

	t.Run("cancelled context", func(t *testing.T) {
		clock := newManualClock()
		r := testRunner(clock, cpuOS(), &fakeAlloc{})
		ctx, cancel := context.WithCancel(context.Background())

		var n int
		run, err := r.Run(ctx, &Benchmark{
			Name:   "cancelled",
			Config: config(WithIterations(0, 100)),
			Run: func(b *B) {
				n++
				clock.Advance(time.Millisecond)
				if n == 2 {
					cancel()
				}
			},
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, run.Iterations)
	})
}

func TestRunner_InvalidConfiguration(t *testing.T) {
	r := testRunner(newManualClock(), cpuOS(), &fakeAlloc{})

	t.Run("bad bounds", func(t *testing.T) {
		run, err := r.Run(context.Background(), &Benchmark{
			Name:   "bad",
			Config: config(WithIterations(10, 1)),
			Run:    func(b *B) { t.Fatal("must not run") },
		})
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Equal(t, StateFailed, run.State)
	})

	t.Run("no closure", func(t *testing.T) {
		_, err := r.Run(context.Background(), &Benchmark{Name: "empty"})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("nil benchmark", func(t *testing.T) {
		run, err := r.Run(context.Background(), nil)
		assert.Nil(t, run)
		assert.ErrorIs(t, err, ErrNilBenchmark)
	})
}

func TestRunner_HooksAndHandle(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})
	var setUp, tornDown int
	hits := metric.Custom("cache hits", metric.PrefersLarger)

	run, err := r.Run(context.Background(), &Benchmark{
		Name:     "handle",
		Target:   "cache",
		Config:   config(WithMetrics(metric.WallClock, metric.RetainCount, metric.ReleaseCount, metric.RetainReleaseDelta), WithIterations(0, 4), WithScalingFactor(metric.Kilo), WithTag("suite", "unit")),
		Setup:    func(context.Context) error { setUp++; return nil },
		Teardown: func(context.Context) error { tornDown++; return nil },
		Run: func(b *B) {
			assert.Equal(t, 1000, b.ScaledIterations())
			assert.Equal(t, "handle", b.Name())
			assert.NotNil(t, b.Context())
			b.Retain()
			b.Retain()
			b.Release()
			b.Record(hits, 42)
			clock.Advance(time.Millisecond)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, setUp)
	assert.Equal(t, 1, tornDown)
	assert.Equal(t, result.ID{Target: "cache", Name: "handle"}, run.ID)
	assert.Equal(t, "unit", run.Tags["suite"])

	retains := mustFind(t, run, metric.RetainCount)
	assert.Equal(t, 2.0/1000, retains.Percentiles[metric.P50])
	assert.Equal(t, metric.Kilo, retains.Scaling)
	deltaRefs := mustFind(t, run, metric.RetainReleaseDelta)
	assert.Equal(t, 1.0/1000, deltaRefs.Percentiles[metric.P50])

	custom := mustFind(t, run, hits)
	assert.Equal(t, int64(4), custom.Count)
	assert.Equal(t, 42.0/1000, custom.Percentiles[metric.P50])
}

func TestRunner_RecordIgnoresBuiltinMetrics(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "record",
		Config: config(WithMetrics(metric.WallClock), WithIterations(0, 4)),
		Run: func(b *B) {
			b.Record(metric.WallClock, 1<<40)
			b.Record(metric.MallocCountTotal, 7)
			clock.Advance(time.Millisecond)
		},
	})
	require.NoError(t, err)

	require.Len(t, run.Results, 1)
	wall := mustFind(t, run, metric.WallClock)
	assert.Equal(t, int64(4), wall.Count)
	assert.Equal(t, 1.0, wall.Percentiles[metric.P100])
	assert.Equal(t, metric.Milliseconds, wall.Unit)
}

var allocSink *[64]byte

func TestRunner_RuntimeAllocatorCountsPerIteration(t *testing.T) {
	r := NewRunner(
		WithOSProducer(cpuOS()),
		WithAllocatorProducer(probe.NewAllocatorProducer()),
		WithSampling(false),
	)

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "one alloc",
		Config: config(WithMetrics(metric.MallocCountTotal, metric.MallocCountSmall, metric.MallocCountLarge), WithIterations(0, 200)),
		Run: func(b *B) {
			allocSink = new([64]byte)
		},
	})
	require.NoError(t, err)
	allocSink = nil

	assert.Equal(t, 1.0, mustFind(t, run, metric.MallocCountTotal).Percentiles[metric.P50])
	assert.Equal(t, 1.0, mustFind(t, run, metric.MallocCountSmall).Percentiles[metric.P50])
	assert.Equal(t, 0.0, mustFind(t, run, metric.MallocCountLarge).Percentiles[metric.P50])
}

func TestRunner_Thresholds(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "thresholds",
		Config: config(WithIterations(0, 2), WithThresholds(metric.WallClock, threshold.Strict())),
		Run:    func(b *B) { clock.Advance(time.Millisecond) },
	})
	require.NoError(t, err)

	wall := mustFind(t, run, metric.WallClock)
	require.NotNil(t, wall.Thresholds)
	assert.Equal(t, threshold.Strict(), *wall.Thresholds)
	assert.Nil(t, mustFind(t, run, metric.Throughput).Thresholds)
}

type recordingProgress struct {
	mu       sync.Mutex
	updates  []Update
	finished []*Run
}

func (p *recordingProgress) Update(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *recordingProgress) Finish(run *Run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, run)
}

func TestRunner_Progress(t *testing.T) {
	clock := newManualClock()
	progress := &recordingProgress{}
	r := testRunner(clock, cpuOS(), &fakeAlloc{}, WithProgress(progress), WithProgressInterval(time.Hour))

	_, err := r.Run(context.Background(), &Benchmark{
		Name:   "progress",
		Config: config(WithIterations(0, 50)),
		Run:    func(b *B) { clock.Advance(time.Millisecond) },
	})
	require.NoError(t, err)

	require.Len(t, progress.updates, 1, "updates are throttled")
	assert.Equal(t, StateMeasuring, progress.updates[0].State)
	assert.Zero(t, progress.updates[0].Iterations)
	require.Len(t, progress.finished, 1)
	assert.Equal(t, StateCompleted, progress.finished[0].State)
}

func TestUpdate_Fraction(t *testing.T) {
	u := Update{Iterations: 25, MaxIterations: 100, Elapsed: 600 * time.Millisecond, MaxDuration: time.Second}
	assert.InDelta(t, 0.6, u.Fraction(), 1e-9)

	u = Update{Iterations: 200, MaxIterations: 100}
	assert.Equal(t, 1.0, u.Fraction())
}

func TestRunner_SampledPeak(t *testing.T) {
	clock := newManualClock()
	sampled := &fakeOS{
		supported: map[metric.Metric]bool{metric.PeakMemoryResident: true},
		resident:  64 << 20,
	}
	r := testRunner(clock, cpuOS(), &fakeAlloc{},
		WithSampling(true),
		WithSampleInterval(time.Millisecond),
		WithSamplerProducer(func() probe.Producer { return sampled }),
	)

	run, err := r.Run(context.Background(), &Benchmark{
		Name:   "peaks",
		Config: config(WithMetrics(metric.PeakMemoryResident), WithIterations(0, 3)),
		Run:    func(b *B) { clock.Advance(time.Millisecond) },
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, run.Peaks.Samples, 2)
	res := mustFind(t, run, metric.PeakMemoryResident)
	assert.Equal(t, int64(64<<20), res.SampledPeak)
}

func TestRunner_RunAll(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})

	reg := NewRegistry()
	reg.MustRegister(&Benchmark{
		Name:   "b-ok",
		Config: config(WithIterations(0, 2)),
		Run:    func(b *B) { clock.Advance(time.Millisecond) },
	})
	reg.MustRegister(&Benchmark{
		Name:   "a-fails",
		Config: config(WithIterations(0, 2)),
		Run:    func(b *B) { b.Failf("broken") },
	})
	reg.MustRegister(&Benchmark{
		Name:   "c-ok",
		Config: config(WithIterations(0, 2)),
		Run:    func(b *B) { clock.Advance(time.Millisecond) },
	})

	runs, failures := r.RunAll(context.Background(), reg)

	require.Len(t, runs, 2)
	assert.Equal(t, "b-ok", runs[0].ID.Name)
	assert.Equal(t, "c-ok", runs[1].ID.Name)
	require.Len(t, failures, 1)
	assert.Equal(t, "a-fails", failures[0].ID.Name)
	assert.ErrorIs(t, failures[0], ErrBenchmarkFailed)
}

func TestRunner_RunAllCancelled(t *testing.T) {
	r := testRunner(newManualClock(), cpuOS(), &fakeAlloc{})
	reg := NewRegistry()
	reg.MustRegister(&Benchmark{Name: "x", Config: config(), Run: func(b *B) {}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runs, failures := r.RunAll(ctx, reg)
	assert.Empty(t, runs)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], context.Canceled)
}

func TestRunner_FreshStatisticsPerRun(t *testing.T) {
	clock := newManualClock()
	r := testRunner(clock, cpuOS(), &fakeAlloc{})
	bm := &Benchmark{
		Name:   "repeat",
		Config: config(WithIterations(0, 3)),
		Run:    func(b *B) { clock.Advance(time.Millisecond) },
	}

	first, err := r.Run(context.Background(), bm)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), bm)
	require.NoError(t, err)

	assert.Equal(t, int64(3), mustFind(t, first, metric.WallClock).Count)
	assert.Equal(t, int64(3), mustFind(t, second, metric.WallClock).Count)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "measuring", StateMeasuring.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateWarmup.Terminal())
}
