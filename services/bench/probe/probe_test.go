// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProducer returns a rising resident level on every snapshot.
type scriptedProducer struct {
	mu       sync.Mutex
	calls    atomic.Int64
	selected []metric.Metric
}

func (p *scriptedProducer) Supported(m metric.Metric) bool { return IsLevel(m) }

func (p *scriptedProducer) Select(ms []metric.Metric) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = append([]metric.Metric(nil), ms...)
}

func (p *scriptedProducer) Snapshot() (Counters, error) {
	n := p.calls.Add(1)
	return Counters{
		PeakMemoryResident: n * 1024,
		PeakMemoryVirtual:  4096,
		Threads:            n % 3,
	}, nil
}

func TestSourceOf(t *testing.T) {
	tests := []struct {
		m    metric.Metric
		want Source
	}{
		{metric.WallClock, SourceNone},
		{metric.Throughput, SourceNone},
		{metric.Custom("x", metric.PrefersSmaller), SourceNone},
		{metric.CPUUser, SourceOS},
		{metric.PeakMemoryResidentDelta, SourceOS},
		{metric.WriteBytesPhysical, SourceOS},
		{metric.MallocCountLarge, SourceAllocator},
		{metric.MemoryLeaked, SourceAllocator},
		{metric.RetainReleaseDelta, SourceReference},
	}
	for _, tt := range tests {
		t.Run(tt.m.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SourceOf(tt.m))
		})
	}
}

func TestIsLevel(t *testing.T) {
	assert.True(t, IsLevel(metric.PeakMemoryResident))
	assert.True(t, IsLevel(metric.ThreadsRunning))
	assert.False(t, IsLevel(metric.PeakMemoryResidentDelta))
	assert.False(t, IsLevel(metric.CPUTotal))
}

func TestExtractors(t *testing.T) {
	t.Run("cpu total sums user and system", func(t *testing.T) {
		v, ok := OSValue(Counters{CPUUser: 3, CPUSystem: 4}, metric.CPUTotal)
		require.True(t, ok)
		assert.Equal(t, int64(7), v)
	})

	t.Run("resident delta reads resident level", func(t *testing.T) {
		v, ok := OSValue(Counters{PeakMemoryResident: 99}, metric.PeakMemoryResidentDelta)
		require.True(t, ok)
		assert.Equal(t, int64(99), v)
	})

	t.Run("os value rejects allocator metric", func(t *testing.T) {
		_, ok := OSValue(Counters{}, metric.MallocCountTotal)
		assert.False(t, ok)
	})

	t.Run("memory leaked is mallocs minus frees", func(t *testing.T) {
		v, ok := AllocatorValue(AllocatorCounters{MallocCountTotal: 10, FreeCount: 4}, metric.MemoryLeaked)
		require.True(t, ok)
		assert.Equal(t, int64(6), v)
	})

	t.Run("retain release delta", func(t *testing.T) {
		v, ok := ReferenceValue(ReferenceCounts{Retains: 5, Releases: 2}, metric.RetainReleaseDelta)
		require.True(t, ok)
		assert.Equal(t, int64(3), v)
	})
}

func TestRefCounter(t *testing.T) {
	var c RefCounter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Retain()
				if j%2 == 0 {
					c.Release()
				}
			}
		}()
	}
	wg.Wait()

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(800), snap.Retains)
	assert.Equal(t, int64(400), snap.Releases)
	assert.True(t, c.Supported(metric.RetainCount))
	assert.False(t, c.Supported(metric.WallClock))
}

func TestCountersFrom(t *testing.T) {
	var ms runtime.MemStats
	ms.Mallocs = 40
	ms.Frees = 11
	ms.HeapAlloc = 4096
	ms.BySize[1].Size, ms.BySize[1].Mallocs = 8, 5
	ms.BySize[2].Size, ms.BySize[2].Mallocs = 16, 7
	ms.BySize[3].Size, ms.BySize[3].Mallocs = LargeAllocationThreshold, 2

	c := countersFrom(&ms, 20)
	assert.Equal(t, int64(34), c.MallocCountSmall)
	assert.Equal(t, int64(6), c.MallocCountLarge)
	assert.Equal(t, int64(40), c.MallocCountTotal)
	assert.Equal(t, int64(11), c.FreeCount)
	assert.Equal(t, int64(4096), c.AllocatedResidentMemory)

	t.Run("large never negative", func(t *testing.T) {
		ms.Mallocs = 10
		assert.Zero(t, countersFrom(&ms, 20).MallocCountLarge)
	})
}

var sink [101][]byte

func TestRuntimeAllocator_CountsAllocations(t *testing.T) {
	a := NewAllocatorProducer()

	before, err := a.Snapshot()
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		sink[i] = make([]byte, 64)
	}
	sink[100] = make([]byte, 1<<20)

	after, err := a.Snapshot()
	require.NoError(t, err)
	sink = [101][]byte{}

	assert.Equal(t, int64(1), after.MallocCountLarge-before.MallocCountLarge)
	assert.InDelta(t, 100, after.MallocCountSmall-before.MallocCountSmall, 2)
	assert.InDelta(t, 101, after.MallocCountTotal-before.MallocCountTotal, 2)
	assert.Equal(t, after.MallocCountSmall+after.MallocCountLarge, after.MallocCountTotal)
}

func TestSampler(t *testing.T) {
	t.Run("selects only level metrics", func(t *testing.T) {
		p := &scriptedProducer{}
		NewSampler(p)
		assert.ElementsMatch(t, []metric.Metric{
			metric.PeakMemoryResident, metric.PeakMemoryVirtual, metric.Threads, metric.ThreadsRunning,
		}, p.selected)
	})

	t.Run("tracks peaks until stopped", func(t *testing.T) {
		p := &scriptedProducer{}
		s := NewSampler(p, WithInterval(time.Millisecond), WithJitter(0))
		require.NoError(t, s.Start())
		assert.Equal(t, SamplerRunning, s.State())

		time.Sleep(20 * time.Millisecond)
		peaks := s.Stop()

		assert.Equal(t, SamplerDone, s.State())
		assert.GreaterOrEqual(t, peaks.Samples, 2)
		assert.Equal(t, int64(peaks.Samples)*1024, peaks.Resident)
		assert.Equal(t, int64(4096), peaks.Virtual)
		assert.Equal(t, int64(2), peaks.Threads)

		v, ok := peaks.For(metric.PeakMemoryResident)
		require.True(t, ok)
		assert.Equal(t, peaks.Resident, v)
		_, ok = peaks.For(metric.CPUUser)
		assert.False(t, ok)
	})

	t.Run("double start fails", func(t *testing.T) {
		s := NewSampler(&scriptedProducer{})
		require.NoError(t, s.Start())
		defer s.Stop()
		assert.ErrorIs(t, s.Start(), ErrSamplerRunning)
	})

	t.Run("stop without start returns zero", func(t *testing.T) {
		s := NewSampler(&scriptedProducer{})
		assert.Equal(t, Peaks{}, s.Stop())
		assert.Equal(t, SamplerIdle, s.State())
	})

	t.Run("restart after stop", func(t *testing.T) {
		s := NewSampler(&scriptedProducer{})
		require.NoError(t, s.Start())
		first := s.Stop()
		require.NoError(t, s.Start())
		second := s.Stop()
		assert.Greater(t, first.Samples, 0)
		assert.Greater(t, second.Samples, 0)
	})
}

func TestNopProducer(t *testing.T) {
	var p Producer = NopProducer{}
	assert.False(t, p.Supported(metric.CPUUser))
	c, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, Counters{}, c)
}
