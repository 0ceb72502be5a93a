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
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
)

// ErrSamplerRunning is returned by Start on a sampler that has not been
// stopped.
var ErrSamplerRunning = errors.New("sampler already running")

const (
	// DefaultSampleInterval is the nominal time between peak samples.
	DefaultSampleInterval = 5 * time.Millisecond

	// DefaultSampleJitter spreads ticks by ±10% to avoid lockstep with
	// periodic OS activity.
	DefaultSampleJitter = 0.10
)

// SamplerState is the run flag of a Sampler.
type SamplerState int32

const (
	SamplerIdle SamplerState = iota
	SamplerRunning
	SamplerStopping
	SamplerDone
)

// String returns the string representation.
func (s SamplerState) String() string {
	switch s {
	case SamplerIdle:
		return "idle"
	case SamplerRunning:
		return "running"
	case SamplerStopping:
		return "stopping"
	case SamplerDone:
		return "done"
	default:
		return "unknown"
	}
}

// Peaks holds the highest levels seen by a Sampler.
type Peaks struct {
	Resident       int64
	Virtual        int64
	Threads        int64
	ThreadsRunning int64
	Samples        int
}

// For returns the peak for a level metric.
func (p Peaks) For(m metric.Metric) (int64, bool) {
	switch m {
	case metric.PeakMemoryResident:
		return p.Resident, true
	case metric.PeakMemoryVirtual:
		return p.Virtual, true
	case metric.Threads:
		return p.Threads, true
	case metric.ThreadsRunning:
		return p.ThreadsRunning, true
	default:
		return 0, false
	}
}

func (p *Peaks) observe(c Counters) {
	p.Samples++
	p.Resident = max(p.Resident, c.PeakMemoryResident)
	p.Virtual = max(p.Virtual, c.PeakMemoryVirtual)
	p.Threads = max(p.Threads, c.Threads)
	p.ThreadsRunning = max(p.ThreadsRunning, c.ThreadsRunning)
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithInterval sets the nominal sampling interval. Non-positive values are
// ignored.
func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithJitter sets the relative jitter in [0, 1). Out of range values are
// ignored.
func WithJitter(f float64) SamplerOption {
	return func(s *Sampler) {
		if f >= 0 && f < 1 {
			s.jitter = f
		}
	}
}

// Sampler tracks peak memory and thread levels while a benchmark measures.
//
// Description:
//
//	Start launches a goroutine that owns the peak accumulator. Stop moves
//	the run flag from running to stopping, waits for the goroutine to take
//	a final sample and hand its peaks back over a channel, and returns
//	them. Nothing else shares the accumulator.
//
// Thread Safety: Start and Stop must be called from one goroutine.
type Sampler struct {
	producer Producer
	interval time.Duration
	jitter   float64

	state atomic.Int32
	stop  chan struct{}
	done  chan Peaks
}

// NewSampler creates a sampler over producer.
//
// Inputs:
//   - producer: The source of level counters. Should be dedicated to the
//     sampler, as Select is called on it.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Sampler: Never nil.
func NewSampler(producer Producer, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		producer: producer,
		interval: DefaultSampleInterval,
		jitter:   DefaultSampleJitter,
	}
	for _, opt := range opts {
		opt(s)
	}
	var levels []metric.Metric
	for _, m := range []metric.Metric{metric.PeakMemoryResident, metric.PeakMemoryVirtual, metric.Threads, metric.ThreadsRunning} {
		if producer.Supported(m) {
			levels = append(levels, m)
		}
	}
	producer.Select(levels)
	return s
}

// State returns the current run flag.
func (s *Sampler) State() SamplerState {
	return SamplerState(s.state.Load())
}

// Start launches the sampling goroutine.
func (s *Sampler) Start() error {
	cur := s.State()
	if cur == SamplerRunning || cur == SamplerStopping {
		return ErrSamplerRunning
	}
	if !s.state.CompareAndSwap(int32(cur), int32(SamplerRunning)) {
		return ErrSamplerRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan Peaks, 1)
	go s.loop(s.stop, s.done)
	return nil
}

// Stop signals the goroutine and blocks until it has handed back its
// peaks. Stopping a sampler that is not running returns zero Peaks.
func (s *Sampler) Stop() Peaks {
	if !s.state.CompareAndSwap(int32(SamplerRunning), int32(SamplerStopping)) {
		return Peaks{}
	}
	close(s.stop)
	return <-s.done
}

func (s *Sampler) loop(stop <-chan struct{}, done chan<- Peaks) {
	var peaks Peaks
	s.sample(&peaks)

	timer := time.NewTimer(s.next())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			s.sample(&peaks)
			s.state.Store(int32(SamplerDone))
			done <- peaks
			return
		case <-timer.C:
			s.sample(&peaks)
			timer.Reset(s.next())
		}
	}
}

func (s *Sampler) sample(peaks *Peaks) {
	c, err := s.producer.Snapshot()
	if err != nil {
		return
	}
	peaks.observe(c)
}

// next returns the interval with uniform jitter applied.
func (s *Sampler) next() time.Duration {
	if s.jitter == 0 {
		return s.interval
	}
	f := 1 + s.jitter*(2*rand.Float64()-1)
	return time.Duration(float64(s.interval) * f)
}
