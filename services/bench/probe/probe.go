// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probe provides point-in-time counter snapshots for the execution
// loop.
//
// Three producers exist: the OS producer (CPU time, memory, threads,
// context switches, I/O), the allocator producer (Go runtime allocation
// counters) and the reference counter (retain/release traffic recorded by
// benchmarks). Each one reports which metrics it supports on the current
// platform; unsupported metrics are filtered out before a run starts.
//
// Sampler runs alongside the measured loop and tracks peak levels.
package probe

import (
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
)

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

// Counters is a snapshot of process-level OS counters.
//
// CPU times are nanoseconds, memory values are bytes. Memory and thread
// fields are levels at snapshot time; the others are monotonic.
type Counters struct {
	CPUUser            int64
	CPUSystem          int64
	PeakMemoryResident int64
	PeakMemoryVirtual  int64
	Syscalls           int64
	ContextSwitches    int64
	Threads            int64
	ThreadsRunning     int64
	ReadSyscalls       int64
	WriteSyscalls      int64
	ReadBytesLogical   int64
	ReadBytesPhysical  int64
	WriteBytesLogical  int64
	WriteBytesPhysical int64
}

// AllocatorCounters is a snapshot of cumulative allocator counters.
type AllocatorCounters struct {
	MallocCountSmall        int64
	MallocCountLarge        int64
	MallocCountTotal        int64
	FreeCount               int64
	AllocatedResidentMemory int64
}

// ReferenceCounts is a snapshot of cumulative retain/release traffic.
type ReferenceCounts struct {
	Retains  int64
	Releases int64
}

// -----------------------------------------------------------------------------
// Producers
// -----------------------------------------------------------------------------

// Producer supplies OS counter snapshots.
type Producer interface {
	// Supported reports whether m can be measured on this platform.
	Supported(m metric.Metric) bool

	// Select restricts Snapshot to the sources needed for ms.
	Select(ms []metric.Metric)

	// Snapshot reads the selected counters.
	Snapshot() (Counters, error)
}

// AllocatorProducer supplies allocator counter snapshots.
type AllocatorProducer interface {
	Supported(m metric.Metric) bool
	Snapshot() (AllocatorCounters, error)
}

// ReferenceProducer supplies retain/release snapshots.
type ReferenceProducer interface {
	Supported(m metric.Metric) bool
	Snapshot() (ReferenceCounts, error)
}

// -----------------------------------------------------------------------------
// Metric Classification
// -----------------------------------------------------------------------------

// Source names the producer a metric is read from.
type Source int

const (
	// SourceNone is for metrics no producer samples (wall clock,
	// throughput, custom metrics).
	SourceNone Source = iota
	SourceOS
	SourceAllocator
	SourceReference
)

// String returns the string representation.
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceOS:
		return "os"
	case SourceAllocator:
		return "allocator"
	case SourceReference:
		return "reference"
	default:
		return "unknown"
	}
}

// SourceOf returns the producer responsible for m.
func SourceOf(m metric.Metric) Source {
	switch m {
	case metric.CPUUser, metric.CPUSystem, metric.CPUTotal,
		metric.PeakMemoryResident, metric.PeakMemoryResidentDelta, metric.PeakMemoryVirtual,
		metric.Syscalls, metric.ContextSwitches, metric.Threads, metric.ThreadsRunning,
		metric.ReadSyscalls, metric.WriteSyscalls,
		metric.ReadBytesLogical, metric.ReadBytesPhysical,
		metric.WriteBytesLogical, metric.WriteBytesPhysical:
		return SourceOS
	case metric.MallocCountSmall, metric.MallocCountLarge, metric.MallocCountTotal,
		metric.AllocatedResidentMemory, metric.MemoryLeaked:
		return SourceAllocator
	case metric.RetainCount, metric.ReleaseCount, metric.RetainReleaseDelta:
		return SourceReference
	default:
		return SourceNone
	}
}

// IsLevel reports whether m records the level at the end of an iteration
// rather than the difference across it.
func IsLevel(m metric.Metric) bool {
	switch m {
	case metric.PeakMemoryResident, metric.PeakMemoryVirtual, metric.Threads, metric.ThreadsRunning:
		return true
	default:
		return false
	}
}

// OSValue extracts the counter for m from c. The second result is false
// when m is not an OS metric.
func OSValue(c Counters, m metric.Metric) (int64, bool) {
	switch m {
	case metric.CPUUser:
		return c.CPUUser, true
	case metric.CPUSystem:
		return c.CPUSystem, true
	case metric.CPUTotal:
		return c.CPUUser + c.CPUSystem, true
	case metric.PeakMemoryResident, metric.PeakMemoryResidentDelta:
		return c.PeakMemoryResident, true
	case metric.PeakMemoryVirtual:
		return c.PeakMemoryVirtual, true
	case metric.Syscalls:
		return c.Syscalls, true
	case metric.ContextSwitches:
		return c.ContextSwitches, true
	case metric.Threads:
		return c.Threads, true
	case metric.ThreadsRunning:
		return c.ThreadsRunning, true
	case metric.ReadSyscalls:
		return c.ReadSyscalls, true
	case metric.WriteSyscalls:
		return c.WriteSyscalls, true
	case metric.ReadBytesLogical:
		return c.ReadBytesLogical, true
	case metric.ReadBytesPhysical:
		return c.ReadBytesPhysical, true
	case metric.WriteBytesLogical:
		return c.WriteBytesLogical, true
	case metric.WriteBytesPhysical:
		return c.WriteBytesPhysical, true
	default:
		return 0, false
	}
}

// AllocatorValue extracts the counter for m from c.
func AllocatorValue(c AllocatorCounters, m metric.Metric) (int64, bool) {
	switch m {
	case metric.MallocCountSmall:
		return c.MallocCountSmall, true
	case metric.MallocCountLarge:
		return c.MallocCountLarge, true
	case metric.MallocCountTotal:
		return c.MallocCountTotal, true
	case metric.AllocatedResidentMemory:
		return c.AllocatedResidentMemory, true
	case metric.MemoryLeaked:
		return c.MallocCountTotal - c.FreeCount, true
	default:
		return 0, false
	}
}

// ReferenceValue extracts the counter for m from c.
func ReferenceValue(c ReferenceCounts, m metric.Metric) (int64, bool) {
	switch m {
	case metric.RetainCount:
		return c.Retains, true
	case metric.ReleaseCount:
		return c.Releases, true
	case metric.RetainReleaseDelta:
		return c.Retains - c.Releases, true
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------------
// Nop Producers
// -----------------------------------------------------------------------------

// NopProducer supports nothing and returns zero snapshots.
type NopProducer struct{}

// Supported implements Producer.
func (NopProducer) Supported(metric.Metric) bool { return false }

// Select implements Producer.
func (NopProducer) Select([]metric.Metric) {}

// Snapshot implements Producer.
func (NopProducer) Snapshot() (Counters, error) { return Counters{}, nil }

var _ Producer = NopProducer{}
