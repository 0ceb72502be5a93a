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
	"runtime/metrics"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
)

// LargeAllocationThreshold splits small from large allocations, matching the
// runtime's size-class limit.
const LargeAllocationThreshold = 32 << 10

const sampleTinyAllocs = "/gc/heap/tiny/allocs:objects"

// RuntimeAllocator reads Go allocator counters with runtime.ReadMemStats.
//
// Description:
//
//	ReadMemStats flushes every per-P allocation cache before reading, so
//	consecutive snapshots differ by exactly the objects allocated in
//	between. Small allocations are the size-class counts up to
//	LargeAllocationThreshold plus tiny objects; everything else counted in
//	Mallocs is large. AllocatedResidentMemory is HeapAlloc.
//
//	The tiny object count is not part of MemStats. It is read through
//	runtime/metrics right after ReadMemStats, while the flushed value is
//	current.
//
// Thread Safety: Not safe for concurrent use; the buffers are reused.
type RuntimeAllocator struct {
	stats runtime.MemStats
	tiny  []metrics.Sample
}

// NewAllocatorProducer returns the runtime allocator producer.
func NewAllocatorProducer() *RuntimeAllocator {
	return &RuntimeAllocator{tiny: []metrics.Sample{{Name: sampleTinyAllocs}}}
}

// Supported implements AllocatorProducer.
func (a *RuntimeAllocator) Supported(m metric.Metric) bool {
	return SourceOf(m) == SourceAllocator
}

// Snapshot implements AllocatorProducer.
func (a *RuntimeAllocator) Snapshot() (AllocatorCounters, error) {
	runtime.ReadMemStats(&a.stats)
	metrics.Read(a.tiny)

	var tiny uint64
	if a.tiny[0].Value.Kind() == metrics.KindUint64 {
		tiny = a.tiny[0].Value.Uint64()
	}
	return countersFrom(&a.stats, tiny), nil
}

// countersFrom splits ms into allocator counters.
func countersFrom(ms *runtime.MemStats, tiny uint64) AllocatorCounters {
	small := tiny
	for _, class := range ms.BySize {
		if class.Size <= LargeAllocationThreshold {
			small += class.Mallocs
		}
	}
	c := AllocatorCounters{
		MallocCountTotal:        int64(ms.Mallocs),
		MallocCountSmall:        int64(small),
		FreeCount:               int64(ms.Frees),
		AllocatedResidentMemory: int64(ms.HeapAlloc),
	}
	if large := c.MallocCountTotal - c.MallocCountSmall; large > 0 {
		c.MallocCountLarge = large
	}
	return c
}

var _ AllocatorProducer = (*RuntimeAllocator)(nil)
