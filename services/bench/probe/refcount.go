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
	"sync/atomic"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
)

// RefCounter counts retain and release events reported by benchmark code,
// for workloads that manage reference-counted resources (pooled buffers,
// shared handles).
//
// Thread Safety: Safe for concurrent use.
type RefCounter struct {
	retains  atomic.Int64
	releases atomic.Int64
}

// Retain records one retain.
func (c *RefCounter) Retain() {
	c.retains.Add(1)
}

// Release records one release.
func (c *RefCounter) Release() {
	c.releases.Add(1)
}

// Supported implements ReferenceProducer.
func (c *RefCounter) Supported(m metric.Metric) bool {
	return SourceOf(m) == SourceReference
}

// Snapshot implements ReferenceProducer.
func (c *RefCounter) Snapshot() (ReferenceCounts, error) {
	return ReferenceCounts{
		Retains:  c.retains.Load(),
		Releases: c.releases.Load(),
	}, nil
}

var _ ReferenceProducer = (*RefCounter)(nil)
