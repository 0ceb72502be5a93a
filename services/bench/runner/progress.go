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
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/result"
)

// DefaultProgressInterval is the minimum time between progress updates.
const DefaultProgressInterval = 100 * time.Millisecond

// Update describes the position of a running benchmark.
type Update struct {
	ID            result.ID
	State         State
	Iterations    int
	MaxIterations int
	Elapsed       time.Duration
	MaxDuration   time.Duration
}

// Fraction returns how close the run is to its nearest hard limit, in
// [0, 1].
func (u Update) Fraction() float64 {
	var f float64
	if u.MaxIterations > 0 {
		f = float64(u.Iterations) / float64(u.MaxIterations)
	}
	if u.MaxDuration > 0 {
		f = max(f, float64(u.Elapsed)/float64(u.MaxDuration))
	}
	return min(f, 1)
}

// Progress receives updates between iterations. It is never called inside
// a measured window.
type Progress interface {
	// Update reports the current position. Calls are throttled.
	Update(u Update)

	// Finish reports a terminal run.
	Finish(run *Run)
}

// ProgressFunc adapts a function to Progress; Finish is a no-op.
type ProgressFunc func(u Update)

// Update implements Progress.
func (f ProgressFunc) Update(u Update) { f(u) }

// Finish implements Progress.
func (ProgressFunc) Finish(*Run) {}
