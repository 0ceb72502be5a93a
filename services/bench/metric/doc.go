// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metric defines what a benchmark measures and how values are
// expressed.
//
// # Metrics
//
// A Metric is a closed variant with three kinds:
//
//   - KindDuration: CPU and wall-clock time. Values are nanoseconds and are
//     scaled by a TimeUnit for display and comparison.
//   - KindCount: raw counts or byte values (allocations, syscalls, memory,
//     throughput). Values carry no time unit and are divided by a
//     ScalingFactor for display.
//   - KindCustom: a named, user-recorded count with its own Polarity.
//
// Built-in metrics are package-level values (WallClock, Throughput, ...).
// Polarity and countability are resolved by an exhaustive switch over the
// built-in identifiers; no string comparison happens for built-ins.
//
// # Percentiles
//
// Seven cut points are tracked for every metric: p0, p25, p50, p75, p90,
// p99 and p100. See Percentile.
//
// # Thread Safety
//
// All types in this package are immutable values and safe for concurrent use.
package metric
