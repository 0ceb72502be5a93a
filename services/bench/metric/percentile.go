// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metric

import (
	"fmt"
	"strings"
)

// Percentile is one of the seven tracked cut points.
type Percentile int

const (
	P0 Percentile = iota
	P25
	P50
	P75
	P90
	P99
	P100
	percentileCount
)

// PercentileCount is the number of tracked cut points.
const PercentileCount = int(percentileCount)

var percentileValues = [percentileCount]float64{0, 25, 50, 75, 90, 99, 100}

// Percentiles returns the seven cut points in ascending order.
func Percentiles() []Percentile {
	return []Percentile{P0, P25, P50, P75, P90, P99, P100}
}

// Value returns the cut point in the range 0..100.
func (p Percentile) Value() float64 {
	if !p.Valid() {
		return 0
	}
	return percentileValues[p]
}

// Valid reports whether p is a tracked cut point.
func (p Percentile) Valid() bool {
	return p >= P0 && p < percentileCount
}

// String returns "p0", "p25", ... "p100".
func (p Percentile) String() string {
	if !p.Valid() {
		return fmt.Sprintf("p?%d", int(p))
	}
	return fmt.Sprintf("p%g", percentileValues[p])
}

// MarshalText implements encoding.TextMarshaler.
func (p Percentile) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("marshalling percentile %d: out of range", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Percentile) UnmarshalText(text []byte) error {
	parsed, err := ParsePercentile(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePercentile accepts "p50", "50" or "median".
func ParsePercentile(s string) (Percentile, error) {
	switch strings.ToLower(s) {
	case "median":
		return P50, nil
	case "min":
		return P0, nil
	case "max":
		return P100, nil
	}
	trimmed := strings.TrimPrefix(strings.ToLower(s), "p")
	for i, v := range percentileValues {
		if fmt.Sprintf("%g", v) == trimmed {
			return Percentile(i), nil
		}
	}
	return P0, fmt.Errorf("parsing percentile %q: not one of p0, p25, p50, p75, p90, p99, p100", s)
}
