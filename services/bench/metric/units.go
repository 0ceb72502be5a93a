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

// -----------------------------------------------------------------------------
// Time Unit
// -----------------------------------------------------------------------------

// TimeUnit is the unit duration metrics are expressed in.
type TimeUnit int

const (
	// Automatic picks a unit from the magnitude of the median.
	Automatic TimeUnit = iota
	Nanoseconds
	Microseconds
	Milliseconds
	Seconds
)

// Nanos returns how many nanoseconds one unit holds. Automatic is treated as
// nanoseconds until it is resolved.
func (u TimeUnit) Nanos() float64 {
	switch u {
	case Microseconds:
		return 1e3
	case Milliseconds:
		return 1e6
	case Seconds:
		return 1e9
	default:
		return 1
	}
}

// String returns the short unit label.
func (u TimeUnit) String() string {
	switch u {
	case Automatic:
		return "auto"
	case Nanoseconds:
		return "ns"
	case Microseconds:
		return "μs"
	case Milliseconds:
		return "ms"
	case Seconds:
		return "s"
	default:
		return "unknown"
	}
}

// Resolve returns u, or for Automatic the largest unit in which ns is at
// least one.
func (u TimeUnit) Resolve(ns float64) TimeUnit {
	if u != Automatic {
		return u
	}
	switch {
	case ns >= 1e9:
		return Seconds
	case ns >= 1e6:
		return Milliseconds
	case ns >= 1e3:
		return Microseconds
	default:
		return Nanoseconds
	}
}

// MarshalText implements encoding.TextMarshaler.
func (u TimeUnit) MarshalText() ([]byte, error) {
	switch u {
	case Automatic:
		return []byte("automatic"), nil
	case Nanoseconds:
		return []byte("nanoseconds"), nil
	case Microseconds:
		return []byte("microseconds"), nil
	case Milliseconds:
		return []byte("milliseconds"), nil
	case Seconds:
		return []byte("seconds"), nil
	default:
		return nil, fmt.Errorf("marshalling time unit %d: unknown unit", int(u))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *TimeUnit) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeUnit(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ParseTimeUnit parses long or short unit names.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(s) {
	case "", "auto", "automatic":
		return Automatic, nil
	case "ns", "nanoseconds":
		return Nanoseconds, nil
	case "us", "μs", "microseconds":
		return Microseconds, nil
	case "ms", "milliseconds":
		return Milliseconds, nil
	case "s", "seconds":
		return Seconds, nil
	default:
		return Automatic, fmt.Errorf("parsing time unit %q: unknown unit", s)
	}
}

// -----------------------------------------------------------------------------
// Scaling Factor
// -----------------------------------------------------------------------------

// ScalingFactor divides countable values for display, and tells a benchmark
// how many inner operations one iteration stands for.
type ScalingFactor int64

const (
	One  ScalingFactor = 1
	Kilo ScalingFactor = 1_000
	Mega ScalingFactor = 1_000_000
	Giga ScalingFactor = 1_000_000_000
)

// Divisor returns the factor as a float, treating non-positive values as One.
func (s ScalingFactor) Divisor() float64 {
	if s <= 0 {
		return 1
	}
	return float64(s)
}

// String returns the suffix label.
func (s ScalingFactor) String() string {
	switch s {
	case One, 0:
		return "#"
	case Kilo:
		return "K"
	case Mega:
		return "M"
	case Giga:
		return "G"
	default:
		return fmt.Sprintf("×%d", int64(s))
	}
}

// ParseScalingFactor parses "one", "kilo", "mega" or "giga".
func ParseScalingFactor(s string) (ScalingFactor, error) {
	switch strings.ToLower(s) {
	case "", "one", "1":
		return One, nil
	case "kilo", "k":
		return Kilo, nil
	case "mega", "m":
		return Mega, nil
	case "giga", "g":
		return Giga, nil
	default:
		return One, fmt.Errorf("parsing scaling factor %q: unknown factor", s)
	}
}
