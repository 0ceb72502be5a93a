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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownMetric indicates a metric name could not be parsed.
	ErrUnknownMetric = errors.New("unknown metric")
)

// -----------------------------------------------------------------------------
// Polarity
// -----------------------------------------------------------------------------

// Polarity tells whether larger or smaller values are better.
type Polarity int

const (
	// PrefersSmaller means a smaller value is better (time, allocations).
	PrefersSmaller Polarity = iota

	// PrefersLarger means a larger value is better (throughput).
	PrefersLarger
)

// String returns the string representation.
func (p Polarity) String() string {
	switch p {
	case PrefersSmaller:
		return "smaller"
	case PrefersLarger:
		return "larger"
	default:
		return "unknown"
	}
}

// ParsePolarity parses "smaller" or "larger".
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(s) {
	case "smaller", "prefers-smaller":
		return PrefersSmaller, nil
	case "larger", "prefers-larger":
		return PrefersLarger, nil
	default:
		return PrefersSmaller, fmt.Errorf("parsing polarity %q: %w", s, ErrUnknownMetric)
	}
}

// -----------------------------------------------------------------------------
// Kind
// -----------------------------------------------------------------------------

// Kind is the variant tag of a Metric.
type Kind int

const (
	// KindDuration is a time-valued metric measured in nanoseconds.
	KindDuration Kind = iota

	// KindCount is a count or byte-valued metric.
	KindCount

	// KindCustom is a named, user-recorded metric.
	KindCustom
)

// String returns the string representation.
func (k Kind) String() string {
	switch k {
	case KindDuration:
		return "duration"
	case KindCount:
		return "count"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Metric
// -----------------------------------------------------------------------------

type builtin uint8

const (
	idCustom builtin = iota
	idWallClock
	idCPUUser
	idCPUSystem
	idCPUTotal
	idThroughput
	idPeakMemoryResident
	idPeakMemoryResidentDelta
	idPeakMemoryVirtual
	idMallocCountSmall
	idMallocCountLarge
	idMallocCountTotal
	idAllocatedResidentMemory
	idMemoryLeaked
	idSyscalls
	idContextSwitches
	idThreads
	idThreadsRunning
	idReadSyscalls
	idWriteSyscalls
	idReadBytesLogical
	idReadBytesPhysical
	idWriteBytesLogical
	idWriteBytesPhysical
	idRetainCount
	idReleaseCount
	idRetainReleaseDelta
	builtinCount
)

// Metric identifies what is measured.
//
// The zero value is not a valid metric; use the package-level built-ins or
// Custom. Metric is comparable and can be used as a map key.
type Metric struct {
	id       builtin
	name     string
	polarity Polarity
}

// Built-in metrics.
var (
	WallClock               = Metric{id: idWallClock}
	CPUUser                 = Metric{id: idCPUUser}
	CPUSystem               = Metric{id: idCPUSystem}
	CPUTotal                = Metric{id: idCPUTotal}
	Throughput              = Metric{id: idThroughput}
	PeakMemoryResident      = Metric{id: idPeakMemoryResident}
	PeakMemoryResidentDelta = Metric{id: idPeakMemoryResidentDelta}
	PeakMemoryVirtual       = Metric{id: idPeakMemoryVirtual}
	MallocCountSmall        = Metric{id: idMallocCountSmall}
	MallocCountLarge        = Metric{id: idMallocCountLarge}
	MallocCountTotal        = Metric{id: idMallocCountTotal}
	AllocatedResidentMemory = Metric{id: idAllocatedResidentMemory}
	MemoryLeaked            = Metric{id: idMemoryLeaked}
	Syscalls                = Metric{id: idSyscalls}
	ContextSwitches         = Metric{id: idContextSwitches}
	Threads                 = Metric{id: idThreads}
	ThreadsRunning          = Metric{id: idThreadsRunning}
	ReadSyscalls            = Metric{id: idReadSyscalls}
	WriteSyscalls           = Metric{id: idWriteSyscalls}
	ReadBytesLogical        = Metric{id: idReadBytesLogical}
	ReadBytesPhysical       = Metric{id: idReadBytesPhysical}
	WriteBytesLogical       = Metric{id: idWriteBytesLogical}
	WriteBytesPhysical      = Metric{id: idWriteBytesPhysical}
	RetainCount             = Metric{id: idRetainCount}
	ReleaseCount            = Metric{id: idReleaseCount}
	RetainReleaseDelta      = Metric{id: idRetainReleaseDelta}
)

var builtinInfo = [builtinCount]struct {
	code        string
	description string
}{
	idCustom:                  {"custom", "Custom"},
	idWallClock:               {"wallClock", "Time (wall clock)"},
	idCPUUser:                 {"cpuUser", "Time (user CPU)"},
	idCPUSystem:               {"cpuSystem", "Time (system CPU)"},
	idCPUTotal:                {"cpuTotal", "Time (total CPU)"},
	idThroughput:              {"throughput", "Throughput (# / s)"},
	idPeakMemoryResident:      {"peakMemoryResident", "Memory (resident peak)"},
	idPeakMemoryResidentDelta: {"peakMemoryResidentDelta", "Memory (resident peak delta)"},
	idPeakMemoryVirtual:       {"peakMemoryVirtual", "Memory (virtual peak)"},
	idMallocCountSmall:        {"mallocCountSmall", "Malloc (small)"},
	idMallocCountLarge:        {"mallocCountLarge", "Malloc (large)"},
	idMallocCountTotal:        {"mallocCountTotal", "Malloc (total)"},
	idAllocatedResidentMemory: {"allocatedResidentMemory", "Memory (allocated)"},
	idMemoryLeaked:            {"memoryLeaked", "Memory (leaked)"},
	idSyscalls:                {"syscalls", "Syscalls (total)"},
	idContextSwitches:         {"contextSwitches", "Context switches"},
	idThreads:                 {"threads", "Threads"},
	idThreadsRunning:          {"threadsRunning", "Threads (running)"},
	idReadSyscalls:            {"readSyscalls", "Syscalls (read)"},
	idWriteSyscalls:           {"writeSyscalls", "Syscalls (write)"},
	idReadBytesLogical:        {"readBytesLogical", "Bytes (read logical)"},
	idReadBytesPhysical:       {"readBytesPhysical", "Bytes (read physical)"},
	idWriteBytesLogical:       {"writeBytesLogical", "Bytes (write logical)"},
	idWriteBytesPhysical:      {"writeBytesPhysical", "Bytes (write physical)"},
	idRetainCount:             {"retainCount", "Retain count"},
	idReleaseCount:            {"releaseCount", "Release count"},
	idRetainReleaseDelta:      {"retainReleaseDelta", "Retain/release delta"},
}

// Custom returns a user-defined metric with the given polarity.
//
// Custom metrics are countable. Values are supplied by the benchmark through
// B.Record; the harness never samples them.
func Custom(name string, polarity Polarity) Metric {
	return Metric{id: idCustom, name: name, polarity: polarity}
}

// All returns every built-in metric in declaration order.
func All() []Metric {
	out := make([]Metric, 0, int(builtinCount)-1)
	for id := idWallClock; id < builtinCount; id++ {
		out = append(out, Metric{id: id})
	}
	return out
}

// Kind returns the variant tag.
func (m Metric) Kind() Kind {
	switch m.id {
	case idCustom:
		return KindCustom
	case idWallClock, idCPUUser, idCPUSystem, idCPUTotal:
		return KindDuration
	default:
		return KindCount
	}
}

// Polarity returns whether larger or smaller values are better.
func (m Metric) Polarity() Polarity {
	switch m.id {
	case idCustom:
		return m.polarity
	case idThroughput:
		return PrefersLarger
	default:
		return PrefersSmaller
	}
}

// Countable reports whether values are raw counts without a time unit.
func (m Metric) Countable() bool {
	return m.Kind() != KindDuration
}

// IsCustom reports whether m was built with Custom.
func (m Metric) IsCustom() bool {
	return m.id == idCustom
}

// Valid reports whether m is a built-in or a named custom metric.
func (m Metric) Valid() bool {
	if m.id == idCustom {
		return m.name != ""
	}
	return m.id < builtinCount
}

// Name returns the machine-readable code of the metric.
func (m Metric) Name() string {
	if m.id == idCustom {
		return m.name
	}
	if m.id >= builtinCount {
		return "unknown"
	}
	return builtinInfo[m.id].code
}

// Description returns the human-readable label used in reports and for
// ordering results.
func (m Metric) Description() string {
	if m.id == idCustom {
		return m.name
	}
	if m.id >= builtinCount {
		return "unknown"
	}
	return builtinInfo[m.id].description
}

// String returns the text form accepted by Parse.
func (m Metric) String() string {
	if m.id == idCustom {
		return "custom/" + m.polarity.String() + "/" + m.name
	}
	return m.Name()
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("marshalling metric: %w", ErrUnknownMetric)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Parse parses a built-in code ("wallClock") or a custom metric in the form
// "custom/<smaller|larger>/<name>".
func Parse(s string) (Metric, error) {
	if rest, ok := strings.CutPrefix(s, "custom/"); ok {
		pol, name, found := strings.Cut(rest, "/")
		if !found || name == "" {
			return Metric{}, fmt.Errorf("parsing metric %q: %w", s, ErrUnknownMetric)
		}
		polarity, err := ParsePolarity(pol)
		if err != nil {
			return Metric{}, fmt.Errorf("parsing metric %q: %w", s, ErrUnknownMetric)
		}
		return Custom(name, polarity), nil
	}
	for id := idWallClock; id < builtinCount; id++ {
		if strings.EqualFold(builtinInfo[id].code, s) {
			return Metric{id: id}, nil
		}
	}
	return Metric{}, fmt.Errorf("parsing metric %q: %w", s, ErrUnknownMetric)
}

// ParseList parses a list of metric names. The names "default", "all",
// "cpu", "memory", "system" and "disk" expand to the matching groups.
func ParseList(names []string) ([]Metric, error) {
	seen := make(map[Metric]bool)
	var out []Metric
	add := func(ms ...Metric) {
		for _, m := range ms {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	for _, name := range names {
		if group, ok := groups[strings.ToLower(name)]; ok {
			add(group...)
			continue
		}
		m, err := Parse(name)
		if err != nil {
			return nil, err
		}
		add(m)
	}
	return out, nil
}

// Sort orders metrics by description, the order results are emitted in.
func Sort(ms []Metric) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].Description() < ms[j].Description()
	})
}

// Metric groups.
var (
	Default = []Metric{WallClock, CPUTotal, MallocCountTotal, Throughput, PeakMemoryResident}
	CPU     = []Metric{CPUUser, CPUSystem, CPUTotal}
	Memory  = []Metric{PeakMemoryResident, PeakMemoryResidentDelta, PeakMemoryVirtual,
		MallocCountSmall, MallocCountLarge, MallocCountTotal, AllocatedResidentMemory, MemoryLeaked}
	System = []Metric{WallClock, Syscalls, ContextSwitches, Threads, ThreadsRunning}
	Disk   = []Metric{ReadSyscalls, WriteSyscalls, ReadBytesLogical, ReadBytesPhysical,
		WriteBytesLogical, WriteBytesPhysical}
	References = []Metric{RetainCount, ReleaseCount, RetainReleaseDelta}
)

var groups = map[string][]Metric{
	"default":    Default,
	"all":        All(),
	"cpu":        CPU,
	"memory":     Memory,
	"system":     System,
	"disk":       Disk,
	"references": References,
}
