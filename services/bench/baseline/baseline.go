// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package baseline stores named sets of benchmark results used as a
// comparison reference.
//
// A Baseline maps each (target, benchmark) to the results of one run,
// together with a description of the machine that produced them. Stores
// persist baselines in memory, as JSON files, in BadgerDB, in SQLite or in
// Redis; all of them use the same JSON encoding.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/runner"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBaselineNotFound indicates no baseline exists under the name.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrInvalidBaseline indicates the baseline data is corrupted.
	ErrInvalidBaseline = errors.New("invalid baseline data")

	// ErrIncompatibleFormat indicates the baseline was written by an
	// incompatible format version.
	ErrIncompatibleFormat = errors.New("incompatible baseline format")

	// ErrInvalidName indicates a name that cannot be used as a key.
	ErrInvalidName = errors.New("invalid baseline name")
)

// FormatVersion is written into every encoded baseline. Baselines with the
// same major version can be read.
const FormatVersion = "v1.1.0"

// -----------------------------------------------------------------------------
// Baseline
// -----------------------------------------------------------------------------

// Baseline is a named set of per-benchmark results.
type Baseline struct {
	Format    string                        `json:"format"`
	Name      string                        `json:"name"`
	RunID     uuid.UUID                     `json:"run_id"`
	CreatedAt time.Time                     `json:"created_at"`
	Machine   Machine                       `json:"machine"`
	Results   map[result.ID][]result.Result `json:"results"`
}

// New creates an empty baseline for this machine.
//
// Inputs:
//   - name: The baseline name.
//
// Outputs:
//   - *Baseline: Never nil, with a fresh run ID.
func New(name string) *Baseline {
	return &Baseline{
		Format:    FormatVersion,
		Name:      name,
		RunID:     uuid.New(),
		CreatedAt: time.Now().UTC(),
		Machine:   CurrentMachine(),
		Results:   make(map[result.ID][]result.Result),
	}
}

// FromRuns builds a baseline from completed runs. Failed runs are skipped.
//
// Example:
//
//	runs, _ := r.RunAll(ctx, registry)
//	b := baseline.FromRuns("main", runs)
func FromRuns(name string, runs []*runner.Run) *Baseline {
	b := New(name)
	for _, run := range runs {
		if run == nil || run.Failed() {
			continue
		}
		b.Add(run.ID, run.Results)
	}
	return b
}

// Add stores deep copies of results for id, replacing any previous entry.
func (b *Baseline) Add(id result.ID, results []result.Result) {
	if b.Results == nil {
		b.Results = make(map[result.ID][]result.Result)
	}
	out := make([]result.Result, len(results))
	for i, r := range results {
		out[i] = r.Clone()
	}
	result.Sort(out)
	b.Results[id] = out
}

// IDs returns every benchmark in the baseline, sorted.
func (b *Baseline) IDs() []result.ID {
	ids := make([]result.ID, 0, len(b.Results))
	for id := range b.Results {
		ids = append(ids, id)
	}
	result.SortIDs(ids)
	return ids
}

// Lookup returns the result of m for id.
func (b *Baseline) Lookup(id result.ID, m metric.Metric) (result.Result, bool) {
	rs, ok := b.Results[id]
	if !ok {
		return result.Result{}, false
	}
	return result.Find(rs, m)
}

// Len returns the number of benchmarks.
func (b *Baseline) Len() int {
	return len(b.Results)
}

// Validate checks the name and format version.
//
// Outputs:
//   - error: ErrInvalidName, ErrIncompatibleFormat or nil.
func (b *Baseline) Validate() error {
	if err := ValidateName(b.Name); err != nil {
		return err
	}
	if !semver.IsValid(b.Format) {
		return fmt.Errorf("format %q: %w", b.Format, ErrIncompatibleFormat)
	}
	if semver.Major(b.Format) != semver.Major(FormatVersion) {
		return fmt.Errorf("format %s, supported %s: %w", b.Format, semver.Major(FormatVersion), ErrIncompatibleFormat)
	}
	return nil
}

// ValidateName rejects names that are empty or cannot be used as a file or
// key name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	for _, r := range name {
		switch {
		case r == '/', r == '\\', r == 0, r < 0x20:
			return fmt.Errorf("%q: %w", name, ErrInvalidName)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// Marshal encodes b as indented JSON, stamping the current format version.
func Marshal(b *Baseline) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("nil baseline: %w", ErrInvalidBaseline)
	}
	out := *b
	out.Format = FormatVersion
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding baseline %s: %w", b.Name, err)
	}
	return data, nil
}

// Unmarshal decodes and validates a baseline.
//
// Outputs:
//   - *Baseline: The decoded baseline.
//   - error: ErrInvalidBaseline for malformed data, ErrIncompatibleFormat
//     for a different major version.
func Unmarshal(data []byte) (*Baseline, error) {
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseline, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Results == nil {
		b.Results = make(map[result.ID][]result.Result)
	}
	return &b, nil
}

// -----------------------------------------------------------------------------
// Merge & Equality
// -----------------------------------------------------------------------------

// Merge returns the union of a and b keyed by benchmark. When both define
// the same benchmark, a's results are kept. Name, run ID and machine come
// from a.
func Merge(a, b *Baseline) *Baseline {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		a, b = b, nil
	}

	out := &Baseline{
		Format:    FormatVersion,
		Name:      a.Name,
		RunID:     a.RunID,
		CreatedAt: a.CreatedAt,
		Machine:   a.Machine,
		Results:   make(map[result.ID][]result.Result, len(a.Results)),
	}
	for id, rs := range a.Results {
		out.Add(id, rs)
	}
	if b != nil {
		for id, rs := range b.Results {
			if _, ok := out.Results[id]; ok {
				continue
			}
			out.Add(id, rs)
		}
	}
	return out
}

// equalTolerance is the relative difference below which two percentile
// values are considered equal after rescaling.
const equalTolerance = 1e-9

// Equal reports whether a and b were produced on the same machine and hold
// the same percentiles for every benchmark and metric, after rescaling b
// into a's units.
func Equal(a, b *Baseline) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Machine != b.Machine || len(a.Results) != len(b.Results) {
		return false
	}
	for id, ars := range a.Results {
		brs, ok := b.Results[id]
		if !ok || len(ars) != len(brs) {
			return false
		}
		for _, ar := range ars {
			br, ok := result.Find(brs, ar.Metric)
			if !ok || !equalResults(ar, br.RescaledTo(ar)) {
				return false
			}
		}
	}
	return true
}

func equalResults(a, b result.Result) bool {
	if len(a.Percentiles) != len(b.Percentiles) {
		return false
	}
	for p, av := range a.Percentiles {
		bv, ok := b.Percentiles[p]
		if !ok || !approxEqual(av, bv) {
			return false
		}
	}
	return true
}

func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= equalTolerance*math.Max(math.Abs(a), math.Abs(b))
}
