// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package table persists static per-metric p90 values used for absolute
// (baseline independent) checks.
//
// A thresholds directory holds one file per target, named after the
// target ("default" for the empty target). YAML files (.yaml, .yml) and
// JSON files (.json) are both read; Save writes YAML.
package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrTableNotFound indicates the thresholds directory does not exist.
	ErrTableNotFound = errors.New("threshold table not found")

	// ErrInvalidTable indicates a threshold file could not be decoded.
	ErrInvalidTable = errors.New("invalid threshold table")
)

// defaultTarget names the file of benchmarks without a target.
const defaultTarget = "default"

// file is the on-disk layout of one target.
type file struct {
	Target     string                             `json:"target" yaml:"target"`
	Benchmarks map[string]map[metric.Metric]int64 `json:"benchmarks" yaml:"benchmarks"`
}

// -----------------------------------------------------------------------------
// Table
// -----------------------------------------------------------------------------

// Table maps (target, benchmark) to the stored p90 of each metric, in base
// units.
//
// Thread Safety: Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[result.ID]map[metric.Metric]int64
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make(map[result.ID]map[metric.Metric]int64)}
}

// LoadTable reads every threshold file in dir.
//
// Inputs:
//   - dir: The thresholds directory.
//
// Outputs:
//   - *Table: The loaded table.
//   - error: ErrTableNotFound if dir does not exist, ErrInvalidTable
//     wrapped with the file name if a file cannot be decoded.
func LoadTable(dir string) (*Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", dir, ErrTableNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	t := New()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		var f file
		if ext == ".json" {
			err = json.Unmarshal(data, &f)
		} else {
			err = yaml.Unmarshal(data, &f)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w: %v", name, ErrInvalidTable, err)
		}

		target := f.Target
		if target == "" {
			target = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if target == defaultTarget {
			target = ""
		}
		for bench, values := range f.Benchmarks {
			for m, v := range values {
				if v < 0 {
					return nil, fmt.Errorf("%s: %s/%s is negative: %w", name, bench, m, ErrInvalidTable)
				}
				t.Set(result.ID{Target: target, Name: bench}, m, v)
			}
		}
	}
	return t, nil
}

// Save writes one YAML file per target into dir, creating it if needed.
func (t *Table) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	t.mu.RLock()
	files := make(map[string]*file)
	for id, values := range t.entries {
		target := id.Target
		if target == "" {
			target = defaultTarget
		}
		f, ok := files[target]
		if !ok {
			f = &file{Target: id.Target, Benchmarks: make(map[string]map[metric.Metric]int64)}
			files[target] = f
		}
		copied := make(map[metric.Metric]int64, len(values))
		for m, v := range values {
			copied[m] = v
		}
		f.Benchmarks[id.Name] = copied
	}
	t.mu.RUnlock()

	for target, f := range files {
		data, err := yaml.Marshal(f)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", target, err)
		}
		path := filepath.Join(dir, fileName(target)+".yaml")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("renaming %s: %w", path, err)
		}
	}
	return nil
}

// fileName maps a target to a safe file stem.
func fileName(target string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, target)
}

// Set stores the p90 of m for id, in base units.
func (t *Table) Set(id result.ID, m metric.Metric, p90 int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	values, ok := t.entries[id]
	if !ok {
		values = make(map[metric.Metric]int64)
		t.entries[id] = values
	}
	values[m] = p90
}

// P90 returns the stored p90 of m for id.
func (t *Table) P90(id result.ID, m metric.Metric) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[id][m]
	return v, ok
}

// Get returns a copy of every stored value for id.
func (t *Table) Get(id result.ID) (map[metric.Metric]int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	values, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	out := make(map[metric.Metric]int64, len(values))
	for m, v := range values {
		out[m] = v
	}
	return out, true
}

// IDs returns every benchmark in the table, sorted.
func (t *Table) IDs() []result.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]result.ID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	result.SortIDs(ids)
	return ids
}

// Metrics returns the metrics stored for id, sorted by description.
func (t *Table) Metrics(id result.ID) []metric.Metric {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ms := make([]metric.Metric, 0, len(t.entries[id]))
	for m := range t.entries[id] {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Description() < ms[j].Description() })
	return ms
}

// Len returns the number of benchmarks in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Update replaces the stored values of id with the p90 of each result.
// Results without a p90 are skipped. Returns the number stored.
func (t *Table) Update(id result.ID, results []result.Result) int {
	values := make(map[metric.Metric]int64, len(results))
	for _, r := range results {
		v, ok := r.Base(metric.P90)
		if !ok {
			continue
		}
		values[r.Metric] = int64(math.Round(v))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = values
	return len(values)
}
