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
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/result"
)

// Registry holds the benchmarks of one harness invocation.
//
// Description:
//
//	The harness entry point builds a Registry and passes it to
//	Runner.RunAll. Benchmarks are keyed by (target, name); the key must be
//	unique.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu         sync.RWMutex
	benchmarks map[result.ID]*Benchmark
	hooks      []RegistrationHook
}

// RegistrationHook is called when a benchmark is registered or
// unregistered.
type RegistrationHook func(bm *Benchmark, registered bool)

// NewRegistry creates a new empty registry.
//
// Outputs:
//   - *Registry: The new registry. Never nil.
//
// Example:
//
//	registry := runner.NewRegistry()
//	registry.MustRegister(&runner.Benchmark{Name: "encode", Run: encode})
func NewRegistry() *Registry {
	return &Registry{
		benchmarks: make(map[result.ID]*Benchmark),
	}
}

// OnChange adds a hook notified on every registration change.
func (r *Registry) OnChange(hook RegistrationHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register adds a benchmark.
//
// Inputs:
//   - bm: The benchmark. Must not be nil, must have a name and exactly one
//     closure, and its Config, if set, must be valid.
//
// Outputs:
//   - error: ErrNilBenchmark, ErrInvalidConfig, or ErrDuplicate when the
//     (target, name) key is taken.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(bm *Benchmark) error {
	if bm == nil {
		return ErrNilBenchmark
	}
	if err := bm.validate(); err != nil {
		return err
	}
	if bm.Config != nil {
		if err := bm.Config.Validate(); err != nil {
			return fmt.Errorf("benchmark %s: %w", bm.ID(), err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := bm.ID()
	if _, exists := r.benchmarks[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.benchmarks[id] = bm

	for _, hook := range r.hooks {
		hook(bm, true)
	}
	return nil
}

// MustRegister registers a benchmark and panics on error. Intended for
// suite construction at startup.
func (r *Registry) MustRegister(bm *Benchmark) {
	if err := r.Register(bm); err != nil {
		panic(fmt.Sprintf("runner: failed to register benchmark: %v", err))
	}
}

// Unregister removes the benchmark with id.
//
// Outputs:
//   - error: nil on success, ErrNotFound if not registered.
func (r *Registry) Unregister(id result.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, exists := r.benchmarks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.benchmarks, id)

	for _, hook := range r.hooks {
		hook(bm, false)
	}
	return nil
}

// Get retrieves a benchmark by id.
func (r *Registry) Get(id result.ID) (*Benchmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bm, ok := r.benchmarks[id]
	return bm, ok
}

// List returns every registered id, sorted by target then name.
func (r *Registry) List() []result.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]result.ID, 0, len(r.benchmarks))
	for id := range r.benchmarks {
		ids = append(ids, id)
	}
	result.SortIDs(ids)
	return ids
}

// Benchmarks returns every registered benchmark in List order.
func (r *Registry) Benchmarks() []*Benchmark {
	ids := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Benchmark, 0, len(ids))
	for _, id := range ids {
		if bm, ok := r.benchmarks[id]; ok {
			out = append(out, bm)
		}
	}
	return out
}

// Count returns the number of registered benchmarks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.benchmarks)
}

// Filter returns a new registry holding the benchmarks keep accepts.
// Hooks are not copied.
func (r *Registry) Filter(keep func(*Benchmark) bool) *Registry {
	out := NewRegistry()
	for _, bm := range r.Benchmarks() {
		if keep(bm) {
			out.benchmarks[bm.ID()] = bm
		}
	}
	return out
}
