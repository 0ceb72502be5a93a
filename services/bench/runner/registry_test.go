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
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/result"
)

func noop(*B) {}

func TestRegistry_Register(t *testing.T) {
	t.Run("registers and gets", func(t *testing.T) {
		r := NewRegistry()
		bm := &Benchmark{Name: "encode", Target: "codec", Run: noop}
		if err := r.Register(bm); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		got, ok := r.Get(result.ID{Target: "codec", Name: "encode"})
		if !ok || got != bm {
			t.Errorf("Get returned %v, %v", got, ok)
		}
	})

	t.Run("rejects nil", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(nil); err != ErrNilBenchmark {
			t.Errorf("expected ErrNilBenchmark, got %v", err)
		}
	})

	t.Run("rejects duplicate key", func(t *testing.T) {
		r := NewRegistry()
		r.MustRegister(&Benchmark{Name: "a", Target: "t", Run: noop})
		err := r.Register(&Benchmark{Name: "a", Target: "t", Run: noop})
		if err == nil || !strings.Contains(err.Error(), ErrDuplicate.Error()) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("same name in another target", func(t *testing.T) {
		r := NewRegistry()
		r.MustRegister(&Benchmark{Name: "a", Target: "t1", Run: noop})
		if err := r.Register(&Benchmark{Name: "a", Target: "t2", Run: noop}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		r := NewRegistry()
		cfg := DefaultConfiguration().Apply(WithIterations(5, 1))
		err := r.Register(&Benchmark{Name: "a", Config: &cfg, Run: noop})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("rejects both closures", func(t *testing.T) {
		r := NewRegistry()
		err := r.Register(&Benchmark{
			Name:     "a",
			Run:      noop,
			RunAsync: func(*B) <-chan error { return nil },
		})
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewRegistry().MustRegister(&Benchmark{})
}

func TestRegistry_ListAndUnregister(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Benchmark{Name: "z", Target: "b", Run: noop})
	r.MustRegister(&Benchmark{Name: "y", Target: "a", Run: noop})
	r.MustRegister(&Benchmark{Name: "x", Target: "b", Run: noop})

	want := []result.ID{{Target: "a", Name: "y"}, {Target: "b", Name: "x"}, {Target: "b", Name: "z"}}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("List returned %d ids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if err := r.Unregister(result.ID{Target: "b", Name: "x"}); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if r.Count() != 2 {
		t.Errorf("Count = %d, want 2", r.Count())
	}
	if err := r.Unregister(result.ID{Target: "b", Name: "x"}); err == nil {
		t.Error("expected ErrNotFound on second unregister")
	}
}

func TestRegistry_Hooks(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	events := map[string]bool{}
	r.OnChange(func(bm *Benchmark, registered bool) {
		mu.Lock()
		defer mu.Unlock()
		events[bm.Name] = registered
	})

	r.MustRegister(&Benchmark{Name: "a", Run: noop})
	r.MustRegister(&Benchmark{Name: "b", Run: noop})
	_ = r.Unregister(result.ID{Name: "a"})

	if events["a"] || !events["b"] {
		t.Errorf("unexpected events: %v", events)
	}
}

func TestRegistry_Filter(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Benchmark{Name: "encode json", Run: noop})
	r.MustRegister(&Benchmark{Name: "decode json", Run: noop})
	r.MustRegister(&Benchmark{Name: "sort ints", Run: noop})

	filtered := r.Filter(func(bm *Benchmark) bool { return strings.Contains(bm.Name, "json") })
	if filtered.Count() != 2 {
		t.Errorf("Count = %d, want 2", filtered.Count())
	}
	if r.Count() != 3 {
		t.Errorf("source registry modified")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(&Benchmark{Name: string(rune('a' + i)), Run: noop})
			_ = r.List()
		}(i)
	}
	wg.Wait()
	if r.Count() != 20 {
		t.Errorf("Count = %d, want 20", r.Count())
	}
}
