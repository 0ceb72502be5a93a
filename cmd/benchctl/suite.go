// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/runner"
	"golang.org/x/sync/errgroup"
)

// encodedBytes is reported by the encoding benchmarks.
var encodedBytes = metric.Custom("encodedBytes", metric.PrefersSmaller)

// sink keeps allocations reachable so the compiler cannot elide them.
var sink any

type record struct {
	ID       int               `json:"id"`
	Name     string            `json:"name"`
	Tags     []string          `json:"tags"`
	Labels   map[string]string `json:"labels"`
	Score    float64           `json:"score"`
	Children []record          `json:"children,omitempty"`
}

func sampleRecord(rng *rand.Rand, depth int) record {
	r := record{
		ID:     rng.IntN(1 << 20),
		Name:   "record-" + strconv.Itoa(rng.IntN(1000)),
		Tags:   []string{"alpha", "beta", "gamma"},
		Labels: map[string]string{"region": "us-west-2", "tier": "gold"},
		Score:  rng.Float64(),
	}
	for i := 0; depth > 0 && i < 4; i++ {
		r.Children = append(r.Children, sampleRecord(rng, depth-1))
	}
	return r
}

// builtinSuite registers the benchmarks shipped with benchctl.
//
// Inputs:
//   - defaults: The configured run defaults. Benchmarks that need their own
//     metrics derive from it.
func builtinSuite(defaults runner.Configuration) *runner.Registry {
	reg := runner.NewRegistry()
	rng := rand.New(rand.NewPCG(1, 2))

	doc := sampleRecord(rng, 2)
	encoded, _ := json.Marshal(doc)
	reg.MustRegister(&runner.Benchmark{
		Target: "encoding",
		Name:   "json-marshal",
		Run: func(b *runner.B) {
			for range b.ScaledIterations() {
				out, err := json.Marshal(doc)
				if err != nil {
					b.Error(err)
					return
				}
				b.Record(encodedBytes, int64(len(out)))
			}
		},
	})
	reg.MustRegister(&runner.Benchmark{
		Target: "encoding",
		Name:   "json-unmarshal",
		Run: func(b *runner.B) {
			for range b.ScaledIterations() {
				var r record
				if err := json.Unmarshal(encoded, &r); err != nil {
					b.Error(err)
					return
				}
			}
		},
	})

	block := make([]byte, 4096)
	for i := range block {
		block[i] = byte(rng.UintN(256))
	}
	reg.MustRegister(&runner.Benchmark{
		Target: "hashing",
		Name:   "sha256-4k",
		Run: func(b *runner.B) {
			for range b.ScaledIterations() {
				sum := sha256.Sum256(block)
				sink = sum[0]
			}
		},
	})
	reg.MustRegister(&runner.Benchmark{
		Target: "hashing",
		Name:   "fnv64a-4k",
		Run: func(b *runner.B) {
			h := fnv.New64a()
			for range b.ScaledIterations() {
				h.Reset()
				_, _ = h.Write(block)
				sink = h.Sum64()
			}
		},
	})

	var unsorted []int
	reg.MustRegister(&runner.Benchmark{
		Target: "sorting",
		Name:   "ints-10k",
		Setup: func(context.Context) error {
			unsorted = make([]int, 10_000)
			for i := range unsorted {
				unsorted[i] = rng.Int()
			}
			return nil
		},
		Teardown: func(context.Context) error {
			unsorted = nil
			return nil
		},
		Run: func(b *runner.B) {
			work := slices.Clone(unsorted)
			b.StartMeasurement()
			slices.Sort(work)
			b.StopMeasurement()
			if !slices.IsSorted(work) {
				b.Failf("slice not sorted")
			}
		},
	})

	reg.MustRegister(&runner.Benchmark{
		Target: "maps",
		Name:   "churn-1k",
		Run: func(b *runner.B) {
			m := make(map[string]int)
			for i := range 1000 {
				m["key-"+strconv.Itoa(i)] = i
			}
			for i := 0; i < 1000; i += 2 {
				delete(m, "key-"+strconv.Itoa(i))
			}
			if len(m) != 500 {
				b.Failf("map holds %d keys, want 500", len(m))
			}
		},
	})

	reg.MustRegister(&runner.Benchmark{
		Target: "async",
		Name:   "fan-in-8",
		RunAsync: func(b *runner.B) <-chan error {
			done := make(chan error, 1)
			go func() {
				done <- fanIn(b.Context(), 8, 2_000)
			}()
			return done
		},
	})

	reg.MustRegister(&runner.Benchmark{
		Target: "alloc",
		Name:   "small-objects-1k",
		Run: func(b *runner.B) {
			objs := make([]*record, 0, 1000)
			for i := range 1000 {
				objs = append(objs, &record{ID: i})
			}
			sink = objs
		},
	})

	refs := append(slices.Clone(metric.References), metric.WallClock)
	refConfig := defaults.Apply(runner.WithMetrics(refs...))
	pool := newBufferPool(b16k)
	reg.MustRegister(&runner.Benchmark{
		Target: "references",
		Name:   "buffer-pool",
		Config: &refConfig,
		Run: func(b *runner.B) {
			var held [][]byte
			for range 64 {
				held = append(held, pool.get(b))
			}
			for _, buf := range held {
				pool.put(b, buf)
			}
		},
	})

	return reg
}

// fanIn sums n values on workers goroutines and collects the partial sums
// over one channel.
func fanIn(ctx context.Context, workers, n int) error {
	g, ctx := errgroup.WithContext(ctx)
	sums := make(chan int, workers)
	for w := range workers {
		g.Go(func() error {
			total := 0
			for i := w; i < n; i += workers {
				total += i
			}
			select {
			case sums <- total:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	err := g.Wait()
	close(sums)

	total := 0
	for s := range sums {
		total += s
	}
	if err == nil {
		sink = total
	}
	return err
}

const b16k = 16 << 10

// bufferPool counts every buffer it hands out and takes back.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{pool: sync.Pool{New: func() any { return make([]byte, size) }}}
}

func (p *bufferPool) get(b *runner.B) []byte {
	b.Retain()
	return p.pool.Get().([]byte)
}

func (p *bufferPool) put(b *runner.B, buf []byte) {
	b.Release()
	p.pool.Put(buf)
}
