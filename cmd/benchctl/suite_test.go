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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSuite_Registrations(t *testing.T) {
	reg := builtinSuite(runner.DefaultConfiguration())

	want := []result.ID{
		{Target: "alloc", Name: "small-objects-1k"},
		{Target: "async", Name: "fan-in-8"},
		{Target: "encoding", Name: "json-marshal"},
		{Target: "encoding", Name: "json-unmarshal"},
		{Target: "hashing", Name: "fnv64a-4k"},
		{Target: "hashing", Name: "sha256-4k"},
		{Target: "maps", Name: "churn-1k"},
		{Target: "references", Name: "buffer-pool"},
		{Target: "sorting", Name: "ints-10k"},
	}
	assert.Equal(t, want, reg.List())

	bm, ok := reg.Get(result.ID{Target: "references", Name: "buffer-pool"})
	require.True(t, ok)
	require.NotNil(t, bm.Config)
	assert.Contains(t, bm.Config.Metrics, metric.WallClock)
}

func TestBuiltinSuite_Runs(t *testing.T) {
	if testing.Short() {
		t.Skip("runs every built-in benchmark")
	}
	defaults := runner.DefaultConfiguration().Apply(
		runner.WithIterations(1, 3),
		runner.WithDuration(0, time.Second),
		runner.WithWarmup(1),
	)
	r := runner.NewRunner(runner.WithDefaults(defaults), runner.WithLogger(logging.Discard()))

	reg := builtinSuite(defaults)
	runs, failures := r.RunAll(context.Background(), reg)
	require.Empty(t, failures)
	require.Len(t, runs, reg.Count())
	for _, run := range runs {
		assert.NotEmpty(t, run.Results, run.ID.String())
	}
}

func TestFanIn(t *testing.T) {
	require.NoError(t, fanIn(context.Background(), 8, 100))
	assert.Equal(t, 4950, sink)

	require.NoError(t, fanIn(context.Background(), 3, 0))
	assert.Equal(t, 0, sink)
}
