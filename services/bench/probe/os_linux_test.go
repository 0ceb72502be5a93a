// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package probe

import (
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSProducer_Linux(t *testing.T) {
	p := NewOSProducer()

	assert.True(t, p.Supported(metric.CPUUser))
	assert.True(t, p.Supported(metric.ContextSwitches))
	assert.False(t, p.Supported(metric.Syscalls))
	assert.False(t, p.Supported(metric.WallClock))

	op, ok := p.(*osProducer)
	require.True(t, ok)
	if !op.hasFS {
		t.Skip("procfs not mounted")
	}

	p.Select([]metric.Metric{metric.CPUTotal, metric.PeakMemoryResident, metric.Threads})

	before, err := p.Snapshot()
	require.NoError(t, err)
	x := 0
	for i := 0; i < 5_000_000; i++ {
		x += i
	}
	_ = x
	after, err := p.Snapshot()
	require.NoError(t, err)

	assert.Greater(t, after.PeakMemoryResident, int64(0))
	assert.GreaterOrEqual(t, after.Threads, int64(1))
	assert.GreaterOrEqual(t, after.CPUUser, before.CPUUser)
	assert.Equal(t, int64(0), after.ReadBytesLogical, "io not selected")
}
