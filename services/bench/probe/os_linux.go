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
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/prometheus/procfs"
)

// osProducer reads getrusage(2) for CPU time and context switches and
// /proc/self for memory, threads and I/O.
//
// Thread Safety: Not safe for concurrent Select; Snapshot may be called
// from the sampler goroutine and the loop concurrently.
type osProducer struct {
	fs    procfs.FS
	proc  procfs.Proc
	hasFS bool
	hasIO bool
	pid   int
	stat  bool
	io    bool
	ru    bool
	tasks bool
}

// NewOSProducer returns the OS counter producer for this platform.
//
// Description:
//
//	On linux the producer combines getrusage(2) with procfs. When /proc is
//	not mounted, only rusage-derived metrics are supported. Syscalls has no
//	per-process total on linux and is never supported.
//
// Outputs:
//   - Producer: Never nil.
func NewOSProducer() Producer {
	p := &osProducer{pid: os.Getpid(), ru: true, stat: true}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return p
	}
	proc, err := fs.Proc(p.pid)
	if err != nil {
		return p
	}
	p.fs = fs
	p.proc = proc
	p.hasFS = true
	if _, err := proc.IO(); err == nil {
		p.hasIO = true
	}
	return p
}

// Supported implements Producer.
func (p *osProducer) Supported(m metric.Metric) bool {
	switch m {
	case metric.CPUUser, metric.CPUSystem, metric.CPUTotal, metric.ContextSwitches:
		return true
	case metric.PeakMemoryResident, metric.PeakMemoryResidentDelta, metric.PeakMemoryVirtual,
		metric.Threads, metric.ThreadsRunning:
		return p.hasFS
	case metric.ReadSyscalls, metric.WriteSyscalls,
		metric.ReadBytesLogical, metric.ReadBytesPhysical,
		metric.WriteBytesLogical, metric.WriteBytesPhysical:
		return p.hasIO
	default:
		return false
	}
}

// Select implements Producer.
func (p *osProducer) Select(ms []metric.Metric) {
	p.ru, p.stat, p.io, p.tasks = false, false, false, false
	for _, m := range ms {
		switch m {
		case metric.CPUUser, metric.CPUSystem, metric.CPUTotal, metric.ContextSwitches:
			p.ru = true
		case metric.PeakMemoryResident, metric.PeakMemoryResidentDelta, metric.PeakMemoryVirtual, metric.Threads:
			p.stat = true
		case metric.ThreadsRunning:
			p.tasks = true
		case metric.ReadSyscalls, metric.WriteSyscalls,
			metric.ReadBytesLogical, metric.ReadBytesPhysical,
			metric.WriteBytesLogical, metric.WriteBytesPhysical:
			p.io = true
		}
	}
}

// Snapshot implements Producer.
func (p *osProducer) Snapshot() (Counters, error) {
	var c Counters
	var errs []error

	if p.ru {
		ru, err := readRusage()
		if err != nil {
			errs = append(errs, err)
		} else {
			c.CPUUser = ru.user
			c.CPUSystem = ru.system
			c.ContextSwitches = ru.switches
		}
	}

	if !p.hasFS {
		return c, errors.Join(errs...)
	}

	if p.stat {
		st, err := p.proc.Stat()
		if err != nil {
			errs = append(errs, fmt.Errorf("reading stat: %w", err))
		} else {
			c.PeakMemoryResident = int64(st.ResidentMemory())
			c.PeakMemoryVirtual = int64(st.VirtualMemory())
			c.Threads = int64(st.NumThreads)
		}
	}

	if p.tasks {
		running, err := p.runningThreads()
		if err != nil {
			errs = append(errs, err)
		} else {
			c.ThreadsRunning = running
		}
	}

	if p.io && p.hasIO {
		pio, err := p.proc.IO()
		if err != nil {
			errs = append(errs, fmt.Errorf("reading io: %w", err))
		} else {
			c.ReadSyscalls = int64(pio.SyscR)
			c.WriteSyscalls = int64(pio.SyscW)
			c.ReadBytesLogical = int64(pio.RChar)
			c.WriteBytesLogical = int64(pio.WChar)
			c.ReadBytesPhysical = int64(pio.ReadBytes)
			c.WriteBytesPhysical = int64(pio.WriteBytes)
		}
	}

	return c, errors.Join(errs...)
}

// runningThreads counts tasks of this process in state R.
func (p *osProducer) runningThreads() (int64, error) {
	threads, err := p.fs.AllThreads(p.pid)
	if err != nil {
		return 0, fmt.Errorf("listing threads: %w", err)
	}
	var running int64
	for _, t := range threads {
		st, err := t.Stat()
		if err != nil {
			// Threads may exit between listing and reading.
			continue
		}
		if st.State == "R" {
			running++
		}
	}
	return running, nil
}
