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

package baseline

import (
	"github.com/prometheus/procfs"
)

// platformMachine reads the CPU model and memory size from /proc.
func platformMachine(m *Machine) {
	m.KernelVersion = kernelRelease()

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return
	}
	if cpus, err := fs.CPUInfo(); err == nil && len(cpus) > 0 {
		m.ProcessorType = cpus[0].ModelName
	}
	if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
		// MemTotal is in KiB.
		m.MemoryGB = int((*mem.MemTotal + (1<<20)/2) >> 20)
	}
}
