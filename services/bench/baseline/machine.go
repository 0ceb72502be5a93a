// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"fmt"
	"os"
	"runtime"
)

// Machine describes the host a baseline was recorded on.
type Machine struct {
	Hostname      string `json:"hostname"`
	Processors    int    `json:"processors"`
	ProcessorType string `json:"processor_type"`
	MemoryGB      int    `json:"memory_gb"`
	KernelVersion string `json:"kernel_version"`
}

// CurrentMachine describes this host. Fields the platform cannot report
// are left empty.
func CurrentMachine() Machine {
	m := Machine{Processors: runtime.NumCPU()}
	if h, err := os.Hostname(); err == nil {
		m.Hostname = h
	}
	platformMachine(&m)
	if m.ProcessorType == "" {
		m.ProcessorType = runtime.GOARCH
	}
	return m
}

// String renders a one-line summary.
func (m Machine) String() string {
	return fmt.Sprintf("%s (%d × %s, %d GB, kernel %s)", m.Hostname, m.Processors, m.ProcessorType, m.MemoryGB, m.KernelVersion)
}
