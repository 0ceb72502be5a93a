// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix && !linux

package probe

import (
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
)

// rusageProducer serves the metrics getrusage(2) can answer.
type rusageProducer struct{}

// NewOSProducer returns the OS counter producer for this platform. Only
// CPU time, context switches and the resident high-water mark are
// available outside linux.
func NewOSProducer() Producer {
	return rusageProducer{}
}

// Supported implements Producer.
func (rusageProducer) Supported(m metric.Metric) bool {
	switch m {
	case metric.CPUUser, metric.CPUSystem, metric.CPUTotal, metric.ContextSwitches,
		metric.PeakMemoryResident, metric.PeakMemoryResidentDelta:
		return true
	default:
		return false
	}
}

// Select implements Producer.
func (rusageProducer) Select([]metric.Metric) {}

// Snapshot implements Producer.
func (rusageProducer) Snapshot() (Counters, error) {
	ru, err := readRusage()
	if err != nil {
		return Counters{}, err
	}
	return Counters{
		CPUUser:            ru.user,
		CPUSystem:          ru.system,
		ContextSwitches:    ru.switches,
		PeakMemoryResident: ru.maxRSS,
	}, nil
}
