// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package probe

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// rusage is the subset of getrusage(2) the OS producers use.
type rusage struct {
	user     int64
	system   int64
	switches int64
	maxRSS   int64
}

func readRusage() (rusage, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return rusage{}, fmt.Errorf("getrusage: %w", err)
	}

	maxRSS := int64(ru.Maxrss)
	if runtime.GOOS != "darwin" && runtime.GOOS != "ios" {
		// Kilobytes everywhere except Apple platforms.
		maxRSS *= 1024
	}

	return rusage{
		user:     ru.Utime.Nano(),
		system:   ru.Stime.Nano(),
		switches: int64(ru.Nvcsw) + int64(ru.Nivcsw),
		maxRSS:   maxRSS,
	}, nil
}
