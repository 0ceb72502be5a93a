// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compare

import (
	"fmt"
	"strings"
	"time"
)

// Mode tells how a report was produced.
type Mode int

const (
	// ModeRelative compares against a baseline.
	ModeRelative Mode = iota

	// ModeAbsolute compares against stored p90 constants.
	ModeAbsolute
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeAbsolute {
		return "absolute"
	}
	return "relative"
}

// Report is the outcome of comparing a candidate baseline.
type Report struct {
	Verdict

	Mode       Mode      `json:"mode"`
	Candidate  string    `json:"candidate"`
	Baseline   string    `json:"baseline,omitempty"`
	Compared   int       `json:"compared"`
	ComparedAt time.Time `json:"compared_at"`
}

// Summary renders a one-line outcome, e.g.
// "FAIL: 2 regressions, 1 improvement, 0 skipped (14 metrics compared)".
func (r *Report) Summary() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%s: %s, %s, %d skipped (%s compared)", status,
		plural(len(r.Regressions), "regression"),
		plural(len(r.Improvements), "improvement"),
		len(r.Skips),
		plural(r.Compared, "metric"))
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// Markdown renders the report for CI comments.
func (r *Report) Markdown() string {
	var sb strings.Builder

	sb.WriteString("# Benchmark Comparison\n\n")
	if r.Passed {
		sb.WriteString("**Status: PASS**\n\n")
	} else {
		sb.WriteString("**Status: FAIL**\n\n")
	}

	fmt.Fprintf(&sb, "Mode: %s\n", r.Mode)
	fmt.Fprintf(&sb, "Candidate: %s\n", r.Candidate)
	if r.Baseline != "" {
		fmt.Fprintf(&sb, "Baseline: %s\n", r.Baseline)
	}
	fmt.Fprintf(&sb, "Timestamp: %s\n\n", r.ComparedAt.Format(time.RFC3339))
	sb.WriteString(r.Summary())
	sb.WriteString("\n")

	writeDeviations(&sb, "Regressions", r.Regressions)
	writeDeviations(&sb, "Improvements", r.Improvements)

	if len(r.Skips) > 0 {
		sb.WriteString("\n## Skipped\n\n")
		for _, s := range r.Skips {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	return sb.String()
}

func writeDeviations(sb *strings.Builder, title string, ds []Deviation) {
	if len(ds) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n", title)
	sb.WriteString("| Benchmark | Metric | Percentile | Baseline | Candidate | Difference | Threshold |\n")
	sb.WriteString("|-----------|--------|------------|----------|-----------|------------|-----------|\n")
	for _, d := range ds {
		diff, limit := formatDiff(d.Difference), fmt.Sprintf("%g", d.DifferenceThreshold)
		if d.Relative {
			diff += "%"
			limit += "%"
		} else {
			diff += " " + d.Unit
			limit += " " + d.Unit
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %.4g %s | %.4g %s | %s | %s |\n",
			d.ID(), d.Metric.Description(), d.Percentile,
			d.Baseline, d.Unit, d.Candidate, d.Unit, diff, limit)
	}
}
