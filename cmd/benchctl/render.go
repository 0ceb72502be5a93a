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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/runner"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold/table"
)

// Report formats accepted by --format.
const (
	formatTable    = "table"
	formatMarkdown = "markdown"
	formatJSON     = "json"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatMarkdown, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown format %q: want table, markdown or json", format)
	}
}

// formatValue prints integers without decimals and everything else with
// two.
func formatValue(v float64) string {
	switch {
	case math.IsInf(v, 0) || math.IsNaN(v):
		return strconv.FormatFloat(v, 'f', -1, 64)
	case v == math.Trunc(v) && math.Abs(v) < 1e15:
		return strconv.FormatFloat(v, 'f', 0, 64)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}

// resultsTable lists every result of b, one row per (benchmark, metric).
func resultsTable(b *baseline.Baseline) *ux.Table {
	headers := []string{"Benchmark", "Metric", "Unit"}
	for _, p := range metric.Percentiles() {
		headers = append(headers, p.String())
	}
	headers = append(headers, "Iterations")

	t := &ux.Table{Title: fmt.Sprintf("Results: %s", b.Name), Headers: headers}
	for _, id := range b.IDs() {
		for _, r := range b.Results[id] {
			row := []string{id.String(), r.Metric.Description(), r.UnitLabel()}
			for _, p := range metric.Percentiles() {
				if v, ok := r.Value(p); ok {
					row = append(row, formatValue(v))
				} else {
					row = append(row, "-")
				}
			}
			row = append(row, strconv.Itoa(r.Iterations))
			t.AddRow(ux.RowNormal, row...)
		}
	}
	return t
}

// reportTable lists regressions, improvements and skips.
func reportTable(r *compare.Report) *ux.Table {
	t := &ux.Table{
		Title:   fmt.Sprintf("%s vs %s (%s)", r.Candidate, reportReference(r), r.Mode),
		Headers: []string{"Benchmark", "Metric", "Percentile", "Baseline", "Candidate", "Difference", "Limit", "Outcome"},
	}
	add := func(style ux.RowStyle, outcome string, d compare.Deviation) {
		t.AddRow(style,
			d.ID().String(),
			d.Metric.Description(),
			d.Percentile.String(),
			formatValue(d.Baseline)+" "+d.Unit,
			formatValue(d.Candidate)+" "+d.Unit,
			deviationAmount(d.Difference, d),
			deviationAmount(d.DifferenceThreshold, d),
			outcome,
		)
	}
	for _, d := range r.Regressions {
		add(ux.RowBad, "regression", d)
	}
	for _, d := range r.Improvements {
		add(ux.RowGood, "improvement", d)
	}
	for _, s := range r.Skips {
		name := ""
		if s.Scope != compare.SkipBenchmark {
			name = s.Metric.Description()
		}
		pct := ""
		if s.Scope == compare.SkipPercentile {
			pct = s.Percentile.String()
		}
		t.AddRow(ux.RowMuted, s.ID().String(), name, pct, "", "", "", "", "skipped: "+s.Reason)
	}
	return t
}

func reportReference(r *compare.Report) string {
	if r.Baseline != "" {
		return r.Baseline
	}
	return "p90 thresholds"
}

func deviationAmount(v float64, d compare.Deviation) string {
	if d.Relative {
		return formatValue(v) + "%"
	}
	return formatValue(v) + " " + d.Unit
}

// baselinesTable summarizes stored baselines.
func baselinesTable(bs []*baseline.Baseline) *ux.Table {
	t := &ux.Table{Title: "Baselines", Headers: []string{"Name", "Created", "Benchmarks", "Machine", "Run ID"}}
	for _, b := range bs {
		t.AddRow(ux.RowNormal,
			b.Name,
			b.CreatedAt.Local().Format(time.DateTime),
			strconv.Itoa(b.Len()),
			b.Machine.Hostname,
			b.RunID.String(),
		)
	}
	return t
}

// thresholdsTable lists the stored p90 of every (benchmark, metric).
func thresholdsTable(tbl *table.Table) *ux.Table {
	t := &ux.Table{Title: "p90 thresholds (base units)", Headers: []string{"Benchmark", "Metric", "p90"}}
	for _, id := range tbl.IDs() {
		for _, m := range tbl.Metrics(id) {
			p90, _ := tbl.P90(id, m)
			t.AddRow(ux.RowNormal, id.String(), m.Description(), strconv.FormatInt(p90, 10))
		}
	}
	return t
}

// renderReport prints r in the requested format.
func renderReport(p *ux.Printer, r *compare.Report, format string) error {
	switch format {
	case formatMarkdown:
		p.Raw(r.Markdown())
	case formatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		p.Raw(string(data) + "\n")
	default:
		if len(r.Regressions)+len(r.Improvements)+len(r.Skips) > 0 {
			p.Table(reportTable(r))
		}
		if r.Passed {
			p.Success(r.Summary())
		} else {
			lines := make([]string, 0, len(r.Regressions))
			for _, d := range r.Regressions {
				lines = append(lines, d.String())
			}
			p.ErrorBox(r.Summary(), strings.Join(lines, "\n"))
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Progress
// -----------------------------------------------------------------------------

// progressView shows runner progress on a ux.ProgressBar.
type progressView struct {
	bar *ux.ProgressBar
}

// Update implements runner.Progress.
func (v *progressView) Update(u runner.Update) {
	v.bar.Set(fmt.Sprintf("%s (%s)", u.ID, u.State), u.Fraction())
}

// Finish implements runner.Progress.
func (v *progressView) Finish(run *runner.Run) {
	if run.Failed() {
		v.bar.Done(run.ID.String(), false, run.Failure)
		return
	}
	v.bar.Done(run.ID.String(), true,
		fmt.Sprintf("%d iterations in %s", run.Iterations, run.Elapsed.Round(time.Millisecond)))
}
