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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/cmd/benchctl/config"
	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

var sortID = result.ID{Target: "core", Name: "sort"}

type testIO struct {
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

// testApp returns an app on a memory store with fast run defaults and
// machine-mode output.
func testApp(t *testing.T) (*app, testIO) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Baseline.Backend = baseline.BackendMemory
	cfg.Thresholds.Dir = filepath.Join(t.TempDir(), "thresholds")
	cfg.Run.Warmup = 1
	cfg.Run.MaxIterations = 5
	cfg.Run.MaxDuration = 500 * time.Millisecond

	tio := testIO{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	logger := logging.Discard()
	return &app{
		cfg:     &cfg,
		logger:  logger,
		printer: &ux.Printer{Out: tio.out, Err: tio.errOut, Mode: ux.ModeMachine},
		store:   baseline.NewMemoryStore(),
		engine:  compare.NewEngine(compare.WithLogger(logger)),
	}, tio
}

func wallResult(p50, p90 float64) result.Result {
	return result.Result{
		Metric:     metric.WallClock,
		Unit:       metric.Milliseconds,
		Scaling:    metric.One,
		Iterations: 100,
		Count:      100,
		Mean:       p50,
		Percentiles: map[metric.Percentile]float64{
			metric.P25: p50,
			metric.P50: p50,
			metric.P75: p50,
			metric.P90: p90,
		},
	}
}

func storeBaseline(t *testing.T, a *app, name string, p50, p90 float64) *baseline.Baseline {
	t.Helper()
	b := baseline.New(name)
	b.Add(sortID, []result.Result{wallResult(p50, p90)})
	require.NoError(t, a.store.Set(context.Background(), b))
	return b
}

func requireExitCode(t *testing.T, err error, want int) {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "want *ExitError, got %v", err)
	assert.Equal(t, want, exitErr.Code)
}

// -----------------------------------------------------------------------------
// Exit codes and rendering
// -----------------------------------------------------------------------------

func TestExitCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReport bool
	}{
		{"nil", nil, exitOK, false},
		{"plain error", errors.New("boom"), exitFailure, true},
		{"regression", regressionError(&compare.Report{}), exitRegression, false},
		{"wrapped", fmt.Errorf("ctx: %w", &ExitError{Code: 3, Err: errors.New("x")}), 3, true},
		{"joined", errors.Join(regressionError(&compare.Report{}), errors.New("failed")), exitRegression, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, report := exitCode(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantReport, report)
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3", formatValue(3))
	assert.Equal(t, "2.50", formatValue(2.5))
	assert.Equal(t, "0.33", formatValue(1.0/3))
	assert.Equal(t, "+Inf", formatValue(posInf()))
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}

func TestResultsTable(t *testing.T) {
	b := baseline.New("main")
	b.Add(sortID, []result.Result{wallResult(2, 3)})

	tbl := resultsTable(b)
	assert.Equal(t, []string{"Benchmark", "Metric", "Unit", "p0", "p25", "p50", "p75", "p90", "p99", "p100", "Iterations"}, tbl.Headers)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []string{"core:sort", "Time (wall clock)", "ms", "-", "2", "2", "2", "3", "-", "-", "100"}, tbl.Rows[0])
}

func TestReportTable(t *testing.T) {
	r := &compare.Report{
		Verdict: compare.Verdict{
			Regressions: []compare.Deviation{{
				Metric: metric.WallClock, Target: "core", Name: "sort", Percentile: metric.P50,
				Difference: 50, DifferenceThreshold: 5, Relative: true, Baseline: 2, Candidate: 3, Unit: "ms",
			}},
			Improvements: []compare.Deviation{{
				Metric: metric.WallClock, Target: "core", Name: "hash", Percentile: metric.P90,
				Difference: 2, DifferenceThreshold: 1, Baseline: 10, Candidate: 8, Unit: "μs",
			}},
			Skips: []compare.Skip{{Scope: compare.SkipBenchmark, Target: "io", Name: "write", Reason: compare.ReasonMissingInBaseline}},
		},
		Candidate: "pr-1",
		Baseline:  "main",
	}

	tbl := reportTable(r)
	assert.Equal(t, "pr-1 vs main (relative)", tbl.Title)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, []string{"core:sort", "Time (wall clock)", "p50", "2 ms", "3 ms", "50%", "5%", "regression"}, tbl.Rows[0])
	assert.Equal(t, "2 μs", tbl.Rows[1][5])
	assert.Equal(t, "skipped: missing in baseline", tbl.Rows[2][7])
	assert.Equal(t, []ux.RowStyle{ux.RowBad, ux.RowGood, ux.RowMuted}, tbl.Styles)
}

func TestRenderReport(t *testing.T) {
	failing := &compare.Report{
		Verdict: compare.Verdict{Regressions: []compare.Deviation{{
			Metric: metric.WallClock, Target: "core", Name: "sort", Percentile: metric.P50,
			Difference: 50, DifferenceThreshold: 5, Relative: true, Baseline: 2, Candidate: 3, Unit: "ms",
		}}},
		Candidate: "pr-1",
		Baseline:  "main",
		Compared:  1,
	}

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		p := &ux.Printer{Out: &out, Err: &out, Mode: ux.ModeMachine}
		require.NoError(t, renderReport(p, failing, formatTable))
		assert.Contains(t, out.String(), "core:sort\tTime (wall clock)\tp50")
		assert.Contains(t, out.String(), "FAIL: 1 regression")
	})

	t.Run("markdown", func(t *testing.T) {
		var out bytes.Buffer
		p := &ux.Printer{Out: &out, Err: &out, Mode: ux.ModeRich}
		require.NoError(t, renderReport(p, failing, formatMarkdown))
		assert.Equal(t, failing.Markdown(), out.String())
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		p := &ux.Printer{Out: &out, Err: &out, Mode: ux.ModeRich}
		require.NoError(t, renderReport(p, failing, formatJSON))
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, "pr-1", decoded["candidate"])
		assert.Equal(t, false, decoded["passed"])
	})

	t.Run("passing", func(t *testing.T) {
		var out bytes.Buffer
		p := &ux.Printer{Out: &out, Err: &out, Mode: ux.ModeMachine}
		require.NoError(t, renderReport(p, &compare.Report{Verdict: compare.Pass()}, formatTable))
		assert.True(t, strings.HasPrefix(out.String(), "OK: PASS"))
	})

	assert.Error(t, validateFormat("html"))
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

func TestApp_CompareStored(t *testing.T) {
	ctx := context.Background()
	a, tio := testApp(t)
	storeBaseline(t, a, "main", 2, 3)
	storeBaseline(t, a, "pr-1", 3, 4)
	storeBaseline(t, a, "pr-2", 2, 3)

	t.Run("regression exits 2", func(t *testing.T) {
		err := a.compareStored(ctx, "pr-1", "main", compareOptions{preset: "default", format: formatTable})
		requireExitCode(t, err, exitRegression)
		assert.Contains(t, tio.out.String(), "regression")
	})

	t.Run("no stored thresholds passes", func(t *testing.T) {
		assert.NoError(t, a.compareStored(ctx, "pr-1", "main", compareOptions{format: formatTable}))
	})

	t.Run("equal passes strict", func(t *testing.T) {
		assert.NoError(t, a.compareStored(ctx, "pr-2", "main", compareOptions{preset: "strict", format: formatTable}))
	})

	t.Run("metric filter", func(t *testing.T) {
		err := a.compareStored(ctx, "pr-1", "main", compareOptions{preset: "default", metrics: []string{"cpu"}, format: formatTable})
		assert.NoError(t, err)
	})

	t.Run("missing baseline", func(t *testing.T) {
		err := a.compareStored(ctx, "pr-1", "absent", compareOptions{format: formatTable})
		assert.ErrorIs(t, err, baseline.ErrBaselineNotFound)
	})

	t.Run("bad preset", func(t *testing.T) {
		err := a.compareStored(ctx, "pr-1", "main", compareOptions{preset: "lenient", format: formatTable})
		assert.Error(t, err)
	})
}

func TestApp_CheckAbsolute(t *testing.T) {
	ctx := context.Background()
	a, tio := testApp(t)
	storeBaseline(t, a, "main", 2, 3)
	storeBaseline(t, a, "slow", 2, 4)

	opts := checkOptions{absolute: true, compare: compareOptions{format: formatTable}}

	err := a.check(ctx, "main", opts)
	assert.ErrorIs(t, err, table.ErrTableNotFound)

	require.NoError(t, a.updateThresholds(ctx, "main", ""))
	assert.Contains(t, tio.out.String(), "Updated 1 p90 thresholds")

	tbl, err := table.LoadTable(a.cfg.Thresholds.Dir)
	require.NoError(t, err)
	p90, ok := tbl.P90(sortID, metric.WallClock)
	require.True(t, ok)
	assert.Equal(t, int64(3_000_000), p90)

	assert.NoError(t, a.check(ctx, "main", opts))
	requireExitCode(t, a.check(ctx, "slow", opts), exitRegression)

	tio.out.Reset()
	require.NoError(t, a.showThresholds(""))
	assert.Contains(t, tio.out.String(), "core:sort\tTime (wall clock)\t3000000")
}

func TestApp_CheckAgainstBaseline(t *testing.T) {
	ctx := context.Background()
	a, _ := testApp(t)
	storeBaseline(t, a, "main", 2, 3)
	storeBaseline(t, a, "pr-1", 2.4, 3)
	storeBaseline(t, a, "pr-2", 3, 4)

	relaxed := checkOptions{baseline: "main", compare: compareOptions{preset: "relaxed", format: formatTable}}
	assert.NoError(t, a.check(ctx, "pr-1", relaxed), "20% and 0.4ms stay inside the relaxed bands")
	requireExitCode(t, a.check(ctx, "pr-2", relaxed), exitRegression)

	strict := checkOptions{baseline: "main", compare: compareOptions{preset: "strict", format: formatTable}}
	requireExitCode(t, a.check(ctx, "pr-1", strict), exitRegression)

	err := a.check(ctx, "pr-1", checkOptions{baseline: "absent", compare: compareOptions{format: formatTable}})
	assert.ErrorIs(t, err, baseline.ErrBaselineNotFound)
}

func TestApp_Baselines(t *testing.T) {
	ctx := context.Background()
	a, tio := testApp(t)

	require.NoError(t, a.listBaselines(ctx))
	assert.Empty(t, tio.out.String(), "machine mode suppresses the empty hint")

	storeBaseline(t, a, "main", 2, 3)
	other := baseline.New("nightly")
	other.Add(result.ID{Target: "io", Name: "write"}, []result.Result{wallResult(1, 1)})
	other.Add(sortID, []result.Result{wallResult(9, 9)})
	require.NoError(t, a.store.Set(ctx, other))

	t.Run("list", func(t *testing.T) {
		tio.out.Reset()
		require.NoError(t, a.listBaselines(ctx))
		lines := strings.Split(strings.TrimSpace(tio.out.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[1], "main\t"))
		assert.True(t, strings.HasPrefix(lines[2], "nightly\t"))
	})

	t.Run("show", func(t *testing.T) {
		tio.out.Reset()
		require.NoError(t, a.showBaseline(ctx, "main", formatJSON))
		b, err := baseline.Unmarshal(tio.out.Bytes())
		require.NoError(t, err)
		assert.Equal(t, "main", b.Name)

		tio.out.Reset()
		require.NoError(t, a.showBaseline(ctx, "main", formatTable))
		assert.Contains(t, tio.out.String(), "run id:")
		assert.Contains(t, tio.out.String(), "core:sort")

		assert.Error(t, a.showBaseline(ctx, "main", "yaml"))
	})

	t.Run("merge keeps primary", func(t *testing.T) {
		require.NoError(t, a.mergeBaselines(ctx, "main", "nightly", "combined"))
		merged, err := a.store.Get(ctx, "combined")
		require.NoError(t, err)
		assert.Equal(t, 2, merged.Len())
		r, ok := merged.Lookup(sortID, metric.WallClock)
		require.True(t, ok)
		assert.Equal(t, 2.0, r.Percentiles[metric.P50])

		assert.ErrorIs(t, a.mergeBaselines(ctx, "main", "nightly", "bad/name"), baseline.ErrInvalidName)
	})

	t.Run("export and import", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "main.json")
		require.NoError(t, a.exportFile(ctx, "main", path))

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		require.NoError(t, a.importBaseline(ctx, f, "restored"))

		orig, err := a.store.Get(ctx, "main")
		require.NoError(t, err)
		restored, err := a.store.Get(ctx, "restored")
		require.NoError(t, err)
		assert.True(t, baseline.Equal(orig, restored))

		assert.ErrorIs(t, a.importBaseline(ctx, strings.NewReader("{"), ""), baseline.ErrInvalidBaseline)
	})

	t.Run("delete", func(t *testing.T) {
		deny := func(string, string) (bool, error) { return false, nil }
		require.NoError(t, a.deleteBaseline(ctx, "nightly", deny))
		_, err := a.store.Get(ctx, "nightly")
		require.NoError(t, err, "declined delete keeps the baseline")

		notTTY := func(string, string) (bool, error) { return false, ux.ErrNotInteractive }
		assert.ErrorIs(t, a.deleteBaseline(ctx, "nightly", notTTY), ux.ErrNotInteractive)

		require.NoError(t, a.deleteBaseline(ctx, "nightly", ux.AlwaysConfirm))
		_, err = a.store.Get(ctx, "nightly")
		assert.ErrorIs(t, err, baseline.ErrBaselineNotFound)

		assert.ErrorIs(t, a.deleteBaseline(ctx, "nightly", ux.AlwaysConfirm), baseline.ErrBaselineNotFound)
	})
}

func TestApp_Run(t *testing.T) {
	ctx := context.Background()
	a, tio := testApp(t)

	t.Run("filter and save", func(t *testing.T) {
		err := a.run(ctx, runOptions{filter: "^hashing:", name: "main", save: true, compare: compareOptions{format: formatTable}})
		require.NoError(t, err)

		b, err := a.store.Get(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, []result.ID{{Target: "hashing", Name: "fnv64a-4k"}, {Target: "hashing", Name: "sha256-4k"}}, b.IDs())
		assert.Contains(t, tio.out.String(), "OK: Saved baseline main (2 benchmarks)")
		assert.Contains(t, tio.errOut.String(), "OK\thashing:sha256-4k")
	})

	t.Run("compare against saved baseline", func(t *testing.T) {
		err := a.run(ctx, runOptions{filter: "^hashing:", name: "current", baseline: "main", compare: compareOptions{preset: "none", format: formatTable}})
		assert.NoError(t, err)
	})

	t.Run("invalid filter", func(t *testing.T) {
		assert.Error(t, a.run(ctx, runOptions{filter: "(", name: "x"}))
	})

	t.Run("no match", func(t *testing.T) {
		err := a.run(ctx, runOptions{filter: "^nothing$", name: "x"})
		assert.ErrorContains(t, err, "no benchmarks match")
	})

	t.Run("invalid name", func(t *testing.T) {
		assert.ErrorIs(t, a.run(ctx, runOptions{name: "../x"}), baseline.ErrInvalidName)
	})
}

// -----------------------------------------------------------------------------
// End to end
// -----------------------------------------------------------------------------

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestExecute_Standalone(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "benchctl dev (baseline format "+baseline.FormatVersion)

	path := filepath.Join(t.TempDir(), "benchctl.yaml")
	code, out, _ = runCLI(t, "init", path)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Wrote "+path)

	code, _, errOut := runCLI(t, "init", path)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "file already exists")

	code, _, errOut = runCLI(t, "compare", "only-one")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "accepts 2 arg(s)")
}

func TestExecute_Workflow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "benchctl.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
run:
  warmup: 1
  max_iterations: 5
  max_duration: 500ms
thresholds:
  dir: `+filepath.Join(dir, "thresholds")+`
baseline:
  backend: file
  path: `+filepath.Join(dir, "baselines")+`
telemetry:
  prometheus:
    enabled: true
    textfile: `+filepath.Join(dir, "bench.prom")+`
log:
  level: warn
`), 0600))

	cli := func(args ...string) (int, string, string) {
		return runCLI(t, append([]string{"--config", cfgPath, "--output", "machine", "--env-file", ""}, args...)...)
	}

	code, _, errOut := cli("run", "--filter", "^maps:", "--save", "--name", "main")
	require.Equal(t, exitOK, code, errOut)

	code, out, _ := cli("baseline", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "main\t")

	code, _, _ = cli("compare", "main", "main", "--thresholds", "strict")
	assert.Equal(t, exitOK, code)

	code, _, errOut = cli("check", "main", "--absolute")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "threshold table not found")

	code, _, _ = cli("thresholds", "update", "main")
	require.Equal(t, exitOK, code)

	code, _, _ = cli("check", "main", "--absolute")
	assert.Equal(t, exitOK, code)

	code, _, errOut = cli("check", "main")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "either --absolute or --baseline")

	code, _, _ = cli("--store", filepath.Join(dir, "elsewhere"), "baseline", "show", "main")
	assert.Equal(t, exitFailure, code, "--store overrides baseline.path")

	code, _, _ = cli("baseline", "delete", "main", "--yes")
	assert.Equal(t, exitOK, code)

	prom, err := os.ReadFile(filepath.Join(dir, "bench.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "bench_result_percentile")
}
