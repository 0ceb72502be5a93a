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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold/table"
	"github.com/spf13/cobra"
)

// compareOptions are the flags shared by run, compare and check.
type compareOptions struct {
	preset  string
	metrics []string
	format  string
}

func (o *compareOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.preset, "thresholds", "", "preset overriding stored thresholds: strict, default, relaxed or none")
	f.StringSliceVar(&o.metrics, "metrics", nil, "compare only these metrics or metric groups")
	f.StringVar(&o.format, "format", formatTable, "report format: table, markdown or json")
}

func (o compareOptions) engineOptions() ([]compare.Option, error) {
	var opts []compare.Option
	if o.preset != "" {
		set, err := threshold.Preset(o.preset)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compare.WithThresholds(set))
	}
	if len(o.metrics) > 0 {
		ms, err := metric.ParseList(o.metrics)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compare.WithMetrics(ms...))
	}
	return opts, nil
}

func (c *cli) compareCmd() *cobra.Command {
	var opts compareOptions
	cmd := &cobra.Command{
		Use:   "compare <candidate> <baseline>",
		Short: "Compare two stored baselines",
		Long: `Compares every benchmark of the candidate against the baseline. Without
--thresholds, the thresholds stored with the results apply. Exits with
status 2 when any regression is found.`,
		Example: `  benchctl compare pr-123 main
  benchctl compare pr-123 main --thresholds strict --format markdown`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			return c.app.compareStored(cmd.Context(), args[0], args[1], opts)
		},
	}
	opts.register(cmd)
	return cmd
}

// compareStored compares two stored baselines.
func (a *app) compareStored(ctx context.Context, candidate, reference string, opts compareOptions) error {
	cand, err := a.store.Get(ctx, candidate)
	if err != nil {
		return fmt.Errorf("loading candidate %s: %w", candidate, err)
	}
	ref, err := a.store.Get(ctx, reference)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", reference, err)
	}
	report, err := a.compareBaselines(ctx, cand, ref, opts)
	if err != nil {
		return err
	}
	if !report.Passed {
		return regressionError(report)
	}
	return nil
}

// compareBaselines runs the comparison, exports and renders the report.
func (a *app) compareBaselines(ctx context.Context, cand, ref *baseline.Baseline, opts compareOptions) (*compare.Report, error) {
	engineOpts, err := opts.engineOptions()
	if err != nil {
		return nil, err
	}
	report, err := a.engine.CompareBaselines(ctx, cand, ref, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("comparing %s with %s: %w", cand.Name, ref.Name, err)
	}
	return report, a.finishReport(ctx, report, opts.format)
}

func (a *app) finishReport(ctx context.Context, report *compare.Report, format string) error {
	a.logger.Info("comparison finished",
		slog.String("mode", report.Mode.String()),
		slog.Bool("passed", report.Passed),
		slog.Int("regressions", len(report.Regressions)),
		slog.Int("skips", len(report.Skips)))
	a.exportReport(ctx, report)
	return renderReport(a.printer, report, format)
}

// -----------------------------------------------------------------------------
// check
// -----------------------------------------------------------------------------

type checkOptions struct {
	absolute      bool
	thresholdsDir string
	baseline      string
	run           runOptions
	compare       compareOptions
}

func (c *cli) checkCmd() *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check [candidate]",
		Short: "Check results against the p90 tables or a baseline",
		Long: `Checks a stored candidate, or a fresh run of the built-in suite when no
candidate is named. With --absolute the p90 of every result must stay
within the stored p90 tables; otherwise the candidate is compared with
--baseline. Exits with status 2 when any check fails.`,
		Example: `  benchctl check --absolute
  benchctl check nightly --absolute --thresholds-dir ci/thresholds
  benchctl check pr-123 --baseline main`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.absolute && opts.baseline == "" {
				return errors.New("either --absolute or --baseline is required")
			}
			if err := validateFormat(opts.compare.format); err != nil {
				return err
			}
			candidate := ""
			if len(args) == 1 {
				candidate = args[0]
			}
			return c.app.check(cmd.Context(), candidate, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.absolute, "absolute", false, "check p90 values against the stored threshold tables")
	f.StringVar(&opts.thresholdsDir, "thresholds-dir", "", "threshold table directory (default thresholds.dir)")
	f.StringVar(&opts.baseline, "baseline", "", "compare against this stored baseline instead")
	f.StringVar(&opts.run.filter, "filter", "", "with no candidate: regular expression selecting benchmarks to run")
	opts.compare.register(cmd)
	return cmd
}

func (a *app) check(ctx context.Context, candidate string, opts checkOptions) error {
	var (
		cand   *baseline.Baseline
		runErr error
		err    error
	)
	if candidate != "" {
		cand, err = a.store.Get(ctx, candidate)
		if err != nil {
			return fmt.Errorf("loading candidate %s: %w", candidate, err)
		}
	} else {
		defaults, err := a.cfg.Run.Configuration(a.cfg.Thresholds.Preset)
		if err != nil {
			return err
		}
		opts.run.name = "check"
		cand, runErr = a.runSuite(ctx, builtinSuite(defaults), defaults, opts.run)
		if cand == nil {
			return runErr
		}
	}

	var report *compare.Report
	if opts.absolute {
		report, err = a.checkAbsolute(ctx, cand, opts)
	} else {
		var ref *baseline.Baseline
		ref, err = a.store.Get(ctx, opts.baseline)
		if err != nil {
			return fmt.Errorf("loading baseline %s: %w", opts.baseline, err)
		}
		report, err = a.compareBaselines(ctx, cand, ref, opts.compare)
	}
	if err != nil {
		return err
	}
	if !report.Passed {
		return errors.Join(regressionError(report), runErr)
	}
	return runErr
}

// checkAbsolute checks cand against the p90 tables.
func (a *app) checkAbsolute(ctx context.Context, cand *baseline.Baseline, opts checkOptions) (*compare.Report, error) {
	dir := opts.thresholdsDir
	if dir == "" {
		dir = a.cfg.Thresholds.Dir
	}
	tbl, err := table.LoadTable(dir)
	if err != nil {
		if errors.Is(err, table.ErrTableNotFound) {
			return nil, fmt.Errorf("%w (create it with: benchctl thresholds update <baseline> --dir %s)", err, dir)
		}
		return nil, err
	}

	engineOpts, err := opts.compare.engineOptions()
	if err != nil {
		return nil, err
	}
	report, err := a.engine.CheckAbsolute(ctx, cand, tbl, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", cand.Name, err)
	}
	return report, a.finishReport(ctx, report, opts.compare.format)
}
