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
	"regexp"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/runner"
	"github.com/spf13/cobra"
)

type runOptions struct {
	filter string
	name   string
	save   bool

	// baseline, when set, compares the fresh results against it.
	baseline string
	compare  compareOptions
}

func (c *cli) runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the built-in benchmark suite",
		Long: `Runs every built-in benchmark (or those whose target:name matches
--filter), prints the results and optionally stores them and compares
them against a stored baseline.`,
		Example: `  benchctl run --filter '^hashing:' --save --name main
  benchctl run --baseline main --thresholds relaxed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(opts.compare.format); err != nil {
				return err
			}
			return c.app.run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.filter, "filter", "", "regular expression matched against target:name")
	f.StringVar(&opts.name, "name", "current", "name of the resulting baseline")
	f.BoolVar(&opts.save, "save", false, "store the results under --name")
	f.StringVar(&opts.baseline, "baseline", "", "compare the results against this stored baseline")
	opts.compare.register(cmd)
	return cmd
}

// run executes the suite and handles --save and --baseline.
func (a *app) run(ctx context.Context, opts runOptions) error {
	defaults, err := a.cfg.Run.Configuration(a.cfg.Thresholds.Preset)
	if err != nil {
		return err
	}
	b, runErr := a.runSuite(ctx, builtinSuite(defaults), defaults, opts)
	if b == nil {
		return runErr
	}

	if opts.save {
		if err := a.store.Set(ctx, b); err != nil {
			return fmt.Errorf("saving baseline %s: %w", b.Name, err)
		}
		a.printer.Success(fmt.Sprintf("Saved baseline %s (%d benchmarks)", b.Name, b.Len()))
	}

	if opts.baseline != "" {
		ref, err := a.store.Get(ctx, opts.baseline)
		if err != nil {
			return fmt.Errorf("loading baseline %s: %w", opts.baseline, err)
		}
		report, err := a.compareBaselines(ctx, b, ref, opts.compare)
		if err != nil {
			return err
		}
		if !report.Passed {
			return errors.Join(regressionError(report), runErr)
		}
	}
	return runErr
}

// runSuite runs the benchmarks of reg selected by opts.filter and renders
// their results.
//
// Outputs:
//   - *baseline.Baseline: The completed runs, named opts.name. Nil when
//     nothing could run.
//   - error: Describes failed benchmarks; the baseline is still returned.
func (a *app) runSuite(ctx context.Context, reg *runner.Registry, defaults runner.Configuration, opts runOptions) (*baseline.Baseline, error) {
	if err := baseline.ValidateName(opts.name); err != nil {
		return nil, err
	}
	if opts.filter != "" {
		re, err := regexp.Compile(opts.filter)
		if err != nil {
			return nil, fmt.Errorf("invalid --filter: %w", err)
		}
		reg = reg.Filter(func(bm *runner.Benchmark) bool {
			return re.MatchString(bm.ID().String())
		})
	}
	if reg.Count() == 0 {
		return nil, fmt.Errorf("no benchmarks match %q", opts.filter)
	}

	bar := ux.NewProgressBar(a.printer.Err, a.printer.Mode)
	r := runner.NewRunner(
		runner.WithDefaults(defaults),
		runner.WithLogger(a.logger),
		runner.WithProgress(&progressView{bar: bar}),
	)

	a.printer.Title(fmt.Sprintf("Running %d benchmarks", reg.Count()))
	a.logger.Info("run started", slog.Int("benchmarks", reg.Count()), slog.String("name", opts.name))
	runs, failures := r.RunAll(ctx, reg)
	bar.Clear()

	b := baseline.FromRuns(opts.name, runs)
	if b.Len() > 0 {
		a.printer.Table(resultsTable(b))
		a.exportBaseline(ctx, b)
	}
	a.logger.Info("run finished", slog.Int("completed", b.Len()), slog.Int("failed", len(failures)))

	if len(failures) == 0 {
		return b, nil
	}
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		a.printer.Error(f.Error())
		errs = append(errs, f)
	}
	err := &ExitError{
		Code:     exitFailure,
		Err:      fmt.Errorf("%d of %d benchmarks failed: %w", len(failures), reg.Count(), errors.Join(errs...)),
		Reported: true,
	}
	if b.Len() == 0 {
		return nil, err
	}
	return b, err
}
