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
	"io"
	"io/fs"
	"runtime"

	"github.com/AleutianAI/AleutianBench/cmd/benchctl/config"
	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=v1.2.3".
var version = "dev"

// skipSetup marks commands that run without config, store or telemetry.
const skipSetup = "benchctl/skip-setup"

// cli is one benchctl invocation: the global flags and the app built from
// them.
type cli struct {
	configFile string
	envFile    string
	output     string
	color      string

	logger *logging.Logger
	app    *app
}

// execute runs benchctl with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := c.close(); cerr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", cerr)
	}

	code, report := exitCode(err)
	if report {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

func (c *cli) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchctl",
		Short: "Run benchmarks, keep baselines and catch regressions",
		Long: `benchctl measures the built-in benchmark suite, stores the results as
named baselines and compares candidates against them with percentile
thresholds. A failed comparison exits with status 2.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetup] != "" {
				return nil
			}
			return c.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default ./benchctl.yaml, then ~/.aleutian/bench/benchctl.yaml)")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file with BENCH_* overrides")
	flags.StringVarP(&c.output, "output", "o", "rich", "output mode: rich, plain or machine")
	flags.StringVar(&c.color, "color", "auto", "log color: auto, always or never")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("backend", "", "baseline store backend: file, badger, sqlite, redis or memory")
	flags.String("store", "", "baseline store path (directory or database file)")

	cmd.AddCommand(
		c.runCmd(),
		c.compareCmd(),
		c.checkCmd(),
		c.baselineCmd(),
		c.thresholdsCmd(),
		initCmd(),
		versionCmd(),
	)
	return cmd
}

// setup loads configuration and builds the app.
func (c *cli) setup(cmd *cobra.Command) error {
	if err := loadDotEnv(c.envFile); err != nil {
		return err
	}
	mode, err := ux.ParseMode(c.output)
	if err != nil {
		return err
	}
	color, err := logging.ParseColorMode(c.color)
	if err != nil {
		return err
	}

	v := config.NewViper(c.configFile)
	flags := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"log.level":        "log-level",
		"baseline.backend": "backend",
		"baseline.path":    "store",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	lc, err := loggerConfig(cfg.Log, color)
	if err != nil {
		return err
	}
	lc.Output = cmd.ErrOrStderr()
	c.logger = logging.New(lc)

	printer := &ux.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Mode: mode}
	c.app, err = newApp(cmd.Context(), cfg, printer, c.logger.Slog())
	return err
}

// close releases the app and the log file.
func (c *cli) close() error {
	var errs []error
	if c.app != nil {
		errs = append(errs, c.app.close())
		c.app = nil
	}
	if c.logger != nil {
		errs = append(errs, c.logger.Close())
		c.logger = nil
	}
	return errors.Join(errs...)
}

// loadDotEnv loads path into the environment. A missing file is ignored;
// variables already set win.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// version, init
// -----------------------------------------------------------------------------

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "benchctl %s (baseline format %s, %s %s/%s)\n",
				version, baseline.FormatVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a default benchctl.yaml",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
