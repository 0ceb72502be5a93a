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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/spf13/cobra"
)

func (c *cli) baselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "baseline",
		Aliases: []string{"baselines", "b"},
		Short:   "Manage stored baselines",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored baselines",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.app.listBaselines(cmd.Context())
			},
		},
		c.baselineShowCmd(),
		c.baselineDeleteCmd(),
		c.baselineMergeCmd(),
		&cobra.Command{
			Use:   "export <name> [file]",
			Short: "Write a baseline as JSON to a file or stdout",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := ""
				if len(args) == 2 {
					path = args[1]
				}
				return c.app.exportFile(cmd.Context(), args[0], path)
			},
		},
		c.baselineImportCmd(),
	)
	return cmd
}

func (a *app) listBaselines(ctx context.Context) error {
	names, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing baselines: %w", err)
	}
	if len(names) == 0 {
		a.printer.Muted("No baselines stored. Create one with: benchctl run --save --name <name>")
		return nil
	}
	bs := make([]*baseline.Baseline, 0, len(names))
	for _, name := range names {
		b, err := a.store.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("loading baseline %s: %w", name, err)
		}
		bs = append(bs, b)
	}
	a.printer.Table(baselinesTable(bs))
	return nil
}

func (c *cli) baselineShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show the results of a baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.showBaseline(cmd.Context(), args[0], format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format: table or json")
	return cmd
}

func (a *app) showBaseline(ctx context.Context, name, format string) error {
	b, err := a.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", name, err)
	}
	switch format {
	case formatJSON:
		data, err := baseline.Marshal(b)
		if err != nil {
			return err
		}
		a.printer.Raw(string(data) + "\n")
	case formatTable:
		a.printer.Box(b.Name, strings.Join([]string{
			"run id:  " + b.RunID.String(),
			"created: " + b.CreatedAt.Format("2006-01-02 15:04:05 MST"),
			"machine: " + b.Machine.String(),
			"format:  " + b.Format,
		}, "\n"))
		a.printer.Table(resultsTable(b))
	default:
		return fmt.Errorf("unknown format %q: want table or json", format)
	}
	return nil
}

func (c *cli) baselineDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm := ux.Confirm
			if yes {
				confirm = ux.AlwaysConfirm
			}
			return c.app.deleteBaseline(cmd.Context(), args[0], confirm)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking")
	return cmd
}

func (a *app) deleteBaseline(ctx context.Context, name string, confirm ux.Confirmer) error {
	b, err := a.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", name, err)
	}
	ok, err := confirm(
		fmt.Sprintf("Delete baseline %s?", name),
		fmt.Sprintf("%d benchmarks recorded %s on %s", b.Len(), b.CreatedAt.Format("2006-01-02"), b.Machine.Hostname),
	)
	if err != nil {
		return err
	}
	if !ok {
		a.printer.Muted("Cancelled")
		return nil
	}
	if err := a.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("deleting baseline %s: %w", name, err)
	}
	a.printer.Success(fmt.Sprintf("Deleted baseline %s", name))
	return nil
}

func (c *cli) baselineMergeCmd() *cobra.Command {
	var into string
	cmd := &cobra.Command{
		Use:   "merge <primary> <secondary>",
		Short: "Merge two baselines; primary wins where both have a benchmark",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.mergeBaselines(cmd.Context(), args[0], args[1], into)
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "name of the merged baseline (default: primary)")
	return cmd
}

func (a *app) mergeBaselines(ctx context.Context, primary, secondary, into string) error {
	if into == "" {
		into = primary
	}
	if err := baseline.ValidateName(into); err != nil {
		return err
	}
	pb, err := a.store.Get(ctx, primary)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", primary, err)
	}
	sb, err := a.store.Get(ctx, secondary)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", secondary, err)
	}

	merged := baseline.Merge(pb, sb)
	merged.Name = into
	if err := a.store.Set(ctx, merged); err != nil {
		return fmt.Errorf("saving baseline %s: %w", into, err)
	}
	a.printer.Success(fmt.Sprintf("Merged %s and %s into %s (%d benchmarks)", primary, secondary, into, merged.Len()))
	return nil
}

func (a *app) exportFile(ctx context.Context, name, path string) error {
	b, err := a.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", name, err)
	}
	data, err := baseline.Marshal(b)
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		a.printer.Raw(string(data) + "\n")
		return nil
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	a.printer.Success(fmt.Sprintf("Exported %s to %s", name, path))
	return nil
}

func (c *cli) baselineImportCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Store a baseline exported with baseline export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return c.app.importBaseline(cmd.Context(), r, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "store under this name instead of the recorded one")
	return cmd
}

func (a *app) importBaseline(ctx context.Context, r io.Reader, name string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading baseline: %w", err)
	}
	b, err := baseline.Unmarshal(data)
	if err != nil {
		return err
	}
	if name != "" {
		b.Name = name
	}
	if err := a.store.Set(ctx, b); err != nil {
		return fmt.Errorf("saving baseline %s: %w", b.Name, err)
	}
	a.printer.Success(fmt.Sprintf("Imported baseline %s (%d benchmarks)", b.Name, b.Len()))
	return nil
}
