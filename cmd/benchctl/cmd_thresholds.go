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

	"github.com/AleutianAI/AleutianBench/services/bench/threshold/table"
	"github.com/spf13/cobra"
)

func (c *cli) thresholdsCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Manage the p90 threshold tables used by check --absolute",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "threshold table directory (default thresholds.dir)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "update <baseline>",
			Short: "Record the p90 of every result of a baseline",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.app.updateThresholds(cmd.Context(), args[0], dir)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored p90 thresholds",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.app.showThresholds(dir)
			},
		},
	)
	return cmd
}

func (a *app) thresholdsDir(dir string) string {
	if dir != "" {
		return dir
	}
	return a.cfg.Thresholds.Dir
}

// updateThresholds merges the p90 values of a stored baseline into the
// tables, creating them when missing.
func (a *app) updateThresholds(ctx context.Context, name, dir string) error {
	dir = a.thresholdsDir(dir)
	b, err := a.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("loading baseline %s: %w", name, err)
	}

	tbl, err := table.LoadTable(dir)
	switch {
	case errors.Is(err, table.ErrTableNotFound):
		tbl = table.New()
	case err != nil:
		return err
	}

	updated := 0
	for _, id := range b.IDs() {
		updated += tbl.Update(id, b.Results[id])
	}
	if err := tbl.Save(dir); err != nil {
		return fmt.Errorf("saving thresholds to %s: %w", dir, err)
	}
	a.printer.Success(fmt.Sprintf("Updated %d p90 thresholds in %s from %s", updated, dir, name))
	return nil
}

func (a *app) showThresholds(dir string) error {
	dir = a.thresholdsDir(dir)
	tbl, err := table.LoadTable(dir)
	if err != nil {
		return err
	}
	if tbl.Len() == 0 {
		a.printer.Muted("No thresholds in " + dir)
		return nil
	}
	a.printer.Table(thresholdsTable(tbl))
	return nil
}
