// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RowStyle marks a table row for emphasis in rich mode.
type RowStyle int

const (
	RowNormal RowStyle = iota
	RowGood
	RowBad
	RowMuted
)

// Table is a titled grid of cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string

	// Styles is parallel to Rows. Missing entries are RowNormal.
	Styles []RowStyle
}

// AddRow appends a row with its style.
func (t *Table) AddRow(style RowStyle, cells ...string) {
	t.Rows = append(t.Rows, cells)
	t.Styles = append(t.Styles, style)
}

func (t *Table) rowStyle(i int) RowStyle {
	if i < 0 || i >= len(t.Styles) {
		return RowNormal
	}
	return t.Styles[i]
}

// Table prints t. Machine mode prints tab-separated values with a header
// line; other modes draw a bordered table.
func (p *Printer) Table(t *Table) {
	if p.Mode == ModeMachine {
		fmt.Fprintln(p.Out, strings.Join(t.Headers, "\t"))
		for _, row := range t.Rows {
			fmt.Fprintln(p.Out, strings.Join(row, "\t"))
		}
		return
	}

	if t.Title != "" {
		p.Title(t.Title)
	}
	fmt.Fprintln(p.Out, p.renderTable(t))
}

func (p *Printer) renderTable(t *Table) string {
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(t.Headers...).
		Rows(t.Rows...)

	if p.Mode != ModeRich {
		return tbl.StyleFunc(func(row, col int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		}).String()
	}

	return tbl.
		BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			switch t.rowStyle(row) {
			case RowGood:
				return Styles.Cell.Foreground(ColorSuccess)
			case RowBad:
				return Styles.Cell.Foreground(ColorError)
			case RowMuted:
				return Styles.Cell.Foreground(ColorSlate)
			default:
				return Styles.Cell
			}
		}).String()
}
