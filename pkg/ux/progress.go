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
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"
)

// ProgressBar draws a single-line progress bar for the task in flight and
// a status line for each finished task.
//
// On a terminal the bar is redrawn in place. Elsewhere, only finished
// tasks are printed.
//
// Thread Safety: Safe for concurrent use.
type ProgressBar struct {
	mu          sync.Mutex
	w           io.Writer
	mode        Mode
	interactive bool
	bar         progress.Model
	drawn       bool
}

// NewProgressBar creates a bar writing to w.
func NewProgressBar(w io.Writer, mode Mode) *ProgressBar {
	return &ProgressBar{
		w:           w,
		mode:        mode,
		interactive: mode != ModeMachine && isTerminal(w),
		bar: progress.New(
			progress.WithGradient(string(ColorTealDeep), string(ColorTealBright)),
			progress.WithWidth(32),
		),
	}
}

// Set redraws the bar for label at fraction in [0, 1].
func (p *ProgressBar) Set(label string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.interactive {
		return
	}
	fraction = min(max(fraction, 0), 1)
	fmt.Fprintf(p.w, "\r\x1b[2K%s %s", p.bar.ViewAs(fraction), label)
	p.drawn = true
}

// Done clears the bar and prints a status line for label.
func (p *ProgressBar) Done(label string, ok bool, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear()

	if p.mode == ModeMachine {
		status := "OK"
		if !ok {
			status = "FAIL"
		}
		fmt.Fprintf(p.w, "%s\t%s\t%s\n", status, label, detail)
		return
	}

	icon := IconSuccess
	if !ok {
		icon = IconError
	}
	iconText, detailText := string(icon), detail
	if p.mode == ModeRich {
		iconText = icon.Render()
		detailText = Styles.Muted.Render(detail)
	}
	if detail == "" {
		fmt.Fprintf(p.w, "%s %s\n", iconText, label)
		return
	}
	fmt.Fprintf(p.w, "%s %s %s\n", iconText, label, detailText)
}

// Clear erases the bar if it is drawn.
func (p *ProgressBar) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear()
}

func (p *ProgressBar) clear() {
	if p.drawn {
		fmt.Fprint(p.w, "\r\x1b[2K")
		p.drawn = false
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
