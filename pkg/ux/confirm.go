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
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when stdin is not a terminal.
var ErrNotInteractive = errors.New("confirmation requires an interactive terminal; pass --yes")

// Confirmer asks a yes/no question.
type Confirmer func(title, description string) (bool, error)

// Confirm asks on the terminal with a huh form. It fails with
// ErrNotInteractive when stdin is not a terminal.
func Confirm(title, description string) (bool, error) {
	if !isTerminal(os.Stdin) {
		return false, ErrNotInteractive
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// AlwaysConfirm is a Confirmer that answers yes without asking.
func AlwaysConfirm(string, string) (bool, error) { return true, nil }
