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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianBench/services/bench/compare"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitRegression = 2
)

// ExitError carries a process exit code out of a command.
//
// # Example
//
//	if !report.Passed {
//	    return &ExitError{Code: exitRegression, Err: errors.New(report.Summary())}
//	}
type ExitError struct {
	// Code is the process exit code.
	Code int

	// Err is the underlying error.
	Err error

	// Reported means the failure was already shown to the user.
	Reported bool
}

// Error returns the underlying message.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// regressionError turns a failed report into exit code 2. The report has
// already been rendered.
func regressionError(r *compare.Report) error {
	return &ExitError{Code: exitRegression, Err: errors.New(r.Summary()), Reported: true}
}

// exitCode maps err to a process exit code and tells whether the error
// still has to be printed.
func exitCode(err error) (code int, report bool) {
	if err == nil {
		return exitOK, false
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, !exitErr.Reported
	}
	return exitFailure, true
}
