// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package rerrors provides structured error handling for the recentris CLI,
// implementing the failure taxonomy of spec §7: TransientIO, ToolFailure,
// DataDefect, InvariantBreach, and Fatal, each with its own exit code.
//
// # Usage
//
//	err := rerrors.NewFatal(
//	    "cannot create analyse_file directory",
//	    "the path is not writable",
//	    "check permissions on the configured paths.analyse_dir",
//	    underlyingErr,
//	)
//	rerrors.FatalError(err, false)
package rerrors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes, one per kind. FatalError exits with the code of whatever kind
// it is given; the CLI commands pass it TransientIO and DataDefect errors
// for start-up failures (unreadable directories, an unloadable config) as
// well as Fatal ones.
const (
	ExitSuccess         = 0
	ExitFatal           = 1
	ExitTransientIO     = 2
	ExitToolFailure     = 3
	ExitDataDefect      = 4
	ExitInvariantBreach = 5
	ExitInternal        = 10
)

// Kind classifies an error per spec §7's taxonomy.
type Kind string

const (
	KindTransientIO     Kind = "transient_io"
	KindToolFailure     Kind = "tool_failure"
	KindDataDefect      Kind = "data_defect"
	KindInvariantBreach Kind = "invariant_breach"
	KindFatal           Kind = "fatal"
)

// PipelineError carries structured context: what went wrong, why, and how
// to fix it, following the teacher CLI's UserError shape.
type PipelineError struct {
	Kind     Kind
	Message  string
	Cause    string
	Fix      string
	ExitCode int
	Err      error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap enables errors.Is/errors.As over the wrapped cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, exitCode int, msg, cause, fix string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: msg, Cause: cause, Fix: fix, ExitCode: exitCode, Err: err}
}

// NewTransientIO creates a recoverable I/O error: file decode failure, disk
// full, or a temp-directory collision (spec §7).
func NewTransientIO(msg, cause, fix string, err error) *PipelineError {
	return newErr(KindTransientIO, ExitTransientIO, msg, cause, fix, err)
}

// NewToolFailure creates an error for a tagger timeout or a non-zero VCS
// exit, recovered via the checkout repair ladder or a file skip (spec §7).
func NewToolFailure(msg, cause, fix string, err error) *PipelineError {
	return newErr(KindToolFailure, ExitToolFailure, msg, cause, fix, err)
}

// NewDataDefect creates an error for a malformed TagIndex line, a rejected
// fingerprint, or unparseable tagger output — the offending record is
// skipped, counters are not incremented for it (spec §7).
func NewDataDefect(msg, cause, fix string, err error) *PipelineError {
	return newErr(KindDataDefect, ExitDataDefect, msg, cause, fix, err)
}

// NewInvariantBreach creates an error for a violated data-model invariant
// (header mismatch, duplicate (repo,tag), non-monotonic vers) — the
// affected artefact must be rebuilt on the next run (spec §7).
func NewInvariantBreach(msg, cause, fix string, err error) *PipelineError {
	return newErr(KindInvariantBreach, ExitInvariantBreach, msg, cause, fix, err)
}

// NewFatal creates an error for missing configuration or an unwritable
// working directory — the only conditions that terminate a stage (spec §7).
func NewFatal(msg, cause, fix string, err error) *PipelineError {
	return newErr(KindFatal, ExitFatal, msg, cause, fix, err)
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for terminal display, honoring NO_COLOR.
func (e *PipelineError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}

// JSON is the machine-readable rendering of a PipelineError.
type JSON struct {
	Kind     string `json:"kind"`
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the error to its JSON-serializable form.
func (e *PipelineError) ToJSON() JSON {
	return JSON{
		Kind:     string(e.Kind),
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// FatalError prints err and exits with its exit code. Non-PipelineError
// values exit with ExitInternal. A nil err returns immediately; any other
// err never returns.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if pe, ok := err.(*PipelineError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(pe.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, pe.Format(false))
		}
		os.Exit(pe.ExitCode)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitInternal)
}
