// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package rerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineError_Unwrap(t *testing.T) {
	underlying := errors.New("disk full")
	pe := NewTransientIO("cannot write tag index", "temp dir full", "free up disk space", underlying)

	assert.ErrorIs(t, pe, underlying)
	assert.Equal(t, ExitTransientIO, pe.ExitCode)
}

func TestPipelineError_ErrorStringIncludesUnderlying(t *testing.T) {
	pe := NewToolFailure("checkout failed", "git exited 128", "retry checkout", errors.New("exit status 128"))
	assert.Contains(t, pe.Error(), "exit status 128")
}

func TestPipelineError_ToJSON(t *testing.T) {
	pe := NewDataDefect("bad tag index line", "missing fp column", "", nil)
	j := pe.ToJSON()
	assert.Equal(t, "data_defect", j.Kind)
	assert.Equal(t, ExitDataDefect, j.ExitCode)
	assert.Empty(t, j.Fix)
}

func TestPipelineError_FormatOmitsEmptyFields(t *testing.T) {
	pe := NewInvariantBreach("header mismatch", "", "", nil)
	out := pe.Format(true)
	assert.Contains(t, out, "header mismatch")
	assert.NotContains(t, out, "Cause:")
	assert.NotContains(t, out, "Fix:")
}
