// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecConstants(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.1, cfg.Analysis.ThetaReduce)
	assert.Equal(t, 0.1, cfg.Analysis.ThetaMatch)
	assert.Equal(t, 30, cfg.Analysis.DMod)
	assert.Equal(t, 0.8, cfg.Analysis.TagSuccessRatio)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Analysis.DMod, cfg.Analysis.DMod)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recentris.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  theta_match: 0.25
  d_mod: 15
paths:
  repos_dir: /data/repos
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Analysis.ThetaMatch)
	assert.Equal(t, 15, cfg.Analysis.DMod)
	assert.Equal(t, "/data/repos", cfg.Paths.ReposDir)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.1, cfg.Analysis.ThetaReduce)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recentris.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  theta_match: 0.25
`), 0o644))

	t.Setenv("RECENTRIS_ANALYSIS_THETA_MATCH", "0.5")
	t.Setenv("RECENTRIS_PATHS_REPOS_DIR", "/override/repos")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Analysis.ThetaMatch)
	assert.Equal(t, "/override/repos", cfg.Paths.ReposDir)
}
