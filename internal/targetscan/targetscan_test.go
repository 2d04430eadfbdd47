// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package targetscan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/recentris/internal/extract"
	"github.com/kraklabs/recentris/internal/fingerprint"
)

func TestScan_SkipsUnsupportedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("not code"), 0o644))

	ex := extract.New("ctags-does-not-exist", 50*time.Millisecond, nil, &fingerprint.FakeOracle{})
	out, err := Scan(context.Background(), ex, root, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScan_SkipsGitDirectory(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "ignored.c"), []byte("int x;"), 0o644))

	ex := extract.New("ctags-does-not-exist", 50*time.Millisecond, nil, &fingerprint.FakeOracle{})
	out, err := Scan(context.Background(), ex, root, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
