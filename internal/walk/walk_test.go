// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package walk

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/recentris/internal/extract"
	"github.com/kraklabs/recentris/internal/rtesting"
	"github.com/kraklabs/recentris/internal/vcs"
)

func TestDiscoverRepos_FlatAndOwnerLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "zlib"), 0o755))

	nested := filepath.Join(root, "madler%zlib", "zlib-1.2.11")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	repos, err := DiscoverRepos(root)
	require.NoError(t, err)
	require.Len(t, repos, 2)

	byName := map[string]RepoLayout{}
	for _, r := range repos {
		byName[r.Name] = r
	}
	assert.Equal(t, filepath.Join(root, "zlib"), byName["zlib"].Path)
	assert.Equal(t, nested, byName["madler%zlib"].Path)
}

func TestSanitizeTagFilename(t *testing.T) {
	assert.Equal(t, "release_1.2.0", sanitizeTagFilename("release/1.2.0"))
	assert.Equal(t, "v1.0", sanitizeTagFilename("v1.0"))
}

func TestAcquireLock_ExclusiveAndReleasable(t *testing.T) {
	repoPath := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(repoPath, ".git"), 0o755))

	release, ok, err := acquireLock(repoPath)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := acquireLock(repoPath)
	require.NoError(t, err)
	assert.False(t, ok2, "second acquire should fail while lock is held")

	release()

	release3, ok3, err := acquireLock(repoPath)
	require.NoError(t, err)
	assert.True(t, ok3, "lock should be acquirable again after release")
	release3()
}

func TestStatusStore_UpdateAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	store := NewStatusStore(path)

	err := store.Update("zlib", func(rs *RepoStatus) {
		rs.Success = true
		rs.TagsTotal = 10
		rs.TagsOK = 9
	})
	require.NoError(t, err)

	st, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, st.Repos, "zlib")
	assert.True(t, st.Repos["zlib"].Success)
	assert.Equal(t, 9, st.Repos["zlib"].TagsOK)
}

func TestStatusStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewStatusStore(filepath.Join(t.TempDir(), "nonexistent.json"))
	st, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Repos)
}

func TestWriteHidx_FormatsTitleAndEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuzzy_v1.hidx")
	order := []string{"deadbeef"}
	merged := map[string][]string{"deadbeef": {"/src/a.c", "/src/b.c"}}

	err := writeHidx(path, "zlib", 3, 5, 120, order, merged)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "zlib\t3\t5\t120\n")
	assert.Contains(t, content, "deadbeef\t/src/a.c\t/src/b.c\n")
}

func newTestWalker(t *testing.T) *Walker {
	t.Helper()
	ex := extract.New("ctags", 0, nil, nil)
	status := NewStatusStore(filepath.Join(t.TempDir(), "status.json"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(ex, status, t.TempDir(), t.TempDir(), logger)
}

func TestHasSupportedFile_DetectsAcceptedExtensionAnywhereInTree(t *testing.T) {
	w := newTestWalker(t)

	repo := rtesting.NewTestRepo(t, []map[string]string{
		{"a.c": "int f(void){return 1;}"},
	})
	assert.True(t, w.hasSupportedFile(repo.Dir))

	empty := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(empty, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(empty, "README.md"), []byte("hi"), 0o644))
	assert.False(t, w.hasSupportedFile(empty))
}

func TestCheckoutWithRepair_ChecksOutEachTagInTurn(t *testing.T) {
	w := newTestWalker(t)
	repo := rtesting.NewTestRepo(t, []map[string]string{
		{"a.c": "int f(void){return 1;}"},
		{"a.c": "int f(void){return 2;}"},
	})
	g := vcs.New(repo.Dir)
	require.Len(t, repo.Tags, 2)

	for _, tag := range repo.Tags {
		require.NoError(t, w.checkoutWithRepair(context.Background(), g, tag))
	}

	data, err := os.ReadFile(filepath.Join(repo.Dir, "a.c"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "return 2")
}

func TestCleanWorkingTree_DiscardsUntrackedFilesAndStaleLocks(t *testing.T) {
	w := newTestWalker(t)
	repo := rtesting.NewTestRepo(t, []map[string]string{
		{"a.c": "int f(void){return 1;}"},
	})
	g := vcs.New(repo.Dir)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "untracked.c"), []byte("junk"), 0o644))
	staleLock := filepath.Join(repo.Dir, ".git", "index.lock")
	require.NoError(t, os.WriteFile(staleLock, nil, 0o644))

	require.NoError(t, w.cleanWorkingTree(context.Background(), g, repo.Dir))

	_, err := os.Stat(filepath.Join(repo.Dir, "untracked.c"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(staleLock)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveStaleLocks_KeepsOwnExclusivitySentinel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index.lock"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", lockFileName), nil, 0o644))

	require.NoError(t, removeStaleLocks(dir))

	_, err := os.Stat(filepath.Join(dir, ".git", "index.lock"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ".git", lockFileName))
	assert.NoError(t, err, "walker's own lock sentinel must survive")
}

func TestPruneTempDir_RemovesOnlyEntriesOlderThanCutoff(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old")
	newPath := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(oldPath, nil, 0o644))
	require.NoError(t, os.WriteFile(newPath, nil, 0o644))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))

	require.NoError(t, pruneTempDir(dir, time.Hour))

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}

func TestCheckoutErrorClassifiers(t *testing.T) {
	assert.True(t, isLFSError("error: git-lfs not found"))
	assert.False(t, isLFSError("fatal: bad tag"))

	assert.True(t, isIndexCorruptError("fatal: index file smaller than expected"))
	assert.False(t, isIndexCorruptError("fatal: bad tag"))

	assert.True(t, isTempfileError("fatal: Unable to create temporary file"))
	assert.False(t, isTempfileError("fatal: bad tag"))

	assert.True(t, isENOSPC("write error: No space left on device"))
	assert.False(t, isENOSPC("fatal: bad tag"))
}

func TestIsHarmlessCheckoutError(t *testing.T) {
	assert.True(t, isHarmlessCheckoutError(nil))
	assert.True(t, isHarmlessCheckoutError(&vcs.CommandError{Stderr: "HEAD is now at abc123 commit 1"}))
	assert.False(t, isHarmlessCheckoutError(&vcs.CommandError{Stderr: "fatal: reference is not a tree"}))
}
