// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package walk implements the Tag Walker (spec §4.2): for each upstream
// repository under a configured root, it enumerates tags, checks out each
// one in turn, and runs the Function Extractor against the working tree,
// writing one .hidx file per tag plus a tag-date file and a resumability
// status.json.
package walk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/recentris/internal/extract"
	"github.com/kraklabs/recentris/internal/metrics"
	"github.com/kraklabs/recentris/internal/vcs"
)

// lockFileName is the per-repo exclusivity sentinel (spec §4.2 step 2):
// a worker that cannot create it with O_EXCL skips the repo, assuming
// another process already owns it.
const lockFileName = "centris.lock"

// defaultTagSuccessRatio is the default for Walker.TagSuccessRatio: the
// minimum fraction of a repo's tags that must check out and fingerprint cleanly before the repo's results are kept
// (spec §4.2 step 8); below this, the repo is treated as too unstable to
// trust and the .hidx files already written for it are discarded.
const defaultTagSuccessRatio = 0.8

// Status records per-repo walk progress for idempotent resumption: a repo
// already recorded as successful is skipped entirely on a re-run, and a
// repo whose tag already has a .hidx file on disk is skipped within a
// resumed walk (spec §4.2 step 9).
type Status struct {
	Repos map[string]RepoStatus `json:"repos"`
}

// RepoStatus is one repo's entry in status.json (spec §4.2 "Per-repo
// persistence": "{success: bool, timestamp, error: string|null}"). A repo
// already recorded with Success true is skipped entirely on the next run.
type RepoStatus struct {
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	TagsTotal   int       `json:"tags_total"`
	TagsOK      int       `json:"tags_ok"`
	LastUpdated time.Time `json:"timestamp"`
}

// StatusStore persists Status atomically (temp file + rename) and guards
// concurrent access from multiple repo workers with a mutex, mirroring the
// teacher's checkpoint pattern generalized to multi-writer use.
type StatusStore struct {
	path string
	mu   sync.Mutex
}

// NewStatusStore returns a StatusStore backed by path.
func NewStatusStore(path string) *StatusStore {
	return &StatusStore{path: path}
}

// Load reads status.json, returning an empty Status if it does not exist.
func (s *StatusStore) Load() (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *StatusStore) loadLocked() (*Status, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Status{Repos: make(map[string]RepoStatus)}, nil
		}
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Repos == nil {
		st.Repos = make(map[string]RepoStatus)
	}
	return &st, nil
}

// Update mutates a single repo's entry and persists the whole file
// atomically.
func (s *StatusStore) Update(repo string, fn func(*RepoStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	entry := st.Repos[repo]
	fn(&entry)
	entry.LastUpdated = time.Now()
	st.Repos[repo] = entry

	return s.saveLocked(st)
}

func (s *StatusStore) saveLocked(st *Status) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RepoLayout describes one discovered repository directory: its name
// (spec §4.2 step 1's "<owner>%<repo>" convention, or the bare directory
// name when no owner separator is present) and its checkout path.
type RepoLayout struct {
	Name string
	Path string
}

// DiscoverRepos lists immediate subdirectories of root and resolves the
// `<owner>%<repo>/<single-nested-dir>` layout to its inner checkout, per
// the original collector's get_repo_paths.
func DiscoverRepos(root string) ([]RepoLayout, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var repos []RepoLayout
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		itemPath := filepath.Join(root, e.Name())
		if strings.Contains(e.Name(), "%") {
			nested, err := os.ReadDir(itemPath)
			if err == nil && len(nested) == 1 && nested[0].IsDir() {
				repos = append(repos, RepoLayout{Name: e.Name(), Path: filepath.Join(itemPath, nested[0].Name())})
				continue
			}
		}
		repos = append(repos, RepoLayout{Name: e.Name(), Path: itemPath})
	}
	return repos, nil
}

// Walker runs the per-repo tag walk.
type Walker struct {
	Extractor       *extract.Extractor
	Status          *StatusStore
	ResultDir       string
	TagDateDir      string
	CheckoutTimeout time.Duration
	TagListTimeout  time.Duration
	TagSuccessRatio float64
	Logger          *slog.Logger

	// TempDir is the process-owned scratch directory intermediate
	// transcoding writes under (spec §4.2 "Temporary files"). On ENOSPC
	// during a checkout, the walker prunes entries older than an hour from
	// it and retries once. Empty disables pruning.
	TempDir string
}

// New returns a Walker with spec-default timeouts and success ratio.
func New(ex *extract.Extractor, status *StatusStore, resultDir, tagDateDir string, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		Extractor:       ex,
		Status:          status,
		ResultDir:       resultDir,
		TagDateDir:      tagDateDir,
		CheckoutTimeout: 120 * time.Second,
		TagListTimeout:  300 * time.Second,
		TagSuccessRatio: defaultTagSuccessRatio,
		Logger:          logger,
	}
}

// acquireLock creates <repoPath>/.git/centris.lock with O_EXCL, returning
// a release func. If the lock is already held, ok is false.
func acquireLock(repoPath string) (release func(), ok bool, err error) {
	lockPath := filepath.Join(repoPath, ".git", lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	_ = f.Close()
	return func() { _ = os.Remove(lockPath) }, true, nil
}

// hasSupportedFile reports whether repoPath contains at least one file with
// an accepted extension anywhere in its tree, early-rejecting repos the
// extractor could never produce a function from (spec §4.2 step 2).
func (w *Walker) hasSupportedFile(repoPath string) bool {
	found := false
	_ = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if w.Extractor.IsSupported(d.Name()) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// cleanWorkingTree discards any in-progress merge/rebase and uncommitted or
// untracked changes before tag iteration begins, then removes stale git
// locks left behind by a prior interrupted run (spec §4.2 step 4).
func (w *Walker) cleanWorkingTree(ctx context.Context, g *vcs.Repo, repoPath string) error {
	cctx, cancel := context.WithTimeout(ctx, w.CheckoutTimeout)
	defer cancel()

	_ = g.MergeAbort(cctx)
	_ = g.RebaseAbort(cctx)
	_ = g.ResetHard(cctx)
	_ = g.CleanForce(cctx)
	if _, err := g.CheckoutForce(cctx, "HEAD"); err != nil {
		return err
	}
	return removeStaleLocks(repoPath)
}

// removeStaleLocks deletes any .git/*.lock file, e.g. a leftover
// index.lock or HEAD.lock, except this walker's own exclusivity sentinel
// (spec §4.2 step 4).
func removeStaleLocks(repoPath string) error {
	matches, err := filepath.Glob(filepath.Join(repoPath, ".git", "*.lock"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if filepath.Base(m) == lockFileName {
			continue
		}
		_ = os.Remove(m)
	}
	return nil
}

// pruneTempDir removes entries under dir whose modification time is older
// than olderThan, reclaiming space for an ENOSPC retry (spec §4.2
// "Temporary files").
func pruneTempDir(dir string, olderThan time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-olderThan)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// WalkRepo processes one repository: captures tag dates, enumerates tags,
// checks out each in turn (applying the checkout repair ladder on
// failure), fingerprints the tree, and writes one .hidx per tag. It
// returns the number of tags processed successfully and the total tag
// count, so the caller can apply the success-ratio gate.
func (w *Walker) WalkRepo(ctx context.Context, repo RepoLayout) (ok, total int, err error) {
	repoName := repo.Name

	if w.Status != nil {
		if st, statErr := w.Status.Load(); statErr == nil {
			if rs, done := st.Repos[repoName]; done && rs.Success {
				w.Logger.Info("walk.repo.already_done", "repo", repoName)
				return rs.TagsOK, rs.TagsTotal, nil
			}
		}
	}

	if !w.hasSupportedFile(repo.Path) {
		w.Logger.Info("walk.repo.no_supported_files", "repo", repoName)
		return 0, 0, nil
	}

	release, acquired, err := acquireLock(repo.Path)
	if err != nil {
		return 0, 0, fmt.Errorf("acquire lock for %s: %w", repo.Name, err)
	}
	if !acquired {
		w.Logger.Info("walk.repo.locked", "repo", repo.Name)
		return 0, 0, nil
	}
	defer release()

	g := vcs.New(repo.Path)

	if err := w.cleanWorkingTree(ctx, g, repo.Path); err != nil {
		w.Logger.Warn("walk.repo.clean.failed", "repo", repoName, "err", err)
	}

	if err := w.writeTagDates(ctx, g, repoName); err != nil {
		w.Logger.Warn("walk.repo.tag_dates.failed", "repo", repoName, "err", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, w.TagListTimeout)
	tags, err := g.ListTags(listCtx)
	cancel()
	if err != nil {
		return 0, 0, fmt.Errorf("list tags for %s: %w", repoName, err)
	}

	if len(tags) == 0 {
		if err := w.processTree(ctx, repo.Path, repoName, repoName); err != nil {
			return 0, 1, err
		}
		return 1, 1, nil
	}

	sort.Strings(tags)
	total = len(tags)
	for _, tag := range tags {
		hidxPath := filepath.Join(w.ResultDir, repoName, fmt.Sprintf("fuzzy_%s.hidx", sanitizeTagFilename(tag)))
		if _, statErr := os.Stat(hidxPath); statErr == nil {
			ok++ // already present from a prior run; idempotent skip
			continue
		}

		if err := w.checkoutWithRepair(ctx, g, tag); err != nil {
			w.Logger.Warn("walk.repo.checkout.failed", "repo", repoName, "tag", tag, "err", err)
			metrics.RecordTagFailed()
			continue
		}
		if err := w.processTree(ctx, repo.Path, repoName, tag); err != nil {
			w.Logger.Warn("walk.repo.extract.failed", "repo", repoName, "tag", tag, "err", err)
			metrics.RecordTagFailed()
			continue
		}
		ok++
	}
	return ok, total, nil
}

// sanitizeTagFilename substitutes '/' with '_' so a tag like
// "release/1.2.0" doesn't create a nested path (spec §4.2 step 6).
func sanitizeTagFilename(tag string) string {
	return strings.ReplaceAll(tag, "/", "_")
}

func (w *Walker) writeTagDates(ctx context.Context, g *vcs.Repo, repoName string) error {
	lines, err := g.LogTagDates(ctx)
	if err != nil {
		return err
	}
	if w.TagDateDir == "" {
		return nil
	}
	if err := os.MkdirAll(w.TagDateDir, 0o755); err != nil {
		return err
	}
	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "%s %s\n", l.Date, l.Decoration)
	}
	return os.WriteFile(filepath.Join(w.TagDateDir, repoName), []byte(sb.String()), 0o644)
}

// harmlessCheckoutMessages lists git stderr substrings that accompany a
// checkout which actually succeeded despite looking like a failure (spec
// §4.2 step 7).
var harmlessCheckoutMessages = []string{
	"Previous HEAD position",
	"HEAD is now at",
	"Switched to",
	"already exists, no checkout",
}

func commandErrorText(err error) string {
	var cmdErr *vcs.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return err.Error()
}

func isHarmlessCheckoutError(err error) bool {
	if err == nil {
		return true
	}
	text := commandErrorText(err)
	for _, marker := range harmlessCheckoutMessages {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func isLFSError(text string) bool {
	return strings.Contains(text, "git-lfs") || strings.Contains(text, "filter-process")
}

func isIndexCorruptError(text string) bool {
	return strings.Contains(text, "index file smaller than expected")
}

func isTempfileError(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "tempfile") || strings.Contains(text, "Unable to create temporary file")
}

func isENOSPC(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no space left on device") || strings.Contains(lower, "enospc")
}

// checkoutWithRepair runs the checkout repair ladder from spec §4.2 step 7.
// A plain checkout is attempted first (pre-deleting .git/index.lock, since
// an interrupted prior attempt can leave one behind); on failure, the error
// text is consulted and a targeted repair applied: leading-dash tag names
// are retried via an explicit refs/tags/ path, LFS filter errors are
// neutralized and retried, an annotated tag pointing at a non-commit
// object is resolved to its commit via rev-list, a corrupted index is
// rebuilt via read-tree --empty, and a tempfile internal error is cleared
// by wiping .git/objects/tmp and refetching. A harmless message (e.g.
// "HEAD is now at") is treated as success rather than failure throughout.
// If every repair fails, a final merge/rebase abort plus reset --hard and
// clean -fdx is tried before one last retry. A stderr mentioning ENOSPC
// prunes the configured temp directory and retries the whole ladder once.
func (w *Walker) checkoutWithRepair(ctx context.Context, g *vcs.Repo, tag string) error {
	err := w.checkoutWithRepairOnce(ctx, g, tag)
	if err != nil && w.TempDir != "" && isENOSPC(commandErrorText(err)) {
		w.Logger.Warn("walk.repo.checkout.enospc_retry", "tag", tag)
		_ = pruneTempDir(w.TempDir, time.Hour)
		return w.checkoutWithRepairOnce(ctx, g, tag)
	}
	return err
}

func (w *Walker) checkoutWithRepairOnce(ctx context.Context, g *vcs.Repo, tag string) error {
	cctx, cancel := context.WithTimeout(ctx, w.CheckoutTimeout)
	defer cancel()

	cleaned := strings.Trim(tag, `"'`)

	attempt := func() error {
		_ = g.DeleteIndexLock()
		if strings.HasPrefix(cleaned, "-") {
			_, err := g.CheckoutForceTagRef(cctx, cleaned)
			return err
		}
		_, err := g.CheckoutForce(cctx, cleaned)
		return err
	}

	err := attempt()
	if isHarmlessCheckoutError(err) {
		return nil
	}

	text := commandErrorText(err)

	if isLFSError(text) {
		_ = g.NeutralizeLFSFilters(cctx)
		if err := attempt(); isHarmlessCheckoutError(err) {
			return nil
		}
	}

	if typ, typErr := g.CatFileType(cctx, "refs/tags/"+cleaned); typErr == nil && typ != "commit" {
		if commit, err := g.RevListCommit(cctx, cleaned); err == nil && commit != "" {
			_ = g.DeleteIndexLock()
			if _, err := g.CheckoutForce(cctx, commit); err == nil {
				return nil
			}
		}
	}

	if isIndexCorruptError(text) {
		_ = g.BackupOrRemoveIndex()
		_ = g.ReadTreeEmpty(cctx)
		if err := attempt(); isHarmlessCheckoutError(err) {
			return nil
		}
	}

	if isTempfileError(text) {
		_ = g.WipeObjectsTmp()
		if reinitErr := g.ReinitAndRefetch(cctx); reinitErr == nil {
			if err := attempt(); isHarmlessCheckoutError(err) {
				return nil
			}
		}
	}

	_ = g.MergeAbort(cctx)
	_ = g.RebaseAbort(cctx)
	_ = g.ResetHard(cctx)
	_ = g.CleanForce(cctx)

	if err := attempt(); !isHarmlessCheckoutError(err) {
		return fmt.Errorf("checkout %s failed after repair ladder: %w", cleaned, err)
	}
	return nil
}

// processTree walks repoPath, extracts every supported source file, and
// writes the merged per-tag .hidx file (spec §4.2 steps 3-6 and §6's
// on-disk TagIndex format).
func (w *Walker) processTree(ctx context.Context, repoPath, repoName, tag string) error {
	merged := make(map[string][]string)
	var fileCount, funcCount, lineCount int
	order := make([]string, 0)

	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.Extractor.IsSupported(d.Name()) {
			return nil
		}
		result, procErr := w.Extractor.ProcessFile(ctx, path, repoPath)
		if procErr != nil {
			w.Logger.Warn("walk.file.extract.failed", "path", path, "err", procErr)
			return nil
		}
		fileCount += result.FileCount
		funcCount += result.FuncCount
		lineCount += result.LineCount
		for _, fr := range result.Functions {
			key := fr.FP.String()
			if _, seen := merged[key]; !seen {
				order = append(order, key)
			}
			merged[key] = append(merged[key], fr.RelPath)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordFunctionsFound(funcCount)
	if len(merged) == 0 {
		return nil
	}

	resultDir := filepath.Join(w.ResultDir, repoName)
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return err
	}
	hidxPath := filepath.Join(resultDir, fmt.Sprintf("fuzzy_%s.hidx", sanitizeTagFilename(tag)))
	return writeHidx(hidxPath, repoName, fileCount, funcCount, lineCount, order, merged)
}

func writeHidx(path, repoName string, fileCount, funcCount, lineCount int, order []string, merged map[string][]string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\t%d\t%d\t%d\n", repoName, fileCount, funcCount, lineCount)
	for _, fp := range order {
		sb.WriteString(fp)
		for _, relpath := range merged[fp] {
			sb.WriteByte('\t')
			sb.WriteString(relpath)
		}
		sb.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
