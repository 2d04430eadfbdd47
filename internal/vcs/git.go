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

// Package vcs wraps the git subprocess interface the Tag Walker depends on
// (spec §6: checkout -f, tag, fetch --tags --force, rev-list, cat-file -t,
// log --tags --simplify-by-decoration, read-tree --empty,
// reset --hard, clean -fdx, merge --abort, rebase --abort). Every
// invocation is argv-style with an explicit context timeout; no shell
// interpolation of caller-supplied strings (tag names in particular) is
// ever performed (spec §9 subprocess discipline).
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Repo wraps git subprocess invocations rooted at a single working
// directory.
type Repo struct {
	Dir string
}

// New returns a Repo rooted at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

// CommandError wraps a failed git invocation with its captured stderr, so
// callers can pattern-match on the error text for the checkout repair
// ladder (spec §4.2 step 7) without re-running the command.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

// run executes `git <args...>` with ctx's deadline, in r.Dir, capturing
// stdout and stderr separately (spec §9: "capture both stdout and stderr").
func (r *Repo) run(ctx context.Context, args ...string) (stdout string, err error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if runErr := cmd.Run(); runErr != nil {
		return outBuf.String(), &CommandError{Args: args, Stderr: errBuf.String(), Err: runErr}
	}
	return outBuf.String(), nil
}

// CheckoutForce runs `git checkout -f <ref>`.
func (r *Repo) CheckoutForce(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, "checkout", "-f", ref)
}

// CheckoutForceTagRef runs `git checkout -f -- refs/tags/<tag>`, used for
// tags whose name begins with '-' so they cannot be confused with a flag
// (spec §4.2 step 7).
func (r *Repo) CheckoutForceTagRef(ctx context.Context, tag string) (string, error) {
	return r.run(ctx, "checkout", "-f", "--", "refs/tags/"+tag)
}

// RevListCommit resolves `git rev-list -n 1 refs/tags/<tag>` to a commit
// SHA, used to check out an annotated tag pointing at a non-commit object
// (spec §4.2 step 7).
func (r *Repo) RevListCommit(ctx context.Context, tag string) (string, error) {
	out, err := r.run(ctx, "rev-list", "-n", "1", "refs/tags/"+tag)
	return strings.TrimSpace(out), err
}

// MergeAbort runs `git merge --abort`. A failure here (e.g. no merge in
// progress) is expected and ignored by callers.
func (r *Repo) MergeAbort(ctx context.Context) error {
	_, err := r.run(ctx, "merge", "--abort")
	return err
}

// RebaseAbort runs `git rebase --abort`.
func (r *Repo) RebaseAbort(ctx context.Context) error {
	_, err := r.run(ctx, "rebase", "--abort")
	return err
}

// ResetHard runs `git reset --hard HEAD`.
func (r *Repo) ResetHard(ctx context.Context) error {
	_, err := r.run(ctx, "reset", "--hard", "HEAD")
	return err
}

// CleanForce runs `git clean -fdx`.
func (r *Repo) CleanForce(ctx context.Context) error {
	_, err := r.run(ctx, "clean", "-fdx")
	return err
}

// FetchTagsForce runs `git fetch --tags --force`.
func (r *Repo) FetchTagsForce(ctx context.Context) error {
	_, err := r.run(ctx, "fetch", "--tags", "--force")
	return err
}

// ReadTreeEmpty runs `git read-tree --empty`, used to recover from a
// corrupted index (spec §4.2 step 7, "index file smaller than expected").
func (r *Repo) ReadTreeEmpty(ctx context.Context) error {
	_, err := r.run(ctx, "read-tree", "--empty")
	return err
}

// DeleteIndexLock removes a stale .git/index.lock left behind by an
// interrupted git process, run before every checkout attempt (spec §4.2
// step 7: "before each attempt, pre-delete .git/index.lock").
func (r *Repo) DeleteIndexLock() error {
	err := os.Remove(filepath.Join(r.Dir, ".git", "index.lock"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// NeutralizeLFSFilters points the lfs smudge/clean/process filters at
// no-ops so a checkout doesn't stall or fail on "git-lfs not found" or a
// filter-process error (spec §4.2 step 7).
func (r *Repo) NeutralizeLFSFilters(ctx context.Context) error {
	configs := [][]string{
		{"filter.lfs.smudge", "git-lfs smudge --skip -- %f"},
		{"filter.lfs.clean", "git-lfs clean -- %f"},
		{"filter.lfs.process", "git-lfs filter-process --skip"},
		{"filter.lfs.required", "false"},
	}
	for _, kv := range configs {
		if _, err := r.run(ctx, append([]string{"config"}, kv...)...); err != nil {
			return err
		}
	}
	return nil
}

// BackupOrRemoveIndex moves a corrupted .git/index aside (or removes it if
// the rename fails), so a subsequent ReadTreeEmpty starts clean (spec §4.2
// step 7: "index file smaller than expected").
func (r *Repo) BackupOrRemoveIndex() error {
	index := filepath.Join(r.Dir, ".git", "index")
	backup := fmt.Sprintf("%s.bak.%d", index, time.Now().UnixNano())
	if err := os.Rename(index, backup); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return os.Remove(index)
	}
	return nil
}

// WipeObjectsTmp removes every entry under .git/objects/tmp/, clearing the
// half-written temporary objects a tempfile-internal-error leaves behind
// (spec §4.2 step 7).
func (r *Repo) WipeObjectsTmp() error {
	matches, err := filepath.Glob(filepath.Join(r.Dir, ".git", "objects", "tmp", "*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return err
		}
	}
	return nil
}

// ReinitAndRefetch re-runs `git init` (safe on an existing repo) and
// refetches tags, completing the tempfile-internal-error repair (spec §4.2
// step 7) before the caller retries the checkout.
func (r *Repo) ReinitAndRefetch(ctx context.Context) error {
	if _, err := r.run(ctx, "init"); err != nil {
		return err
	}
	return r.FetchTagsForce(ctx)
}

// ListTags runs `git tag` and returns the raw tag names, unsorted.
func (r *Repo) ListTags(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "tag")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// TagDateLine is one parsed line of `git log --tags --simplify-by-decoration
// --pretty=...` output: an ISO date and the raw decoration text (which may
// list more than one tag at the same commit).
type TagDateLine struct {
	Date       string
	Decoration string
}

// LogTagDates runs `git log --tags --simplify-by-decoration
// --pretty=format:%ai%x09%d` (date and decoration separated by a tab) and
// returns one TagDateLine per commit that has at least
// one tag decoration (spec §4.2 step 5).
func (r *Repo) LogTagDates(ctx context.Context) ([]TagDateLine, error) {
	out, err := r.run(ctx, "log", "--tags", "--simplify-by-decoration", "--pretty=format:%ai%x09%d")
	if err != nil {
		return nil, err
	}
	var lines []TagDateLine
	for _, raw := range splitNonEmptyLines(out) {
		parts := strings.SplitN(raw, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		// %ai emits "YYYY-MM-DD HH:MM:SS +ZZZZ"; keep only the date portion.
		date := parts[0]
		if sp := strings.IndexByte(date, ' '); sp > 0 {
			date = date[:sp]
		}
		lines = append(lines, TagDateLine{Date: date, Decoration: parts[1]})
	}
	return lines, nil
}

// CatFileType runs `git cat-file -t <obj>`, used to distinguish an
// annotated tag pointing at a tree/blob from one pointing at a commit.
func (r *Repo) CatFileType(ctx context.Context, obj string) (string, error) {
	out, err := r.run(ctx, "cat-file", "-t", obj)
	return strings.TrimSpace(out), err
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
