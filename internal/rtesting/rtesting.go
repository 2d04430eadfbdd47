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

// Package rtesting collects fixture builders shared across the pipeline's
// test suites: a disposable git repository with real commits and tags,
// and deterministic fingerprint constants, so individual package tests
// don't each reinvent repo scaffolding.
package rtesting

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kraklabs/recentris/internal/model"
)

// TestRepo is a throwaway git repository with a linear commit history,
// ready for checkout/tag walking tests. It is automatically removed when
// the test finishes.
type TestRepo struct {
	Dir  string
	Tags []string
}

// NewTestRepo creates a git repo with a working tree under t.TempDir(),
// applies each fixture commit in order, and tags it with a generated
// "v1.0.0", "v1.1.0", ... tag. Commit i writes the files in commits[i]
// into the working tree; files from earlier commits that commits[i] does
// not name are kept.
//
// Example:
//
//	repo := rtesting.NewTestRepo(t, []map[string]string{
//	    {"a.c": "int f(void){return 1;}"},
//	    {"a.c": "int f(void){return 2;}"},
//	})
func NewTestRepo(t *testing.T, commits []map[string]string) *TestRepo {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=recentris-test",
			"GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=recentris-test",
			"GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	run("init", "-q", "-b", "main")
	run("config", "user.name", "recentris-test")
	run("config", "user.email", "test@example.com")

	repo := &TestRepo{Dir: dir}
	for i, files := range commits {
		for name, content := range files {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("mkdir for fixture file: %v", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write fixture file: %v", err)
			}
		}
		run("add", "-A")
		run("commit", "-q", "-m", fmt.Sprintf("commit %d", i))
		tag := fmt.Sprintf("v1.%d.0", i)
		run("tag", tag)
		repo.Tags = append(repo.Tags, tag)
	}

	return repo
}

// FP returns a deterministic 70-hex-char fingerprint for the given byte,
// useful for tests that need distinct-but-stable model.FP values without
// depending on the real TLSH oracle.
func FP(t *testing.T, b byte) model.FP {
	t.Helper()
	s := fmt.Sprintf("%02x", b)
	full := ""
	for len(full) < model.FPLen {
		full += s
	}
	fp, err := model.ParseFP(full[:model.FPLen])
	if err != nil {
		t.Fatalf("rtesting.FP: %v", err)
	}
	return fp
}
