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

// Package signature implements the Signature Builder (spec §4.3): it folds
// every per-tag TagIndex of a repository into a single per-function
// list of tag indices and birth date, and persists the three derived files
// (funcDate, verIDX, initialSigs) the Weight Builder and Reducer depend on.
package signature

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kraklabs/recentris/internal/model"
)

// tagDateRegex matches a line of `git log --tags --simplify-by-decoration`
// output: an ISO date followed by a decoration listing one or more
// "tag: <name>" entries (spec §4.3 step 2). tagNameRegex then picks out
// every tag name the decoration lists.
var tagDateRegex = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}).*\(.*tag: (.*?)[,)]`)
var tagNameRegex = regexp.MustCompile(`tag: ([^,)]+)`)

// ParseTagDates parses the repo_date/<repo> file content into a map from
// tag name to ISO date.
func ParseTagDates(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		m := tagDateRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		date := m[1]
		for _, tm := range tagNameRegex.FindAllStringSubmatch(line, -1) {
			tag := strings.TrimSpace(tm[1])
			if tag != "" {
				out[tag] = date
			}
		}
	}
	return out
}

// ListTags returns the sorted (lexicographic ascending) tag names present
// as fuzzy_<tag>.hidx files under resultDir/<repo>, and the accompanying
// full file path for each.
func ListTags(resultDir, repo string) (tags []string, paths map[string]string, err error) {
	repoPath := filepath.Join(resultDir, repo)
	entries, err := os.ReadDir(repoPath)
	if err != nil {
		return nil, nil, err
	}
	paths = make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "fuzzy_") || !strings.HasSuffix(name, ".hidx") {
			continue
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(name, "fuzzy_"), ".hidx")
		if strings.TrimSpace(tag) == "" {
			continue
		}
		tags = append(tags, tag)
		paths[tag] = filepath.Join(repoPath, name)
	}
	sort.Strings(tags)
	return tags, paths, nil
}

// ReadTagIndex parses one fuzzy_<tag>.hidx file: the header line is
// skipped, then each data line's first tab-separated field is taken as
// the fp (spec §4.3 step 4).
func ReadTagIndex(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	var fps []string
	for i, line := range lines {
		if i == 0 {
			continue // header: repo\tfile_count\tfunc_count\tline_count
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		fp := strings.TrimSpace(fields[0])
		if fp != "" {
			fps = append(fps, fp)
		}
	}
	return fps, nil
}

// Result is the Signature Builder's output for one repository, ready for
// persistence.
type Result struct {
	Repo      string
	VerIndex  model.VersionIndex
	FuncDates map[string]string // fp -> earliest date ("NODATE" sentinel included)
	Sigs      []model.SigEntry
}

// Build runs the full per-repo algorithm (spec §4.3 steps 1-5): assign
// each tag an index in lexicographic order, accumulate each fp's tag-idx
// list and candidate birth dates, then pick the earliest date with
// model.EarliestDate. NODATE sorts first there: bare string order would put
// 'N' after the digits, so CompareDates special-cases the sentinel.
func Build(resultDir, repoDateDir, repo string) (*Result, error) {
	tags, paths, err := ListTags(resultDir, repo)
	if err != nil {
		return nil, err
	}

	tagDates := make(map[string]string)
	if raw, err := os.ReadFile(filepath.Join(repoDateDir, repo)); err == nil {
		tagDates = ParseTagDates(string(raw))
	}

	sig := make(map[string][]int)
	tmpDates := make(map[string][]string)
	order := make([]string, 0)

	verIndex := make(model.VersionIndex, 0, len(tags))
	for idx, tag := range tags {
		verIndex = append(verIndex, model.VersionEntry{Ver: tag, Idx: idx})

		fps, err := ReadTagIndex(paths[tag])
		if err != nil {
			continue
		}
		date, ok := tagDates[tag]
		if !ok {
			date = model.NoDate
		}
		for _, fp := range fps {
			if _, seen := sig[fp]; !seen {
				order = append(order, fp)
			}
			sig[fp] = append(sig[fp], idx)
			tmpDates[fp] = append(tmpDates[fp], date)
		}
	}

	funcDates := make(map[string]string, len(order))
	sigs := make([]model.SigEntry, 0, len(order))
	for _, fp := range order {
		funcDates[fp] = model.EarliestDate(tmpDates[fp])

		fpVal, perr := model.ParseFP(fp)
		if perr != nil {
			continue
		}
		sigs = append(sigs, model.SigEntry{Hash: fpVal, Vers: sig[fp]})
	}

	return &Result{Repo: repo, VerIndex: verIndex, FuncDates: funcDates, Sigs: sigs}, nil
}

// Persist writes funcDate/<R>_funcdate, verIDX/<R>_idx, and
// initialSigs/<R>_sig under their respective directories (spec §4.3 step
// 6).
func (r *Result) Persist(funcDateDir, verIdxDir, initialSigsDir string) error {
	if err := os.MkdirAll(funcDateDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(verIdxDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(initialSigsDir, 0o755); err != nil {
		return err
	}

	var sb strings.Builder
	fps := make([]string, 0, len(r.FuncDates))
	for fp := range r.FuncDates {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	for _, fp := range fps {
		fmt.Fprintf(&sb, "%s\t%s\n", fp, r.FuncDates[fp])
	}
	funcDatePath := filepath.Join(funcDateDir, r.Repo+"_funcdate")
	if err := os.WriteFile(funcDatePath, []byte(sb.String()), 0o644); err != nil {
		return err
	}

	verIdxData, err := json.Marshal(r.VerIndex)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(verIdxDir, r.Repo+"_idx"), verIdxData, 0o644); err != nil {
		return err
	}

	type sigJSON struct {
		Hash string `json:"hash"`
		Vers []int  `json:"vers"`
	}
	sigOut := make([]sigJSON, 0, len(r.Sigs))
	for _, s := range r.Sigs {
		sigOut = append(sigOut, sigJSON{Hash: s.Hash.String(), Vers: s.Vers})
	}
	sigData, err := json.Marshal(sigOut)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(initialSigsDir, r.Repo+"_sig"), sigData, 0o644)
}
