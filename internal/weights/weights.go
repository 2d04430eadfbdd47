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

// Package weights implements the Weight & Meta Builder (spec §4.4): an
// IDF-style per-function weight (rarer-across-versions functions score
// higher) plus the cross-repository meta tables the Matcher consults for
// its coverage gate.
package weights

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/recentris/internal/model"
)

// sigRecord mirrors the on-disk initialSigs/<R>_sig JSON shape.
type sigRecord struct {
	Hash string `json:"hash"`
	Vers []int  `json:"vers"`
}

// Result is one repo's Weight & Meta Builder output.
type Result struct {
	Repo     string
	Weights  map[string]float64 // fp -> log(V/|vers|)
	AveFuncs int                // floor(tot_funcs / V)
	AllFuncs int                // tot_funcs
	Unique   map[string]string  // fp -> this repo's name, for the global Unique table
}

// Build computes weights for repo given its signature file and the number
// of versions V = |tags of repo| (the caller determines V by counting
// entries under result/<repo>). V = 0 is reported as an error so the
// caller can skip the repo (spec §4.4 step 1).
func Build(repo string, sigPath string, v int) (*Result, error) {
	if v == 0 {
		return nil, errZeroVersions{repo}
	}

	data, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, err
	}
	var records []sigRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	res := &Result{
		Repo:    repo,
		Weights: make(map[string]float64, len(records)),
		Unique:  make(map[string]string, len(records)),
	}
	res.AllFuncs = len(records)
	res.AveFuncs = res.AllFuncs / v

	for _, rec := range records {
		if len(rec.Vers) == 0 {
			continue
		}
		res.Weights[rec.Hash] = math.Log(float64(v) / float64(len(rec.Vers)))
		res.Unique[rec.Hash] = repo
	}
	return res, nil
}

type errZeroVersions struct{ repo string }

func (e errZeroVersions) Error() string { return "repo " + e.repo + " has zero versions" }

// Persist writes meta/weights/<R>_weights (JSON fp -> float).
func (r *Result) Persist(weightDir string) error {
	if err := os.MkdirAll(weightDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(r.Weights)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(weightDir, r.Repo+"_weights"), data, 0o644)
}

// LoadWeights reads a previously persisted <R>_weights file.
func LoadWeights(weightDir, repo string) (map[string]float64, error) {
	data, err := os.ReadFile(filepath.Join(weightDir, repo+"_weights"))
	if err != nil {
		return nil, err
	}
	var w map[string]float64
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w, nil
}

// MetaBuilder accumulates per-repo Results into the global meta tables.
type MetaBuilder struct {
	tables *model.MetaTables
}

// NewMetaBuilder returns an empty MetaBuilder.
func NewMetaBuilder() *MetaBuilder {
	return &MetaBuilder{tables: model.NewMetaTables()}
}

// Add folds one repo's Result into the running meta tables.
func (mb *MetaBuilder) Add(r *Result) {
	mb.tables.AveFuncs[r.Repo] = r.AveFuncs
	mb.tables.AllFuncs[r.Repo] = r.AllFuncs
	for fp, repo := range r.Unique {
		fpVal, err := model.ParseFP(fp)
		if err != nil {
			continue
		}
		mb.tables.Unique[fpVal] = append(mb.tables.Unique[fpVal], repo)
	}
}

// Tables returns the accumulated meta tables.
func (mb *MetaBuilder) Tables() *model.MetaTables {
	return mb.tables
}

// Persist writes meta/aveFuncs, meta/allFuncs, and meta/uniqueFuncs (spec
// §4.4).
func (mb *MetaBuilder) Persist(metaDir string) error {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return err
	}

	aveData, err := json.Marshal(mb.tables.AveFuncs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(metaDir, "aveFuncs"), aveData, 0o644); err != nil {
		return err
	}

	allData, err := json.Marshal(mb.tables.AllFuncs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(metaDir, "allFuncs"), allData, 0o644); err != nil {
		return err
	}

	fps := make([]string, 0, len(mb.tables.Unique))
	for fp := range mb.tables.Unique {
		fps = append(fps, fp.String())
	}
	sort.Strings(fps)

	unique := make([]model.UniqueFuncEntry, 0, len(fps))
	for _, fpStr := range fps {
		fpVal, _ := model.ParseFP(fpStr)
		oss := mb.tables.Unique[fpVal]
		sorted := append([]string(nil), oss...)
		sort.Strings(sorted)
		unique = append(unique, model.UniqueFuncEntry{Hash: fpVal, OSS: sorted})
	}
	uniqueData, err := json.Marshal(unique)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(metaDir, "uniqueFuncs"), uniqueData, 0o644)
}

// LoadAveFuncs reads meta/aveFuncs, the repo -> ave_funcs table the Matcher
// consults for its coverage gate (spec §4.7 step 3).
func LoadAveFuncs(metaDir string) (map[string]int, error) {
	data, err := os.ReadFile(filepath.Join(metaDir, "aveFuncs"))
	if err != nil {
		return nil, err
	}
	var out map[string]int
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountVersions returns the number of tag directories' worth of hidx files
// present for repo under resultDir, i.e. V in spec §4.4 step 1.
func CountVersions(resultDir, repo string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(resultDir, repo))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "fuzzy_") && strings.HasSuffix(name, ".hidx") {
			n++
		}
	}
	return n, nil
}
