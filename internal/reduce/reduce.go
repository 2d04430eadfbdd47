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

// Package reduce implements the Component Reducer (spec §4.5): it
// attributes every function to the single earliest-shipping repository,
// so that code borrowed by a downstream project is credited to its
// upstream origin rather than double-counted.
package reduce

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kraklabs/recentris/internal/model"
)

// DefaultTheta is θ_REDUCE, the minimum fraction of a repo's average
// function count that must be explainable by a single candidate ancestor
// before that ancestor's shared fps are stripped (spec §4.5 step 5).
const DefaultTheta = 0.1

// SigRecord mirrors the on-disk initialSigs/<R>_sig and componentDB/<R>_sig
// JSON shape: one function's hash and the tag indices it was seen at.
type SigRecord struct {
	Hash string `json:"hash"`
	Vers []int  `json:"vers"`
}

// Inputs bundles the cross-repository tables the reducer needs to process
// one repo S: for every fp in S's signature, which other repos also ship
// it (Unique), each repo's birth dates (BirthDates), and each repo's
// average function count (AveFuncs).
type Inputs struct {
	// Unique maps fp -> the set of repos shipping it (spec §4.4's
	// meta/uniqueFuncs table, inverted for fast lookup per fp).
	Unique map[string][]string
	// BirthDates maps repo -> (fp -> date), filled in by the caller;
	// ReduceRepo only reads the repos it actually competes with.
	BirthDates map[string]map[string]string
	// AveFuncs maps repo -> floor(tot_funcs/V) from the Weight & Meta
	// Builder.
	AveFuncs map[string]int
	Theta    float64
}

// ReduceRepo applies the earlier-birth-wins rule to repo S's initial
// signature list and returns the surviving records (spec §4.5 steps 1-6).
func ReduceRepo(s string, sSig []SigRecord, in Inputs) []SigRecord {
	theta := in.Theta
	if theta <= 0 {
		theta = DefaultTheta
	}
	sBirth := in.BirthDates[s]

	candi := make(map[string]int)
	temp := make(map[string][]string)

	for _, rec := range sSig {
		competitors := in.Unique[rec.Hash]
		if len(competitors) < 2 {
			continue
		}
		sDate, sHasDate := sBirth[rec.Hash]
		if !sHasDate {
			sDate = model.NoDate
		}

		for _, x := range competitors {
			if x == s {
				continue
			}
			xBirth := in.BirthDates[x]
			xDate, xHasDate := xBirth[rec.Hash]
			if !xHasDate {
				xDate = model.NoDate
			}

			if sDate == model.NoDate || xDate == model.NoDate || model.CompareDates(xDate, sDate) <= 0 {
				candi[x]++
				temp[x] = append(temp[x], rec.Hash)
			}
		}
	}

	removed := make(map[string]bool)
	for x, count := range candi {
		ave := in.AveFuncs[x]
		if ave <= 0 {
			continue
		}
		if float64(count)/float64(ave) >= theta {
			for _, fp := range temp[x] {
				removed[fp] = true
			}
		}
	}

	if len(removed) == 0 {
		return sSig
	}

	out := make([]SigRecord, 0, len(sSig))
	for _, rec := range sSig {
		if !removed[rec.Hash] {
			out = append(out, rec)
		}
	}
	return out
}

// LoadSigFile reads an initialSigs/<R>_sig JSON file.
func LoadSigFile(path string) ([]SigRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []SigRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadFuncDates parses a funcDate/<R>_funcdate file (fp TAB date lines)
// into a fp -> date map.
func LoadFuncDates(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	var fp, date []byte
	field := 0
	flush := func() {
		if len(fp) > 0 {
			out[string(fp)] = string(date)
		}
		fp, date = nil, nil
		field = 0
	}
	for _, b := range data {
		switch {
		case b == '\t' && field == 0:
			field = 1
		case b == '\n':
			flush()
		case field == 0:
			fp = append(fp, b)
		default:
			date = append(date, b)
		}
	}
	flush()
	return out, nil
}

// InvertUnique builds the fp -> [repo,...] map from a meta.MetaTables-style
// Unique table keyed by model.FP, rendering hashes as strings for use with
// ReduceRepo.
func InvertUnique(unique map[model.FP][]string) map[string][]string {
	out := make(map[string][]string, len(unique))
	for fp, repos := range unique {
		out[fp.String()] = repos
	}
	return out
}

// BuildComponentDB runs ReduceRepo over every repo with a signature file
// and assembles the final ComponentDB.
func BuildComponentDB(repos []string, sigsByRepo map[string][]SigRecord, in Inputs) *model.ComponentDB {
	db := model.NewComponentDB()
	for _, repo := range repos {
		survivors := ReduceRepo(repo, sigsByRepo[repo], in)
		entries := make([]model.SigEntry, 0, len(survivors))
		for _, rec := range survivors {
			fpVal, err := model.ParseFP(rec.Hash)
			if err != nil {
				continue
			}
			entries = append(entries, model.SigEntry{Hash: fpVal, Vers: rec.Vers})
		}
		db.Entries[repo] = entries
	}
	return db
}

// PersistComponentDB writes one componentDB/<repo>_sig file per repo in db,
// in the same JSON shape as the initialSigs files it was reduced from, so
// the Matcher can load a repo's surviving entries directly.
func PersistComponentDB(db *model.ComponentDB, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for repo, entries := range db.Entries {
		out := make([]SigRecord, 0, len(entries))
		for _, e := range entries {
			out = append(out, SigRecord{Hash: e.Hash.String(), Vers: e.Vers})
		}
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, repo+"_sig"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// LoadComponentEntries reads a componentDB/<repo>_sig file into the
// model.SigEntry slice the Matcher expects.
func LoadComponentEntries(dir, repo string) ([]model.SigEntry, error) {
	records, err := LoadSigFile(filepath.Join(dir, repo+"_sig"))
	if err != nil {
		return nil, err
	}
	entries := make([]model.SigEntry, 0, len(records))
	for _, rec := range records {
		fpVal, err := model.ParseFP(rec.Hash)
		if err != nil {
			continue
		}
		entries = append(entries, model.SigEntry{Hash: fpVal, Vers: rec.Vers})
	}
	return entries, nil
}
