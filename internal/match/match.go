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

// Package match implements the Matcher & Version Predictor (spec §4.7):
// per-component coverage gating, weighted-voting version prediction, and
// used/modified/unused/relocated usage classification against the
// predicted version's TagIndex.
package match

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/kraklabs/recentris/internal/fingerprint"
	"github.com/kraklabs/recentris/internal/model"
	"github.com/kraklabs/recentris/internal/targetscan"
	"github.com/kraklabs/recentris/internal/weights"
)

// DefaultThetaMatch is θ_MATCH, the minimum fraction of a component's
// average function count that must be present in the target before a
// detection record is emitted (spec §4.7 step 3).
const DefaultThetaMatch = 0.1

// DefaultDMod is D_MOD, the maximum fingerprint distance at which a
// target function is considered a modified copy rather than unrelated
// (spec §4.7 step 5).
const DefaultDMod = 30

// Component bundles the per-repo inputs the matcher needs: its surviving
// ComponentDB entry, its VersionIndex, and its weights.
type Component struct {
	Repo     string
	Entries  []model.SigEntry
	VerIndex model.VersionIndex
	Weights  map[string]float64
}

// Options configures the matcher's thresholds.
type Options struct {
	ThetaMatch float64
	DMod       int
}

// DefaultOptions returns the spec's default thresholds.
func DefaultOptions() Options {
	return Options{ThetaMatch: DefaultThetaMatch, DMod: DefaultDMod}
}

// Evaluate runs the full per-component pipeline (spec §4.7 steps 1-6) for
// one component against a target scan. aveFuncs is the component's
// ave_funcs meta value. predMapLoader supplies the predicted version's
// TagIndex for usage classification. ok is false when the
// component fails the coverage gate or ave_funcs is zero, and no record
// should be emitted.
func Evaluate(targetName string, c Component, target targetscan.Map, aveFuncs int, opts Options, hasher fingerprint.DistanceFunc, predMapLoader func(repo, version string) (map[string][]string, error)) (model.DetectionRecord, bool, error) {
	if aveFuncs <= 0 {
		return model.DetectionRecord{}, false, nil
	}

	componentFPs := make(map[string]bool, len(c.Entries))
	for _, e := range c.Entries {
		componentFPs[e.Hash.String()] = true
	}

	common := make(map[string]bool)
	for fp := range componentFPs {
		if _, ok := target[fp]; ok {
			common[fp] = true
		}
	}

	cov := float64(len(common)) / float64(aveFuncs)
	if cov < opts.ThetaMatch {
		return model.DetectionRecord{}, false, nil
	}

	predictedVer := PredictVersion(c, common)

	predMap, err := predMapLoader(c.Repo, predictedVer)
	if err != nil {
		return model.DetectionRecord{}, false, err
	}

	used, modified, unused, relocated := ClassifyUsage(predMap, target, opts.DMod, hasher)

	return model.DetectionRecord{
		Target:       targetName,
		Repo:         c.Repo,
		PredictedVer: predictedVer,
		Used:         used,
		Unused:       unused,
		Modified:     modified,
		Relocated:    relocated,
	}, true, nil
}

// PredictVersion implements spec §4.7 step 4's weighted vote: for every
// fp shared with the target, each version listing that fp earns
// weights[fp]. The version with the highest score wins; ties are broken
// by ascending tag index (the lowest-numbered, i.e. lexicographically
// earliest, version among those tied) since the underlying sort the
// original implementation relied on is stable and iterates versions in
// ascending index order — this is an explicit, documented resolution of
// an open tie-break question rather than an incidental artifact.
func PredictVersion(c Component, common map[string]bool) string {
	idxToVer := c.VerIndex.ToVerMap()
	score := make(map[int]float64, len(idxToVer))
	for idx := range idxToVer {
		score[idx] = 0
	}

	for _, e := range c.Entries {
		hash := e.Hash.String()
		if !common[hash] {
			continue
		}
		w := c.Weights[hash]
		for _, v := range e.Vers {
			score[v] += w
		}
	}

	var bestIdx int
	bestScore := -1.0
	indices := make([]int, 0, len(score))
	for idx := range score {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		if score[idx] > bestScore {
			bestScore = score[idx]
			bestIdx = idx
		}
	}
	return idxToVer[bestIdx]
}

// ClassifyUsage implements spec §4.7 step 5: for every fp in the
// predicted version's TagIndex, classify it as used (exact target
// match), modified (a target fp within DMod distance), or unused, and
// detect relocation via the substring check on relative paths.
func ClassifyUsage(predMap map[string][]string, target targetscan.Map, dMod int, hasher fingerprint.DistanceFunc) (used, modified, unused int, relocated bool) {
	for fp, predPaths := range predMap {
		if targetPaths, ok := target[fp]; ok {
			used++
			if !anySubstring(predPaths, targetPaths) {
				relocated = true
			}
			continue
		}

		predFP, err := model.ParseFP(fp)
		if err != nil {
			unused++
			continue
		}

		found := false
		for tFP, tPaths := range target {
			targetFP, err := model.ParseFP(tFP)
			if err != nil {
				continue
			}
			d, err := hasher.Distance(predFP, targetFP)
			if err != nil {
				continue
			}
			if d <= dMod {
				modified++
				if !anySubstring(predPaths, tPaths) {
					relocated = true
				}
				found = true
				break
			}
		}
		if !found {
			unused++
		}
	}
	return used, modified, unused, relocated
}

// anySubstring reports whether any path in a is a substring of any path
// in b, matching the original's relocation check (spec §4.7 step 5 and
// §9's note that this check is deliberately preserved as a substring test
// rather than a path-equality test).
func anySubstring(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if strings.Contains(pb, pa) {
				return true
			}
		}
	}
	return false
}

// LoadPredMap reads result/<repo>/fuzzy_<version>.hidx into a
// fp -> relpaths map, the predMapLoader callback Evaluate expects.
func LoadPredMap(resultDir, repo, version string) (map[string][]string, error) {
	path := resultDir + "/" + repo + "/fuzzy_" + version + ".hidx"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		fp := strings.TrimSpace(fields[0])
		if fp == "" {
			continue
		}
		out[fp] = append(out[fp], fields[1:]...)
	}
	return out, nil
}

// LoadComponent assembles a Component from its persisted artefacts.
func LoadComponent(repo string, entries []model.SigEntry, verIdxDir, weightDir string) (Component, error) {
	vi, err := loadVerIndex(verIdxDir + "/" + repo + "_idx")
	if err != nil {
		return Component{}, err
	}
	w, err := weights.LoadWeights(weightDir, repo)
	if err != nil {
		return Component{}, err
	}
	return Component{Repo: repo, Entries: entries, VerIndex: vi, Weights: w}, nil
}

func loadVerIndex(path string) (model.VersionIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vi model.VersionIndex
	if err := json.Unmarshal(data, &vi); err != nil {
		return nil, err
	}
	return vi, nil
}
