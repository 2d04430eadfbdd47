// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/recentris/internal/model"
	"github.com/kraklabs/recentris/internal/targetscan"
)

const fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
const fpC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

func mustFP(t *testing.T, s string) model.FP {
	t.Helper()
	fp, err := model.ParseFP(s)
	require.NoError(t, err)
	return fp
}

func TestPredictVersion_HighestScoreWins(t *testing.T) {
	c := Component{
		Entries: []model.SigEntry{
			{Hash: mustFP(t, fpA), Vers: []int{0}},
			{Hash: mustFP(t, fpB), Vers: []int{1}},
		},
		VerIndex: model.VersionIndex{{Ver: "v1.0", Idx: 0}, {Ver: "v2.0", Idx: 1}},
		Weights:  map[string]float64{fpA: 1.0, fpB: 5.0},
	}
	common := map[string]bool{fpA: true, fpB: true}
	assert.Equal(t, "v2.0", PredictVersion(c, common))
}

func TestPredictVersion_TieBreaksByAscendingIndex(t *testing.T) {
	c := Component{
		Entries: []model.SigEntry{
			{Hash: mustFP(t, fpA), Vers: []int{0}},
			{Hash: mustFP(t, fpB), Vers: []int{1}},
		},
		VerIndex: model.VersionIndex{{Ver: "v1.0", Idx: 0}, {Ver: "v2.0", Idx: 1}},
		Weights:  map[string]float64{fpA: 2.0, fpB: 2.0},
	}
	common := map[string]bool{fpA: true, fpB: true}
	assert.Equal(t, "v1.0", PredictVersion(c, common))
}

func TestClassifyUsage_UsedAndUnused(t *testing.T) {
	predMap := map[string][]string{
		fpA: {"/src/a.c"},
		fpB: {"/src/b.c"},
	}
	target := targetscan.Map{
		fpA: {"/vendor/src/a.c"},
	}
	used, modified, unused, relocated := ClassifyUsage(predMap, target, 30, fakeDistance{dist: 1000})
	assert.Equal(t, 1, used)
	assert.Equal(t, 0, modified)
	assert.Equal(t, 1, unused)
	assert.False(t, relocated)
}

func TestClassifyUsage_RelocationDetectedWhenNoPathSubstring(t *testing.T) {
	predMap := map[string][]string{fpA: {"/src/original/a.c"}}
	target := targetscan.Map{fpA: {"/totally/different/path.c"}}
	used, _, _, relocated := ClassifyUsage(predMap, target, 30, fakeDistance{})
	assert.Equal(t, 1, used)
	assert.True(t, relocated)
}

func TestClassifyUsage_ModifiedViaDistanceThreshold(t *testing.T) {
	predMap := map[string][]string{fpA: {"/src/a.c"}}
	target := targetscan.Map{fpC: {"/src/a.c"}}
	_, modified, unused, _ := ClassifyUsage(predMap, target, 100, fakeDistance{dist: 50})
	assert.Equal(t, 1, modified)
	assert.Equal(t, 0, unused)
}

func TestClassifyUsage_UnusedWhenNoCloseMatch(t *testing.T) {
	predMap := map[string][]string{fpA: {"/src/a.c"}}
	target := targetscan.Map{fpC: {"/src/a.c"}}
	_, modified, unused, _ := ClassifyUsage(predMap, target, 10, fakeDistance{dist: 50})
	assert.Equal(t, 0, modified)
	assert.Equal(t, 1, unused)
}

type fakeDistance struct{ dist int }

func (f fakeDistance) Distance(a, b model.FP) (int, error) {
	return f.dist, nil
}

func TestEvaluate_SkipsBelowCoverageThreshold(t *testing.T) {
	c := Component{
		Repo:     "zlib",
		Entries:  []model.SigEntry{{Hash: mustFP(t, fpA), Vers: []int{0}}},
		VerIndex: model.VersionIndex{{Ver: "v1.0", Idx: 0}},
		Weights:  map[string]float64{fpA: 1.0},
	}
	target := targetscan.Map{} // no overlap at all
	rec, ok, err := Evaluate("target", c, target, 10, DefaultOptions(), fakeDistance{dist: 1000}, func(repo, version string) (map[string][]string, error) {
		return map[string][]string{}, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, rec)
}

func TestEvaluate_EmitsRecordAboveThreshold(t *testing.T) {
	c := Component{
		Repo:     "zlib",
		Entries:  []model.SigEntry{{Hash: mustFP(t, fpA), Vers: []int{0}}},
		VerIndex: model.VersionIndex{{Ver: "v1.0", Idx: 0}},
		Weights:  map[string]float64{fpA: 1.0},
	}
	target := targetscan.Map{fpA: {"/vendor/a.c"}}
	rec, ok, err := Evaluate("target", c, target, 1, DefaultOptions(), fakeDistance{dist: 1000}, func(repo, version string) (map[string][]string, error) {
		return map[string][]string{fpA: {"/src/a.c"}}, nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "zlib", rec.Repo)
	assert.Equal(t, "v1.0", rec.PredictedVer)
	assert.Equal(t, 1, rec.Used)
}
