// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package reduce

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/recentris/internal/model"
)

const fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestReduceRepo_RemovesFpsAttributedToEarlierAncestor(t *testing.T) {
	// X (ancestor) ships fpA earlier than S; S's whole signature is fpA, so
	// candi[X]/ave_funcs[X] = 1/1 >= theta and fpA is stripped from S.
	sSig := []SigRecord{{Hash: fpA, Vers: []int{0}}}
	in := Inputs{
		Unique: map[string][]string{fpA: {"S", "X"}},
		BirthDates: map[string]map[string]string{
			"S": {fpA: "2021-01-01"},
			"X": {fpA: "2020-01-01"},
		},
		AveFuncs: map[string]int{"X": 1},
		Theta:    0.1,
	}
	out := ReduceRepo("S", sSig, in)
	assert.Empty(t, out)
}

func TestReduceRepo_KeepsFpWhenAncestorIsLater(t *testing.T) {
	sSig := []SigRecord{{Hash: fpA, Vers: []int{0}}}
	in := Inputs{
		Unique: map[string][]string{fpA: {"S", "X"}},
		BirthDates: map[string]map[string]string{
			"S": {fpA: "2020-01-01"},
			"X": {fpA: "2021-01-01"},
		},
		AveFuncs: map[string]int{"X": 1},
		Theta:    0.1,
	}
	out := ReduceRepo("S", sSig, in)
	require.Len(t, out, 1)
	assert.Equal(t, fpA, out[0].Hash)
}

func TestReduceRepo_NoDateTreatsAsPotentialDonor(t *testing.T) {
	sSig := []SigRecord{{Hash: fpA, Vers: []int{0}}}
	in := Inputs{
		Unique: map[string][]string{fpA: {"S", "X"}},
		BirthDates: map[string]map[string]string{
			"S": {fpA: model.NoDate},
			"X": {fpA: "2021-01-01"},
		},
		AveFuncs: map[string]int{"X": 1},
		Theta:    0.1,
	}
	out := ReduceRepo("S", sSig, in)
	assert.Empty(t, out, "NODATE on either side should make X a candidate donor")
}

func TestReduceRepo_RatioBelowThetaKeepsFp(t *testing.T) {
	sSig := []SigRecord{{Hash: fpA, Vers: []int{0}}}
	in := Inputs{
		Unique: map[string][]string{fpA: {"S", "X"}},
		BirthDates: map[string]map[string]string{
			"S": {fpA: "2021-01-01"},
			"X": {fpA: "2020-01-01"},
		},
		AveFuncs: map[string]int{"X": 100}, // 1/100 = 0.01 < theta 0.1
		Theta:    0.1,
	}
	out := ReduceRepo("S", sSig, in)
	require.Len(t, out, 1)
}

func TestReduceRepo_NoCompetitorsKeepsEverything(t *testing.T) {
	sSig := []SigRecord{{Hash: fpA, Vers: []int{0}}, {Hash: fpB, Vers: []int{1}}}
	in := Inputs{
		Unique:     map[string][]string{fpA: {"S"}, fpB: {"S"}},
		BirthDates: map[string]map[string]string{"S": {fpA: "2020-01-01", fpB: "2020-01-01"}},
		AveFuncs:   map[string]int{},
		Theta:      0.1,
	}
	out := ReduceRepo("S", sSig, in)
	assert.Len(t, out, 2)
}

func TestLoadFuncDates_ParsesTabSeparatedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zlib_funcdate")
	require.NoError(t, os.WriteFile(path, []byte(fpA+"\t2020-01-01\n"+fpB+"\tNODATE\n"), 0o644))

	dates, err := LoadFuncDates(path)
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", dates[fpA])
	assert.Equal(t, "NODATE", dates[fpB])
}

func TestBuildComponentDB_ReducerMonotonicity(t *testing.T) {
	sigsByRepo := map[string][]SigRecord{
		"S": {{Hash: fpA, Vers: []int{0}}, {Hash: fpB, Vers: []int{0}}},
		"X": {{Hash: fpA, Vers: []int{0}}},
	}
	in := Inputs{
		Unique: map[string][]string{fpA: {"S", "X"}, fpB: {"S"}},
		BirthDates: map[string]map[string]string{
			"S": {fpA: "2021-01-01", fpB: "2021-01-01"},
			"X": {fpA: "2020-01-01"},
		},
		AveFuncs: map[string]int{"X": 1},
		Theta:    0.1,
	}
	db := BuildComponentDB([]string{"S", "X"}, sigsByRepo, in)
	assert.LessOrEqual(t, len(db.Entries["S"]), len(sigsByRepo["S"]))
	require.Len(t, db.Entries["S"], 1) // fpA stripped, fpB survives
	assert.Equal(t, fpB, db.Entries["S"][0].Hash.String())
}

func TestPersistAndLoadComponentEntries_RoundTrips(t *testing.T) {
	fpVal, err := model.ParseFP(fpA)
	require.NoError(t, err)
	db := &model.ComponentDB{Entries: map[string][]model.SigEntry{
		"zlib": {{Hash: fpVal, Vers: []int{0, 1}}},
	}}

	dir := t.TempDir()
	require.NoError(t, PersistComponentDB(db, dir))

	entries, err := LoadComponentEntries(dir, "zlib")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fpA, entries[0].Hash.String())
	assert.Equal(t, []int{0, 1}, entries[0].Vers)
}
