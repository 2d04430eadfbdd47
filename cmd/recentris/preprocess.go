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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/recentris/internal/config"
	"github.com/kraklabs/recentris/internal/metrics"
	"github.com/kraklabs/recentris/internal/output"
	"github.com/kraklabs/recentris/internal/reduce"
	"github.com/kraklabs/recentris/internal/rerrors"
	"github.com/kraklabs/recentris/internal/signature"
	"github.com/kraklabs/recentris/internal/ui"
	"github.com/kraklabs/recentris/internal/weights"
)

// preprocessSummary is the JSON-serializable result of a preprocess run.
type preprocessSummary struct {
	Repos        int           `json:"repos"`
	TotalFPs     int           `json:"total_fps"`
	StrippedFPs  int           `json:"stripped_fps"`
	Duration     time.Duration `json:"duration"`
}

// runPreprocess executes the 'preprocess' CLI command: it folds every
// repository's tag fingerprints into a signature (spec §4.3), derives
// weights and cross-repo meta tables (spec §4.4), then runs the component
// reducer to produce the de-duplicated component database (spec §4.5).
func runPreprocess(args []string, configPath string) {
	fs := flag.NewFlagSet("preprocess", flag.ExitOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")
	jsonOutput := fs.Bool("json", false, "Output the run summary as JSON")
	noColor := fs.Bool("no-color", false, "Disable colored output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: recentris preprocess [options]

Builds per-repository signatures, IDF weights, cross-repository meta
tables, and the reduced component database from a prior 'collect' run.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	ui.InitColors(*noColor)

	cfg, err := config.Load(configPath)
	if err != nil {
		rerrors.FatalError(rerrors.NewDataDefect("cannot load configuration", err.Error(), "check --config path and YAML syntax", err), *jsonOutput)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	analyseDir := cfg.Paths.AnalyseDir
	resultDir := filepath.Join(analyseDir, "result")
	tagDateDir := filepath.Join(analyseDir, "repo_date")
	funcDateDir := filepath.Join(analyseDir, "funcDate")
	verIdxDir := filepath.Join(analyseDir, "verIDX")
	initialSigsDir := filepath.Join(analyseDir, "initialSigs")
	weightDir := filepath.Join(analyseDir, "meta", "weights")
	metaDir := filepath.Join(analyseDir, "meta")
	componentDBDir := filepath.Join(analyseDir, "componentDB")

	entries, err := os.ReadDir(resultDir)
	if err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot read result directory", err.Error(), "run 'recentris collect' first", err), *jsonOutput)
	}
	var repos []string
	for _, e := range entries {
		if e.IsDir() {
			repos = append(repos, e.Name())
		}
	}

	pcfg := NewProgressConfig(*jsonOutput, false, *noColor)
	start := time.Now()

	// Step 1: Signature Builder, one repo at a time (spec §4.3).
	bar := NewProgressBar(pcfg, int64(len(repos)), "building signatures")
	for _, repo := range repos {
		res, err := signature.Build(resultDir, tagDateDir, repo)
		if err != nil {
			logger.Warn("preprocess.signature.failed", "repo", repo, "err", err)
			continue
		}
		if err := res.Persist(funcDateDir, verIdxDir, initialSigsDir); err != nil {
			logger.Warn("preprocess.signature.persist_failed", "repo", repo, "err", err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	// Step 2: Weight & Meta Builder (spec §4.4).
	mb := weights.NewMetaBuilder()
	bar = NewProgressBar(pcfg, int64(len(repos)), "building weights")
	for _, repo := range repos {
		v, err := weights.CountVersions(resultDir, repo)
		if err != nil {
			logger.Warn("preprocess.weights.count_failed", "repo", repo, "err", err)
			continue
		}
		sigPath := filepath.Join(initialSigsDir, repo+"_sig")
		res, err := weights.Build(repo, sigPath, v)
		if err != nil {
			logger.Warn("preprocess.weights.build_failed", "repo", repo, "err", err)
			continue
		}
		if err := res.Persist(weightDir); err != nil {
			logger.Warn("preprocess.weights.persist_failed", "repo", repo, "err", err)
		}
		mb.Add(res)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if err := mb.Persist(metaDir); err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot persist meta tables", err.Error(), "check permissions on the analyse directory", err), *jsonOutput)
	}
	tables := mb.Tables()

	// Step 3: Component Reducer (spec §4.5).
	unique := reduce.InvertUnique(tables.Unique)
	birthDates := make(map[string]map[string]string, len(repos))

	theta := cfg.Analysis.ThetaReduce
	if theta <= 0 {
		theta = reduce.DefaultTheta
	}

	totalFPs, strippedFPs := 0, 0
	reduceStart := time.Now()

	rawSigs := make(map[string]int, len(repos)) // repo -> initial fp count, for the summary
	sigsByRepo := make(map[string][]reduce.SigRecord, len(repos))
	for _, repo := range repos {
		birthDates[repo], _ = reduce.LoadFuncDates(filepath.Join(funcDateDir, repo+"_funcdate"))
		records, err := reduce.LoadSigFile(filepath.Join(initialSigsDir, repo+"_sig"))
		if err != nil {
			logger.Warn("preprocess.reduce.load_failed", "repo", repo, "err", err)
			continue
		}
		sigsByRepo[repo] = records
		rawSigs[repo] = len(records)
		totalFPs += len(records)
	}

	in := reduce.Inputs{Unique: unique, BirthDates: birthDates, AveFuncs: tables.AveFuncs, Theta: theta}
	db := reduce.BuildComponentDB(repos, sigsByRepo, in)
	metrics.ObserveReduceDuration(time.Since(reduceStart).Seconds())
	metrics.RecordRepoReduced()

	for repo, entries := range db.Entries {
		stripped := rawSigs[repo] - len(entries)
		if stripped > 0 {
			strippedFPs += stripped
		}
	}
	metrics.RecordFPsStripped(strippedFPs)

	if err := reduce.PersistComponentDB(db, componentDBDir); err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot persist component database", err.Error(), "check permissions on the analyse directory", err), *jsonOutput)
	}

	summary := preprocessSummary{
		Repos:       len(repos),
		TotalFPs:    totalFPs,
		StrippedFPs: strippedFPs,
		Duration:    time.Since(start),
	}
	if *jsonOutput {
		_ = output.JSON(summary)
		return
	}
	ui.Header("Preprocessing Complete")
	fmt.Printf("Repositories:   %d\n", summary.Repos)
	fmt.Printf("Total functions: %d\n", summary.TotalFPs)
	ui.Successf("Stripped to earlier ancestors: %d", summary.StrippedFPs)
	fmt.Printf("Duration: %s\n", summary.Duration)
}
