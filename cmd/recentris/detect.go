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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/recentris/internal/config"
	"github.com/kraklabs/recentris/internal/extract"
	"github.com/kraklabs/recentris/internal/fingerprint"
	"github.com/kraklabs/recentris/internal/match"
	"github.com/kraklabs/recentris/internal/metrics"
	"github.com/kraklabs/recentris/internal/output"
	"github.com/kraklabs/recentris/internal/reduce"
	"github.com/kraklabs/recentris/internal/rerrors"
	"github.com/kraklabs/recentris/internal/resources"
	"github.com/kraklabs/recentris/internal/targetscan"
	"github.com/kraklabs/recentris/internal/ui"
	"github.com/kraklabs/recentris/internal/weights"
)

// detectSummary is the JSON-serializable result of a detect run.
type detectSummary struct {
	ScanID     string                `json:"scan_id"`
	Target     string                `json:"target"`
	Components int                   `json:"components_checked"`
	Detections []detectSummaryEntry  `json:"detections"`
	Duration   time.Duration         `json:"duration"`
}

type detectSummaryEntry struct {
	Repo         string `json:"repo"`
	PredictedVer string `json:"predicted_version"`
	Used         int    `json:"used"`
	Modified     int    `json:"modified"`
	Unused       int    `json:"unused"`
	Relocated    bool   `json:"relocated"`
}

// runDetect executes the 'detect' CLI command: it fingerprints an arbitrary
// target tree (spec §4.6), then evaluates every component in the component
// database against it, emitting a DetectionRecord per component that clears
// the coverage gate (spec §4.7).
func runDetect(args []string, configPath string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	workers := fs.Int("workers", 0, "Parallel target-scan workers (0 = cores-reserve)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	jsonOutput := fs.Bool("json", false, "Output detections as JSON")
	noColor := fs.Bool("no-color", false, "Disable colored output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: recentris detect <target-dir> [options]

Fingerprints every source file under <target-dir> and checks it against
the component database built by a prior 'preprocess' run, reporting
which third-party components are used, modified, unused, or relocated.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	ui.InitColors(*noColor)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	targetDir := fs.Arg(0)

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

	scanID := uuid.New().String()
	logger.Info("detect.start", "scan_id", scanID, "target", targetDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	analyseDir := cfg.Paths.AnalyseDir
	verIdxDir := filepath.Join(analyseDir, "verIDX")
	weightDir := filepath.Join(analyseDir, "meta", "weights")
	metaDir := filepath.Join(analyseDir, "meta")
	componentDBDir := filepath.Join(analyseDir, "componentDB")
	resultDir := filepath.Join(analyseDir, "result")

	aveFuncs, err := weights.LoadAveFuncs(metaDir)
	if err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot load meta/aveFuncs", err.Error(), "run 'recentris preprocess' first", err), *jsonOutput)
	}

	entries, err := os.ReadDir(componentDBDir)
	if err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot read component database", err.Error(), "run 'recentris preprocess' first", err), *jsonOutput)
	}
	var repos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		repos = append(repos, strings.TrimSuffix(e.Name(), "_sig"))
	}

	start := time.Now()
	ex := extract.New(cfg.Analysis.CtagsPath, time.Duration(cfg.Performance.TaggerTimeoutS)*time.Second, nil, fingerprint.NewOracle())

	n := *workers
	if n <= 0 {
		n = resources.CPUBoundWorkers()
	}

	scanStart := time.Now()
	target, err := targetscan.Scan(ctx, ex, targetDir, n, logger)
	metrics.ObserveMatchDuration(time.Since(scanStart).Seconds())
	if err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot scan target directory", err.Error(), "check the path and permissions", err), *jsonOutput)
	}
	metrics.RecordTargetScanned()

	opts := match.DefaultOptions()
	if cfg.Analysis.ThetaMatch > 0 {
		opts.ThetaMatch = cfg.Analysis.ThetaMatch
	}
	if cfg.Analysis.DMod > 0 {
		opts.DMod = cfg.Analysis.DMod
	}
	hasher := fingerprint.NewOracle()

	pcfg := NewProgressConfig(*jsonOutput, false, *noColor)
	bar := NewProgressBar(pcfg, int64(len(repos)), "matching components")

	var records []detectSummaryEntry
	for _, repo := range repos {
		if ctx.Err() != nil {
			break
		}

		compEntries, err := reduce.LoadComponentEntries(componentDBDir, repo)
		if err != nil {
			logger.Warn("detect.component.load_failed", "repo", repo, "err", err)
			if bar != nil {
				_ = bar.Add(1)
			}
			continue
		}
		c, err := match.LoadComponent(repo, compEntries, verIdxDir, weightDir)
		if err != nil {
			logger.Warn("detect.component.load_failed", "repo", repo, "err", err)
			if bar != nil {
				_ = bar.Add(1)
			}
			continue
		}

		rec, ok, err := match.Evaluate(targetDir, c, target, aveFuncs[repo], opts, hasher, func(repo, version string) (map[string][]string, error) {
			return match.LoadPredMap(resultDir, repo, version)
		})
		if err != nil {
			logger.Warn("detect.component.evaluate_failed", "repo", repo, "err", err)
			if bar != nil {
				_ = bar.Add(1)
			}
			continue
		}
		if ok {
			metrics.RecordComponentHit()
			records = append(records, detectSummaryEntry{
				Repo:         rec.Repo,
				PredictedVer: rec.PredictedVer,
				Used:         rec.Used,
				Modified:     rec.Modified,
				Unused:       rec.Unused,
				Relocated:    rec.Relocated,
			})
		} else {
			metrics.RecordComponentSkipped()
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	summary := detectSummary{
		ScanID:     scanID,
		Target:     targetDir,
		Components: len(repos),
		Detections: records,
		Duration:   time.Since(start),
	}

	if *jsonOutput {
		_ = output.JSON(summary)
		return
	}
	ui.Header("Detection Complete")
	fmt.Printf("Target:              %s\n", summary.Target)
	fmt.Printf("Components checked:  %d\n", summary.Components)
	if len(summary.Detections) == 0 {
		ui.Warningf("No components detected above the coverage threshold")
	}
	for _, d := range summary.Detections {
		ui.Successf("%s @ %s  used=%d modified=%d unused=%d relocated=%v",
			d.Repo, d.PredictedVer, d.Used, d.Modified, d.Unused, d.Relocated)
	}
	fmt.Printf("Duration: %s\n", summary.Duration)
}
