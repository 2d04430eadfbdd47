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
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/recentris/internal/config"
	"github.com/kraklabs/recentris/internal/extract"
	"github.com/kraklabs/recentris/internal/fingerprint"
	"github.com/kraklabs/recentris/internal/fpcache"
	"github.com/kraklabs/recentris/internal/metrics"
	"github.com/kraklabs/recentris/internal/output"
	"github.com/kraklabs/recentris/internal/resources"
	"github.com/kraklabs/recentris/internal/rerrors"
	"github.com/kraklabs/recentris/internal/ui"
	"github.com/kraklabs/recentris/internal/walk"
)

// collectSummary is the JSON-serializable result of a collect run.
type collectSummary struct {
	ReposDir      string        `json:"repos_dir"`
	ReposWalked   int           `json:"repos_walked"`
	ReposAccepted int           `json:"repos_accepted"`
	ReposDropped  int           `json:"repos_dropped"`
	Duration      time.Duration `json:"duration"`
}

// runCollect executes the 'collect' CLI command: it walks every repository
// under reposDir, checking out each tag in turn and fingerprinting its
// source tree (spec §4.2).
func runCollect(args []string, configPath string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	workers := fs.Int("workers", 0, "Parallel repo walkers (0 = min(2*cores,120))")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	jsonOutput := fs.Bool("json", false, "Output the run summary as JSON")
	noColor := fs.Bool("no-color", false, "Disable colored output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: recentris collect <repos-dir> [options]

Walks every repository checkout under <repos-dir>, enumerates its tags,
and fingerprints each tag's source tree into result/<repo>/fuzzy_<tag>.hidx.

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
	reposDir := fs.Arg(0)

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

	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	repos, err := walk.DiscoverRepos(reposDir)
	if err != nil {
		rerrors.FatalError(rerrors.NewTransientIO("cannot read repos directory", err.Error(), "check the path and permissions", err), *jsonOutput)
	}

	ex := extract.New(cfg.Analysis.CtagsPath, time.Duration(cfg.Performance.TaggerTimeoutS)*time.Second, nil, fingerprint.NewOracle())
	ex.Cache = fpcache.New[extract.FileResult](cfg.Performance.CacheSize, time.Duration(cfg.Performance.CacheExpireS)*time.Second)

	resultDir := filepath.Join(cfg.Paths.AnalyseDir, "result")
	tagDateDir := filepath.Join(cfg.Paths.AnalyseDir, "repo_date")
	status := walk.NewStatusStore(filepath.Join(cfg.Paths.AnalyseDir, "status.json"))

	walker := walk.New(ex, status, resultDir, tagDateDir, logger)
	if cfg.Performance.CheckoutTimeoutS > 0 {
		walker.CheckoutTimeout = time.Duration(cfg.Performance.CheckoutTimeoutS) * time.Second
	}
	if cfg.Performance.TagListTimeoutS > 0 {
		walker.TagListTimeout = time.Duration(cfg.Performance.TagListTimeoutS) * time.Second
	}
	if cfg.Analysis.TagSuccessRatio > 0 {
		walker.TagSuccessRatio = cfg.Analysis.TagSuccessRatio
	}
	walker.TempDir = cfg.Paths.TempDir

	n := *workers
	if n <= 0 {
		n = resources.IOBoundWorkers()
	}
	gov := resources.NewGovernor(n)

	pcfg := NewProgressConfig(*jsonOutput, false, *noColor)
	bar := NewProgressBar(pcfg, int64(len(repos)), "walking repos")

	start := time.Now()
	var mu sync.Mutex
	var wg sync.WaitGroup
	accepted, dropped := 0, 0

	for _, repo := range repos {
		if ctx.Err() != nil {
			break
		}
		repo := repo
		gov.Acquire()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer gov.Release()
			defer func() {
				if bar != nil {
					_ = bar.Add(1)
				}
			}()

			repoStart := time.Now()
			ok, total, walkErr := walker.WalkRepo(ctx, repo)
			metrics.ObserveWalkDuration(time.Since(repoStart).Seconds())
			metrics.RecordRepoWalked()

			if walkErr != nil {
				logger.Warn("collect.repo.failed", "repo", repo.Name, "err", walkErr)
				_ = status.Update(repo.Name, func(rs *walk.RepoStatus) {
					rs.Success = false
					rs.Error = walkErr.Error()
					rs.TagsTotal = total
					rs.TagsOK = ok
				})
				mu.Lock()
				dropped++
				mu.Unlock()
				return
			}

			if total > 0 && float64(ok)/float64(total) < walker.TagSuccessRatio {
				logger.Warn("collect.repo.below_success_ratio", "repo", repo.Name, "ok", ok, "total", total)
				_ = os.RemoveAll(filepath.Join(resultDir, repo.Name))
				_ = status.Update(repo.Name, func(rs *walk.RepoStatus) {
					rs.Success = false
					rs.Error = fmt.Sprintf("below tag success ratio: %d/%d", ok, total)
					rs.TagsTotal = total
					rs.TagsOK = ok
				})
				mu.Lock()
				dropped++
				mu.Unlock()
				return
			}

			for i := 0; i < ok; i++ {
				metrics.RecordTagOK()
			}
			_ = status.Update(repo.Name, func(rs *walk.RepoStatus) {
				rs.Success = true
				rs.Error = ""
				rs.TagsTotal = total
				rs.TagsOK = ok
			})
			mu.Lock()
			accepted++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	summary := collectSummary{
		ReposDir:      reposDir,
		ReposWalked:   len(repos),
		ReposAccepted: accepted,
		ReposDropped:  dropped,
		Duration:      time.Since(start),
	}

	if *jsonOutput {
		_ = output.JSON(summary)
		return
	}
	ui.Header("Collection Complete")
	fmt.Printf("Repositories walked:   %d\n", summary.ReposWalked)
	ui.Successf("Accepted: %d", summary.ReposAccepted)
	if summary.ReposDropped > 0 {
		ui.Warningf("Dropped (below tag success ratio or failed): %d", summary.ReposDropped)
	}
	fmt.Printf("Duration: %s\n", summary.Duration)
}

func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics.http.error", "err", err)
	}
}
