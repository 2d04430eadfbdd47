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

// Package metrics exposes Prometheus counters and histograms for the
// collect/preprocess/detect stages, following the ingestion subsystem's
// sync.Once-guarded registration pattern so repeated calls (e.g. from
// tests) never panic on double-registration.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	once sync.Once

	reposWalked    prometheus.Counter
	tagsOK         prometheus.Counter
	tagsFailed     prometheus.Counter
	functionsFound prometheus.Counter

	reposReduced prometheus.Counter
	fpsStripped  prometheus.Counter

	targetsScanned    prometheus.Counter
	componentsHit     prometheus.Counter
	componentsSkipped prometheus.Counter

	walkDuration   prometheus.Histogram
	reduceDuration prometheus.Histogram
	matchDuration  prometheus.Histogram
}

var m pipelineMetrics

func (pm *pipelineMetrics) init() {
	pm.once.Do(func() {
		pm.reposWalked = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_collect_repos_walked_total", Help: "Repositories processed by the tag walker"})
		pm.tagsOK = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_collect_tags_ok_total", Help: "Tags checked out and fingerprinted successfully"})
		pm.tagsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_collect_tags_failed_total", Help: "Tags that failed checkout or extraction"})
		pm.functionsFound = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_collect_functions_total", Help: "Functions fingerprinted across all tags"})

		pm.reposReduced = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_preprocess_repos_reduced_total", Help: "Repositories processed by the component reducer"})
		pm.fpsStripped = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_preprocess_fps_stripped_total", Help: "Fingerprints attributed away to an earlier-shipping ancestor"})

		pm.targetsScanned = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_detect_targets_scanned_total", Help: "Target trees fingerprinted"})
		pm.componentsHit = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_detect_components_hit_total", Help: "Components passing the coverage threshold"})
		pm.componentsSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "recentris_detect_components_skipped_total", Help: "Components skipped below the coverage threshold"})

		buckets := []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}
		pm.walkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "recentris_collect_repo_seconds", Help: "Per-repository walk duration", Buckets: buckets})
		pm.reduceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "recentris_preprocess_repo_seconds", Help: "Per-repository reduction duration", Buckets: buckets})
		pm.matchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "recentris_detect_target_seconds", Help: "Per-target detection duration", Buckets: buckets})

		prometheus.MustRegister(
			pm.reposWalked, pm.tagsOK, pm.tagsFailed, pm.functionsFound,
			pm.reposReduced, pm.fpsStripped,
			pm.targetsScanned, pm.componentsHit, pm.componentsSkipped,
			pm.walkDuration, pm.reduceDuration, pm.matchDuration,
		)
	})
}

func RecordRepoWalked()          { m.init(); m.reposWalked.Inc() }
func RecordTagOK()               { m.init(); m.tagsOK.Inc() }
func RecordTagFailed()           { m.init(); m.tagsFailed.Inc() }
func RecordFunctionsFound(n int) { m.init(); m.functionsFound.Add(float64(n)) }

func RecordRepoReduced()      { m.init(); m.reposReduced.Inc() }
func RecordFPsStripped(n int) { m.init(); m.fpsStripped.Add(float64(n)) }

func RecordTargetScanned()    { m.init(); m.targetsScanned.Inc() }
func RecordComponentHit()     { m.init(); m.componentsHit.Inc() }
func RecordComponentSkipped() { m.init(); m.componentsSkipped.Inc() }

func ObserveWalkDuration(seconds float64)   { m.init(); m.walkDuration.Observe(seconds) }
func ObserveReduceDuration(seconds float64) { m.init(); m.reduceDuration.Observe(seconds) }
func ObserveMatchDuration(seconds float64)  { m.init(); m.matchDuration.Observe(seconds) }
