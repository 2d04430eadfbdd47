// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the YAML configuration file that drives every
// recentris stage (spec §6: sections paths, performance, analysis,
// logging), with RECENTRIS_<SECTION>_<KEY> environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathsConfig configures the on-disk roots the pipeline reads and writes.
type PathsConfig struct {
	ReposDir   string `yaml:"repos_dir"`
	AnalyseDir string `yaml:"analyse_dir"`
	TempDir    string `yaml:"temp_dir"`
	LogDir     string `yaml:"log_dir"`
}

// PerformanceConfig configures worker-pool sizing and timeouts (spec §5).
type PerformanceConfig struct {
	ExtractWorkers  int `yaml:"extract_workers"`  // A/F, default cores-reserve
	WalkWorkers     int `yaml:"walk_workers"`      // B, default min(2*cores,120)
	TaggerTimeoutS  int `yaml:"tagger_timeout_s"`  // per-file, default 30
	TagListTimeoutS int `yaml:"tag_list_timeout_s"` // per-repo, default 300
	CheckoutTimeoutS int `yaml:"checkout_timeout_s"` // per-tag, default 120
	CacheSize       int `yaml:"cache_size"`
	CacheExpireS    int `yaml:"cache_expire_s"`
	MemoryLimit     float64 `yaml:"memory_limit"` // fraction of system memory, governor
}

// AnalysisConfig configures the detection thresholds and accepted
// languages (spec §3, §4.5, §4.7).
type AnalysisConfig struct {
	ThetaReduce      float64  `yaml:"theta_reduce"`
	ThetaMatch       float64  `yaml:"theta_match"`
	DMod             int      `yaml:"d_mod"`
	TagSuccessRatio  float64  `yaml:"tag_success_ratio"`
	Languages        map[string][]string `yaml:"languages"`
	CtagsPath        string   `yaml:"ctags_path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the top-level configuration document.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Performance PerformanceConfig `yaml:"performance"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns the configuration with every spec-mandated default value
// filled in (spec §3 D_MOD=30, θ_MATCH=θ_REDUCE=0.1, spec §4.2 80% tag
// success, spec §5 timeouts).
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			ReposDir:   "repos",
			AnalyseDir: "analyse_file",
			TempDir:    "analyse_file/oss_collector/temp",
			LogDir:     "logs",
		},
		Performance: PerformanceConfig{
			ExtractWorkers:   0, // 0 => computed from runtime.NumCPU at call site
			WalkWorkers:      0,
			TaggerTimeoutS:   30,
			TagListTimeoutS:  300,
			CheckoutTimeoutS: 120,
			CacheSize:        1000,
			CacheExpireS:     3600,
			MemoryLimit:      0.9,
		},
		Analysis: AnalysisConfig{
			ThetaReduce:     0.1,
			ThetaMatch:      0.1,
			DMod:            30,
			TagSuccessRatio: 0.8,
			Languages: map[string][]string{
				"cpp": {".c", ".cc", ".cpp", ".cxx", ".h", ".hpp"},
			},
			CtagsPath: "ctags",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads a YAML config file at path, falling back to Default() fields
// for anything unset, then applies RECENTRIS_<SECTION>_<KEY> environment
// overrides (spec §6).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides scans the environment for RECENTRIS_<SECTION>_<KEY>
// variables and applies them over the loaded config. Only scalar fields are
// supported, matching the override surface spec §6 describes.
func applyEnvOverrides(cfg *Config) {
	const prefix = "RECENTRIS_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.TrimPrefix(parts[0], prefix)
		val := parts[1]
		applyOverride(cfg, key, val)
	}
}

func applyOverride(cfg *Config, key, val string) {
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return
	}
	section = strings.ToUpper(section)
	field = strings.ToUpper(field)

	switch section {
	case "PATHS":
		switch field {
		case "REPOS_DIR":
			cfg.Paths.ReposDir = val
		case "ANALYSE_DIR":
			cfg.Paths.AnalyseDir = val
		case "TEMP_DIR":
			cfg.Paths.TempDir = val
		case "LOG_DIR":
			cfg.Paths.LogDir = val
		}
	case "PERFORMANCE":
		applyPerformanceOverride(&cfg.Performance, field, val)
	case "ANALYSIS":
		applyAnalysisOverride(&cfg.Analysis, field, val)
	case "LOGGING":
		switch field {
		case "LEVEL":
			cfg.Logging.Level = val
		case "FORMAT":
			cfg.Logging.Format = val
		}
	}
}

func applyPerformanceOverride(p *PerformanceConfig, field, val string) {
	i, errI := strconv.Atoi(val)
	f, errF := strconv.ParseFloat(val, 64)
	switch field {
	case "EXTRACT_WORKERS":
		if errI == nil {
			p.ExtractWorkers = i
		}
	case "WALK_WORKERS":
		if errI == nil {
			p.WalkWorkers = i
		}
	case "TAGGER_TIMEOUT_S":
		if errI == nil {
			p.TaggerTimeoutS = i
		}
	case "TAG_LIST_TIMEOUT_S":
		if errI == nil {
			p.TagListTimeoutS = i
		}
	case "CHECKOUT_TIMEOUT_S":
		if errI == nil {
			p.CheckoutTimeoutS = i
		}
	case "CACHE_SIZE":
		if errI == nil {
			p.CacheSize = i
		}
	case "CACHE_EXPIRE_S":
		if errI == nil {
			p.CacheExpireS = i
		}
	case "MEMORY_LIMIT":
		if errF == nil {
			p.MemoryLimit = f
		}
	}
}

func applyAnalysisOverride(a *AnalysisConfig, field, val string) {
	f, errF := strconv.ParseFloat(val, 64)
	i, errI := strconv.Atoi(val)
	switch field {
	case "THETA_REDUCE":
		if errF == nil {
			a.ThetaReduce = f
		}
	case "THETA_MATCH":
		if errF == nil {
			a.ThetaMatch = f
		}
	case "D_MOD":
		if errI == nil {
			a.DMod = i
		}
	case "TAG_SUCCESS_RATIO":
		if errF == nil {
			a.TagSuccessRatio = f
		}
	case "CTAGS_PATH":
		a.CtagsPath = val
	}
}
