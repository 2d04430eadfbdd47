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

// Package main implements the recentris CLI: a three-stage pipeline that
// fingerprints upstream C/C++ repositories, reduces the result to a
// de-duplicated component database, and scans target trees for reused
// third-party code.
//
// Usage:
//
//	recentris collect    <repos-dir>    Walk upstream repo tags and fingerprint them
//	recentris preprocess                Build signatures, weights, and the component DB
//	recentris detect     <target-dir>   Scan a target tree and report detections
package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags carries the flags shared by every subcommand.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "recentris.yaml", "Path to recentris.yaml (default: ./recentris.yaml)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `recentris - third-party component reuse detector

Usage:
  recentris <command> [options]

Commands:
  collect      Walk upstream repository tags and fingerprint them
  preprocess   Build signatures, weights, and the component database
  detect       Scan a target tree and report component detections

Global Options:
  --config     Path to recentris.yaml
  --version    Show version and exit

Examples:
  recentris collect ./repos
  recentris preprocess
  recentris detect ./target --json

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("recentris version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "collect":
		runCollect(cmdArgs, *configPath)
	case "preprocess":
		runPreprocess(cmdArgs, *configPath)
	case "detect":
		runDetect(cmdArgs, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
