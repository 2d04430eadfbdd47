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

// Package targetscan implements the Target Fingerprinter (spec §4.6): it
// applies the Function Extractor over an arbitrary target tree in
// parallel, producing an in-memory fp -> relpaths map with no persistence
// beyond the detector's own result file.
package targetscan

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/kraklabs/recentris/internal/extract"
)

// Map is the in-memory output of a target scan: fingerprint -> the
// relative paths (within the target tree) that contain it.
type Map map[string][]string

// Scan walks root, extracting every supported source file with a pool of
// workers goroutines and merging their results into a single Map.
func Scan(ctx context.Context, ex *extract.Extractor, root string, workers int, logger *slog.Logger) (Map, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if ex.IsSupported(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make(chan string, len(files))
	for _, f := range files {
		jobs <- f
	}
	close(jobs)

	type partial struct {
		fp      string
		relpath string
	}
	results := make(chan partial, len(files))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				fr, procErr := ex.ProcessFile(ctx, path, root)
				if procErr != nil {
					logger.Warn("targetscan.file.failed", "path", path, "err", procErr)
					continue
				}
				for _, rec := range fr.Functions {
					results <- partial{fp: rec.FP.String(), relpath: rec.RelPath}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(Map)
	for r := range results {
		out[r.fp] = append(out[r.fp], r.relpath)
	}
	return out, nil
}
