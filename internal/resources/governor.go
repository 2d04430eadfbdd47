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

// Package resources sizes worker pools per spec §5's two formulas: a
// CPU-bound sizing for the extractor and target fingerprinter, and an
// I/O-bound sizing for the tag walker. This generalizes the original
// collector's ResourceManager (spec §9 SUPPLEMENT: resource-aware worker
// throttling), which scaled process-pool size off live CPU/memory load;
// here the equivalent signal is a static core count, since Go's
// goroutine scheduler — unlike the original's OS-process pool — does not
// need the same defensive ceiling against process-spawn overhead.
package resources

import "runtime"

// CPUBoundWorkers returns the worker count for CPU-bound stages (the
// Function Extractor and Target Fingerprinter): max(1, cores -
// max(4, floor(cores*0.2))), reserving headroom for the OS and for the
// ctags subprocess each worker spawns.
func CPUBoundWorkers() int {
	return cpuBoundWorkers(runtime.NumCPU())
}

func cpuBoundWorkers(cores int) int {
	reserve := cores / 5 // floor(cores*0.2)
	if reserve < 4 {
		reserve = 4
	}
	workers := cores - reserve
	if workers < 1 {
		workers = 1
	}
	return workers
}

// IOBoundWorkers returns the worker count for I/O-bound stages (the Tag
// Walker, which spends most of its time in git subprocess calls):
// min(2*cores, 120).
func IOBoundWorkers() int {
	return ioBoundWorkers(runtime.NumCPU())
}

func ioBoundWorkers(cores int) int {
	workers := cores * 2
	if workers > 120 {
		workers = 120
	}
	return workers
}

// Governor admits work against a fixed concurrency budget. It is a plain
// counting semaphore; the worker-count formulas above decide the budget,
// the Governor just enforces it. The collect command uses one to bound how
// many repositories are walked at once.
type Governor struct {
	slots chan struct{}
}

// NewGovernor returns a Governor admitting at most max concurrent holders.
func NewGovernor(max int) *Governor {
	if max < 1 {
		max = 1
	}
	return &Governor{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is free.
func (g *Governor) Acquire() {
	g.slots <- struct{}{}
}

// Release frees a slot.
func (g *Governor) Release() {
	<-g.slots
}

// TryAcquire acquires a slot without blocking, reporting whether it
// succeeded.
func (g *Governor) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}
