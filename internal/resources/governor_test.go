// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUBoundWorkers(t *testing.T) {
	assert.Equal(t, 4, cpuBoundWorkers(8))   // reserve = max(4, floor(8*0.2)) = max(4,1) = 4 -> 8-4=4
	assert.Equal(t, 1, cpuBoundWorkers(1))   // reserve = max(4,0) = 4 -> 1-4 clamped to 1
	assert.Equal(t, 26, cpuBoundWorkers(32)) // reserve = max(4, floor(32*0.2)) = max(4,6) = 6 -> 32-6=26
}

func TestCPUBoundWorkers_NeverBelowOne(t *testing.T) {
	for cores := 1; cores <= 64; cores++ {
		assert.GreaterOrEqual(t, cpuBoundWorkers(cores), 1)
	}
}

func TestIOBoundWorkers_CapsAt120(t *testing.T) {
	assert.Equal(t, 120, ioBoundWorkers(100))
	assert.Equal(t, 16, ioBoundWorkers(8))
}

func TestGovernor_AcquireRelease(t *testing.T) {
	g := NewGovernor(1)
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	g.Release()
	assert.True(t, g.TryAcquire())
}
