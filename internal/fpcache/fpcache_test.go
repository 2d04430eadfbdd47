// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package fpcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := New[int](10, time.Hour)
	c.Put("a", 42)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestCache_MissingKey(t *testing.T) {
	c := New[string](10, time.Hour)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New[int](10, time.Millisecond)
	c.Put("a", 1)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_EvictsOldestOnOverflow(t *testing.T) {
	c := New[int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_ZeroOrNegativeCapacityDefaults(t *testing.T) {
	c := New[int](0, 0)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
