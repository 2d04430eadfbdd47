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

package fingerprint

import (
	"crypto/sha256"

	"github.com/kraklabs/recentris/internal/model"
)

// FakeOracle is a deterministic, dependency-free stand-in for Oracle used in
// tests that don't need real locality-sensitivity, only a stable
// content-addressed fingerprint and a distance oracle obeying
// distance(a,a)==0 and symmetry. It hashes with SHA-256 (which happens to be
// 32 bytes — three short of the 35-byte FP width — so the last 3 bytes are
// zero-padded) and defines distance as the Hamming weight of the XOR of the
// two fingerprints. Being cryptographic rather than locality-sensitive,
// FakeOracle does not give near-identical inputs a small distance. Tests
// that need "modified sibling" semantics construct FPs directly rather than
// through FakeOracle.Hash.
type FakeOracle struct {
	// Reject, if set, causes Hash to always fail — used to test the
	// extractor's "fingerprint unusable" skip path.
	Reject bool
}

// Hash implements Hasher.
func (f *FakeOracle) Hash(normalised []byte) (model.FP, bool) {
	if f.Reject || len(normalised) == 0 {
		return model.FP{}, false
	}
	sum := sha256.Sum256(normalised)
	var fp model.FP
	copy(fp[:], sum[:])
	return fp, true
}

// Distance implements DistanceFunc as the Hamming distance (count of
// differing bits) over the raw bytes, unscaled (0 == identical, larger ==
// more different).
func (f *FakeOracle) Distance(a, b model.FP) (int, error) {
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist++
			x &= x - 1
		}
	}
	return dist, nil
}

var (
	_ Hasher       = (*FakeOracle)(nil)
	_ DistanceFunc = (*FakeOracle)(nil)
)
