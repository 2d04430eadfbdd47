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

// Package fingerprint wraps the locality-sensitive hash oracle (spec §6.T)
// behind a narrow interface so the rest of the pipeline never depends on the
// concrete hash family. The TLSH algorithm itself is explicitly out of
// scope for reimplementation (spec §1); this package is a thin adapter over
// github.com/glaslos/tlsh, an ecosystem TLSH implementation.
package fingerprint

import (
	"strings"

	"github.com/glaslos/tlsh"

	"github.com/kraklabs/recentris/internal/model"
)

// Sentinel strings the oracle may return to signal unusable input
// (spec §4.1 step 7, §6.T).
const (
	SentinelTNull = "TNULL"
	SentinelNull  = "NULL"
)

// versionPrefix is the optional two-character prefix ("T1") some TLSH
// encodings emit ahead of the 70 hex characters.
const versionPrefix = "T1"

// Oracle computes fingerprints and fingerprint distances. It is safe for
// concurrent use: glaslos/tlsh's hashing functions hold no shared state.
type Oracle struct{}

// NewOracle constructs a fingerprint Oracle.
func NewOracle() *Oracle {
	return &Oracle{}
}

// Hash computes the fingerprint of normalised bytes. It returns
// (FP{}, false) when the oracle rejects the input — either because it
// returned one of the sentinel strings, an empty string, or a string that
// is not exactly 70 hex characters once an optional "T1" prefix is
// stripped (spec §4.1 step 7). A minimum-length floor mirrors the TLSH
// family's inherent entropy requirement: inputs shorter than this cannot
// produce a stable hash and are rejected before calling into the library to
// avoid panics on degenerate input.
func (o *Oracle) Hash(normalised []byte) (model.FP, bool) {
	if len(normalised) < 50 {
		return model.FP{}, false
	}

	h, err := tlsh.HashBytes(normalised)
	if err != nil || h == nil {
		return model.FP{}, false
	}

	s := h.String()
	s = strings.TrimSpace(s)
	if s == "" || s == SentinelNull || s == SentinelTNull {
		return model.FP{}, false
	}
	s = strings.ToUpper(strings.TrimPrefix(strings.ToUpper(s), versionPrefix))

	fp, err := model.ParseFP(s)
	if err != nil {
		return model.FP{}, false
	}
	return fp, true
}

// Distance returns the symmetric integer distance between two
// fingerprints. distance(a,a) == 0 and distance(a,b) == distance(b,a) for
// all a, b (spec §3, §8).
func (o *Oracle) Distance(a, b model.FP) (int, error) {
	ha, err := tlsh.ParseStringToTlsh(a.String())
	if err != nil {
		return 0, err
	}
	hb, err := tlsh.ParseStringToTlsh(b.String())
	if err != nil {
		return 0, err
	}
	return ha.Diff(hb), nil
}
