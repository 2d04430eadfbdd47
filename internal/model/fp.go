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

// Package model defines the on-disk and in-memory data model shared by the
// collector, preprocessor, and detector stages: fingerprints, per-tag
// indices, per-repository signatures, birth dates, weights, and the reduced
// component database.
package model

import (
	"encoding/hex"
	"errors"
)

// FPLen is the length in hex characters of a fingerprint, per spec §3.
const FPLen = 70

// ErrBadFP is returned when a string cannot be parsed as a fingerprint.
var ErrBadFP = errors.New("model: fingerprint must be 70 hex characters")

// FP is a locality-sensitive fingerprint, stored as raw bytes (35 bytes for
// 70 hex characters) rather than a string so that equality and hashing are
// defined on the raw bytes (design note, spec §9) instead of on a
// variable-length string.
type FP [FPLen / 2]byte

// ParseFP parses a 70-character hex string into an FP. It does not accept
// the optional two-character "T1" version prefix: callers strip it before
// reaching this function (see fingerprint.Oracle.Hash).
func ParseFP(s string) (FP, error) {
	var fp FP
	if len(s) != FPLen {
		return fp, ErrBadFP
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, ErrBadFP
	}
	copy(fp[:], b)
	return fp, nil
}

// String renders the fingerprint back to its 70-character hex form.
func (fp FP) String() string {
	return hex.EncodeToString(fp[:])
}

// IsZero reports whether fp is the zero value (never a valid fingerprint in
// practice, but useful as a sentinel in maps keyed by FP with `ok` idioms
// unavailable).
func (fp FP) IsZero() bool {
	var zero FP
	return fp == zero
}
