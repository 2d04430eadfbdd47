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

import "github.com/kraklabs/recentris/internal/model"

// Hasher is the narrow interface the extraction and matching stages depend
// on, satisfied by Oracle and by test fakes.
type Hasher interface {
	Hash(normalised []byte) (model.FP, bool)
}

// DistanceFunc is the narrow interface the matcher depends on for the
// symmetric distance oracle (spec §3, §6.T).
type DistanceFunc interface {
	Distance(a, b model.FP) (int, error)
}

var (
	_ Hasher       = (*Oracle)(nil)
	_ DistanceFunc = (*Oracle)(nil)
)
