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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/recentris/internal/model"
)

func TestFakeOracle_HashDeterministic(t *testing.T) {
	o := &FakeOracle{}
	body := []byte("intfoo(inta,intb){returna+b;}")

	fp1, ok1 := o.Hash(body)
	fp2, ok2 := o.Hash(body)

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, fp1, fp2, "hashing the same normalised body twice must be idempotent")
}

func TestFakeOracle_HashRejectsEmpty(t *testing.T) {
	o := &FakeOracle{}
	_, ok := o.Hash(nil)
	assert.False(t, ok)
}

func TestFakeOracle_HashRejectsWhenConfigured(t *testing.T) {
	o := &FakeOracle{Reject: true}
	_, ok := o.Hash([]byte("anything"))
	assert.False(t, ok)
}

func TestFakeOracle_DistanceSymmetricAndZeroForSelf(t *testing.T) {
	o := &FakeOracle{}
	a, _ := o.Hash([]byte("bodyone"))
	b, _ := o.Hash([]byte("bodytwo"))

	dAA, err := o.Distance(a, a)
	require.NoError(t, err)
	assert.Equal(t, 0, dAA)

	dAB, err := o.Distance(a, b)
	require.NoError(t, err)
	dBA, err := o.Distance(b, a)
	require.NoError(t, err)
	assert.Equal(t, dAB, dBA)
}

func TestParseFP_RoundTrip(t *testing.T) {
	hex70 := ""
	for i := 0; i < 70; i++ {
		hex70 += "a"
	}
	fp, err := model.ParseFP(hex70)
	require.NoError(t, err)
	assert.Equal(t, hex70, fp.String())
}

func TestParseFP_RejectsWrongLength(t *testing.T) {
	_, err := model.ParseFP("deadbeef")
	assert.ErrorIs(t, err, model.ErrBadFP)
}
