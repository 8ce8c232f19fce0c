/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package roundctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleClampsNegativeDelay(t *testing.T) {
	// (t4-t1)-(t3-t2) = (2.5-0)-(2-1) = 1.5 -> valid positive delay
	s1 := NewSample(0, 1, 2, 2.5)
	assert.InDelta(t, 1.5, s1.Delay, 1e-9)

	// (t4-t1)-(t3-t2) = (1-0)-(3-0) = -2 -> clamped to zero
	s2 := NewSample(0, 0, 3, 1)
	assert.Equal(t, 0.0, s2.Delay)
}

func TestRoundSelectsMinimumDelay(t *testing.T) {
	r := NewRound(6)
	r.Add(NewSample(0, 1, 1, 2))    // delay 2, offset 0
	r.Add(NewSample(0, 1, 1.1, 2))  // delay 1.9
	r.Add(NewSample(0, 0.5, 0.6, 1)) // delay 0.9, the smallest

	best, ok := r.Best()
	require.True(t, ok)
	for _, s := range []Sample{
		NewSample(0, 1, 1, 2),
		NewSample(0, 1, 1.1, 2),
		NewSample(0, 0.5, 0.6, 1),
	} {
		assert.LessOrEqual(t, best.Delay, s.Delay+1e-9)
	}
}

func TestRoundEmptyReportsFalse(t *testing.T) {
	r := NewRound(6)
	_, ok := r.Best()
	assert.False(t, ok)
}

func TestRoundRejectsBeyondCapacity(t *testing.T) {
	r := NewRound(2)
	assert.True(t, r.Add(NewSample(0, 1, 1, 2)))
	assert.True(t, r.Add(NewSample(0, 1, 1, 2)))
	assert.False(t, r.Add(NewSample(0, 1, 1, 2)))
	assert.True(t, r.Full())
}

func TestDelayAlwaysNonNegative(t *testing.T) {
	cases := [][4]float64{
		{0, 1, 2, 2.5},
		{0, 2, 3, 2.5},
		{10, 10.1, 10.2, 10.3},
		{0, -1, -2, -0.5},
	}
	for _, c := range cases {
		s := NewSample(c[0], c[1], c[2], c[3])
		assert.GreaterOrEqual(t, s.Delay, 0.0)
	}
}
