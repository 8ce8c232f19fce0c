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

package swclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowMonotonicWithinRateBounds(t *testing.T) {
	c := New(1000, 1.0)
	t1 := c.Now()
	time.Sleep(20 * time.Millisecond)
	t2 := c.Now()
	elapsedWall := 0.020
	assert.GreaterOrEqual(t, t2-t1, elapsedWall*(1-1.0)-0.01)
	assert.LessOrEqual(t, t2-t1, elapsedWall*(1+1.0)+0.01)
}

func TestSetRateAdjustmentClampsAndStaysContinuous(t *testing.T) {
	c := New(1000, 1.0)
	c.SetRateAdjustment(5.0) // out of range, clamp to 1.0
	assert.Equal(t, 1.0, c.RateAdjustment())
	c.SetRateAdjustment(-5.0)
	assert.Equal(t, -1.0, c.RateAdjustment())

	c.SetRateAdjustment(0.5)
	t1 := c.Now()
	time.Sleep(10 * time.Millisecond)
	c.SetRateAdjustment(0.1) // changing rate must not cause a jump
	t2 := c.Now()
	assert.Greater(t, t2, t1)
	assert.Less(t, t2-t1, 0.1) // no discontinuity from the rate change itself
}

func TestSetTimeOffsetStepsAndNotifies(t *testing.T) {
	c := New(1000, 1.0)
	var notified float64
	var calls int
	c.OnStep(func(delta float64) {
		notified = delta
		calls++
	})

	before := c.Now()
	c.SetTimeOffset(5.0)
	after := c.Now()

	assert.InDelta(t, before+5.0, after, 0.01)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 5.0, notified)
}

func TestNewClampsInvalidMaxRate(t *testing.T) {
	c := New(0, -1)
	require.Equal(t, DefaultMaxRate, c.MaxRate())
}
