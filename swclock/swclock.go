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

// Package swclock implements the Slave's disciplined software clock: a
// monotonic-driven virtual clock whose frequency can be trimmed live and
// whose wall-clock reading can be stepped. It never reads the host wall
// clock after construction, the same isolation clock.Step/AdjFreqPPB give
// a real PHC.
package swclock

import (
	"sync"
	"time"
)

// DefaultMaxRate is the default symmetric bound on rate adjustment
// (±100% frequency trim).
const DefaultMaxRate = 1.0

// Clock is the Slave's software clock. The zero value is not usable;
// construct with New.
type Clock struct {
	mu sync.RWMutex

	initWallTime   float64 // seconds
	initMono       time.Time
	rateAdjustment float64
	manualOffset   float64
	maxRate        float64

	// onStep, if set, is invoked synchronously after every SetTimeOffset
	// call so the sync controller can reset its PID controller. It must
	// not block and must not call back into the Clock.
	onStep func(delta float64)
}

// New creates a Clock initialized to wallTime, with the given symmetric
// rate bound. A zero or negative maxRate falls back to DefaultMaxRate.
func New(wallTime float64, maxRate float64) *Clock {
	if maxRate <= 0 {
		maxRate = DefaultMaxRate
	}
	return &Clock{
		initWallTime: wallTime,
		initMono:     time.Now(),
		maxRate:      maxRate,
	}
}

// OnStep registers the callback invoked after every step. Not
// goroutine-safe to call concurrently with SetTimeOffset; register it
// once, before the clock is shared across goroutines.
func (c *Clock) OnStep(fn func(delta float64)) {
	c.onStep = fn
}

// Now returns the current slave time:
// init_wall_time + manual_offset + elapsed_mono*(1+rate_adjustment).
func (c *Clock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elapsed := time.Since(c.initMono).Seconds()
	return c.initWallTime + c.manualOffset + elapsed*(1+c.rateAdjustment)
}

// RateAdjustment returns the currently applied rate trim.
func (c *Clock) RateAdjustment() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateAdjustment
}

// MaxRate returns the configured symmetric rate bound.
func (c *Clock) MaxRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxRate
}

// SetRateAdjustment clamps r to [-MaxRate, MaxRate] and stores it. It
// first re-anchors init_wall_time/init_mono at the current reading, so
// time already elapsed keeps the old rate, Now() stays continuous across
// the change, and only time elapsed afterwards runs at r.
func (c *Clock) SetRateAdjustment(r float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r > c.maxRate {
		r = c.maxRate
	} else if r < -c.maxRate {
		r = -c.maxRate
	}
	now := time.Now()
	c.initWallTime += now.Sub(c.initMono).Seconds() * (1 + c.rateAdjustment)
	c.initMono = now
	c.rateAdjustment = r
}

// SetTimeOffset applies an instantaneous step of delta seconds and
// notifies the registered OnStep callback, if any, so the caller can
// reset the PID controller driving this clock.
func (c *Clock) SetTimeOffset(delta float64) {
	c.mu.Lock()
	c.manualOffset += delta
	onStep := c.onStep
	c.mu.Unlock()
	if onStep != nil {
		onStep(delta)
	}
}
