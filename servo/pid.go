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

package servo

import "math"

// PID is a proportional-integral-derivative frequency controller that
// turns an offset measurement into a clock rate correction. It is not
// safe for concurrent use; callers (the sync controller) drive it from a
// single goroutine.
type PID struct {
	cfg Config

	integral    float64
	lastError   float64
	lastTime    float64
	hasLastTime bool
}

// NewPID constructs a PID with the given configuration.
func NewPID(cfg Config) *PID {
	return &PID{cfg: cfg}
}

// Reset clears the integral, last error and last time. Between a Reset
// and the next Update, last_time is undefined and the next Update skips
// the derivative term, exactly as if it were the controller's first
// sample.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
	p.hasLastTime = false
}

// Update feeds a new offset sample at time t (seconds, same timeline as
// the sample it's derived from) and returns the rate correction, clamped
// to [-MaxRate, MaxRate].
func (p *PID) Update(errVal float64, t float64) (float64, State) {
	if !p.hasLastTime {
		p.lastTime = t
		p.hasLastTime = true
		p.lastError = errVal
		rate := clamp(p.cfg.Kp*errVal, -p.cfg.MaxRate, p.cfg.MaxRate)
		return rate, StateInit
	}

	dt := t - p.lastTime
	state := StateTracking

	// Large-offset guard: a stale or wrong-signed integral dominates
	// convergence after a master time jump, so clear it and let the
	// proportional term lead the response this tick.
	if math.Abs(errVal) > p.cfg.LargeOffsetReset {
		p.integral = 0
		state = StateLargeOffsetReset
	}

	p.integral = clamp(p.integral+errVal*dt, p.cfg.IntegralMin, p.cfg.IntegralMax)

	var derivative float64
	if dt > 0 {
		derivative = (errVal - p.lastError) / dt
	}

	rate := clamp(p.cfg.Kp*errVal+p.cfg.Ki*p.integral+p.cfg.Kd*derivative, -p.cfg.MaxRate, p.cfg.MaxRate)

	p.lastError = errVal
	p.lastTime = t

	return rate, state
}

// Integral returns the current integral accumulator, mostly useful for
// tests and diagnostics.
func (p *PID) Integral() float64 {
	return p.integral
}
