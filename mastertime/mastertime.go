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

// Package mastertime implements the Master's reference timeline: a
// monotonic-driven clock with a settable epoch and an accumulating
// offset, isolated from host wall-clock jumps the way clock.Step and
// clock.AdjFreqPPB isolate PHC discipline from the host clock.
package mastertime

import (
	"sync"
	"time"
)

// Source is the Master's reference timeline. The zero value is not
// usable; construct with New.
type Source struct {
	mu sync.RWMutex

	initSystemTime float64   // seconds, wall clock epoch this Source is anchored to
	initMono       time.Time // monotonic anchor corresponding to initSystemTime
	timeOffset     float64   // seconds, accumulated via AdjustReferenceTime
	customTimeSet  bool
}

// New creates a Source anchored to the current wall-clock time.
func New() *Source {
	return &Source{
		initSystemTime: nowSeconds(),
		initMono:       time.Now(),
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Now returns the current reference time:
// init_system_time + elapsed_mono + time_offset.
func (s *Source) Now() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Source) now() float64 {
	elapsed := time.Since(s.initMono).Seconds()
	return s.initSystemTime + elapsed + s.timeOffset
}

// referenceTimeLayout is the Go reference-time layout accepted by
// SetReferenceTime: a "YYYY-MM-DD HH:MM:SS" local wall-clock string.
const referenceTimeLayout = "2006-01-02 15:04:05"

// SetReferenceTime parses str as local wall-clock time "YYYY-MM-DD
// HH:MM:SS" and rebases the Source to it, zeroing the accumulated
// offset. On parse failure it returns false and leaves state untouched.
func (s *Source) SetReferenceTime(str string) bool {
	t, err := time.ParseInLocation(referenceTimeLayout, str, time.Local)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initSystemTime = float64(t.UnixNano()) / 1e9
	s.initMono = time.Now()
	s.timeOffset = 0
	s.customTimeSet = true
	return true
}

// AdjustReferenceTime adds delta (seconds) to the accumulated offset
// and returns the new Now().
func (s *Source) AdjustReferenceTime(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeOffset += delta
	return s.now()
}

// Format renders Now() using a Go reference-time layout string (see
// time.Layout), the idiomatic Go stand-in for strftime-style formatting.
func (s *Source) Format(layout string) string {
	sec := s.Now()
	whole := int64(sec)
	frac := sec - float64(whole)
	t := time.Unix(whole, int64(frac*1e9))
	return t.Format(layout)
}

// CustomTimeSet reports whether SetReferenceTime has ever succeeded.
func (s *Source) CustomTimeSet() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customTimeSet
}
