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

// Package monitor implements the sync monitor: a bounded history of
// offset/delay samples, the current sync state, and an observer fan-out
// used to notify external collaborators (a chart, a log) without the
// monitor ever holding a reference back to the controller.
package monitor

import (
	"container/ring"
	"sync"

	"github.com/eclesh/welford"
)

// State is the sync controller's externally-visible state.
type State uint8

// All recognized states.
const (
	StateIdle State = iota
	StateSyncing
	StateSynced
	StateLargeOffset
	StateError
	StateMasterOffline
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSyncing:
		return "SYNCING"
	case StateSynced:
		return "SYNCED"
	case StateLargeOffset:
		return "LARGE_OFFSET"
	case StateError:
		return "ERROR"
	case StateMasterOffline:
		return "MASTER_OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// DefaultHistorySize is the default number of (timestamp, offset, delay)
// triples retained by the monitor.
const DefaultHistorySize = 1000

// EventKind tags which field of an Event is populated.
type EventKind uint8

// The three event kinds the monitor emits.
const (
	EventSample EventKind = iota
	EventStateChange
	EventError
)

// SampleEvent is emitted for every recorded sample.
type SampleEvent struct {
	Timestamp float64
	Offset    float64
	Delay     float64
}

// StateChangeEvent is emitted whenever the sync state transitions.
type StateChangeEvent struct {
	Old State
	New State
}

// ErrorEvent is emitted for recoverable failures that the controller
// converts to a monitor notification instead of letting escape its
// goroutine: each failed exchange (timeout, mismatch, send error). An
// empty round and a discarded malformed packet emit no ErrorEvent.
type ErrorEvent struct {
	Kind   string
	Detail string
}

// Event is the tagged variant delivered to every Observer.
type Event struct {
	Kind        EventKind
	Sample      SampleEvent
	StateChange StateChangeEvent
	Error       ErrorEvent
}

// Observer is implemented by external collaborators (a chart, a log
// line, a metrics exporter) that want to react to monitor events.
// Notify is called synchronously from the controller's goroutine and
// must not block.
type Observer interface {
	Notify(Event)
}

// HistoryEntry is one retained (timestamp, offset, delay) triple.
type HistoryEntry struct {
	Timestamp float64
	Offset    float64
	Delay     float64
}

// Monitor accumulates offset/delay history and the current sync state,
// and fans out events to subscribed observers.
type Monitor struct {
	mu sync.Mutex

	history     *ring.Ring
	historySize int
	count       int

	state State

	observers []Observer

	offsetStats *welford.Stats
	delayStats  *welford.Stats
}

// New creates a Monitor with the given bounded history size (ring
// buffer, oldest entry evicted first). A non-positive size falls back
// to DefaultHistorySize.
func New(historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Monitor{
		history:     ring.New(historySize),
		historySize: historySize,
		state:       StateIdle,
		offsetStats: welford.New(),
		delayStats:  welford.New(),
	}
}

// Subscribe registers an observer. It is idempotent-unsafe: subscribing
// the same observer twice delivers events to it twice.
func (m *Monitor) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Unsubscribe removes a previously subscribed observer.
func (m *Monitor) Unsubscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, obs := range m.observers {
		if obs == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

func (m *Monitor) notifyLocked(ev Event) {
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	// Observers must not block and must not re-enter the Monitor, so
	// it's safe to invoke them while still holding the lock is avoided:
	// copy the slice and release before dispatch.
	m.mu.Unlock()
	for _, o := range observers {
		o.Notify(ev)
	}
	m.mu.Lock()
}

// RecordSample appends a (timestamp, offset, delay) triple to the
// bounded history, updates running statistics, and notifies observers.
func (m *Monitor) RecordSample(timestamp, offset, delay float64) {
	m.mu.Lock()
	m.history.Value = HistoryEntry{Timestamp: timestamp, Offset: offset, Delay: delay}
	m.history = m.history.Next()
	if m.count < m.historySize {
		m.count++
	}
	m.offsetStats.Add(offset)
	m.delayStats.Add(delay)
	m.notifyLocked(Event{Kind: EventSample, Sample: SampleEvent{Timestamp: timestamp, Offset: offset, Delay: delay}})
	m.mu.Unlock()
}

// SetState transitions to newState, notifying observers only if it
// actually changed.
func (m *Monitor) SetState(newState State) {
	m.mu.Lock()
	old := m.state
	if old == newState {
		m.mu.Unlock()
		return
	}
	m.state = newState
	m.notifyLocked(Event{Kind: EventStateChange, StateChange: StateChangeEvent{Old: old, New: newState}})
	m.mu.Unlock()
}

// RecordError notifies observers of a recoverable failure without
// changing state itself; callers decide separately whether the failure
// also warrants a SetState call.
func (m *Monitor) RecordError(kind, detail string) {
	m.mu.Lock()
	m.notifyLocked(Event{Kind: EventError, Error: ErrorEvent{Kind: kind, Detail: detail}})
	m.mu.Unlock()
}

// State returns the current sync state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, 0, m.count)
	// m.history points at the next slot to be written. Stepping back
	// count positions lands on the oldest retained entry; walking
	// forward from there visits oldest-first.
	r := m.history.Move(-m.count)
	for i := 0; i < m.count; i++ {
		if r.Value != nil {
			out = append(out, r.Value.(HistoryEntry))
		}
		r = r.Next()
	}
	return out
}

// OffsetStats returns the running mean and standard deviation of every
// recorded offset.
func (m *Monitor) OffsetStats() (mean, stddev float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsetStats.Mean(), m.offsetStats.Stddev()
}

// DelayStats returns the running mean and standard deviation of every
// recorded delay.
func (m *Monitor) DelayStats() (mean, stddev float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayStats.Mean(), m.delayStats.Stddev()
}
