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

// Package controller drives the Slave's sync state machine: it runs
// rounds of exchanges on a fixed interval, applies the resulting offset
// either as a step or through the PID-driven rate, and reports state
// transitions and samples to the monitor.
package controller

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nwtime/swsync/config"
	"github.com/nwtime/swsync/monitor"
	"github.com/nwtime/swsync/requester"
	"github.com/nwtime/swsync/roundctl"
	"github.com/nwtime/swsync/servo"
	"github.com/nwtime/swsync/statsd"
	"github.com/nwtime/swsync/swclock"
)

// maxConsecutiveFailures is the number of back-to-back empty rounds that
// drives any state into ERROR.
const maxConsecutiveFailures = 3

// Controller drives rounds of exchanges against a Master, selects the
// best sample from each round, and disciplines a software clock toward
// it. It owns the requester, the software clock it disciplines, and the
// PID servo; state and history live in the monitor it reports to.
type Controller struct {
	cfg   *config.Config
	req   *requester.Requester
	clock *swclock.Clock
	pid   *servo.PID
	mon   *monitor.Monitor
	stats *statsd.Stats

	consecutiveFailures int
	lastSuccess         float64
	haveLastSuccess     bool

	// justStepped is set when the previous round stepped the clock for a
	// large offset; the round immediately following a step moves to
	// SYNCING unconditionally rather than being re-judged against the
	// offset thresholds.
	justStepped bool
}

// New wires a Controller. cfg, req, clock and mon must be non-nil; stats
// may be nil, in which case an unshared counter set is created.
func New(cfg *config.Config, req *requester.Requester, clock *swclock.Clock, mon *monitor.Monitor, stats *statsd.Stats) *Controller {
	if stats == nil {
		stats = statsd.New()
	}
	pidCfg := servo.Config{
		Kp:               cfg.PIDKp,
		Ki:               cfg.PIDKi,
		Kd:               cfg.PIDKd,
		IntegralMin:      -cfg.PIDIntegralLimit,
		IntegralMax:      cfg.PIDIntegralLimit,
		MaxRate:          cfg.MaxRateAdjustment,
		LargeOffsetReset: cfg.PIDLargeOffsetReset.Seconds(),
	}
	pid := servo.NewPID(pidCfg)
	clock.OnStep(func(float64) { pid.Reset() })

	return &Controller{
		cfg:   cfg,
		req:   req,
		clock: clock,
		pid:   pid,
		mon:   mon,
		stats: stats,
	}
}

// stateCounters maps each reported state to the counter that tracks how
// many times the controller has transitioned into it.
var stateCounters = map[monitor.State]string{
	monitor.StateSyncing:       statsd.CounterStateSyncing,
	monitor.StateSynced:        statsd.CounterStateSynced,
	monitor.StateLargeOffset:   statsd.CounterStateLargeOffset,
	monitor.StateError:         statsd.CounterStateError,
	monitor.StateMasterOffline: statsd.CounterStateMasterOffline,
}

// setState records the transition on stats before reporting it to the
// monitor, so /metrics reflects how often each state is entered.
func (c *Controller) setState(s monitor.State) {
	if key, ok := stateCounters[s]; ok {
		c.stats.IncCounter(key)
	}
	c.mon.SetState(s)
}

// Run drives the sync loop until ctx is cancelled, supervising the round
// driver goroutine with an errgroup so a fatal error unwinds cleanly.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(monitor.StateSyncing)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.loop(ctx)
	})
	return eg.Wait()
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		c.runCycle()

		select {
		case <-ctx.Done():
			log.Info("[controller] stopping: context cancelled")
			return nil
		case <-time.After(c.cfg.SyncInterval):
		}
	}
}

// runCycle performs one round of up to RoundsPerSync exchanges, selects
// the best sample, applies the offset, and updates state. It never
// returns an error: exchange failures are recorded on the monitor and
// reflected in the state machine instead.
func (c *Controller) runCycle() {
	round := roundctl.NewRound(c.cfg.RoundsPerSync)
	for i := 0; i < c.cfg.RoundsPerSync; i++ {
		sample, err := c.req.Exchange()
		if err != nil {
			c.mon.RecordError("exchange", err.Error())
			continue
		}
		round.Add(sample)
	}

	best, ok := round.Best()
	if !ok {
		c.stats.IncCounter(statsd.CounterRoundsEmpty)
		c.onRoundEmpty()
		return
	}

	c.stats.IncCounter(statsd.CounterRoundsOK)
	c.consecutiveFailures = 0
	c.lastSuccess = c.clock.Now()
	c.haveLastSuccess = true

	// A step in a prior round forces this round's displayed state to
	// SYNCING unconditionally; capture and clear that before applyOffset
	// has a chance to set it again for this round.
	forceSyncing := c.justStepped
	c.justStepped = false

	c.applyOffset(best.Offset)
	c.mon.RecordSample(c.clock.Now(), best.Offset, best.Delay)

	if forceSyncing {
		c.setState(monitor.StateSyncing)
		return
	}
	c.transition(best.Offset)
}

// applyOffset steps the clock for a large offset or otherwise feeds the
// PID and trims the running rate. An offset exactly at the large-offset
// bound ties to the step branch rather than the PID.
func (c *Controller) applyOffset(offset float64) {
	if abs(offset) >= c.cfg.LargeOffsetThreshold.Seconds() {
		c.clock.SetTimeOffset(offset)
		// pid.Reset() already ran via the clock's OnStep callback.
		c.clock.SetRateAdjustment(0)
		c.stats.IncCounter(statsd.CounterStepsApplied)
		c.justStepped = true
		return
	}
	rate, _ := c.pid.Update(offset, c.clock.Now())
	c.clock.SetRateAdjustment(rate)
}

// transition derives the reported sync state from a completed round's
// offset, given the round was not already forced to SYNCING by a step
// in the prior round. An offset exactly at the large-offset bound ties
// to LARGE_OFFSET, matching the step-vs-PID tie-break in applyOffset.
func (c *Controller) transition(offset float64) {
	threshold := c.cfg.SyncThreshold.Seconds()
	large := c.cfg.LargeOffsetThreshold.Seconds()

	switch {
	case abs(offset) >= large:
		c.setState(monitor.StateLargeOffset)
	case abs(offset) > threshold:
		c.setState(monitor.StateSyncing)
	default:
		c.setState(monitor.StateSynced)
	}
}

// onRoundEmpty handles a round with no successful exchanges: it counts
// toward the ERROR transition, and checks whether ERROR has persisted
// long enough to become MASTER_OFFLINE.
func (c *Controller) onRoundEmpty() {
	c.consecutiveFailures++
	if c.consecutiveFailures >= maxConsecutiveFailures {
		c.setState(monitor.StateError)
	}

	if c.mon.State() == monitor.StateError && c.haveLastSuccess {
		since := c.clock.Now() - c.lastSuccess
		if since >= c.cfg.MasterOfflineTimeout.Seconds() {
			c.setState(monitor.StateMasterOffline)
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
