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

// Package requester implements the Slave's UDP requester: it issues a
// request, matches the reply by sequence number, and derives a sample
// from the resulting four timestamps.
package requester

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nwtime/swsync/protocol"
	"github.com/nwtime/swsync/roundctl"
	"github.com/nwtime/swsync/statsd"
	"github.com/nwtime/swsync/swclock"
)

// Conn abstracts the connected socket an exchange is carried over, so
// tests can substitute a mock instead of a real UDP connection.
type Conn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DefaultTimeout is the default per-exchange receive deadline.
const DefaultTimeout = time.Second

// Requester is the Slave's UDP requester. It owns the outbound/inbound
// socket and is the only mutator of the sequence counter, which wraps at
// 65535 via normal uint16 overflow.
type Requester struct {
	conn    Conn
	clock   *swclock.Clock
	timeout time.Duration
	stats   *statsd.Stats

	mu  sync.Mutex
	seq uint16

	mismatches *mismatchWindow
}

// Dial connects a UDP socket to masterAddr (host:port) and returns a
// Requester driven by clock, with the given per-exchange receive
// deadline. A non-positive timeout falls back to DefaultTimeout.
func Dial(masterAddr string, clock *swclock.Clock, timeout time.Duration, stats *statsd.Stats) (*Requester, error) {
	conn, err := net.Dial("udp", masterAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing master %q: %w", masterAddr, err)
	}
	return New(conn, clock, timeout, stats), nil
}

// New builds a Requester over an already-established Conn. Exposed
// directly for tests that supply a mock Conn.
func New(conn Conn, clock *swclock.Clock, timeout time.Duration, stats *statsd.Stats) *Requester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if stats == nil {
		stats = statsd.New()
	}
	return &Requester{conn: conn, clock: clock, timeout: timeout, stats: stats, mismatches: newMismatchWindow()}
}

// Close closes the underlying socket.
func (r *Requester) Close() error {
	return r.conn.Close()
}

func (r *Requester) nextSeq() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.seq
	r.seq++ // wraps from 65535 to 0 via normal uint16 overflow
	return seq
}

// Exchange performs one request/reply round trip and returns the
// resulting sample. It returns *TimeoutError if no datagram arrives at
// all before the deadline, or *MismatchError if datagrams arrive but
// none is a valid reply to this sequence number before the deadline.
func (r *Requester) Exchange() (roundctl.Sample, error) {
	seq := r.nextSeq()
	t1 := r.clock.Now()

	req := protocol.Encode(protocol.FlagRequest, seq, t1, 0, 0)
	if _, err := r.conn.Write(req); err != nil {
		return roundctl.Sample{}, fmt.Errorf("sending request %d: %w", seq, err)
	}
	r.stats.IncCounter(statsd.CounterExchangesSent)

	deadline := time.Now().Add(r.timeout)
	receivedAny := false
	buf := make([]byte, protocol.Size+1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := r.conn.SetReadDeadline(deadline); err != nil {
			return roundctl.Sample{}, fmt.Errorf("setting read deadline: %w", err)
		}
		n, err := r.conn.Read(buf)
		if err != nil {
			break // deadline reached (or socket error treated as timeout-like)
		}
		receivedAny = true
		t4 := r.clock.Now()

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			log.Debugf("[requester] discarding malformed reply for seq %d: %v", seq, err)
			continue
		}
		if pkt.Flags != protocol.FlagReply || pkt.Sequence != seq {
			if !r.mismatches.seen(pkt.Sequence) {
				log.Debugf("[requester] discarding reply: want seq %d, got flags=%v seq=%d", seq, pkt.Flags, pkt.Sequence)
			}
			continue
		}

		return roundctl.NewSample(pkt.T1, pkt.T2, pkt.T3, t4), nil
	}

	if !receivedAny {
		r.stats.IncCounter(statsd.CounterExchangesTimeout)
		return roundctl.Sample{}, &TimeoutError{Sequence: seq}
	}
	r.stats.IncCounter(statsd.CounterExchangesMismatch)
	return roundctl.Sample{}, &MismatchError{Sequence: seq}
}
