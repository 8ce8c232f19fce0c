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

// Package responder implements the Master's UDP responder: for every
// inbound request it stamps T2 on receipt and T3 immediately before
// reply, bracketing the minimum possible work between the two so the
// Master-side handling asymmetry stays small.
package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nwtime/swsync/mastertime"
	"github.com/nwtime/swsync/protocol"
	"github.com/nwtime/swsync/statsd"
)

// pollInterval bounds how long Serve can block in a read before
// re-checking ctx.Done(), so cancellation is responsive even
// though net.PacketConn reads don't take a context directly.
const pollInterval = 500 * time.Millisecond

// Responder is the Master's single-threaded UDP responder. It must not
// be shared across goroutines beyond the one driving Serve.
type Responder struct {
	conn   *net.UDPConn
	source *mastertime.Source
	stats  *statsd.Stats
}

// New binds a UDP socket on addr (e.g. ":12345") and returns a
// Responder backed by source.
func New(addr string, source *mastertime.Source, stats *statsd.Stats) (*Responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", addr, err)
	}
	if stats == nil {
		stats = statsd.New()
	}
	return &Responder{conn: conn, source: source, stats: stats}, nil
}

// LocalAddr returns the bound local address, useful in tests that bind
// to port 0.
func (r *Responder) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close closes the underlying socket, unblocking any in-flight Serve.
func (r *Responder) Close() error {
	return r.conn.Close()
}

// Serve services inbound requests until ctx is cancelled or the socket
// is closed. It never returns an error for a single malformed or
// unrecognized packet — those are dropped silently — only for a
// socket-level failure.
func (r *Responder) Serve(ctx context.Context) error {
	buf := make([]byte, protocol.Size+1)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		n, addr, err := r.conn.ReadFromUDP(buf)
		t2 := r.source.Now()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			log.Debugf("[responder] dropping malformed packet from %s: %v", addr, err)
			continue
		}
		if pkt.Flags != protocol.FlagRequest {
			log.Debugf("[responder] dropping non-request packet from %s", addr)
			continue
		}

		t3 := r.source.Now()
		reply := protocol.Encode(protocol.FlagReply, pkt.Sequence, pkt.T1, t2, t3)
		if _, err := r.conn.WriteToUDP(reply, addr); err != nil {
			log.Warningf("[responder] failed to reply to %s: %v", addr, err)
			continue
		}
		r.stats.IncCounter("responder.replies")
	}
}
