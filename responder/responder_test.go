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

package responder

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nwtime/swsync/mastertime"
	"github.com/nwtime/swsync/protocol"
)

// newTestResponder starts a Responder on the loopback interface, port 0,
// and returns it along with a client socket connected to it. Serve is
// stopped on cleanup.
func newTestResponder(t *testing.T) (*Responder, *net.UDPConn) {
	t.Helper()
	r, err := New("127.0.0.1:0", mastertime.New(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Serve(ctx)

	client, err := net.DialUDP("udp", nil, r.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))

	return r, client
}

func TestServeRepliesWithEchoedT1AndFreshT2T3(t *testing.T) {
	_, client := newTestResponder(t)

	req := protocol.Encode(protocol.FlagRequest, 7, 123.456, 0, 0)
	_, err := client.Write(req)
	require.NoError(t, err)

	buf := make([]byte, protocol.Size)
	n, err := client.Read(buf)
	require.NoError(t, err)

	reply, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, protocol.FlagReply, reply.Flags)
	require.Equal(t, uint16(7), reply.Sequence)
	require.Equal(t, 123.456, reply.T1, "T1 must be echoed back unchanged")
	require.GreaterOrEqual(t, reply.T3, reply.T2, "T3 is stamped no earlier than T2")
}

func TestServeDropsMalformedPacketAndKeepsServing(t *testing.T) {
	_, client := newTestResponder(t)

	// Too short to decode; the responder must drop it silently and carry
	// on serving the next, well-formed request.
	_, err := client.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	req := protocol.Encode(protocol.FlagRequest, 1, 1.0, 0, 0)
	_, err = client.Write(req)
	require.NoError(t, err)

	buf := make([]byte, protocol.Size)
	n, err := client.Read(buf)
	require.NoError(t, err)
	reply, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint16(1), reply.Sequence)
}

func TestServeDropsNonRequestPacket(t *testing.T) {
	_, client := newTestResponder(t)

	// A reply-flagged packet is not something the responder answers to.
	stray := protocol.Encode(protocol.FlagReply, 2, 1.0, 2.0, 3.0)
	_, err := client.Write(stray)
	require.NoError(t, err)

	req := protocol.Encode(protocol.FlagRequest, 3, 1.0, 0, 0)
	_, err = client.Write(req)
	require.NoError(t, err)

	buf := make([]byte, protocol.Size)
	n, err := client.Read(buf)
	require.NoError(t, err)
	reply, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint16(3), reply.Sequence, "only the well-formed request gets a reply")
}

func TestCloseUnblocksServe(t *testing.T) {
	r, err := New("127.0.0.1:0", mastertime.New(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Serve(context.Background()) }()

	require.NoError(t, r.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
