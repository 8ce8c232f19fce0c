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

// Package protocol implements the wire codec for the software clock
// synchronization exchange: a fixed 27-byte request/reply packet carrying
// a sequence number and up to three float64 timestamps in network byte
// order.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Flag identifies whether a packet is a request or a reply.
type Flag uint8

// Recognized flag values. Anything else is an invalid packet.
const (
	FlagRequest Flag = 0x01
	FlagReply   Flag = 0x02
)

func (f Flag) String() string {
	switch f {
	case FlagRequest:
		return "REQUEST"
	case FlagReply:
		return "REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(f))
	}
}

// Size is the fixed wire length of a Packet in bytes.
const Size = 27

const (
	offFlags = 0
	offSeq   = 1
	offT1    = 3
	offT2    = 11
	offT3    = 19
)

// Packet is the decoded form of a wire message. T2 and T3 are only
// meaningful on a reply.
type Packet struct {
	Flags    Flag
	Sequence uint16
	T1       float64
	T2       float64
	T3       float64
}

// DecodeError reports a malformed packet. The caller is expected to drop
// the datagram and continue, per the wire protocol's silent-discard rule.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode error: %s", e.Reason)
}

// Encode serializes a packet to its 27-byte wire form.
func Encode(flags Flag, seq uint16, t1, t2, t3 float64) []byte {
	b := make([]byte, Size)
	b[offFlags] = byte(flags)
	binary.BigEndian.PutUint16(b[offSeq:], seq)
	binary.BigEndian.PutUint64(b[offT1:], math.Float64bits(t1))
	binary.BigEndian.PutUint64(b[offT2:], math.Float64bits(t2))
	binary.BigEndian.PutUint64(b[offT3:], math.Float64bits(t3))
	return b
}

// Decode parses a wire message. It rejects anything whose length is not
// exactly Size, or whose flags byte is not a recognized Flag.
func Decode(b []byte) (Packet, error) {
	if len(b) != Size {
		return Packet{}, &DecodeError{Reason: fmt.Sprintf("bad length %d, want %d", len(b), Size)}
	}
	flags := Flag(b[offFlags])
	if flags != FlagRequest && flags != FlagReply {
		return Packet{}, &DecodeError{Reason: fmt.Sprintf("unrecognized flags 0x%02x", b[offFlags])}
	}
	return Packet{
		Flags:    flags,
		Sequence: binary.BigEndian.Uint16(b[offSeq:]),
		T1:       math.Float64frombits(binary.BigEndian.Uint64(b[offT1:])),
		T2:       math.Float64frombits(binary.BigEndian.Uint64(b[offT2:])),
		T3:       math.Float64frombits(binary.BigEndian.Uint64(b[offT3:])),
	}, nil
}
