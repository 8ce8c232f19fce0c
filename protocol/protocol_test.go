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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		flags Flag
		seq   uint16
		t1    float64
		t2    float64
		t3    float64
	}{
		{"request", FlagRequest, 1, 1000.5, 0, 0},
		{"reply", FlagReply, 65535, 1000.5, 1000.6, 1000.601},
		{"zero seq", FlagReply, 0, 0, 0, 0},
		{"negative ish offsets", FlagReply, 42, -1.0, -2.5, -2.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := Encode(tt.flags, tt.seq, tt.t1, tt.t2, tt.t3)
			require.Len(t, wire, Size)
			got, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, tt.flags, got.Flags)
			assert.Equal(t, tt.seq, got.Sequence)
			assert.Equal(t, tt.t1, got.T1)
			assert.Equal(t, tt.t2, got.T2)
			assert.Equal(t, tt.t3, got.T3)
		})
	}
}

func TestDecodeBadLength(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	_, err = Decode(make([]byte, Size+1))
	require.Error(t, err)
}

func TestDecodeBadFlags(t *testing.T) {
	wire := Encode(FlagRequest, 7, 1, 2, 3)
	wire[offFlags] = 0x09
	_, err := Decode(wire)
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "REQUEST", FlagRequest.String())
	assert.Equal(t, "REPLY", FlagReply.String())
	assert.Contains(t, Flag(0x09).String(), "UNKNOWN")
}
