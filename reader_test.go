// go-mpi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-mpi.
//
// go-mpi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-mpi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-mpi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package mpi

import (
	"bytes"
	"io"
	"testing"

	"github.com/ZaparooProject/go-mpi/internal/frame"
	virt "github.com/ZaparooProject/go-mpi/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader records how many bytes were pulled from the stream
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestStreamReader_SinglePacket(t *testing.T) {
	t.Parallel()

	raw := virt.BuildResponse(frame.NADMPI, []byte{0xCA, 0xFE}, virt.SWSuccess)
	sr := NewStreamReader(bytes.NewReader(raw), zerolog.Nop())

	msg, ok := sr.Next()
	require.True(t, ok)
	assert.Equal(t, ChannelMPI, msg.Channel)
	assert.False(t, msg.Unsolicited)
	assert.Equal(t, []byte{0xCA, 0xFE}, msg.Body)
	assert.Equal(t, SWSuccess, msg.Status)
	assert.True(t, msg.Success())
}

func TestStreamReader_ChainedMessage(t *testing.T) {
	t.Parallel()

	body := make([]byte, 600)
	for i := range body {
		body[i] = byte(i)
	}
	packets := virt.BuildChainedResponse(frame.NADRPI, false, body, virt.SWSuccess, frame.MaxPayloadLength)
	require.Len(t, packets, 3)

	sr := NewStreamReader(bytes.NewReader(virt.Concat(packets...)), zerolog.Nop())
	msg, ok := sr.Next()
	require.True(t, ok)
	assert.Equal(t, ChannelRPI, msg.Channel)
	assert.Equal(t, body, msg.Body)
	assert.Equal(t, SWSuccess, msg.Status)
}

// TestStreamReader_InterleavedChannels feeds A1 B1 A2 B2 A3 B3 and expects
// both messages to come out whole
func TestStreamReader_InterleavedChannels(t *testing.T) {
	t.Parallel()

	bodyA := bytes.Repeat([]byte{0xAA}, 10)
	bodyB := bytes.Repeat([]byte{0xBB}, 10)
	packetsA := virt.BuildChainedResponse(frame.NADMPI, false, bodyA, virt.SWSuccess, 4)
	packetsB := virt.BuildChainedResponse(frame.NADRPI, false, bodyB, virt.SWWrongParameters, 4)
	require.Len(t, packetsA, 3)
	require.Len(t, packetsB, 3)

	sr := NewStreamReader(bytes.NewReader(virt.Interleave(packetsA, packetsB)), zerolog.Nop())

	first, ok := sr.Next()
	require.True(t, ok)
	assert.Equal(t, ChannelMPI, first.Channel)
	assert.Equal(t, bodyA, first.Body)
	assert.Equal(t, SWSuccess, first.Status)

	second, ok := sr.Next()
	require.True(t, ok)
	assert.Equal(t, ChannelRPI, second.Channel)
	assert.Equal(t, bodyB, second.Body)
	assert.Equal(t, SWWrongParameters, second.Status)

	_, ok = sr.Next()
	assert.False(t, ok)
	require.ErrorIs(t, sr.Err(), io.EOF)
}

// TestStreamReader_FailClosed checks that one corrupt packet ends the
// stream even when well formed packets follow
func TestStreamReader_FailClosed(t *testing.T) {
	t.Parallel()

	bad := virt.BuildResponse(frame.NADMPI, nil, virt.SWSuccess)
	bad[len(bad)-1] ^= 0xFF
	good := virt.BuildResponse(frame.NADMPI, nil, virt.SWSuccess)

	stream := &countingReader{r: bytes.NewReader(virt.Concat(bad, good, good))}
	sr := NewStreamReader(stream, zerolog.Nop())

	_, ok := sr.Next()
	require.False(t, ok)
	require.True(t, sr.Broken())
	require.ErrorIs(t, sr.Err(), frame.ErrChecksumMismatch)
	require.ErrorIs(t, sr.Err(), ErrFrameCorrupted)
	assert.Equal(t, ErrorTypeFraming, GetErrorType(sr.Err()))
	consumed := stream.n

	for i := 0; i < 3; i++ {
		msg, ok := sr.Next()
		assert.False(t, ok)
		assert.Nil(t, msg)
	}
	assert.Equal(t, consumed, stream.n, "a broken reader must not read further")
}

func TestStreamReader_DiscardsPendingChainsOnBreak(t *testing.T) {
	t.Parallel()

	chainA := virt.BuildChainedResponse(frame.NADMPI, false, bytes.Repeat([]byte{1}, 8), virt.SWSuccess, 4)
	garbage := []byte{0x07, 0x00, 0x02, 0x90, 0x00, 0x95}

	sr := NewStreamReader(bytes.NewReader(virt.Concat(chainA[0], garbage)), zerolog.Nop())
	_, ok := sr.Next()
	require.False(t, ok)
	require.ErrorIs(t, sr.Err(), frame.ErrUnknownNAD)
	assert.Empty(t, sr.pending)
}

func TestStreamReader_MixedFlagsInChainIsFatal(t *testing.T) {
	t.Parallel()

	solicited := virt.BuildChainedResponse(frame.NADMPI, false, bytes.Repeat([]byte{1}, 8), virt.SWSuccess, 4)
	unsolicited := virt.BuildUnsolicited(frame.NADMPI, nil, virt.SWSuccess)

	sr := NewStreamReader(bytes.NewReader(virt.Concat(solicited[0], unsolicited, solicited[1])), zerolog.Nop())
	_, ok := sr.Next()
	require.False(t, ok)
	require.ErrorIs(t, sr.Err(), ErrChainMismatch)
	assert.Equal(t, ErrorTypeFraming, GetErrorType(sr.Err()))
}

func TestStreamReader_UnsolicitedFlag(t *testing.T) {
	t.Parallel()

	raw := virt.BuildUnsolicited(frame.NADRPI, []byte{0x01}, virt.SWSuccess)
	sr := NewStreamReader(bytes.NewReader(raw), zerolog.Nop())

	msg, ok := sr.Next()
	require.True(t, ok)
	assert.True(t, msg.Unsolicited)
	assert.Equal(t, ChannelRPI, msg.Channel)
}

func TestStreamReader_TruncatedStream(t *testing.T) {
	t.Parallel()

	raw := virt.BuildResponse(frame.NADMPI, []byte{1, 2, 3}, virt.SWSuccess)
	sr := NewStreamReader(bytes.NewReader(raw[:len(raw)-1]), zerolog.Nop())

	_, ok := sr.Next()
	require.False(t, ok)
	require.ErrorIs(t, sr.Err(), io.ErrUnexpectedEOF)
	require.ErrorIs(t, sr.Err(), ErrTransportRead)
	assert.Equal(t, ErrorTypeTransport, GetErrorType(sr.Err()))
}
