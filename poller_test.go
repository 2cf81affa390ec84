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
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ZaparooProject/go-mpi/internal/frame"
	virt "github.com/ZaparooProject/go-mpi/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stopEvent struct {
	err    error
	reason StopReason
}

// startPoller runs a poller over a pipe. Writes to the returned writer
// reach the poller; closing it ends the stream.
func startPoller(t *testing.T, mutate func(*Config)) (*ResponsePoller, *io.PipeWriter, <-chan stopEvent) {
	t.Helper()

	config := DefaultConfig()
	config.QueueInsertTimeout = time.Second
	config.TerminalTimeout = 20 * time.Millisecond
	config.TerminalFallbackTimeout = 50 * time.Millisecond
	if mutate != nil {
		mutate(config)
	}

	pr, pw := io.Pipe()
	stops := make(chan stopEvent, 1)
	poller := NewResponsePoller(pr, config, func(reason StopReason, err error) {
		stops <- stopEvent{reason: reason, err: err}
	})
	poller.Start()

	select {
	case <-poller.Ready():
	case <-time.After(testWait):
		t.Fatal("poller did not start")
	}

	t.Cleanup(func() {
		poller.Stop()
		_ = pr.Close()
		_ = pw.Close()
		select {
		case <-poller.Done():
		case <-time.After(testWait):
			t.Error("poller did not exit")
		}
	})
	return poller, pw, stops
}

func popQueue(t *testing.T, q <-chan SequencedMessage) SequencedMessage {
	t.Helper()
	select {
	case sm := <-q:
		return sm
	case <-time.After(testWait):
		t.Fatal("queue stayed empty")
		return SequencedMessage{}
	}
}

func waitStop(t *testing.T, stops <-chan stopEvent) stopEvent {
	t.Helper()
	select {
	case ev := <-stops:
		return ev
	case <-time.After(testWait):
		t.Fatal("poller did not report a stop")
		return stopEvent{}
	}
}

func write(t *testing.T, w io.Writer, packets ...[]byte) {
	t.Helper()
	_, err := w.Write(virt.Concat(packets...))
	require.NoError(t, err)
}

func TestResponsePoller_SequenceSharedAcrossChannels(t *testing.T) {
	t.Parallel()

	poller, pw, _ := startPoller(t, nil)
	write(t, pw,
		virt.BuildResponse(frame.NADMPI, []byte{0x00}, virt.SWSuccess),
		virt.BuildResponse(frame.NADRPI, []byte{0x01}, virt.SWSuccess),
		virt.BuildResponse(frame.NADMPI, []byte{0x02}, virt.SWSuccess),
	)

	mpi0 := popQueue(t, poller.Queue(ChannelMPI))
	rpi1 := popQueue(t, poller.Queue(ChannelRPI))
	mpi2 := popQueue(t, poller.Queue(ChannelMPI))

	assert.Equal(t, int64(0), mpi0.SequenceID)
	assert.Equal(t, []byte{0x00}, mpi0.Message.Body)
	assert.Equal(t, int64(1), rpi1.SequenceID)
	assert.Equal(t, []byte{0x01}, rpi1.Message.Body)
	assert.Equal(t, int64(2), mpi2.SequenceID)
	assert.Equal(t, []byte{0x02}, mpi2.Message.Body)
}

func TestResponsePoller_UnsolicitedCarriesLastSolicitedID(t *testing.T) {
	t.Parallel()

	got := make(chan UnsolicitedMessage, 2)
	poller, pw, _ := startPoller(t, func(c *Config) {
		c.Callbacks.OnUnsolicited = func(msg UnsolicitedMessage) error {
			got <- msg
			return nil
		}
	})

	write(t, pw,
		virt.BuildUnsolicited(frame.NADMPI, []byte{0xE1}, virt.SWSuccess),
		virt.BuildResponse(frame.NADMPI, nil, virt.SWSuccess),
		virt.BuildUnsolicited(frame.NADRPI, []byte{0xE2}, virt.SWSuccess),
	)

	first := <-got
	assert.Equal(t, int64(-1), first.LastSolicitedID)
	assert.Equal(t, []byte{0xE1}, first.Message.Body)
	assert.True(t, first.Message.Unsolicited)

	second := <-got
	assert.Equal(t, int64(0), second.LastSolicitedID)
	assert.Equal(t, ChannelRPI, second.Message.Channel)

	sm := popQueue(t, poller.Queue(ChannelMPI))
	assert.Equal(t, int64(0), sm.SequenceID)
}

func TestResponsePoller_MalformedCommandIsSolicited(t *testing.T) {
	t.Parallel()

	handled := make(chan struct{}, 1)
	poller, pw, _ := startPoller(t, func(c *Config) {
		c.Callbacks.OnUnsolicited = func(UnsolicitedMessage) error {
			handled <- struct{}{}
			return nil
		}
	})

	write(t, pw, virt.BuildUnsolicited(frame.NADMPI, nil, virt.SWMalformedCommand))

	sm := popQueue(t, poller.Queue(ChannelMPI))
	assert.Equal(t, int64(0), sm.SequenceID)
	assert.Equal(t, SWMalformedCommand, sm.Message.Status)
	assert.Empty(t, handled)
}

func TestResponsePoller_CallbackErrorStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("handler failed")
	poller, pw, stops := startPoller(t, func(c *Config) {
		c.Callbacks.OnUnsolicited = func(UnsolicitedMessage) error { return boom }
	})

	write(t, pw, virt.BuildUnsolicited(frame.NADMPI, nil, virt.SWSuccess))

	ev := waitStop(t, stops)
	assert.Equal(t, StopReasonCallbackError, ev.reason)
	require.ErrorIs(t, ev.err, boom)

	for _, ch := range Channels() {
		sm := popQueue(t, poller.Queue(ch))
		assert.True(t, sm.Terminal(), "channel %s must get the terminal marker", ch)
		assert.Equal(t, int64(-1), sm.SequenceID)
	}

	reason, err := poller.StopReason()
	assert.Equal(t, StopReasonCallbackError, reason)
	require.ErrorIs(t, err, boom)
}

func TestResponsePoller_HandlerPanicStops(t *testing.T) {
	t.Parallel()

	_, pw, stops := startPoller(t, func(c *Config) {
		c.Callbacks.OnUnsolicited = func(UnsolicitedMessage) error { panic("handler bug") }
	})

	write(t, pw, virt.BuildUnsolicited(frame.NADRPI, nil, virt.SWSuccess))

	ev := waitStop(t, stops)
	assert.Equal(t, StopReasonCallbackError, ev.reason)
	require.ErrorIs(t, ev.err, ErrHandlerPanic)
}

func TestResponsePoller_QueueTimeout(t *testing.T) {
	t.Parallel()

	poller, pw, stops := startPoller(t, func(c *Config) {
		c.QueueCapacity = 1
		c.QueueInsertTimeout = 20 * time.Millisecond
	})

	write(t, pw,
		virt.BuildResponse(frame.NADMPI, nil, virt.SWSuccess),
		virt.BuildResponse(frame.NADMPI, nil, virt.SWSuccess),
	)

	ev := waitStop(t, stops)
	assert.Equal(t, StopReasonQueueTimeout, ev.reason)
	require.ErrorIs(t, ev.err, ErrQueueTimeout)

	// The full queue still holds its first response; the other channel
	// gets the terminal marker.
	sm := popQueue(t, poller.Queue(ChannelMPI))
	assert.Equal(t, int64(0), sm.SequenceID)
	assert.False(t, sm.Terminal())

	marker := popQueue(t, poller.Queue(ChannelRPI))
	assert.True(t, marker.Terminal())
	assert.Equal(t, int64(1), marker.SequenceID)
}

func TestResponsePoller_StreamBroken(t *testing.T) {
	t.Parallel()

	poller, pw, stops := startPoller(t, nil)

	write(t, pw, virt.BuildResponse(frame.NADRPI, nil, virt.SWSuccess))
	require.NoError(t, pw.Close())

	ev := waitStop(t, stops)
	assert.Equal(t, StopReasonStreamBroken, ev.reason)
	require.ErrorIs(t, ev.err, io.EOF)

	sm := popQueue(t, poller.Queue(ChannelRPI))
	assert.False(t, sm.Terminal())
	marker := popQueue(t, poller.Queue(ChannelRPI))
	assert.True(t, marker.Terminal())
	assert.Equal(t, int64(0), marker.SequenceID)

	select {
	case <-poller.Done():
	case <-time.After(testWait):
		t.Fatal("poller did not exit")
	}
}

func TestResponsePoller_StopIsCancelled(t *testing.T) {
	t.Parallel()

	poller, pw, stops := startPoller(t, nil)

	poller.Stop()
	poller.Stop()
	require.NoError(t, pw.Close())

	ev := waitStop(t, stops)
	assert.Equal(t, StopReasonCancelled, ev.reason)
	assert.Equal(t, "cancelled", ev.reason.String())
}

func TestResponsePoller_UnknownChannelQueue(t *testing.T) {
	t.Parallel()

	poller, _, _ := startPoller(t, nil)
	assert.Nil(t, poller.Queue(ChannelID(0x09)))
}
