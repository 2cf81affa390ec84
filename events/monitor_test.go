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

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	mpi "github.com/ZaparooProject/go-mpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_TracksChannelState(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(4)
	monitor := NewMonitor(d)

	require.NoError(t, d.Handle(createTestMessage(mpi.ChannelMPI, "PIN OK")))
	require.NoError(t, d.Handle(createTestMessage(mpi.ChannelMPI, "APPROVED")))
	require.NoError(t, d.Handle(createTestMessage(mpi.ChannelRPI, "PAPER LOW")))
	d.Close()

	require.NoError(t, monitor.Run(context.Background()))

	mpiState := monitor.GetState(mpi.ChannelMPI)
	assert.Equal(t, int64(2), mpiState.Received)
	assert.Equal(t, int64(3), mpiState.LastSolicitedID)
	assert.Equal(t, mpi.SWSuccess, mpiState.LastStatus)
	assert.False(t, mpiState.LastSeenTime.IsZero())

	assert.Equal(t, int64(1), monitor.GetState(mpi.ChannelRPI).Received)
}

func TestMonitor_Callbacks(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(4)
	monitor := NewMonitor(d)

	errDisplay := errors.New("display busy")
	var seen []string
	var failed []error
	monitor.OnMessage = func(msg mpi.UnsolicitedMessage) error {
		seen = append(seen, string(msg.Message.Body))
		if string(msg.Message.Body) == "bad" {
			return errDisplay
		}
		return nil
	}
	monitor.OnError = func(_ mpi.UnsolicitedMessage, err error) {
		failed = append(failed, err)
	}

	require.NoError(t, d.Handle(createTestMessage(mpi.ChannelMPI, "good")))
	require.NoError(t, d.Handle(createTestMessage(mpi.ChannelMPI, "bad")))
	d.Close()
	require.NoError(t, monitor.Run(context.Background()))

	assert.Equal(t, []string{"good", "bad"}, seen)
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[0], errDisplay)
}

func TestMonitor_RunStopsOnContext(t *testing.T) {
	t.Parallel()

	monitor := NewMonitor(NewDispatcher(1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, monitor.Run(ctx), context.DeadlineExceeded)
}

func TestMonitor_IgnoresEmptyMessage(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(1)
	monitor := NewMonitor(d)
	called := false
	monitor.OnMessage = func(mpi.UnsolicitedMessage) error {
		called = true
		return nil
	}

	require.NoError(t, d.Handle(mpi.UnsolicitedMessage{LastSolicitedID: -1}))
	d.Close()
	require.NoError(t, monitor.Run(context.Background()))

	assert.True(t, called)
	assert.Equal(t, ChannelState{}, monitor.GetState(mpi.ChannelMPI))
}
