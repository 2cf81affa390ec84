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
	"sync"
	"time"

	mpi "github.com/ZaparooProject/go-mpi"
)

// ChannelState tracks the unsolicited traffic seen on one channel
type ChannelState struct {
	LastSeenTime    time.Time
	LastStatus      mpi.StatusWord
	LastSolicitedID int64
	Received        int64
}

// Monitor consumes a Dispatcher and runs callbacks for every message
type Monitor struct {
	dispatcher *Dispatcher
	states     map[mpi.ChannelID]ChannelState

	// OnMessage runs for every message; an error is passed to OnError
	OnMessage func(msg mpi.UnsolicitedMessage) error
	// OnError reports OnMessage failures
	OnError func(msg mpi.UnsolicitedMessage, err error)

	mu sync.Mutex
}

// NewMonitor creates a monitor reading from d
func NewMonitor(d *Dispatcher) *Monitor {
	return &Monitor{
		dispatcher: d,
		states:     make(map[mpi.ChannelID]ChannelState),
	}
}

// Run processes messages until ctx ends or the dispatcher is closed. It
// returns ctx's error in the first case and nil in the second.
func (m *Monitor) Run(ctx context.Context) error {
	messages := m.dispatcher.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			m.process(msg)
		}
	}
}

// GetState returns the tracked state of ch
func (m *Monitor) GetState(ch mpi.ChannelID) ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[ch]
}

func (m *Monitor) process(msg mpi.UnsolicitedMessage) {
	if msg.Message != nil {
		m.mu.Lock()
		state := m.states[msg.Message.Channel]
		state.LastSeenTime = time.Now()
		state.LastStatus = msg.Message.Status
		state.LastSolicitedID = msg.LastSolicitedID
		state.Received++
		m.states[msg.Message.Channel] = state
		m.mu.Unlock()
	}

	if m.OnMessage == nil {
		return
	}
	if err := m.OnMessage(msg); err != nil && m.OnError != nil {
		m.OnError(msg, err)
	}
}
