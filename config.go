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
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Default timing and sizing values
const (
	DefaultConnectTimeout          = 5 * time.Second
	DefaultPollerStartTimeout      = 2 * time.Second
	DefaultPollerJoinTimeout       = 2 * time.Second
	DefaultQueueCapacity           = 16
	DefaultQueueInsertTimeout      = 5 * time.Second
	DefaultTerminalTimeout         = 50 * time.Millisecond
	DefaultTerminalFallbackTimeout = 500 * time.Millisecond
	DefaultExchangeTimeout         = 5 * time.Second
)

// UnsolicitedMessage is a device-initiated message handed to the
// unsolicited handler. LastSolicitedID is the sequence id of the most recent
// solicited response read before it, or -1 when none has been read yet.
type UnsolicitedMessage struct {
	Message         *ResponseMessage
	LastSolicitedID int64
}

// UnsolicitedHandler receives unsolicited messages on the poller goroutine.
// It has no access to the session, so it cannot re-enter Send or Receive.
// Returning an error stops the poller.
type UnsolicitedHandler func(UnsolicitedMessage) error

// Callbacks are optional notifications fired by a session
type Callbacks struct {
	// OnUnsolicited runs synchronously on the poller goroutine
	OnUnsolicited UnsolicitedHandler
	// OnConnected fires once after Open succeeds
	OnConnected func()
	// OnDisconnected fires once on close, only after OnConnected
	OnDisconnected func()
	// OnPollerStopped reports why the background poller exited
	OnPollerStopped func(reason StopReason, err error)
}

// Config holds session and client settings
type Config struct {
	Logger    zerolog.Logger
	Callbacks Callbacks

	// ConnectTimeout bounds the wait for the transport to report connected
	ConnectTimeout time.Duration
	// PollerStartTimeout bounds the wait for the poller ready signal
	PollerStartTimeout time.Duration
	// PollerJoinTimeout bounds the wait for the poller to exit on close
	PollerJoinTimeout time.Duration
	// QueueInsertTimeout is how long the poller waits on a full queue
	QueueInsertTimeout time.Duration
	// TerminalTimeout and TerminalFallbackTimeout bound the terminal marker insert
	TerminalTimeout         time.Duration
	TerminalFallbackTimeout time.Duration
	// ExchangeTimeout bounds the response swap between a transaction and an abort
	ExchangeTimeout time.Duration

	// QueueCapacity is the per-channel response queue size
	QueueCapacity int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logger:                  zerolog.Nop(),
		ConnectTimeout:          DefaultConnectTimeout,
		PollerStartTimeout:      DefaultPollerStartTimeout,
		PollerJoinTimeout:       DefaultPollerJoinTimeout,
		QueueCapacity:           DefaultQueueCapacity,
		QueueInsertTimeout:      DefaultQueueInsertTimeout,
		TerminalTimeout:         DefaultTerminalTimeout,
		TerminalFallbackTimeout: DefaultTerminalFallbackTimeout,
		ExchangeTimeout:         DefaultExchangeTimeout,
	}
}

// Validate checks that every duration and size is usable
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"connect timeout", c.ConnectTimeout},
		{"poller start timeout", c.PollerStartTimeout},
		{"poller join timeout", c.PollerJoinTimeout},
		{"queue insert timeout", c.QueueInsertTimeout},
		{"terminal timeout", c.TerminalTimeout},
		{"terminal fallback timeout", c.TerminalFallbackTimeout},
		{"exchange timeout", c.ExchangeTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidParameter, d.name, d.value)
		}
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity must be at least 1, got %d", ErrInvalidParameter, c.QueueCapacity)
	}
	return nil
}
