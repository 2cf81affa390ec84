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

// Package events moves unsolicited terminal messages off the session's
// poller goroutine. A Dispatcher is installed as the session's unsolicited
// handler and never blocks; a Monitor consumes what it buffers on a
// goroutine of its own, where calling back into the client is safe.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	mpi "github.com/ZaparooProject/go-mpi"
)

// DefaultBufferSize is the default number of buffered messages
const DefaultBufferSize = 32

// Metrics tracks dispatcher throughput
type Metrics struct {
	Delivered   int64         // Messages queued for the monitor
	Dropped     int64         // Messages dropped on a full buffer or after Close
	LastLatency time.Duration // Time spent in the most recent Handle call
}

// Dispatcher buffers unsolicited messages in a bounded channel
type Dispatcher struct {
	messages  chan mpi.UnsolicitedMessage
	mu        sync.RWMutex
	closed    bool
	delivered int64
	dropped   int64
	latency   int64 // in nanoseconds
}

// NewDispatcher creates a dispatcher buffering up to size messages
func NewDispatcher(size int) *Dispatcher {
	if size < 1 {
		size = DefaultBufferSize
	}
	return &Dispatcher{
		messages: make(chan mpi.UnsolicitedMessage, size),
	}
}

// Handle queues msg without blocking. A full buffer drops the message
// rather than stall the poller, and so does a closed dispatcher: Handle never
// fails, so closing the dispatcher leaves the session running. It matches
// mpi.UnsolicitedHandler.
func (d *Dispatcher) Handle(msg mpi.UnsolicitedMessage) error {
	start := time.Now()
	defer func() {
		atomic.StoreInt64(&d.latency, time.Since(start).Nanoseconds())
	}()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		atomic.AddInt64(&d.dropped, 1)
		return nil
	}

	select {
	case d.messages <- msg:
		atomic.AddInt64(&d.delivered, 1)
	default:
		atomic.AddInt64(&d.dropped, 1)
	}
	return nil
}

// Messages returns the buffered message stream. It is closed by Close.
func (d *Dispatcher) Messages() <-chan mpi.UnsolicitedMessage {
	return d.messages
}

// Close stops accepting messages and closes the stream. Later calls do nothing.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.messages)
}

// GetMetrics returns current dispatcher metrics
func (d *Dispatcher) GetMetrics() Metrics {
	return Metrics{
		Delivered:   atomic.LoadInt64(&d.delivered),
		Dropped:     atomic.LoadInt64(&d.dropped),
		LastLatency: time.Duration(atomic.LoadInt64(&d.latency)),
	}
}
