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
	"context"
	"io"
)

// Transport is a re-openable byte stream to a terminal. Serial, TCP and
// Bluetooth backends implement it. A session owns its transport exclusively:
// only the session's poller reads from Reader and only Send writes to Writer.
type Transport interface {
	// Connect opens the underlying link. It is never called twice without
	// an intervening Disconnect.
	Connect(ctx context.Context) error

	// Disconnect closes the link. It must be idempotent and must unblock
	// any goroutine blocked in Read or Write.
	Disconnect() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Reader returns the inbound byte stream of the current connection
	Reader() io.Reader

	// Writer returns the outbound byte stream of the current connection
	Writer() io.Writer

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSerial represents a serial or USB CDC link.
	TransportSerial TransportType = "serial"
	// TransportTCP represents a TCP socket.
	TransportTCP TransportType = "tcp"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)
