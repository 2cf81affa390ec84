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

// Package tcp provides a TCP transport for terminals reachable over a
// network socket
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	mpi "github.com/ZaparooProject/go-mpi"
)

// DefaultDialTimeout bounds connection establishment
const DefaultDialTimeout = 5 * time.Second

// Transport implements mpi.Transport over a TCP connection
type Transport struct {
	conn        net.Conn
	address     string
	dialTimeout time.Duration
	mu          sync.Mutex
}

// New creates a TCP transport for address ("host:port"). A dialTimeout of
// zero selects DefaultDialTimeout.
func New(address string, dialTimeout time.Duration) *Transport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Transport{
		address:     address,
		dialTimeout: dialTimeout,
	}
}

// Connect dials the terminal
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return mpi.NewTransportError("dial", t.address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// Packets are small and latency sensitive.
		_ = tc.SetNoDelay(true)
	}
	t.conn = conn
	return nil
}

// Disconnect closes the connection, unblocking pending reads and writes.
// It is idempotent.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return mpi.NewTransportError("close", t.address, err)
	}
	return nil
}

// IsConnected returns true while a connection is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Reader returns the inbound stream of the connection open at the time of
// the call. The reader stays bound to that connection and fails with
// mpi.ErrTransportClosed once it is closed, even after a reconnect.
func (t *Transport) Reader() io.Reader {
	return connReader{t: t, conn: t.current()}
}

// Writer returns the outbound stream of the connection open at the time of
// the call
func (t *Transport) Writer() io.Writer {
	return connWriter{t: t, conn: t.current()}
}

// Type returns the transport type
func (*Transport) Type() mpi.TransportType {
	return mpi.TransportTCP
}

// Address returns the configured address
func (t *Transport) Address() string {
	return t.address
}

func (t *Transport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

type connReader struct {
	t    *Transport
	conn net.Conn
}

func (r connReader) Read(p []byte) (int, error) {
	if r.conn == nil {
		return 0, mpi.ErrNotConnected
	}
	if r.t.current() != r.conn {
		return 0, mpi.NewTransportError("read", r.t.address, mpi.ErrTransportClosed)
	}
	n, err := r.conn.Read(p)
	switch {
	case err == nil:
		return n, nil
	case r.t.current() != r.conn:
		return n, mpi.NewTransportError("read", r.t.address, mpi.ErrTransportClosed)
	case errors.Is(err, io.EOF):
		return n, err
	default:
		return n, mpi.NewTransportError("read", r.t.address, fmt.Errorf("%w: %w", mpi.ErrTransportRead, err))
	}
}

type connWriter struct {
	t    *Transport
	conn net.Conn
}

func (w connWriter) Write(p []byte) (int, error) {
	if w.conn == nil {
		return 0, mpi.ErrNotConnected
	}
	if w.t.current() != w.conn {
		return 0, mpi.NewTransportError("write", w.t.address, mpi.ErrTransportClosed)
	}
	n, err := w.conn.Write(p)
	if err != nil {
		return n, mpi.NewTransportError("write", w.t.address, err)
	}
	return n, nil
}
