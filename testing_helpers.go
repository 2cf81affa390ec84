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
	"errors"
	"fmt"
	"io"
	"sync"
)

// MockTransport is an in-memory, re-openable transport for tests. Each
// Connect creates a fresh pair of pipes; the device end is handed to
// OnConnect and is available through DeviceSide.
type MockTransport struct {
	// ConnectErr, when set, is returned by Connect
	ConnectErr error
	// OnConnect is called with the device end of every new connection
	OnConnect func(deviceIn io.Reader, deviceOut io.Writer)

	writeErr    error
	hostIn      *io.PipeReader
	deviceOut   *io.PipeWriter
	deviceIn    *io.PipeReader
	hostOut     *io.PipeWriter
	mu          sync.Mutex
	connects    int
	connected   bool
	stayOffline bool
}

// NewMockTransport creates a disconnected mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Connect opens a new pipe pair
func (m *MockTransport) Connect(_ context.Context) error {
	m.mu.Lock()
	if m.ConnectErr != nil {
		m.mu.Unlock()
		return m.ConnectErr
	}
	if m.connected {
		m.mu.Unlock()
		return errors.New("mock transport already connected")
	}

	m.hostIn, m.deviceOut = io.Pipe()
	m.deviceIn, m.hostOut = io.Pipe()
	m.connected = true
	m.connects++
	hook := m.OnConnect
	deviceIn, deviceOut := m.deviceIn, m.deviceOut
	m.mu.Unlock()

	if hook != nil {
		hook(deviceIn, deviceOut)
	}
	return nil
}

// Disconnect closes every pipe end, unblocking readers and writers
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	_ = m.hostIn.Close()
	_ = m.hostOut.Close()
	_ = m.deviceIn.Close()
	_ = m.deviceOut.Close()
	return nil
}

// IsConnected returns true between Connect and Disconnect. StayOffline
// makes it report false regardless.
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.stayOffline
}

// StayOffline makes IsConnected report false after Connect succeeds
func (m *MockTransport) StayOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stayOffline = true
}

// FailWrites makes every later write on the host side return err
func (m *MockTransport) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Reader returns the host end of the device to host pipe
func (m *MockTransport) Reader() io.Reader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostIn
}

// Writer returns the host end of the host to device pipe
func (m *MockTransport) Writer() io.Writer {
	return mockWriter{m: m}
}

// DeviceSide returns the device ends of the current connection
func (m *MockTransport) DeviceSide() (io.Reader, io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceIn, m.deviceOut
}

// Connects returns how many times Connect succeeded
func (m *MockTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Type returns TransportMock
func (*MockTransport) Type() TransportType {
	return TransportMock
}

type mockWriter struct {
	m *MockTransport
}

func (w mockWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	err := w.m.writeErr
	out := w.m.hostOut
	w.m.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if out == nil {
		return 0, ErrNotConnected
	}
	n, err := out.Write(p)
	if err != nil {
		return n, fmt.Errorf("mock write: %w", err)
	}
	return n, nil
}
