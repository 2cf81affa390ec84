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

// Package serial provides a serial port transport for terminals attached
// over RS-232 or USB CDC
package serial

import (
	"context"
	"fmt"
	"io"
	"sync"

	mpi "github.com/ZaparooProject/go-mpi"
	bugst "go.bug.st/serial"
)

// DefaultBaudRate is the line speed used when none is configured
const DefaultBaudRate = 115200

// Transport implements mpi.Transport over a serial port. Reads block until
// data arrives or the port is closed.
type Transport struct {
	port     bugst.Port
	portName string
	baudRate int
	mu       sync.Mutex
}

// New creates a serial transport for portName. A baudRate of zero selects
// DefaultBaudRate.
func New(portName string, baudRate int) *Transport {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Transport{
		portName: portName,
		baudRate: baudRate,
	}
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Connect opens the port with 8N1 framing
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	mode := &bugst.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(t.portName, mode)
	if err != nil {
		return mpi.NewTransportError("open", t.portName, err)
	}
	// Stale bytes from an earlier connection would desync framing.
	_ = port.ResetInputBuffer()

	t.port = port
	return nil
}

// Disconnect closes the port, unblocking pending reads. It is idempotent.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return mpi.NewTransportError("close", t.portName, err)
	}
	return nil
}

// IsConnected returns true while the port is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Reader returns the inbound stream of the port open at the time of the
// call. It fails with mpi.ErrTransportClosed once that port is closed, even
// if the transport has been reconnected since.
func (t *Transport) Reader() io.Reader {
	return portReader{t: t, port: t.current()}
}

// Writer returns the outbound stream of the port open at the time of the call
func (t *Transport) Writer() io.Writer {
	return portWriter{t: t, port: t.current()}
}

// Type returns the transport type
func (*Transport) Type() mpi.TransportType {
	return mpi.TransportSerial
}

// PortName returns the configured port name
func (t *Transport) PortName() string {
	return t.portName
}

func (t *Transport) current() bugst.Port {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

type portReader struct {
	t    *Transport
	port bugst.Port
}

func (r portReader) Read(p []byte) (int, error) {
	if r.port == nil {
		return 0, mpi.ErrNotConnected
	}
	if r.t.current() != r.port {
		return 0, mpi.NewTransportError("read", r.t.portName, mpi.ErrTransportClosed)
	}
	n, err := r.port.Read(p)
	if err != nil {
		if r.t.current() != r.port {
			return n, mpi.NewTransportError("read", r.t.portName, mpi.ErrTransportClosed)
		}
		return n, mpi.NewTransportError("read", r.t.portName, fmt.Errorf("%w: %w", mpi.ErrTransportRead, err))
	}
	if n == 0 {
		// A zero length read without error means the port went away.
		return 0, io.EOF
	}
	return n, nil
}

type portWriter struct {
	t    *Transport
	port bugst.Port
}

func (w portWriter) Write(p []byte) (int, error) {
	if w.port == nil {
		return 0, mpi.ErrNotConnected
	}
	if w.t.current() != w.port {
		return 0, mpi.NewTransportError("write", w.t.portName, mpi.ErrTransportClosed)
	}
	n, err := w.port.Write(p)
	if err != nil {
		return n, mpi.NewTransportError("write", w.t.portName, err)
	}
	return n, nil
}
