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

package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	mpi "github.com/ZaparooProject/go-mpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	return ln, conns
}

func TestTransport_Properties(t *testing.T) {
	t.Parallel()

	tr := New("127.0.0.1:1", 0)
	assert.Equal(t, mpi.TransportTCP, tr.Type())
	assert.Equal(t, "127.0.0.1:1", tr.Address())
	assert.False(t, tr.IsConnected())
	assert.NoError(t, tr.Disconnect(), "disconnect before connect is a no-op")

	_, err := tr.Reader().Read(make([]byte, 1))
	require.ErrorIs(t, err, mpi.ErrNotConnected)
	_, err = tr.Writer().Write([]byte{0x01})
	require.ErrorIs(t, err, mpi.ErrNotConnected)
}

func TestTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	ln, conns := startListener(t)
	tr := New(ln.Addr().String(), time.Second)
	require.NoError(t, tr.Connect(context.Background()))
	defer func() { _ = tr.Disconnect() }()
	assert.True(t, tr.IsConnected())

	server := <-conns
	defer func() { _ = server.Close() }()

	_, err := tr.Writer().Write([]byte{0x01, 0x00, 0x04, 0xD0, 0x00, 0x00, 0x00, 0xD5})
	require.NoError(t, err)

	got := make([]byte, 8)
	_, err = io.ReadFull(server, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x04, 0xD0, 0x00, 0x00, 0x00, 0xD5}, got)

	_, err = server.Write([]byte{0x01, 0x00, 0x02, 0x90, 0x00, 0x93})
	require.NoError(t, err)

	resp := make([]byte, 6)
	_, err = io.ReadFull(tr.Reader(), resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x90, 0x00, 0x93}, resp)
}

func TestTransport_DisconnectUnblocksRead(t *testing.T) {
	t.Parallel()

	ln, conns := startListener(t)
	tr := New(ln.Addr().String(), time.Second)
	require.NoError(t, tr.Connect(context.Background()))
	server := <-conns
	defer func() { _ = server.Close() }()

	reader := tr.Reader()
	readErr := make(chan error, 1)
	go func() {
		_, err := reader.Read(make([]byte, 1))
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect(), "second disconnect must be a no-op")

	select {
	case err := <-readErr:
		require.Error(t, err)
		var te *mpi.TransportError
		assert.True(t, errors.As(err, &te))
		require.ErrorIs(t, err, mpi.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read was not unblocked by Disconnect")
	}
	assert.False(t, tr.IsConnected())
}

func TestTransport_Reconnect(t *testing.T) {
	t.Parallel()

	ln, conns := startListener(t)
	tr := New(ln.Addr().String(), time.Second)

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Connect(context.Background()))
		server := <-conns
		assert.True(t, tr.IsConnected())
		require.NoError(t, tr.Disconnect())
		_ = server.Close()
	}
}

// TestTransport_StaleReaderAfterReconnect checks that a reader obtained for
// one connection never consumes bytes of the next one
func TestTransport_StaleReaderAfterReconnect(t *testing.T) {
	t.Parallel()

	ln, conns := startListener(t)
	tr := New(ln.Addr().String(), time.Second)

	require.NoError(t, tr.Connect(context.Background()))
	first := <-conns
	defer func() { _ = first.Close() }()
	stale := tr.Reader()
	staleWriter := tr.Writer()
	require.NoError(t, tr.Disconnect())

	require.NoError(t, tr.Connect(context.Background()))
	defer func() { _ = tr.Disconnect() }()
	second := <-conns
	defer func() { _ = second.Close() }()

	_, err := second.Write([]byte{0x01, 0x00, 0x02, 0x90, 0x00, 0x93})
	require.NoError(t, err)

	_, err = stale.Read(make([]byte, 6))
	require.ErrorIs(t, err, mpi.ErrTransportClosed)
	assert.Equal(t, mpi.ErrorTypeTransport, mpi.GetErrorType(err))
	_, err = staleWriter.Write([]byte{0x01})
	require.ErrorIs(t, err, mpi.ErrTransportClosed)

	resp := make([]byte, 6)
	_, err = io.ReadFull(tr.Reader(), resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x90, 0x00, 0x93}, resp)
}

// TestTransport_PeerEOF checks that a peer close surfaces as EOF or as a
// transport read failure, never as a closed transport
func TestTransport_PeerEOF(t *testing.T) {
	t.Parallel()

	ln, conns := startListener(t)
	tr := New(ln.Addr().String(), time.Second)
	require.NoError(t, tr.Connect(context.Background()))
	defer func() { _ = tr.Disconnect() }()

	server := <-conns
	require.NoError(t, server.Close())

	_, err := tr.Reader().Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, mpi.ErrTransportRead),
		"unexpected error %v", err)
	assert.NotErrorIs(t, err, mpi.ErrTransportClosed)
}

func TestTransport_DialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tr := New(addr, 200*time.Millisecond)
	err = tr.Connect(context.Background())
	require.Error(t, err)

	var te *mpi.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
	assert.False(t, tr.IsConnected())
}
