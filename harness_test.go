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
	"sync"
	"testing"
	"time"

	virt "github.com/ZaparooProject/go-mpi/internal/testing"
	"github.com/stretchr/testify/require"
)

// testWait bounds every wait in the package tests
const testWait = 2 * time.Second

func fastOptions() []Option {
	return []Option{
		WithConnectTimeout(time.Second),
		WithPollerStartTimeout(time.Second),
		WithPollerJoinTimeout(time.Second),
		WithQueueInsertTimeout(time.Second),
		WithTerminalTimeouts(20*time.Millisecond, 100*time.Millisecond),
		WithExchangeTimeout(time.Second),
	}
}

// terminalLink is a MockTransport answered by a virtual terminal on every
// connection
type terminalLink struct {
	*MockTransport
	term      *virt.VirtualTerminal
	responder virt.Responder
	mu        sync.Mutex
}

func newTerminalLink(responder virt.Responder) *terminalLink {
	link := &terminalLink{
		MockTransport: NewMockTransport(),
		responder:     responder,
	}
	link.OnConnect = func(deviceIn io.Reader, deviceOut io.Writer) {
		term := virt.NewVirtualTerminal(deviceIn, deviceOut, link.responder)
		term.Start()
		link.mu.Lock()
		link.term = term
		link.mu.Unlock()
	}
	return link
}

func (l *terminalLink) terminal() *virt.VirtualTerminal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.term
}

// openSession opens a session against a virtual terminal and closes it
// when the test ends
func openSession(t *testing.T, responder virt.Responder, opts ...Option) (*Session, *terminalLink) {
	t.Helper()

	link := newTerminalLink(responder)
	session, err := NewSession(link, append(fastOptions(), opts...)...)
	require.NoError(t, err)
	require.NoError(t, session.Open(context.Background()))
	t.Cleanup(func() {
		_ = session.Close()
		waitTerminal(t, link)
	})
	return session, link
}

// openClient is openSession for a Client
func openClient(t *testing.T, responder virt.Responder, opts ...Option) (*Client, *terminalLink) {
	t.Helper()

	link := newTerminalLink(responder)
	client, err := NewClient(link, append(fastOptions(), opts...)...)
	require.NoError(t, err)
	require.NoError(t, client.Open(context.Background()))
	t.Cleanup(func() {
		_ = client.Close()
		waitTerminal(t, link)
	})
	return client, link
}

func waitTerminal(t *testing.T, link *terminalLink) {
	t.Helper()
	term := link.terminal()
	if term == nil {
		return
	}
	select {
	case <-term.Done():
	case <-time.After(testWait):
		t.Error("virtual terminal did not exit")
	}
}

// echoINS answers every command with a success whose body is the INS byte
func echoINS(cmd virt.Command) [][]byte {
	return [][]byte{virt.BuildResponse(cmd.NAD, []byte{cmd.Instruction()}, virt.SWSuccess)}
}

// waitCommand waits for the terminal to receive a command with ins
func waitCommand(t *testing.T, term *virt.VirtualTerminal, ins byte) virt.Command {
	t.Helper()
	deadline := time.After(testWait)
	for {
		select {
		case cmd := <-term.Seen():
			if cmd.Instruction() == ins {
				return cmd
			}
		case <-deadline:
			t.Fatalf("terminal never received INS %02X", ins)
			return virt.Command{}
		}
	}
}

func testCommand(ins byte) CommandAPDU {
	return NewCommandAPDU(0xD0, ins, 0x00, 0x00, nil)
}
