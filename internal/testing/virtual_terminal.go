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

package testing

import (
	"errors"
	"io"
	"sync"

	"github.com/ZaparooProject/go-mpi/internal/frame"
)

// Command is a command packet received by a VirtualTerminal
type Command struct {
	APDU []byte
	NAD  byte
}

// Class returns the CLA byte
func (c Command) Class() byte {
	return c.APDU[0]
}

// Instruction returns the INS byte
func (c Command) Instruction() byte {
	return c.APDU[1]
}

// Responder returns the packets to write back for cmd. Returning nil
// leaves the command unanswered; the test may answer later with Write.
type Responder func(cmd Command) [][]byte

// VirtualTerminal plays the device side of a link. It reads command
// packets from r on its own goroutine, records them and writes whatever the
// responder returns to w.
type VirtualTerminal struct {
	r         io.Reader
	w         io.Writer
	err       error
	responder Responder
	done      chan struct{}
	seen      chan Command
	commands  []Command
	mu        sync.Mutex
	writeMu   sync.Mutex
}

// NewVirtualTerminal creates a terminal reading commands from r and
// answering on w
func NewVirtualTerminal(r io.Reader, w io.Writer, responder Responder) *VirtualTerminal {
	return &VirtualTerminal{
		r:         r,
		w:         w,
		responder: responder,
		done:      make(chan struct{}),
		seen:      make(chan Command, 64),
	}
}

// Start launches the terminal goroutine. It exits when r fails.
func (v *VirtualTerminal) Start() {
	go v.run()
}

func (v *VirtualTerminal) run() {
	defer close(v.done)
	for {
		pkt, err := frame.ReadPacket(v.r)
		if err != nil {
			v.mu.Lock()
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				v.err = err
			}
			v.mu.Unlock()
			return
		}

		cmd := Command{NAD: pkt.NAD, APDU: pkt.Payload}
		v.mu.Lock()
		v.commands = append(v.commands, cmd)
		v.mu.Unlock()

		select {
		case v.seen <- cmd:
		default:
		}

		if v.responder == nil {
			continue
		}
		for _, raw := range v.responder(cmd) {
			if err := v.Write(raw); err != nil {
				return
			}
		}
	}
}

// Write sends raw bytes to the host, serialized with responder output
func (v *VirtualTerminal) Write(raw []byte) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	_, err := v.w.Write(raw)
	return err
}

// Seen delivers each received command. Commands are dropped when nobody
// reads and the buffer is full.
func (v *VirtualTerminal) Seen() <-chan Command {
	return v.seen
}

// Done is closed when the terminal goroutine exits
func (v *VirtualTerminal) Done() <-chan struct{} {
	return v.done
}

// Err returns the read error that stopped the terminal, if it was not a
// normal close
func (v *VirtualTerminal) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Commands returns a copy of every command received so far
func (v *VirtualTerminal) Commands() []Command {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Command(nil), v.commands...)
}

// CountINS returns how many received commands carry instruction ins
func (v *VirtualTerminal) CountINS(ins byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.commands {
		if c.Instruction() == ins {
			n++
		}
	}
	return n
}

// EchoSuccess answers every command with an empty success
func EchoSuccess(cmd Command) [][]byte {
	return [][]byte{BuildAbortAck(cmd.NAD)}
}
