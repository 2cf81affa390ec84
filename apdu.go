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

	"github.com/ZaparooProject/go-mpi/internal/frame"
)

// CommandAPDU is a command sent to the terminal. It is laid out on the
// wire as CLA INS P1 P2 [Lc DATA] [Le].
type CommandAPDU struct {
	Data        []byte
	Class       byte
	Instruction byte
	P1          byte
	P2          byte
	// Le is only encoded when HasLe is set; 0x00 is a valid Le value.
	Le    byte
	HasLe bool
}

// NewCommandAPDU creates a command without an expected length
func NewCommandAPDU(cla, ins, p1, p2 byte, data []byte) CommandAPDU {
	return CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
	}
}

// WithLe returns a copy of the command with the expected length set
func (c CommandAPDU) WithLe(le byte) CommandAPDU {
	c.Le = le
	c.HasLe = true
	return c
}

// Bytes encodes the command. Commands that do not fit in one packet are
// rejected with ErrCommandTooLarge.
func (c CommandAPDU) Bytes() ([]byte, error) {
	if len(c.Data) > 0xFF {
		return nil, fmt.Errorf("%w: %d data bytes", ErrCommandTooLarge, len(c.Data))
	}

	size := 4
	if len(c.Data) > 0 {
		size += 1 + len(c.Data)
	}
	if c.HasLe {
		size++
	}
	if size > frame.MaxCommandLength {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrCommandTooLarge, size, frame.MaxCommandLength)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, c.Class, c.Instruction, c.P1, c.P2)
	if len(c.Data) > 0 {
		buf = append(buf, byte(len(c.Data)))
		buf = append(buf, c.Data...)
	}
	if c.HasLe {
		buf = append(buf, c.Le)
	}
	return buf, nil
}

// String returns a readable summary of the command header
func (c CommandAPDU) String() string {
	return fmt.Sprintf("CLA=%02X INS=%02X P1=%02X P2=%02X Lc=%d",
		c.Class, c.Instruction, c.P1, c.P2, len(c.Data))
}

// StatusWord is the two byte trailer (SW1 SW2) of every response
type StatusWord uint16

// Status words with meaning to the session layer
const (
	SWSuccess          StatusWord = 0x9000
	SWWrongParameters  StatusWord = 0x6A00
	SWMalformedCommand StatusWord = 0x6F00
)

// NewStatusWord builds a StatusWord from SW1 and SW2
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the low byte
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsSuccess reports whether the status is 0x9000
func (sw StatusWord) IsSuccess() bool {
	return sw == SWSuccess
}

// String returns the hex status with a short description where one is known
func (sw StatusWord) String() string {
	switch {
	case sw == SWSuccess:
		return "[9000] success"
	case sw == SWMalformedCommand:
		return "[6F00] malformed command"
	case sw.SW1() == 0x6A:
		return fmt.Sprintf("[%04X] wrong parameters", uint16(sw))
	case sw.SW1() == 0x69:
		return fmt.Sprintf("[%04X] command not allowed", uint16(sw))
	case sw.SW1() == 0x6D:
		return fmt.Sprintf("[%04X] instruction not supported", uint16(sw))
	case sw.SW1() == 0x6E:
		return fmt.Sprintf("[%04X] class not supported", uint16(sw))
	case sw.SW1() == 0x9F:
		return fmt.Sprintf("[%04X] transaction status", uint16(sw))
	default:
		return fmt.Sprintf("[%04X]", uint16(sw))
	}
}

// ResponseMessage is a complete response reassembled from one or more packets
type ResponseMessage struct {
	Body        []byte
	Status      StatusWord
	Channel     ChannelID
	Unsolicited bool
}

// newResponseMessage splits a reassembled payload into body and status word.
// Payloads always carry at least the two status bytes.
func newResponseMessage(msg frame.Message) *ResponseMessage {
	n := len(msg.Payload)
	body := make([]byte, n-2)
	copy(body, msg.Payload[:n-2])
	return &ResponseMessage{
		Channel:     ChannelID(msg.NAD),
		Unsolicited: msg.Unsolicited,
		Body:        body,
		Status:      NewStatusWord(msg.Payload[n-2], msg.Payload[n-1]),
	}
}

// Success reports whether the device accepted the command
func (r *ResponseMessage) Success() bool {
	return r != nil && r.Status.IsSuccess()
}

// Err returns a *StatusError when the response is not a success
func (r *ResponseMessage) Err() error {
	if r == nil {
		return ErrNoResponse
	}
	if r.Status.IsSuccess() {
		return nil
	}
	return &StatusError{Status: r.Status, Channel: r.Channel}
}

// String returns a readable summary of the response
func (r *ResponseMessage) String() string {
	kind := "solicited"
	if r.Unsolicited {
		kind = "unsolicited"
	}
	return fmt.Sprintf("%s %s response, %d byte body, %s", r.Channel, kind, len(r.Body), r.Status)
}
