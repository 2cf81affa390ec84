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

package frame

import (
	"errors"
	"fmt"
	"io"
)

// Decode errors
var (
	ErrShortPacket      = errors.New("frame: short packet")
	ErrUnknownNAD       = errors.New("frame: unknown node address")
	ErrInvalidPCB       = errors.New("frame: invalid control byte")
	ErrInvalidLength    = errors.New("frame: payload length out of range")
	ErrLengthMismatch   = errors.New("frame: declared length does not match packet size")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
)

// IsCorrupt reports whether err came from a malformed packet rather than
// from the underlying reader
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrShortPacket) ||
		errors.Is(err, ErrUnknownNAD) ||
		errors.Is(err, ErrInvalidPCB) ||
		errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrLengthMismatch) ||
		errors.Is(err, ErrChecksumMismatch)
}

// Packet is one decoded wire packet. Packets are treated as immutable once built.
type Packet struct {
	Payload     []byte
	NAD         byte
	LRC         byte
	Chained     bool
	Unsolicited bool
}

// PCB returns the control byte for the packet flags
func (p Packet) PCB() byte {
	var pcb byte
	if p.Chained {
		pcb |= PCBChained
	}
	if p.Unsolicited {
		pcb |= PCBUnsolicited
	}
	return pcb
}

// Bytes re-encodes the packet
func (p Packet) Bytes() []byte {
	return Encode(p.NAD, p.PCB(), p.Payload)
}

// Encode serializes a packet. A payload outside [MinPayloadLength,
// MaxPayloadLength] is a programming error and panics.
func Encode(nad, pcb byte, payload []byte) []byte {
	if len(payload) < MinPayloadLength || len(payload) > MaxPayloadLength {
		panic(fmt.Sprintf("frame: payload length %d outside [%d,%d]",
			len(payload), MinPayloadLength, MaxPayloadLength))
	}

	buf := make([]byte, 0, len(payload)+Overhead)
	buf = append(buf, nad, pcb, byte(len(payload)))
	buf = append(buf, payload...)
	return append(buf, CalculateLRC(buf))
}

// Decode parses a complete packet. No attempt is made to recover a partial
// or damaged packet.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < HeaderLength {
		return Packet{}, ErrShortPacket
	}
	if err := validateHeader(raw[0], raw[1], raw[2]); err != nil {
		return Packet{}, err
	}

	length := int(raw[2])
	if len(raw) != length+Overhead {
		return Packet{}, fmt.Errorf("%w: declared %d, have %d",
			ErrLengthMismatch, length, len(raw)-Overhead)
	}
	if !ValidateLRC(raw) {
		return Packet{}, ErrChecksumMismatch
	}

	payload := make([]byte, length)
	copy(payload, raw[HeaderLength:HeaderLength+length])

	return Packet{
		NAD:         raw[0],
		Chained:     raw[1]&PCBChained != 0,
		Unsolicited: raw[1]&PCBUnsolicited != 0,
		Payload:     payload,
		LRC:         raw[len(raw)-1],
	}, nil
}

// ReadPacket reads exactly one packet from r. The header is checked before
// the body is read so a corrupt length byte never drives a large read.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, fmt.Errorf("read packet header: %w", err)
	}
	if err := validateHeader(header[0], header[1], header[2]); err != nil {
		return Packet{}, err
	}

	raw := make([]byte, HeaderLength+int(header[2])+TrailerLength)
	copy(raw, header[:])
	if _, err := io.ReadFull(r, raw[HeaderLength:]); err != nil {
		return Packet{}, fmt.Errorf("read packet body: %w", err)
	}

	return Decode(raw)
}

func validateHeader(nad, pcb, length byte) error {
	if !IsKnownNAD(nad) {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownNAD, nad)
	}
	if pcb&^pcbMask != 0 {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidPCB, pcb)
	}
	if length < MinPayloadLength || length > MaxPayloadLength {
		return fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	return nil
}

// Message is a logical message rebuilt from one or more packets
type Message struct {
	Payload     []byte
	NAD         byte
	Unsolicited bool
}

// Reconstruct joins an ordered chain of packets into one message. Every
// packet but the last must be chained, the last must not be, and all must
// share NAD and unsolicited flag. Violations are caller bugs and panic.
func Reconstruct(packets []Packet) Message {
	if len(packets) == 0 {
		panic("frame: reconstruct called with no packets")
	}

	first := packets[0]
	size := 0
	for i, p := range packets {
		last := i == len(packets)-1
		if p.Chained == last {
			panic(fmt.Sprintf("frame: packet %d of %d has chained=%t", i+1, len(packets), p.Chained))
		}
		if p.NAD != first.NAD {
			panic(fmt.Sprintf("frame: packet %d NAD 0x%02X differs from 0x%02X", i+1, p.NAD, first.NAD))
		}
		if p.Unsolicited != first.Unsolicited {
			panic(fmt.Sprintf("frame: packet %d unsolicited flag differs from first packet", i+1))
		}
		size += len(p.Payload)
	}

	payload := make([]byte, 0, size)
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}

	return Message{
		NAD:         first.NAD,
		Unsolicited: first.Unsolicited,
		Payload:     payload,
	}
}
