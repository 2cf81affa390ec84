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

// Package frame provides packet encoding, decoding and reassembly for the
// terminal wire protocol.
//
// Every packet on the wire has the layout
//
//	[NAD][PCB][LEN][payload ...][LRC]
//
// where NAD selects the logical device, PCB carries the chained and
// unsolicited flags, LEN is the payload length and LRC is the XOR of every
// preceding byte, so the XOR of a whole packet is zero.
package frame

// Node addresses - one per logical device behind the link
const (
	NADMPI = 0x01 // Payment interface
	NADRPI = 0x02 // Operating system interface
)

// Protocol control byte flags
const (
	PCBChained     = 0x01 // More packets follow for this message
	PCBUnsolicited = 0x40 // Device initiated message

	pcbMask = PCBChained | PCBUnsolicited
)

// Packet size limits
const (
	HeaderLength     = 3 // NAD + PCB + LEN
	TrailerLength    = 1 // LRC
	Overhead         = HeaderLength + TrailerLength
	MinPayloadLength = 2   // Smallest payload: a bare status word
	MaxPayloadLength = 254 // Largest payload one packet can carry
	MaxPacketLength  = MaxPayloadLength + Overhead

	// MaxCommandLength is the largest command APDU accepted for a single
	// unchained packet.
	MaxCommandLength = MaxPayloadLength - Overhead
)

// IsKnownNAD reports whether nad addresses a device this protocol knows about.
func IsKnownNAD(nad byte) bool {
	return nad == NADMPI || nad == NADRPI
}
