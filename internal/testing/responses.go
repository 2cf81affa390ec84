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

import "github.com/ZaparooProject/go-mpi/internal/frame"

// Status words used by the builders
const (
	SWSuccess              uint16 = 0x9000
	SWWrongParameters      uint16 = 0x6A00
	SWMalformedCommand     uint16 = 0x6F00
	SWTransactionCancelled uint16 = 0x9F41
)

// ResponsePayload appends the status word to body
func ResponsePayload(body []byte, sw uint16) []byte {
	payload := make([]byte, 0, len(body)+2)
	payload = append(payload, body...)
	return append(payload, byte(sw>>8), byte(sw))
}

// BuildResponse creates a single solicited response packet
func BuildResponse(nad byte, body []byte, sw uint16) []byte {
	return frame.Encode(nad, 0, ResponsePayload(body, sw))
}

// BuildUnsolicited creates a single unsolicited message packet
func BuildUnsolicited(nad byte, body []byte, sw uint16) []byte {
	return frame.Encode(nad, frame.PCBUnsolicited, ResponsePayload(body, sw))
}

// BuildStatusResponse creates a response with an empty body
func BuildStatusResponse(nad byte, sw uint16) []byte {
	return BuildResponse(nad, nil, sw)
}

// BuildAbortAck creates the empty success the terminal sends for ABORT
func BuildAbortAck(nad byte) []byte {
	return BuildStatusResponse(nad, SWSuccess)
}

// BuildCancelledResponse creates the result of a transaction interrupted by ABORT
func BuildCancelledResponse(nad byte) []byte {
	return BuildStatusResponse(nad, SWTransactionCancelled)
}

// BuildChainedResponse splits body and status word over packets carrying
// at most chunk payload bytes each. The final packet always has at least
// the minimum payload length.
func BuildChainedResponse(nad byte, unsolicited bool, body []byte, sw uint16, chunk int) [][]byte {
	if chunk <= frame.MinPayloadLength || chunk > frame.MaxPayloadLength {
		panic("testing: chunk size out of range")
	}
	payload := ResponsePayload(body, sw)

	var pcb byte
	if unsolicited {
		pcb = frame.PCBUnsolicited
	}

	var packets [][]byte
	for len(payload) > chunk {
		n := chunk
		// Never leave a final packet shorter than the minimum payload.
		if rest := len(payload) - n; rest < frame.MinPayloadLength {
			n -= frame.MinPayloadLength - rest
		}
		packets = append(packets, frame.Encode(nad, pcb|frame.PCBChained, payload[:n]))
		payload = payload[n:]
	}
	return append(packets, frame.Encode(nad, pcb, payload))
}

// Interleave alternates the packets of a and b, starting with a
func Interleave(a, b [][]byte) []byte {
	var out []byte
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i]...)
		}
		if i < len(b) {
			out = append(out, b[i]...)
		}
	}
	return out
}

// Concat joins packets into one byte stream
func Concat(packets ...[]byte) []byte {
	var out []byte
	for _, p := range packets {
		out = append(out, p...)
	}
	return out
}
