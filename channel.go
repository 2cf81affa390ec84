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

// ChannelID identifies the logical device a packet is addressed to. Each
// channel has its own reassembly buffer and response queue.
type ChannelID byte

const (
	// ChannelMPI addresses the payment interface.
	ChannelMPI ChannelID = frame.NADMPI
	// ChannelRPI addresses the terminal operating system.
	ChannelRPI ChannelID = frame.NADRPI
)

// Channels lists every known channel
func Channels() []ChannelID {
	return []ChannelID{ChannelMPI, ChannelRPI}
}

// Valid reports whether c is a known channel
func (c ChannelID) Valid() bool {
	return frame.IsKnownNAD(byte(c))
}

// String returns the channel name
func (c ChannelID) String() string {
	switch c {
	case ChannelMPI:
		return "MPI"
	case ChannelRPI:
		return "RPI"
	default:
		return fmt.Sprintf("ChannelID(0x%02X)", byte(c))
	}
}

// ParseChannel converts a channel name into a ChannelID
func ParseChannel(name string) (ChannelID, error) {
	switch name {
	case "mpi", "MPI":
		return ChannelMPI, nil
	case "rpi", "RPI":
		return ChannelRPI, nil
	default:
		return 0, fmt.Errorf("%w: unknown channel %q", ErrInvalidParameter, name)
	}
}
