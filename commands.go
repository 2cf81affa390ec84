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

// Command classes
const (
	ClassDevice      byte = 0xD0 // Device management commands
	ClassTransaction byte = 0xDE // Payment transaction commands
)

// Device class instructions
const (
	InsResetDevice byte = 0x00
	InsAbort       byte = 0xFF
)

// Transaction class instructions. These may block on the terminal waiting
// for cardholder input and must go through Client.Transaction so an abort
// can interrupt them.
const (
	InsStartTransaction    byte = 0xD1
	InsContinueTransaction byte = 0xD2
	InsCardRemoval         byte = 0xE0
)

// SWTransactionCancelled is returned by a transaction interrupted by ABORT
const SWTransactionCancelled StatusWord = 0x9F41

// ResetDeviceCommand returns the RESET DEVICE command
func ResetDeviceCommand() CommandAPDU {
	return NewCommandAPDU(ClassDevice, InsResetDevice, 0x00, 0x00, nil)
}

// AbortCommand returns the ABORT command. The terminal answers it with an
// empty success response.
func AbortCommand() CommandAPDU {
	return NewCommandAPDU(ClassDevice, InsAbort, 0x00, 0x00, nil)
}

// StartTransactionCommand returns a START TRANSACTION command carrying an
// already encoded payload
func StartTransactionCommand(payload []byte) CommandAPDU {
	return NewCommandAPDU(ClassTransaction, InsStartTransaction, 0x00, 0x00, payload)
}

// ContinueTransactionCommand returns a CONTINUE TRANSACTION command carrying
// an already encoded payload
func ContinueTransactionCommand(payload []byte) CommandAPDU {
	return NewCommandAPDU(ClassTransaction, InsContinueTransaction, 0x00, 0x00, payload)
}

// CardRemovalCommand returns the command that waits for the card to be removed
func CardRemovalCommand() CommandAPDU {
	return NewCommandAPDU(ClassTransaction, InsCardRemoval, 0x00, 0x00, nil)
}

// IsTransactionCommand reports whether cmd may block the terminal for a
// long time and so needs abort-aware handling
func IsTransactionCommand(cmd CommandAPDU) bool {
	return cmd.Class == ClassTransaction
}
