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

package main

import (
	"fmt"
	"strings"

	mpi "github.com/ZaparooProject/go-mpi"
)

// Output handles consistent formatting of messages
type Output struct {
	verbose bool
}

// NewOutput creates a new output handler
func NewOutput(verbose bool) *Output {
	return &Output{verbose: verbose}
}

// Response prints a solicited response
func (o *Output) Response(resp *mpi.ResponseMessage) {
	if resp.Success() {
		_, _ = fmt.Printf("OK: %s %s\n", resp.Channel, resp.Status)
	} else {
		_, _ = fmt.Printf("REJECTED: %s %s\n", resp.Channel, resp.Status)
	}
	if len(resp.Body) > 0 {
		_, _ = fmt.Printf("   DATA: % X\n", resp.Body)
		if o.verbose && printable(resp.Body) {
			_, _ = fmt.Printf("   TEXT: %s\n", resp.Body)
		}
	}
}

// Unsolicited prints a device initiated message
func (*Output) Unsolicited(msg mpi.UnsolicitedMessage) {
	resp := msg.Message
	_, _ = fmt.Printf("EVENT: %s %s after command %d", resp.Channel, resp.Status, msg.LastSolicitedID)
	if len(resp.Body) > 0 && printable(resp.Body) {
		_, _ = fmt.Printf(": %s", resp.Body)
	}
	_, _ = fmt.Print("\n")
}

// Abort prints the outcome of an abort
func (*Output) Abort(acknowledged bool) {
	if acknowledged {
		_, _ = fmt.Print("OK: abort acknowledged\n")
	} else {
		_, _ = fmt.Print("WARNING: abort not acknowledged\n")
	}
}

// Ports prints the serial ports found on the system
func (*Output) Ports(ports []string) {
	if len(ports) == 0 {
		_, _ = fmt.Print("No serial ports found\n")
		return
	}
	for _, p := range ports {
		_, _ = fmt.Printf("  %s\n", p)
	}
}

// Error prints an error message
func (*Output) Error(format string, args ...any) {
	_, _ = fmt.Printf("ERROR: "+format+"\n", args...)
}

// Info prints an info message
func (*Output) Info(format string, args ...any) {
	_, _ = fmt.Printf("INFO: "+format+"\n", args...)
}

func printable(b []byte) bool {
	return strings.IndexFunc(string(b), func(r rune) bool {
		return r < 0x20 || r > 0x7E
	}) < 0
}
