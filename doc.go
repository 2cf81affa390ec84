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

/*
Package mpi provides a pure Go library for talking to payment terminals over
the MPI/RPI packet protocol.

A terminal exposes two logical devices behind one serial or TCP link: the
payment interface (MPI) and the terminal operating system (RPI). Commands
are APDUs wrapped in small checksummed packets; long responses are split
over chained packets and the terminal may push unsolicited messages at any
time.

Features:
  - Serial and TCP transports, plus an in-memory mock for tests
  - Packet chaining and reassembly per channel
  - A background poller that numbers every solicited response
  - Strict command/response ordering with fail-closed error handling
  - Aborting a running transaction from another goroutine
  - Unsolicited message delivery through a callback

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-mpi"
	    "github.com/ZaparooProject/go-mpi/transport/serial"
	)

	transport := serial.New("/dev/ttyUSB0", serial.DefaultBaudRate)

	client, err := mpi.NewClient(transport,
	    mpi.WithLogger(logger),
	    mpi.WithExchangeTimeout(2*time.Second),
	)
	if err != nil {
	    log.Fatal(err)
	}
	if err := client.Open(ctx); err != nil {
	    log.Fatal(err)
	}
	defer client.Close()

	if err := client.ResetDevice(ctx, mpi.ChannelMPI); err != nil {
	    log.Fatal(err)
	}

Ordering:

Every solicited response gets a sequence id when it is read off the wire.
Ids are shared by both channels and start at zero, so the response to the
n-th command sent is always the n-th solicited response read. A Session
refuses to hand out a response that breaks this order and closes itself
instead, since it can no longer tell which command a response belongs to.

Aborting Transactions:

Client.Transaction gives back part of its permit while it waits, so
Client.Abort can write an ABORT command. The terminal then answers both
commands, in either order. If each side read the other's response they
swap them before returning.

Error Handling:

Errors wrap sentinel values and carry an ErrorType:

	if mpi.IsSessionFatal(err) {
	    // open a new session
	}

	var statusErr *mpi.StatusError
	if errors.As(err, &statusErr) {
	    // the terminal rejected the command
	}

Thread Safety:

Session and Client are safe for concurrent use. A Session makes no attempt
to pair concurrent senders with their receivers; use Client.Exchange for
that.
*/
package mpi
