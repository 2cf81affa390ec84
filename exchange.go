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
	"fmt"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// exchangeQueueCapacity is the slot count of each exchange direction
const exchangeQueueCapacity = 4

// exchangeSide names the party calling swap
type exchangeSide int

const (
	sideTransaction exchangeSide = iota
	sideAbort
)

// String returns the side name
func (s exchangeSide) String() string {
	if s == sideAbort {
		return "abort"
	}
	return "transaction"
}

// exchanger is a two-party rendezvous between one transaction and one
// abort. Each side that finds it has read the other's response offers it
// and waits, bounded, for the response it should have read. Every abort
// gets a fresh exchanger, so an offer left behind by a timed out swap is
// dropped with it.
type exchanger struct {
	toAbort       lfq.SPSC[*ResponseMessage]
	toTransaction lfq.SPSC[*ResponseMessage]
	timeout       time.Duration
}

func newExchanger(timeout time.Duration) *exchanger {
	x := &exchanger{timeout: timeout}
	x.toAbort.Init(exchangeQueueCapacity)
	x.toTransaction.Init(exchangeQueueCapacity)
	return x
}

// swap hands mine to the other side and returns what the other side
// handed over. It gives up with ErrExchangeTimeout after the exchanger
// timeout, or with ctx's error.
func (x *exchanger) swap(ctx context.Context, side exchangeSide, mine *ResponseMessage) (*ResponseMessage, error) {
	out, in := &x.toAbort, &x.toTransaction
	if side == sideAbort {
		out, in = &x.toTransaction, &x.toAbort
	}

	if err := out.Enqueue(&mine); err != nil {
		return nil, fmt.Errorf("%w: %s offer rejected: %w", ErrExchangeTimeout, side, err)
	}

	deadline := time.Now().Add(x.timeout)
	var bo iox.Backoff
	for {
		theirs, err := in.Dequeue()
		if err == nil {
			return theirs, nil
		}
		if !iox.IsWouldBlock(err) {
			return nil, fmt.Errorf("exchange %s: %w", side, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrOperationAborted, ctxErr)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s side waited %v", ErrExchangeTimeout, side, x.timeout)
		}
		bo.Wait()
	}
}
