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
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// responseClass is the guess of which command a response answers
type responseClass int

const (
	classTransaction responseClass = iota
	classAbort
)

// classify guesses whether r acknowledges an ABORT. The protocol carries
// no correlation id, so an empty success is taken to be the abort
// acknowledgement and anything else the transaction result. A transaction
// that itself completes with an empty success is misclassified.
func classify(r *ResponseMessage) responseClass {
	if r.Success() && len(r.Body) == 0 {
		return classAbort
	}
	return classTransaction
}

// Client is a Session that lets one goroutine abort a long running
// transaction issued by another. All operations share a pool of three
// permits: ordinary operations take all of them, a transaction hands one
// back after sending so an ABORT can be written while it waits, and the
// two sides swap responses if each read the other's.
type Client struct {
	session  *Session
	permits  *permitPool
	config   *Config
	exchange *exchanger
	logger   zerolog.Logger

	// exchangeMu guards exchange
	exchangeMu    sync.Mutex
	abortInFlight atomic.Bool
}

// NewClient creates a client over t
func NewClient(t Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	config, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		session: newSession(t, config),
		permits: newPermitPool(permitCount),
		config:  config,
		logger:  config.Logger.With().Str("component", "client").Logger(),
	}, nil
}

// Session returns the underlying session. Calling its Send or Receive
// directly bypasses abort handling.
func (c *Client) Session() *Session {
	return c.session
}

// Open opens the underlying session
func (c *Client) Open(ctx context.Context) error {
	return c.session.Open(ctx)
}

// Close closes the underlying session. Blocked operations fail.
func (c *Client) Close() error {
	return c.session.Close()
}

// State returns the session state
func (c *Client) State() SessionState {
	return c.session.State()
}

// Send writes cmd and returns its command id
func (c *Client) Send(ctx context.Context, ch ChannelID, cmd CommandAPDU) (int64, error) {
	if err := c.acquireAll(ctx, "send", ch); err != nil {
		return -1, err
	}
	defer c.permits.Release(permitCount)
	return c.session.Send(ch, cmd)
}

// Receive returns the response to the oldest outstanding command on ch
func (c *Client) Receive(ctx context.Context, ch ChannelID) (*ResponseMessage, error) {
	if err := c.acquireAll(ctx, "receive", ch); err != nil {
		return nil, err
	}
	defer c.permits.Release(permitCount)
	return c.session.Receive(ctx, ch)
}

// ReceiveID returns the response to command id, which must be the oldest
// outstanding one
func (c *Client) ReceiveID(ctx context.Context, ch ChannelID, id int64) (*ResponseMessage, error) {
	if err := c.acquireAll(ctx, "receive", ch); err != nil {
		return nil, err
	}
	defer c.permits.Release(permitCount)
	return c.session.ReceiveID(ctx, ch, id)
}

// Exchange sends cmd and waits for its response
func (c *Client) Exchange(ctx context.Context, ch ChannelID, cmd CommandAPDU) (*ResponseMessage, error) {
	if err := c.acquireAll(ctx, "exchange", ch); err != nil {
		return nil, err
	}
	defer c.permits.Release(permitCount)
	return c.exchangeLocked(ctx, ch, cmd)
}

// ResetDevice resets the terminal application on ch. A rejection is
// returned as a *StatusError carrying the device status word.
func (c *Client) ResetDevice(ctx context.Context, ch ChannelID) error {
	resp, err := c.Exchange(ctx, ch, ResetDeviceCommand())
	if err != nil {
		return err
	}
	return resp.Err()
}

func (c *Client) exchangeLocked(ctx context.Context, ch ChannelID, cmd CommandAPDU) (*ResponseMessage, error) {
	id, err := c.session.Send(ch, cmd)
	if err != nil {
		return nil, err
	}
	return c.session.ReceiveID(ctx, ch, id)
}

func (c *Client) acquireAll(ctx context.Context, op string, ch ChannelID) error {
	if err := c.permits.Acquire(ctx, permitCount); err != nil {
		return NewSessionError(op, ch, fmt.Errorf("%w: %w", ErrOperationAborted, err), ErrorTypeUsage)
	}
	return nil
}

// Transaction sends a command that may block the terminal for a long time
// and waits for its result. While it waits, Abort may be called from
// another goroutine; the transaction then usually completes with a
// cancelled status.
func (c *Client) Transaction(ctx context.Context, ch ChannelID, cmd CommandAPDU) (*ResponseMessage, error) {
	if err := c.acquireAll(ctx, "transaction", ch); err != nil {
		return nil, err
	}
	held := permitCount
	defer func() {
		c.permits.Release(held)
	}()

	id, err := c.session.Send(ch, cmd)
	if err != nil {
		return nil, err
	}

	// Let an abort write while this side waits.
	c.permits.Release(1)
	held--

	resp, err := c.session.ReceiveID(ctx, ch, id)
	if c.permits.TryAcquire(1) {
		held++
		return resp, err
	}

	// An abort holds the permit and has written ABORT. Hand it the
	// receive permit.
	c.permits.Release(1)
	held--

	if err == nil && classify(resp) == classAbort {
		c.logger.Debug().Stringer("channel", ch).Msg("transaction read the abort acknowledgement, swapping")
		if x := c.currentExchanger(); x != nil {
			resp, err = x.swap(ctx, sideTransaction, resp)
			if err != nil {
				c.logger.Warn().Err(err).Msg("response exchange failed")
				err = NewSessionError("transaction", ch, err, GetErrorType(err))
			}
		}
	}

	// Return the last permit and wait for the abort to finish with the pool.
	c.permits.Release(held)
	held = 0
	if acqErr := c.permits.Acquire(ctx, permitCount); acqErr != nil {
		c.logger.Debug().Err(acqErr).Msg("gave up waiting for abort to finish")
		return resp, err
	}
	held = permitCount
	return resp, err
}

// Abort sends ABORT on ch and reports whether the terminal acknowledged it.
// If another Abort is already running it returns true at once and writes
// nothing.
func (c *Client) Abort(ctx context.Context, ch ChannelID) (bool, error) {
	if !c.abortInFlight.CompareAndSwap(false, true) {
		c.logger.Debug().Stringer("channel", ch).Msg("abort already in flight, coalescing")
		return true, nil
	}
	defer c.abortInFlight.Store(false)

	x := newExchanger(c.config.ExchangeTimeout)
	c.setExchanger(x)
	defer c.setExchanger(nil)

	held := c.permits.Drain()
	defer func() {
		c.permits.Release(held)
	}()

	switch held {
	case permitCount:
		resp, err := c.exchangeLocked(ctx, ch, AbortCommand())
		if err != nil {
			return false, err
		}
		return resp.Success(), nil
	case 0:
		if err := c.permits.Acquire(ctx, 1); err != nil {
			return false, NewSessionError("abort", ch, fmt.Errorf("%w: %w", ErrOperationAborted, err), ErrorTypeUsage)
		}
		held = 1
	case 1:
	default:
		c.logger.Error().Int("permits", held).Msg("abort drained an impossible permit count")
		panic(fmt.Sprintf("mpi: abort drained %d permits", held))
	}

	resp, err := c.abortInterleaved(ctx, ch, x, &held)

	// Wait for the transaction to hand back everything before releasing, so
	// the next abort never drains a partial pool. The transaction side
	// returns its permits within the exchange timeout.
	if acqErr := c.permits.Acquire(context.WithoutCancel(ctx), permitCount-held); acqErr == nil {
		held = permitCount
	}
	if err != nil {
		return false, err
	}
	return resp.Success(), nil
}

// abortInterleaved runs ABORT while holding one permit. The second permit
// arrives once the interrupted transaction has read a response.
func (c *Client) abortInterleaved(ctx context.Context, ch ChannelID, x *exchanger, held *int) (*ResponseMessage, error) {
	id, err := c.session.Send(ch, AbortCommand())
	if err != nil {
		return nil, err
	}

	if acqErr := c.permits.Acquire(ctx, 1); acqErr != nil {
		// ABORT is on the wire and its response will never be read.
		_ = c.session.Close()
		return nil, NewSessionError("abort", ch, fmt.Errorf("%w: %w", ErrOperationAborted, acqErr), ErrorTypeTimeout)
	}
	*held++

	resp, err := c.session.ReceiveID(ctx, ch, id)
	if err != nil {
		return nil, err
	}

	if classify(resp) == classTransaction {
		c.logger.Debug().Stringer("channel", ch).Msg("abort read the transaction result, swapping")
		resp, err = x.swap(ctx, sideAbort, resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("response exchange failed")
			return nil, NewSessionError("abort", ch, err, GetErrorType(err))
		}
	}
	return resp, nil
}

func (c *Client) setExchanger(x *exchanger) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	c.exchange = x
}

func (c *Client) currentExchanger() *exchanger {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.exchange
}
