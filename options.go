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
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for configuring a Session or Client
type Option func(*Config) error

// WithLogger sets the structured logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithCallbacks replaces all notification callbacks
func WithCallbacks(callbacks Callbacks) Option {
	return func(c *Config) error {
		c.Callbacks = callbacks
		return nil
	}
}

// WithUnsolicitedHandler sets the handler for device-initiated messages
func WithUnsolicitedHandler(handler UnsolicitedHandler) Option {
	return func(c *Config) error {
		c.Callbacks.OnUnsolicited = handler
		return nil
	}
}

// WithConnectTimeout sets how long Open waits for the transport
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.ConnectTimeout = timeout
		return nil
	}
}

// WithPollerStartTimeout sets how long Open waits for the poller to start
func WithPollerStartTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.PollerStartTimeout = timeout
		return nil
	}
}

// WithPollerJoinTimeout sets how long Close waits for the poller to exit
func WithPollerJoinTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.PollerJoinTimeout = timeout
		return nil
	}
}

// WithQueueCapacity sets the per-channel response queue size
func WithQueueCapacity(capacity int) Option {
	return func(c *Config) error {
		if capacity < 1 {
			return fmt.Errorf("%w: queue capacity %d", ErrInvalidParameter, capacity)
		}
		c.QueueCapacity = capacity
		return nil
	}
}

// WithQueueInsertTimeout sets how long the poller waits on a full queue
func WithQueueInsertTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.QueueInsertTimeout = timeout
		return nil
	}
}

// WithTerminalTimeouts sets the short and fallback waits used to deliver
// the end-of-stream marker to each queue
func WithTerminalTimeouts(short, fallback time.Duration) Option {
	return func(c *Config) error {
		c.TerminalTimeout = short
		c.TerminalFallbackTimeout = fallback
		return nil
	}
}

// WithExchangeTimeout sets the response swap timeout used when an abort
// interleaves with a transaction
func WithExchangeTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.ExchangeTimeout = timeout
		return nil
	}
}

// newConfig applies opts over the defaults and validates the result
func newConfig(opts ...Option) (*Config, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
