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

// Package transport provides internal transport utilities
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a bounded wait runs out of time
var ErrTimeout = errors.New("wait timed out")

// PollOperation is one attempt of a polling wait
// Returns: data, shouldRetry, error
// - data: the result if successful
// - shouldRetry: true if the condition is not met yet
// - error: any permanent error that should stop polling
type PollOperation[T any] func() (T, bool, error)

// PollConfig configures a polling wait
type PollConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// TimeoutRetry polls operation until it reports done, returns an error, the
// timeout elapses or ctx ends. Common pattern for waiting on a transport to
// report connected.
func TimeoutRetry[T any](ctx context.Context, config PollConfig, operation PollOperation[T]) (T, error) {
	var zero T

	interval := config.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}

	timer := time.NewTimer(config.Timeout)
	defer timer.Stop()

	for {
		result, shouldRetry, err := operation()
		if err != nil {
			return zero, err
		}
		if !shouldRetry {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
			return zero, ErrTimeout
		case <-time.After(interval):
		}
	}
}

// WaitUntil is TimeoutRetry for conditions without a result
func WaitUntil(ctx context.Context, config PollConfig, cond func() bool) error {
	_, err := TimeoutRetry(ctx, config, func() (struct{}, bool, error) {
		return struct{}{}, !cond(), nil
	})
	return err
}
