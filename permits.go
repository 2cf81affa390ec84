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
	"sync"
)

// permitCount is the size of the client permit pool. A normal operation
// holds all of them; a transaction gives some back while it waits so an
// abort can interleave.
const permitCount = 3

// permitPool is a counting pool where an acquire takes all it asks for at
// once or nothing. Waiters are not queued: whoever finds enough permits
// first gets them, and Drain takes whatever is free without blocking.
type permitPool struct {
	notify    chan struct{}
	mu        sync.Mutex
	available int
	capacity  int
}

func newPermitPool(capacity int) *permitPool {
	return &permitPool{
		notify:    make(chan struct{}),
		available: capacity,
		capacity:  capacity,
	}
}

// Acquire blocks until n permits are free or ctx ends
func (p *permitPool) Acquire(ctx context.Context, n int) error {
	for {
		p.mu.Lock()
		if p.available >= n {
			p.available -= n
			p.mu.Unlock()
			return nil
		}
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire takes n permits if they are free right now
func (p *permitPool) TryAcquire(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available < n {
		return false
	}
	p.available -= n
	return true
}

// Drain takes every free permit and returns how many it took
func (p *permitPool) Drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.available
	p.available = 0
	return n
}

// Release returns n permits and wakes every waiter
func (p *permitPool) Release(n int) {
	if n == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available+n > p.capacity {
		panic("mpi: permit pool released more permits than it holds")
	}
	p.available += n
	close(p.notify)
	p.notify = make(chan struct{})
}

// Available returns the number of free permits
func (p *permitPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}
