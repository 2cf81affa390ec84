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
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StopReason tells why a ResponsePoller exited
type StopReason int

const (
	// StopReasonNone means the poller is still running or never started
	StopReasonNone StopReason = iota
	// StopReasonStreamBroken means the stream reader failed closed
	StopReasonStreamBroken
	// StopReasonCallbackError means the unsolicited handler failed
	StopReasonCallbackError
	// StopReasonQueueTimeout means a response queue stayed full too long
	StopReasonQueueTimeout
	// StopReasonCancelled means the poller was stopped by its owner
	StopReasonCancelled
)

// String returns the stop reason name
func (r StopReason) String() string {
	switch r {
	case StopReasonNone:
		return "none"
	case StopReasonStreamBroken:
		return "stream broken"
	case StopReasonCallbackError:
		return "callback error"
	case StopReasonQueueTimeout:
		return "queue timeout"
	case StopReasonCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// SequencedMessage is a solicited response tagged with its sequence id.
// A nil Message is the terminal marker: nothing more arrives on the channel.
type SequencedMessage struct {
	Message    *ResponseMessage
	SequenceID int64
}

// Terminal reports whether m is the end-of-stream marker
func (m SequencedMessage) Terminal() bool {
	return m.Message == nil
}

// ResponsePoller drives a StreamReader on its own goroutine. Unsolicited
// messages go to the handler, solicited ones into per-channel queues with a
// sequence id shared by all channels.
type ResponsePoller struct {
	stopErr  error
	reader   *StreamReader
	queues   map[ChannelID]chan SequencedMessage
	handler  UnsolicitedHandler
	onStop   func(StopReason, error)
	ready    chan struct{}
	done     chan struct{}
	stop     chan struct{}
	logger   zerolog.Logger
	config   *Config
	mu       sync.Mutex
	start    sync.Once
	stopOnce sync.Once

	reason StopReason
	// lastSolicitedID is only touched by the poller goroutine
	lastSolicitedID int64
}

// NewResponsePoller creates a poller reading from r. onStop, when set, is
// called once on the poller goroutine after Done is closed.
func NewResponsePoller(r io.Reader, config *Config, onStop func(StopReason, error)) *ResponsePoller {
	queues := make(map[ChannelID]chan SequencedMessage, len(Channels()))
	for _, ch := range Channels() {
		queues[ch] = make(chan SequencedMessage, config.QueueCapacity)
	}

	return &ResponsePoller{
		reader:          NewStreamReader(r, config.Logger),
		queues:          queues,
		handler:         config.Callbacks.OnUnsolicited,
		onStop:          onStop,
		ready:           make(chan struct{}),
		done:            make(chan struct{}),
		stop:            make(chan struct{}),
		logger:          config.Logger.With().Str("component", "poller").Logger(),
		config:          config,
		lastSolicitedID: -1,
	}
}

// Start launches the poller goroutine. Later calls do nothing.
func (p *ResponsePoller) Start() {
	p.start.Do(func() {
		go p.run()
	})
}

// Stop asks the poller to exit. The owner must also unblock the underlying
// reader, normally by disconnecting the transport.
func (p *ResponsePoller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// Ready is closed once the poller goroutine is running
func (p *ResponsePoller) Ready() <-chan struct{} {
	return p.ready
}

// Done is closed once the poller goroutine has exited
func (p *ResponsePoller) Done() <-chan struct{} {
	return p.done
}

// Queue returns the response queue of ch, or nil for an unknown channel
func (p *ResponsePoller) Queue(ch ChannelID) <-chan SequencedMessage {
	q, ok := p.queues[ch]
	if !ok {
		return nil
	}
	return q
}

// StopReason returns why the poller exited and the error behind it
func (p *ResponsePoller) StopReason() (StopReason, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason, p.stopErr
}

func (p *ResponsePoller) run() {
	close(p.ready)
	p.logger.Debug().Msg("poller started")

	reason, err := p.loop()
	p.pushTerminal()

	p.mu.Lock()
	p.reason = reason
	p.stopErr = err
	p.mu.Unlock()

	event := p.logger.Warn()
	if reason == StopReasonCancelled {
		event = p.logger.Info()
	}
	event.Err(err).
		Str("reason", reason.String()).
		Int64("last_solicited_id", p.lastSolicitedID).
		Msg("poller stopped")

	// Done is closed before onStop so the observer may join the poller.
	close(p.done)
	if p.onStop != nil {
		p.onStop(reason, err)
	}
}

func (p *ResponsePoller) loop() (StopReason, error) {
	for {
		msg, ok := p.reader.Next()
		if !ok {
			if p.stopping() {
				return StopReasonCancelled, ErrOperationAborted
			}
			return StopReasonStreamBroken, p.reader.Err()
		}

		// A malformed command rejection answers a command we sent, whatever
		// its flag says.
		if msg.Unsolicited && msg.Status != SWMalformedCommand {
			if err := p.deliverUnsolicited(msg); err != nil {
				return StopReasonCallbackError, err
			}
			continue
		}

		p.lastSolicitedID++
		if reason, err := p.insert(SequencedMessage{SequenceID: p.lastSolicitedID, Message: msg}); err != nil {
			return reason, err
		}
	}
}

func (p *ResponsePoller) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *ResponsePoller) deliverUnsolicited(msg *ResponseMessage) (err error) {
	if p.handler == nil {
		p.logger.Debug().Stringer("channel", msg.Channel).Msg("unsolicited message dropped, no handler")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return p.handler(UnsolicitedMessage{
		Message:         msg,
		LastSolicitedID: p.lastSolicitedID,
	})
}

func (p *ResponsePoller) insert(sm SequencedMessage) (StopReason, error) {
	q, ok := p.queues[sm.Message.Channel]
	if !ok {
		return StopReasonStreamBroken, fmt.Errorf("%w: %s", ErrUnknownChannel, sm.Message.Channel)
	}

	timer := time.NewTimer(p.config.QueueInsertTimeout)
	defer timer.Stop()

	select {
	case q <- sm:
		return StopReasonNone, nil
	case <-timer.C:
		return StopReasonQueueTimeout, fmt.Errorf("%w: %s queue full for %v",
			ErrQueueTimeout, sm.Message.Channel, p.config.QueueInsertTimeout)
	case <-p.stop:
		return StopReasonCancelled, ErrOperationAborted
	}
}

// pushTerminal wakes consumers blocked on any queue. A short wait is tried
// first, then a longer one, so a slow consumer still gets the marker.
func (p *ResponsePoller) pushTerminal() {
	marker := SequencedMessage{SequenceID: p.lastSolicitedID}
	for _, ch := range Channels() {
		q := p.queues[ch]
		if offer(q, marker, p.config.TerminalTimeout) {
			continue
		}
		if !offer(q, marker, p.config.TerminalFallbackTimeout) {
			p.logger.Warn().Stringer("channel", ch).Msg("could not queue terminal marker")
		}
	}
}

func offer(q chan SequencedMessage, sm SequencedMessage, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q <- sm:
		return true
	case <-timer.C:
		return false
	}
}
