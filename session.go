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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-mpi/internal/frame"
	"github.com/ZaparooProject/go-mpi/internal/transport"
	"github.com/rs/zerolog"
)

// connectPollInterval is how often Open checks IsConnected
const connectPollInterval = 5 * time.Millisecond

// SessionState is the lifecycle state of a Session
type SessionState int32

const (
	// StateNotOpened is the state of a new session
	StateNotOpened SessionState = iota
	// StateOpened means the transport is connected and the poller is running
	StateOpened
	// StateClosed is terminal; a closed session is never reopened
	StateClosed
)

// String returns the state name
func (s SessionState) String() string {
	switch s {
	case StateNotOpened:
		return "not opened"
	case StateOpened:
		return "opened"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Session binds a transport to a ResponsePoller. It numbers commands as
// they are sent and hands responses back strictly in that order. Any
// transport failure or correlation error closes the session.
type Session struct {
	transport Transport
	config    *Config
	poller    *ResponsePoller
	logger    zerolog.Logger

	mu sync.Mutex
	// writeMu serializes id assignment with the write itself
	writeMu sync.Mutex

	disconnectOnce sync.Once
	abandoned      atomic.Bool

	nextCommandID          int64
	nextExpectedResponseID int64
	state                  SessionState
	opening                bool
	connectedFired         bool
	// inOnConnected is set while OnConnected runs; a close in that window
	// leaves OnDisconnected to Open
	inOnConnected      bool
	disconnectDeferred bool
}

// NewSession creates a session over t. The session does not touch the
// transport until Open.
func NewSession(t Transport, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	config, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newSession(t, config), nil
}

func newSession(t Transport, config *Config) *Session {
	return &Session{
		transport: t,
		config:    config,
		logger:    config.Logger.With().Str("component", "session").Logger(),
	}
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PollerAbandoned reports whether Close gave up waiting for the poller
func (s *Session) PollerAbandoned() bool {
	return s.abandoned.Load()
}

// StopReason returns why the poller stopped, or StopReasonNone while it runs
func (s *Session) StopReason() (StopReason, error) {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	if poller == nil {
		return StopReasonNone, nil
	}
	return poller.StopReason()
}

// Open connects the transport and starts the poller. On any failure the
// session is closed; it is never left partially open.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return NewSessionError("open", 0, ErrSessionClosed, ErrorTypeUsage)
	case s.state == StateOpened || s.opening:
		s.mu.Unlock()
		return NewSessionError("open", 0, ErrAlreadyOpened, ErrorTypeUsage)
	}
	s.opening = true
	s.mu.Unlock()

	if err := s.open(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("open failed")
		_ = s.Close()
		return err
	}

	s.logger.Info().Str("transport", string(s.transport.Type())).Msg("session opened")
	if s.config.Callbacks.OnConnected != nil {
		s.config.Callbacks.OnConnected()
	}

	s.mu.Lock()
	s.inOnConnected = false
	deferred := s.disconnectDeferred
	s.mu.Unlock()
	if deferred {
		s.fireDisconnected()
	}
	return nil
}

func (s *Session) open(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return NewSessionError("open", 0, fmt.Errorf("%w: %w", ErrNotConnected, err), ErrorTypeTransport)
	}

	pollConfig := transport.PollConfig{Timeout: s.config.ConnectTimeout, Interval: connectPollInterval}
	if err := transport.WaitUntil(ctx, pollConfig, s.transport.IsConnected); err != nil {
		return NewSessionError("open", 0, fmt.Errorf("%w: %w", ErrConnectTimeout, err), ErrorTypeTimeout)
	}

	poller := NewResponsePoller(s.transport.Reader(), s.config, s.onPollerStopped)
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return NewSessionError("open", 0, ErrSessionClosed, ErrorTypeUsage)
	}
	s.poller = poller
	s.mu.Unlock()

	poller.Start()

	timer := time.NewTimer(s.config.PollerStartTimeout)
	defer timer.Stop()
	select {
	case <-poller.Ready():
	case <-timer.C:
		return NewSessionError("open", 0, ErrPollerStart, ErrorTypeTimeout)
	case <-ctx.Done():
		return NewSessionError("open", 0, fmt.Errorf("%w: %w", ErrPollerStart, ctx.Err()), ErrorTypeTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return NewSessionError("open", 0, ErrSessionClosed, ErrorTypeUsage)
	}
	s.state = StateOpened
	s.opening = false
	s.connectedFired = true
	s.inOnConnected = true
	return nil
}

// Send writes cmd to ch and returns its command id. The first command of a
// session gets id 0. A write failure closes the session.
func (s *Session) Send(ch ChannelID, cmd CommandAPDU) (int64, error) {
	if !ch.Valid() {
		return -1, NewSessionError("send", ch, ErrUnknownChannel, ErrorTypeUsage)
	}
	payload, err := cmd.Bytes()
	if err != nil {
		return -1, NewSessionError("send", ch, err, ErrorTypeUsage)
	}
	raw := frame.Encode(byte(ch), 0, payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.requireOpened(); err != nil {
		return -1, NewSessionError("send", ch, err, ErrorTypeUsage)
	}
	s.mu.Lock()
	id := s.nextCommandID
	s.mu.Unlock()

	if _, err := s.transport.Writer().Write(raw); err != nil {
		s.logger.Warn().Err(err).Stringer("channel", ch).Int64("id", id).Msg("write failed")
		_ = s.Close()
		return -1, NewSessionError("send", ch, fmt.Errorf("%w: %w", ErrTransportWrite, err), ErrorTypeTransport)
	}

	s.mu.Lock()
	s.nextCommandID++
	s.mu.Unlock()

	s.logger.Debug().Stringer("channel", ch).Int64("id", id).Stringer("command", cmd).Msg("command sent")
	return id, nil
}

// Receive blocks until the response to the oldest outstanding command
// arrives on ch. Cancelling ctx closes the session, since the pending
// response can no longer be matched to its command.
func (s *Session) Receive(ctx context.Context, ch ChannelID) (*ResponseMessage, error) {
	return s.receive(ctx, ch, -1)
}

// ReceiveID is Receive with the command id the caller expects. An id other
// than the oldest outstanding one closes the session.
func (s *Session) ReceiveID(ctx context.Context, ch ChannelID, id int64) (*ResponseMessage, error) {
	if id < 0 {
		return nil, NewSessionError("receive", ch, fmt.Errorf("%w: negative id %d", ErrInvalidParameter, id), ErrorTypeUsage)
	}
	return s.receive(ctx, ch, id)
}

// TryReceive returns the oldest outstanding response if it has already
// arrived, or ErrNoResponse without closing the session if it has not.
func (s *Session) TryReceive(ch ChannelID) (*ResponseMessage, error) {
	if !ch.Valid() {
		return nil, NewSessionError("receive", ch, ErrUnknownChannel, ErrorTypeUsage)
	}

	s.mu.Lock()
	expected, err := s.reserveLocked(-1)
	if err != nil {
		s.mu.Unlock()
		return nil, s.failReceive(ch, err)
	}

	var sm SequencedMessage
	select {
	case sm = <-s.poller.Queue(ch):
	default:
		select {
		case <-s.poller.Done():
			sm = SequencedMessage{SequenceID: -1}
		default:
			s.nextExpectedResponseID--
			s.mu.Unlock()
			return nil, NewSessionError("receive", ch, ErrNoResponse, ErrorTypeUsage)
		}
	}
	s.mu.Unlock()

	return s.accept(ch, expected, sm)
}

func (s *Session) receive(ctx context.Context, ch ChannelID, id int64) (*ResponseMessage, error) {
	if !ch.Valid() {
		return nil, NewSessionError("receive", ch, ErrUnknownChannel, ErrorTypeUsage)
	}

	s.mu.Lock()
	expected, err := s.reserveLocked(id)
	poller := s.poller
	s.mu.Unlock()
	if err != nil {
		return nil, s.failReceive(ch, err)
	}

	queue := poller.Queue(ch)
	var sm SequencedMessage
	select {
	case sm = <-queue:
	case <-ctx.Done():
		return nil, s.failReceive(ch, fmt.Errorf("%w: %w", ErrOperationAborted, ctx.Err()))
	case <-poller.Done():
		select {
		case sm = <-queue:
		default:
			sm = SequencedMessage{SequenceID: -1}
		}
	}

	return s.accept(ch, expected, sm)
}

// reserveLocked checks that a response may be received and claims the
// next expected id. Every failure after a claim closes the session, so the
// claim is never handed back except by TryReceive on an empty queue.
func (s *Session) reserveLocked(id int64) (int64, error) {
	switch s.state {
	case StateNotOpened:
		return -1, ErrSessionNotOpen
	case StateClosed:
		return -1, ErrSessionClosed
	}
	if s.nextExpectedResponseID >= s.nextCommandID {
		return -1, fmt.Errorf("%w: %d commands sent, %d responses received",
			ErrNoOutstandingCommand, s.nextCommandID, s.nextExpectedResponseID)
	}
	if id >= 0 && id != s.nextExpectedResponseID {
		return -1, fmt.Errorf("%w: asked for %d, next is %d", ErrUnexpectedID, id, s.nextExpectedResponseID)
	}
	expected := s.nextExpectedResponseID
	s.nextExpectedResponseID++
	return expected, nil
}

func (s *Session) accept(ch ChannelID, expected int64, sm SequencedMessage) (*ResponseMessage, error) {
	if sm.Terminal() {
		return nil, s.failReceive(ch, ErrStreamTerminated)
	}
	if sm.SequenceID != expected {
		return nil, s.failReceive(ch, fmt.Errorf("%w: expected %d, got %d",
			ErrSequenceMismatch, expected, sm.SequenceID))
	}
	s.logger.Debug().Stringer("channel", ch).Int64("id", expected).Stringer("status", sm.Message.Status).
		Msg("response received")
	return sm.Message, nil
}

// failReceive closes the session unless err is a plain state error
func (s *Session) failReceive(ch ChannelID, err error) error {
	errType := GetErrorType(err)
	if errors.Is(err, ErrSessionNotOpen) || errors.Is(err, ErrSessionClosed) {
		return NewSessionError("receive", ch, err, ErrorTypeUsage)
	}
	s.logger.Warn().Err(err).Stringer("channel", ch).Msg("receive failed, closing session")
	_ = s.Close()
	return NewSessionError("receive", ch, err, errType)
}

func (s *Session) requireOpened() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateOpened:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrSessionNotOpen
	}
}

// Close disconnects the transport, stops the poller and waits a bounded
// time for it to exit. It is safe to call from any state and more than once.
func (s *Session) Close() error {
	return s.shutdown(true)
}

func (s *Session) onPollerStopped(reason StopReason, err error) {
	if reason != StopReasonCancelled {
		_ = s.shutdown(false)
	}
	if s.config.Callbacks.OnPollerStopped != nil {
		s.config.Callbacks.OnPollerStopped(reason, err)
	}
}

func (s *Session) shutdown(join bool) error {
	s.mu.Lock()
	poller := s.poller
	if s.state == StateClosed {
		s.mu.Unlock()
		if join {
			s.join(poller)
		}
		return nil
	}
	s.state = StateClosed
	s.opening = false
	fire := s.connectedFired
	if fire && s.inOnConnected {
		s.disconnectDeferred = true
		fire = false
	}
	s.mu.Unlock()

	var err error
	if derr := s.transport.Disconnect(); derr != nil {
		err = NewTransportError("disconnect", string(s.transport.Type()), derr)
	}
	if poller != nil {
		poller.Stop()
		if join {
			s.join(poller)
		}
	}

	s.logger.Info().Msg("session closed")
	if fire {
		s.fireDisconnected()
	}
	return err
}

func (s *Session) fireDisconnected() {
	if s.config.Callbacks.OnDisconnected != nil {
		s.disconnectOnce.Do(s.config.Callbacks.OnDisconnected)
	}
}

func (s *Session) join(poller *ResponsePoller) {
	if poller == nil {
		return
	}
	timer := time.NewTimer(s.config.PollerJoinTimeout)
	defer timer.Stop()
	select {
	case <-poller.Done():
	case <-timer.C:
		s.abandoned.Store(true)
		s.logger.Warn().Dur("timeout", s.config.PollerJoinTimeout).Msg("poller did not stop, abandoning it")
	}
}
