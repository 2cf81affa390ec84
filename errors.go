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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-mpi/internal/frame"
)

// Framing errors. These are fatal to the stream reader.
var (
	ErrFrameCorrupted   = errors.New("frame corrupted")
	ErrChecksumMismatch = frame.ErrChecksumMismatch
	ErrUnknownChannel   = frame.ErrUnknownNAD
	ErrChainMismatch    = errors.New("solicited and unsolicited packets mixed in one chain")
)

// Transport errors. These always close the session.
var (
	ErrTransportRead   = errors.New("transport read failed")
	ErrTransportWrite  = errors.New("transport write failed")
	ErrNotConnected    = errors.New("transport not connected")
	ErrTransportClosed = errors.New("transport closed")
)

// Protocol desync errors. These always close the session.
var (
	ErrNoOutstandingCommand = errors.New("receive without an outstanding command")
	ErrUnexpectedID         = errors.New("receive for an out-of-order command id")
	ErrSequenceMismatch     = errors.New("response sequence id does not match expected command")
	ErrStreamTerminated     = errors.New("response stream terminated")
)

// Concurrency timeouts
var (
	ErrQueueTimeout     = errors.New("response queue insert timed out")
	ErrExchangeTimeout  = errors.New("response exchange with concurrent abort timed out")
	ErrPollerStart      = errors.New("response poller did not start")
	ErrConnectTimeout   = errors.New("transport did not report connected")
	ErrOperationAborted = errors.New("operation interrupted")
)

// ErrHandlerPanic wraps a panic recovered from the unsolicited handler
var ErrHandlerPanic = errors.New("unsolicited handler panicked")

// Usage and state errors
var (
	ErrSessionNotOpen   = errors.New("session not open")
	ErrSessionClosed    = errors.New("session closed")
	ErrAlreadyOpened    = errors.New("session already opened")
	ErrCommandTooLarge  = errors.New("command too large for one packet")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNoResponse       = errors.New("no response available")
)

// ErrorType classifies failures by how the session reacts to them
type ErrorType int

const (
	// ErrorTypeUsage is a caller mistake that leaves the session intact
	ErrorTypeUsage ErrorType = iota
	// ErrorTypeFraming is a malformed or inconsistent packet stream
	ErrorTypeFraming
	// ErrorTypeTransport is an I/O failure or disconnect
	ErrorTypeTransport
	// ErrorTypeDesync is a broken command/response correlation
	ErrorTypeDesync
	// ErrorTypeTimeout is a bounded wait that expired or was cancelled
	ErrorTypeTimeout
)

// String returns the error type name
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeUsage:
		return "usage"
	case ErrorTypeFraming:
		return "framing"
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeDesync:
		return "desync"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// SessionError is returned by session and client operations
type SessionError struct {
	Err     error
	Op      string
	Type    ErrorType
	Channel ChannelID
}

// NewSessionError creates a new session error
func NewSessionError(op string, ch ChannelID, err error, errType ErrorType) *SessionError {
	return &SessionError{
		Op:      op,
		Channel: ch,
		Err:     err,
		Type:    errType,
	}
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e.Channel.Valid() {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Channel, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *SessionError) Unwrap() error {
	return e.Err
}

// TransportError describes a failure inside a transport implementation
type TransportError struct {
	Err  error
	Op   string
	Port string
}

// NewTransportError creates a new transport error
func NewTransportError(op, port string, err error) *TransportError {
	return &TransportError{
		Op:   op,
		Port: port,
		Err:  err,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a response whose status word is not 0x9000
type StatusError struct {
	Status  StatusWord
	Channel ChannelID
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s command rejected: %s", e.Channel, e.Status)
}

// GetErrorType returns the ErrorType carried by err, or derives one from
// well-known sentinels
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypeUsage
	}

	var se *SessionError
	if errors.As(err, &se) {
		return se.Type
	}

	var te *TransportError
	if errors.As(err, &te) {
		return ErrorTypeTransport
	}

	switch {
	case errors.Is(err, ErrFrameCorrupted), errors.Is(err, ErrChainMismatch), frame.IsCorrupt(err):
		return ErrorTypeFraming
	case errors.Is(err, ErrTransportRead), errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrNotConnected), errors.Is(err, ErrTransportClosed):
		return ErrorTypeTransport
	case errors.Is(err, ErrNoOutstandingCommand), errors.Is(err, ErrUnexpectedID),
		errors.Is(err, ErrSequenceMismatch), errors.Is(err, ErrStreamTerminated):
		return ErrorTypeDesync
	case errors.Is(err, ErrQueueTimeout), errors.Is(err, ErrExchangeTimeout),
		errors.Is(err, ErrPollerStart), errors.Is(err, ErrConnectTimeout),
		errors.Is(err, ErrOperationAborted):
		return ErrorTypeTimeout
	default:
		return ErrorTypeUsage
	}
}

// IsSessionFatal reports whether err means the session has been closed and
// a new one is needed. Exchange timeouts and usage errors leave the session open.
func IsSessionFatal(err error) bool {
	if err == nil || errors.Is(err, ErrExchangeTimeout) {
		return false
	}
	switch GetErrorType(err) {
	case ErrorTypeFraming, ErrorTypeTransport, ErrorTypeDesync, ErrorTypeTimeout:
		return true
	default:
		return errors.Is(err, ErrSessionClosed)
	}
}
