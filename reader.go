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

	"github.com/ZaparooProject/go-mpi/internal/frame"
	"github.com/rs/zerolog"
)

// StreamReader pulls packets off a byte stream and yields complete
// messages. Packets of different channels may interleave. Any read or
// framing error breaks the reader for good: framing cannot be resynchronized
// once lost, so every later call returns no message without reading.
//
// A StreamReader is not safe for concurrent use.
type StreamReader struct {
	r       io.Reader
	err     error
	pending map[byte][]frame.Packet
	logger  zerolog.Logger
	broken  bool
}

// NewStreamReader creates a reader over r
func NewStreamReader(r io.Reader, logger zerolog.Logger) *StreamReader {
	return &StreamReader{
		r:       r,
		pending: make(map[byte][]frame.Packet),
		logger:  logger.With().Str("component", "reader").Logger(),
	}
}

// Next returns the next complete message, or false once the stream is broken
func (sr *StreamReader) Next() (*ResponseMessage, bool) {
	for !sr.broken {
		pkt, err := frame.ReadPacket(sr.r)
		if err != nil {
			if frame.IsCorrupt(err) {
				sr.fail(fmt.Errorf("%w: %w", ErrFrameCorrupted, err))
			} else {
				sr.fail(fmt.Errorf("%w: %w", ErrTransportRead, err))
			}
			return nil, false
		}

		chain := sr.pending[pkt.NAD]
		if len(chain) > 0 && chain[0].Unsolicited != pkt.Unsolicited {
			sr.fail(fmt.Errorf("%w: channel 0x%02X", ErrChainMismatch, pkt.NAD))
			return nil, false
		}
		if sr.otherChannelPending(pkt.NAD) {
			sr.logger.Debug().
				Uint8("channel", pkt.NAD).
				Msg("packets of different channels interleaved")
		}

		chain = append(chain, pkt)
		if pkt.Chained {
			sr.pending[pkt.NAD] = chain
			continue
		}

		delete(sr.pending, pkt.NAD)
		return newResponseMessage(frame.Reconstruct(chain)), true
	}
	return nil, false
}

// Err returns the error that broke the reader, if any
func (sr *StreamReader) Err() error {
	return sr.err
}

// Broken reports whether the reader has failed closed
func (sr *StreamReader) Broken() bool {
	return sr.broken
}

func (sr *StreamReader) otherChannelPending(nad byte) bool {
	for other, chain := range sr.pending {
		if other != nad && len(chain) > 0 {
			return true
		}
	}
	return false
}

func (sr *StreamReader) fail(err error) {
	sr.broken = true
	sr.err = err
	clear(sr.pending)
	sr.logger.Warn().Err(err).Msg("stream reader broken")
}
