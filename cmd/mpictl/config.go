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

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	mpi "github.com/ZaparooProject/go-mpi"
	"github.com/ZaparooProject/go-mpi/transport/serial"
	"github.com/ZaparooProject/go-mpi/transport/tcp"
)

var errNoTransport = errors.New("no transport configured: set a serial port or a tcp address")

// Config holds the resolved command line settings
type Config struct {
	SerialPort      string
	TCPAddress      string
	DialTimeout     time.Duration
	ExchangeTimeout time.Duration
	// ResponseTimeout bounds a transaction, which may wait on the
	// cardholder. Zero means no deadline.
	ResponseTimeout time.Duration
	Listen          time.Duration
	BaudRate        int
	Channel         mpi.ChannelID
	Verbose         bool
}

// DefaultConfig returns the settings used when neither a file nor a flag
// sets a value
func DefaultConfig() *Config {
	return &Config{
		BaudRate:        serial.DefaultBaudRate,
		DialTimeout:     tcp.DefaultDialTimeout,
		ExchangeTimeout: mpi.DefaultExchangeTimeout,
		Channel:         mpi.ChannelMPI,
	}
}

type fileConfig struct {
	Serial          string `toml:"serial"`
	Baud            int    `toml:"baud"`
	TCP             string `toml:"tcp"`
	DialTimeout     string `toml:"dial_timeout"`
	ExchangeTimeout string `toml:"exchange_timeout"`
	ResponseTimeout string `toml:"response_timeout"`
	Channel         string `toml:"channel"`
	Listen          string `toml:"listen"`
	Verbose         bool   `toml:"verbose"`
}

// loadFileConfig overlays the keys present in the TOML file at path onto cfg
func loadFileConfig(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load mpictl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load mpictl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("serial") {
		cfg.SerialPort = strings.TrimSpace(raw.Serial)
	}
	if meta.IsDefined("baud") {
		if raw.Baud <= 0 {
			return fmt.Errorf("parse baud: must be positive, got %d", raw.Baud)
		}
		cfg.BaudRate = raw.Baud
	}
	if meta.IsDefined("tcp") {
		cfg.TCPAddress = strings.TrimSpace(raw.TCP)
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("exchange_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ExchangeTimeout))
		if err != nil {
			return fmt.Errorf("parse exchange_timeout: %w", err)
		}
		cfg.ExchangeTimeout = d
	}
	if meta.IsDefined("response_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ResponseTimeout))
		if err != nil {
			return fmt.Errorf("parse response_timeout: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("parse response_timeout: must not be negative, got %v", d)
		}
		cfg.ResponseTimeout = d
	}
	if meta.IsDefined("channel") {
		ch, err := mpi.ParseChannel(strings.TrimSpace(raw.Channel))
		if err != nil {
			return fmt.Errorf("parse channel: %w", err)
		}
		cfg.Channel = ch
	}
	if meta.IsDefined("listen") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Listen))
		if err != nil {
			return fmt.Errorf("parse listen: %w", err)
		}
		cfg.Listen = d
	}
	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}
	return nil
}

// NewTransport builds the transport selected by cfg. A TCP address wins
// over a serial port when both are set.
func (c *Config) NewTransport() (mpi.Transport, error) {
	switch {
	case c.TCPAddress != "":
		return tcp.New(c.TCPAddress, c.DialTimeout), nil
	case c.SerialPort != "":
		return serial.New(c.SerialPort, c.BaudRate), nil
	default:
		return nil, errNoTransport
	}
}

// operationContext returns the context for one command. Transactions use
// ResponseTimeout, everything else ExchangeTimeout.
func (c *Config) operationContext(ctx context.Context, transaction bool) (context.Context, context.CancelFunc) {
	if !transaction {
		return context.WithTimeout(ctx, c.ExchangeTimeout)
	}
	if c.ResponseTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.ResponseTimeout)
}

// parseAPDU decodes a hex command APDU of the form CLA INS P1 P2 [Lc DATA] [Le]
func parseAPDU(s string) (mpi.CommandAPDU, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if err != nil {
		return mpi.CommandAPDU{}, fmt.Errorf("decode apdu: %w", err)
	}
	if len(raw) < 4 {
		return mpi.CommandAPDU{}, fmt.Errorf("apdu too short: %d bytes", len(raw))
	}

	cmd := mpi.NewCommandAPDU(raw[0], raw[1], raw[2], raw[3], nil)
	rest := raw[4:]
	switch {
	case len(rest) == 0:
		return cmd, nil
	case len(rest) == 1:
		return cmd.WithLe(rest[0]), nil
	}

	lc := int(rest[0])
	body := rest[1:]
	switch {
	case len(body) == lc:
		cmd.Data = body
	case len(body) == lc+1:
		cmd.Data = body[:lc]
		cmd = cmd.WithLe(body[lc])
	default:
		return mpi.CommandAPDU{}, fmt.Errorf("apdu Lc=%d does not match %d data bytes", lc, len(body))
	}
	return cmd, nil
}
