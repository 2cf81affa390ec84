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

// Command mpictl sends a single command to a payment terminal and prints
// the response, optionally listening for unsolicited messages afterwards.
//
// Usage:
//
//	mpictl [flags] reset | abort | <hex apdu>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mpi "github.com/ZaparooProject/go-mpi"
	"github.com/ZaparooProject/go-mpi/events"
	"github.com/ZaparooProject/go-mpi/transport/serial"
	"github.com/rs/zerolog"
)

func main() {
	if run() != 0 {
		os.Exit(1)
	}
}

func run() int {
	configPath := flag.String("config", "", "TOML config file")
	serialFlag := flag.String("serial", "", "Serial port of the terminal")
	baudFlag := flag.Int("baud", serial.DefaultBaudRate, "Serial baud rate")
	tcpFlag := flag.String("tcp", "", "TCP address of the terminal (host:port)")
	channelFlag := flag.String("channel", "mpi", "Channel to address: mpi or rpi")
	timeoutFlag := flag.Duration("timeout", mpi.DefaultExchangeTimeout, "Timeout for reset, abort and non-transaction commands")
	responseTimeoutFlag := flag.Duration("response-timeout", 0, "Timeout for transactions (0 waits until interrupted)")
	listenFlag := flag.Duration("listen", 0, "Keep listening for unsolicited messages for this long")
	verboseFlag := flag.Bool("verbose", false, "Enable debug logging")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")

	flag.Parse()

	output := NewOutput(*verboseFlag)

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			output.Error("%v", err)
			return 1
		}
		output.Ports(ports)
		return 0
	}

	config := DefaultConfig()
	if *configPath != "" {
		if err := loadFileConfig(*configPath, config); err != nil {
			output.Error("%v", err)
			return 1
		}
	}

	// Flags given on the command line override the file.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "serial":
			config.SerialPort = *serialFlag
		case "baud":
			config.BaudRate = *baudFlag
		case "tcp":
			config.TCPAddress = *tcpFlag
		case "channel":
			ch, err := mpi.ParseChannel(*channelFlag)
			if err != nil {
				flagErr = err
			}
			config.Channel = ch
		case "timeout":
			config.ExchangeTimeout = *timeoutFlag
		case "response-timeout":
			config.ResponseTimeout = *responseTimeoutFlag
		case "listen":
			config.Listen = *listenFlag
		case "verbose":
			config.Verbose = *verboseFlag
		}
	})
	if flagErr != nil {
		output.Error("%v", flagErr)
		return 1
	}
	output.verbose = config.Verbose

	if flag.NArg() != 1 {
		output.Error("expected one command: reset, abort or a hex APDU")
		flag.Usage()
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			_, _ = fmt.Print("\nShutting down gracefully...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := execute(ctx, config, output, flag.Arg(0)); err != nil {
		output.Error("%v", err)
		return 1
	}
	return 0
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(writer).Level(level).With().Timestamp().Str("app", "mpictl").Logger()
}

func execute(ctx context.Context, config *Config, output *Output, command string) error {
	transport, err := config.NewTransport()
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher(events.DefaultBufferSize)
	monitor := events.NewMonitor(dispatcher)
	monitor.OnMessage = func(msg mpi.UnsolicitedMessage) error {
		output.Unsolicited(msg)
		return nil
	}

	logger := newLogger(config.Verbose)
	client, err := mpi.NewClient(transport,
		mpi.WithLogger(logger),
		mpi.WithExchangeTimeout(config.ExchangeTimeout),
		mpi.WithCallbacks(mpi.Callbacks{
			OnUnsolicited: dispatcher.Handle,
			OnPollerStopped: func(reason mpi.StopReason, err error) {
				if reason != mpi.StopReasonCancelled {
					logger.Warn().Err(err).Stringer("reason", reason).Msg("terminal link lost")
				}
			},
		}),
	)
	if err != nil {
		return err
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan error, 1)
	go func() { monitorDone <- monitor.Run(monitorCtx) }()
	defer func() {
		stopMonitor()
		<-monitorDone
	}()

	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer func() { _ = client.Close() }()
	output.Info("connected over %s", transport.Type())

	switch command {
	case "reset":
		opCtx, cancel := config.operationContext(ctx, false)
		defer cancel()
		err = client.ResetDevice(opCtx, config.Channel)
		var statusErr *mpi.StatusError
		if errors.As(err, &statusErr) {
			output.Response(&mpi.ResponseMessage{Channel: statusErr.Channel, Status: statusErr.Status})
			return nil
		}
		if err != nil {
			return err
		}
		output.Response(&mpi.ResponseMessage{Channel: config.Channel, Status: mpi.SWSuccess})
	case "abort":
		opCtx, cancel := config.operationContext(ctx, false)
		defer cancel()
		ok, err := client.Abort(opCtx, config.Channel)
		if err != nil {
			return err
		}
		output.Abort(ok)
	default:
		cmd, err := parseAPDU(command)
		if err != nil {
			return err
		}
		transaction := mpi.IsTransactionCommand(cmd)
		opCtx, cancel := config.operationContext(ctx, transaction)
		defer cancel()
		var resp *mpi.ResponseMessage
		if transaction {
			resp, err = client.Transaction(opCtx, config.Channel, cmd)
		} else {
			resp, err = client.Exchange(opCtx, config.Channel, cmd)
		}
		if err != nil {
			return err
		}
		output.Response(resp)
	}

	if config.Listen > 0 {
		output.Info("listening for %v", config.Listen)
		select {
		case <-time.After(config.Listen):
		case <-ctx.Done():
		}
	}

	metrics := dispatcher.GetMetrics()
	if metrics.Dropped > 0 {
		logger.Warn().Int64("dropped", metrics.Dropped).Msg("unsolicited messages dropped")
	}
	return nil
}
