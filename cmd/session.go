// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.viam.com/rdk/logging"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

// newLogger returns the CLI logger, at debug level with --verbose
func newLogger() logging.Logger {
	if verbose {
		return logging.NewDebugLogger("escstat")
	}
	return logging.NewLogger("escstat")
}

// telemetryConfig builds the decoder configuration from flags
func telemetryConfig() (escsensor.Config, error) {
	protocol, err := escsensor.ParseProtocol(protocolName)
	if err != nil {
		return escsensor.Config{}, err
	}
	if protocol == escsensor.ProtocolNone {
		return escsensor.Config{}, fmt.Errorf("--protocol is required (kiss or hobbywing_v4)")
	}

	cfg := escsensor.DefaultConfig()
	cfg.Protocol = protocol
	cfg.MotorCount = motorCount
	cfg.PoleCount = poleCount
	cfg.HalfDuplex = halfDuplex
	cfg.RateHz = rateHz
	// The ESCs are already running when the analyzer attaches
	cfg.BootDelay = 0
	return cfg, cfg.Validate()
}

// session ties one connection to one decoder
type session struct {
	conn      Connection
	connInfo  string
	telemetry *escsensor.Telemetry
	logger    logging.Logger

	errMu sync.Mutex
	err   error
}

// openSession opens the configured connection and builds a decoder on it
func openSession(opts ...escsensor.Option) (*session, error) {
	cfg, err := telemetryConfig()
	if err != nil {
		return nil, err
	}

	conn, connInfo, err := OpenConnection(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	motors := escsensor.FixedMotors{Count: cfg.MotorCount}
	if req, ok := conn.(telemetryRequester); ok {
		motors.OnRequest = func(motor int) {
			if err := req.RequestTelemetry(motor); err != nil {
				logger.Warnw("telemetry request failed", "motor", motor, "error", err)
			}
		}
	}

	telemetry, err := escsensor.New(cfg, motors, logger, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &session{
		conn:      conn,
		connInfo:  connInfo,
		telemetry: telemetry,
		logger:    logger,
	}, nil
}

// start runs the byte pump and the polling loop until ctx is cancelled or
// the connection fails. done is closed when both have stopped.
func (s *session) start(ctx context.Context) (done <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.telemetry.Pump(ctx, s.conn); err != nil && ctx.Err() == nil {
			s.setErr(err)
		}
	}()
	go func() {
		defer wg.Done()
		s.telemetry.Run(ctx)
	}()
	go func() {
		wg.Wait()
		close(finished)
	}()
	go func() {
		// Unblock the pump's read
		<-ctx.Done()
		s.conn.Close()
	}()

	return finished
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error that ended the session, if any. A closed WebSocket
// is a normal end.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if errors.Is(s.err, ErrConnectionClosed) {
		return nil
	}
	return s.err
}

// Close closes the connection
func (s *session) Close() error {
	return s.conn.Close()
}
