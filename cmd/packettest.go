// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Wait for a valid telemetry frame on the connection until timeout.

This command connects to a serial port, WebSocket or CAN bridge and waits for
any valid ESC telemetry. For KISS that is a frame passing its CRC check; for
Hobbywing V4 it is a complete sentinel-framed packet.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking ESC wiring and baud rate.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	frames := make(chan escsensor.Event, 1)
	s, err := openSession(escsensor.WithObserver(func(ev escsensor.Event) {
		if ev.Kind != escsensor.EventFrame {
			return
		}
		select {
		case frames <- ev:
		default:
		}
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Escstat - Packet Test\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Protocol: %s\n", s.telemetry.Protocol())
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid telemetry...\n\n")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	done := s.start(ctx)

	// Wait for frame or timeout
	select {
	case ev := <-frames:
		stats := s.telemetry.Stats()
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Motor: %d\n", ev.Motor)
		fmt.Printf("  Raw: %s\n", escsensor.FormatHex(ev.Raw))
		fmt.Print(escsensor.FormatReading(ev.Reading, poleCount))
		fmt.Printf("  Counters: %s\n", escsensor.FormatCounters(ev.Protocol, stats))
		os.Exit(0)

	case <-done:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", s.Err())
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		fmt.Fprintf(os.Stderr, "  %s\n", escsensor.FormatCounters(s.telemetry.Protocol(), s.telemetry.Stats()))
		os.Exit(1)
	}

	return nil
}
