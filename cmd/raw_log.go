// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw telemetry log in human-readable format",
	Long: `Continuously decode and display ESC telemetry as it arrives.

Every decoded frame is shown with its timestamp, raw bytes and decoded
values. CRC errors, request timeouts and Hobbywing stream resyncs are shown
as they happen.

Supports serial, WebSocket and CAN connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	events := make(chan escsensor.Event, 256)
	s, err := openSession(escsensor.WithObserver(func(ev escsensor.Event) {
		select {
		case events <- ev:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.telemetry.Config()
	fmt.Printf("Escstat - Raw Telemetry Log\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Protocol: %s, %d motors, %d poles", cfg.Protocol, cfg.MotorCount, cfg.PoleCount)
	if cfg.HalfDuplex {
		fmt.Printf(", half duplex")
	}
	fmt.Printf("\nPress Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	done := s.start(ctx)

	for {
		select {
		case ev := <-events:
			fmt.Print(escsensor.FormatEvent(ev, cfg.PoleCount))

		case <-done:
			fmt.Printf("\n%s\n", escsensor.FormatCounters(cfg.Protocol, s.telemetry.Stats()))
			if err := s.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		}
	}
}
