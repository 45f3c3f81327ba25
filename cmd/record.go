// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var (
	recordOutput   string
	recordInterval int
	recordDuration int
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture decoded telemetry snapshots to a file",
	Long: `Decode ESC telemetry and append a snapshot of every motor to a CBOR
file at a fixed interval. Captures can be inspected later with replay.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "escstat.cbor", "Capture file")
	recordCmd.Flags().IntVar(&recordInterval, "interval", 100, "Snapshot interval (milliseconds)")
	recordCmd.Flags().IntVar(&recordDuration, "duration", 0, "Capture duration in seconds (0 = until Ctrl+C)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordInterval <= 0 {
		return fmt.Errorf("invalid --interval: %d", recordInterval)
	}

	f, err := os.Create(recordOutput)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	defer f.Close()
	buf := bufio.NewWriter(f)
	defer buf.Flush()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(recordDuration)*time.Second)
		defer cancel()
	}
	done := s.start(ctx)

	fmt.Printf("Escstat - Recording\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Output: %s\n", recordOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	count, err := recordSnapshots(ctx, s.telemetry, escsensor.NewSnapshotWriter(buf), time.Duration(recordInterval)*time.Millisecond, done)
	fmt.Printf("Recorded %d snapshots\n", count)
	if err != nil {
		return err
	}
	return s.Err()
}

// recordSnapshots writes one snapshot per interval until ctx is cancelled or
// done is closed
func recordSnapshots(ctx context.Context, t *escsensor.Telemetry, w *escsensor.SnapshotWriter, interval time.Duration, done <-chan struct{}) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, nil
		case <-done:
			return count, nil
		case now := <-ticker.C:
			if err := w.Write(t.Snapshot(now)); err != nil {
				return count, err
			}
			count++
		}
	}
}
