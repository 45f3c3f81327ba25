// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var replayRealtime bool

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Print snapshots from a capture file",
	Long: `Read a capture written by record and print every snapshot.

With --realtime the capture spacing between snapshots is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Replay at capture speed")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	n, err := replaySnapshots(cmd.OutOrStdout(), escsensor.NewSnapshotReader(f), poleCount, replayRealtime)
	fmt.Fprintf(cmd.OutOrStdout(), "%d snapshots\n", n)
	return err
}

// replaySnapshots prints every snapshot in r and returns how many were read
func replaySnapshots(out io.Writer, r *escsensor.SnapshotReader, poles int, realtime bool) (int, error) {
	var last time.Time
	count := 0
	for {
		snap, err := r.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("snapshot %d: %w", count, err)
		}

		if realtime && !last.IsZero() {
			if gap := snap.Time().Sub(last); gap > 0 {
				time.Sleep(gap)
			}
		}
		last = snap.Time()

		fmt.Fprint(out, escsensor.FormatSnapshot(snap, poles))
		count++
	}
}
