// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live per-motor telemetry table",
	Long: `Show a live table of every motor's temperature, voltage, current,
consumption and RPM, plus the combined reading across all motors.

Motors whose data has gone stale are marked STALE and show zeroed
electrical values. The event log shows every frame as well as errors.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return runTUIMode(cmd, true)
}
