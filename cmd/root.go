// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// CAN connection flags
	canInterface string
	canID        int

	// Decoder flags
	protocolName string
	motorCount   int
	poleCount    int
	halfDuplex   bool
	rateHz       int

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "escstat",
	Short: "ESC Telemetry Analyzer",
	Long: `Escstat - A CLI tool for monitoring and analyzing ESC telemetry.

Decodes KISS (10-byte CRC8 frames) and Hobbywing V4 (sentinel-delimited
stream) ESC telemetry and reports per-motor temperature, voltage, current,
consumption and RPM.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  CAN:       --can can0 [--can-id 1]

The baud rate defaults to the protocol's link speed (KISS 115200,
Hobbywing V4 19200). Defaults for every flag can be stored in
~/.escstat.yaml.

For WebSocket authentication, the password is read from the ESCSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only, default from protocol)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// CAN connection flags
	rootCmd.PersistentFlags().StringVar(&canInterface, "can", "", "CAN interface carrying bridged telemetry (Linux only)")
	rootCmd.PersistentFlags().IntVar(&canID, "can-id", 1, "CAN node ID of the telemetry bridge")

	// Decoder flags
	rootCmd.PersistentFlags().StringVarP(&protocolName, "protocol", "P", "kiss", "Telemetry protocol (kiss, hobbywing_v4)")
	rootCmd.PersistentFlags().IntVarP(&motorCount, "motors", "m", 4, "Number of motors")
	rootCmd.PersistentFlags().IntVar(&poleCount, "poles", 14, "Motor pole count")
	rootCmd.PersistentFlags().BoolVar(&halfDuplex, "half-duplex", false, "Telemetry shares a single wire with requests")
	rootCmd.PersistentFlags().IntVar(&rateHz, "rate", 100, "Polling rate (Hz)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.escstat.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
