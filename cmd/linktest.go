// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw link stability",
	Long: `Open the configured link without decoding anything.

Connects over serial, WebSocket or CAN and logs every chunk of bytes that
arrives until the duration elapses or the link fails. Useful for checking
wiring and baud rate before looking at decoder output.

Exit codes:
  0 - Link stayed up
  1 - Link failed during the test
  2 - Connection error`,
	RunE: runLinkTest,
}

var linkTestDuration int

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	protocol, err := escsensor.ParseProtocol(protocolName)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(protocol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	start := time.Now()
	deadline := time.NewTimer(time.Duration(linkTestDuration) * time.Second)
	defer deadline.Stop()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	chunks := 0
	received := 0
	sentinels := 0

	fmt.Printf("Listening for data...\n\n")

	for {
		select {
		case data := <-readChan:
			chunks++
			received += len(data)
			for _, b := range data {
				if b == escsensor.HobbywingSentinel {
					sentinels++
				}
			}
			fmt.Printf("[%s] Received %d bytes: %s\n",
				time.Now().Format("15:04:05.000"), len(data), escsensor.FormatHex(data))

		case err := <-errChan:
			fmt.Printf("\n[%s] Link error: %v\n", time.Now().Format("15:04:05.000"), err)
			printLinkResults(time.Since(start), chunks, received, sentinels, protocol)
			fmt.Printf("Result: FAILED (link error)\n")
			os.Exit(1)

		case <-heartbeat.C:
			fmt.Printf("[%s] Still connected... (%.0fs elapsed)\n",
				time.Now().Format("15:04:05.000"), time.Since(start).Seconds())

		case <-deadline.C:
			printLinkResults(time.Since(start), chunks, received, sentinels, protocol)
			fmt.Printf("Result: PASSED (link stable)\n")
			return nil
		}
	}
}

func printLinkResults(elapsed time.Duration, chunks, received, sentinels int, protocol escsensor.Protocol) {
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Chunks received: %d\n", chunks)
	fmt.Printf("Bytes received: %d\n", received)
	if protocol == escsensor.ProtocolHobbywingV4 {
		fmt.Printf("Sentinel bytes: %d\n", sentinels)
	}
}
