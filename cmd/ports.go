// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("enumerate ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\tUSB %s:%s", p.Name, p.VID, p.PID)
			if p.Product != "" {
				fmt.Printf(" %s", p.Product)
			}
			if p.SerialNumber != "" {
				fmt.Printf(" (serial %s)", p.SerialNumber)
			}
			fmt.Println()
			continue
		}
		fmt.Println(p.Name)
	}
	return nil
}
