// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package cmd

import "fmt"

// OpenCANConnection is only available on Linux (SocketCAN)
func OpenCANConnection(iface string, nodeID int) (Connection, error) {
	return nil, fmt.Errorf("CAN interface %s: SocketCAN is only supported on Linux", iface)
}
