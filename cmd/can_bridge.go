// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

// CAN bridge commands, carried in bits 15-8 of the 29-bit extended ID.
// Bits 7-0 hold the bridge node ID.
const (
	canCmdTelemetryData    = 0x40 // bridge -> host, raw ESC bytes
	canCmdTelemetryRequest = 0x41 // host -> bridge, data[0] = motor index
	canCmdTelemetryWrite   = 0x42 // host -> bridge, raw bytes for the ESC link
)

func bridgeID(command uint8, nodeID uint8) uint32 {
	return uint32(command)<<8 | uint32(nodeID)
}

func splitBridgeID(id uint32) (command uint8, nodeID uint8) {
	return uint8((id >> 8) & 0xFF), uint8(id & 0xFF)
}
