// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package cmd

import (
	"fmt"

	"github.com/go-daq/canbus"
)

// CANConnection reads telemetry bytes forwarded by a CAN bridge node. The
// bridge copies the ESC serial stream into extended frames of up to 8 bytes.
type CANConnection struct {
	socket *canbus.Socket
	nodeID uint8

	buf       []byte
	bufOffset int
}

// OpenCANConnection binds a CAN socket to iface
func OpenCANConnection(iface string, nodeID int) (Connection, error) {
	if nodeID < 0 || nodeID > 0xFF {
		return nil, fmt.Errorf("invalid CAN node ID: %d", nodeID)
	}

	socket, err := canbus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	if err := socket.Bind(iface); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to CAN interface %s: %w", iface, err)
	}

	return &CANConnection{socket: socket, nodeID: uint8(nodeID)}, nil
}

func (c *CANConnection) Read(p []byte) (int, error) {
	if c.bufOffset < len(c.buf) {
		n := copy(p, c.buf[c.bufOffset:])
		c.bufOffset += n
		return n, nil
	}

	for {
		frame, err := c.socket.Recv()
		if err != nil {
			return 0, err
		}
		if frame.Kind != canbus.EFF {
			continue
		}

		command, sender := splitBridgeID(frame.ID)
		if sender != c.nodeID || command != canCmdTelemetryData {
			continue
		}

		c.buf = frame.Data
		c.bufOffset = copy(p, c.buf)
		return c.bufOffset, nil
	}
}

// Write forwards p to the bridge's serial port, 8 bytes per frame
func (c *CANConnection) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + 8
		if end > len(p) {
			end = len(p)
		}
		if err := c.send(canCmdTelemetryWrite, p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// RequestTelemetry asks the bridge to trigger a KISS frame from one ESC
func (c *CANConnection) RequestTelemetry(motor int) error {
	return c.send(canCmdTelemetryRequest, []byte{byte(motor)})
}

func (c *CANConnection) send(command uint8, data []byte) error {
	frame := canbus.Frame{
		ID:   bridgeID(command, c.nodeID),
		Data: append([]byte(nil), data...),
		Kind: canbus.EFF,
	}
	_, err := c.socket.Send(frame)
	return err
}

func (c *CANConnection) Close() error {
	return c.socket.Close()
}
