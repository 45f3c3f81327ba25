// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import "time"

// KISS Telemetry Framing
const (
	KissFrameSize = 10
	KissBaudRate  = 115200
)

// Hobbywing V4 Framing
const (
	HobbywingSentinel   = 0x9B
	HobbywingPacketSize = 18
	HobbywingResyncSkip = 11
	HobbywingBaudRate   = 19200
)

// CRC-8 Configuration (KISS)
const (
	crc8Polynomial = 0x07
	crc8Initial    = 0x00
)

// Data Age Limits
const (
	// AgeMax is the oldest KISS reading still considered valid
	AgeMax = 10

	// AgeInvalid marks a reading that was never received or has aged out
	AgeInvalid = 255
)

// Hobbywing validity windows, in polling cycles
const (
	hobbywingSpinningAge = 11
	hobbywingIdleAge     = 100
)

// Timing Defaults
const (
	DefaultBootDelay      = 5000 * time.Millisecond
	DefaultRequestTimeout = 100 * time.Millisecond
	DefaultRateHz         = 100
	DefaultPoleCount      = 14
)

// Debug Sample Names
const (
	DebugMotorIndex = "esc.motor_index"
	DebugTimeouts   = "esc.timeouts"
	DebugCRCErrors  = "esc.crc_errors"
	DebugDataAge    = "esc.data_age"
	DebugPackets    = "esc.packets"
	DebugResyncs    = "esc.resyncs"
)

// debugMotorSlots is how many motors get per-motor rpm/temperature samples
const debugMotorSlots = 4
