// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import "time"

// PollOutcome describes what a single Process call did
type PollOutcome int

const (
	PollIdle PollOutcome = iota
	PollDisabled
	PollRequested
	PollPending
	PollDecoded
	PollCRCError
	PollTimeout
	PollResync
)

func (o PollOutcome) String() string {
	switch o {
	case PollIdle:
		return "idle"
	case PollDisabled:
		return "disabled"
	case PollRequested:
		return "requested"
	case PollPending:
		return "pending"
	case PollDecoded:
		return "decoded"
	case PollCRCError:
		return "crc_error"
	case PollTimeout:
		return "timeout"
	case PollResync:
		return "resync"
	default:
		return "unknown"
	}
}

// EventKind identifies a telemetry event
type EventKind int

const (
	EventFrame EventKind = iota
	EventCRCError
	EventTimeout
	EventResync
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "FRAME"
	case EventCRCError:
		return "CRC_ERROR"
	case EventTimeout:
		return "TIMEOUT"
	case EventResync:
		return "RESYNC"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to observers after each Process call that produced it
type Event struct {
	Kind     EventKind
	Protocol Protocol
	Motor    int
	Time     time.Time
	Raw      []byte  // frame or packet bytes, partial on timeout
	Reading  Reading // decoded values for EventFrame

	// Hobbywing holds the full packet for Hobbywing frames
	Hobbywing *HobbywingPacket

	Err error
}

// Observer receives telemetry events. It is called without any Telemetry
// lock held, so it may call back into the accessors.
type Observer func(Event)
