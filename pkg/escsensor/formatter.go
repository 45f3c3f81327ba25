// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"fmt"
	"strings"
)

// FormatEvent formats a telemetry event into a human-readable string
func FormatEvent(ev Event, poles int) string {
	timestamp := ev.Time.Format("15:04:05.000")

	switch ev.Kind {
	case EventFrame:
		result := fmt.Sprintf("[%s] %s motor=%d %s\n", timestamp, ev.Kind, ev.Motor, FormatHex(ev.Raw))
		result += FormatReading(ev.Reading, poles)
		if ev.Hobbywing != nil {
			result += FormatHobbywing(*ev.Hobbywing)
		}
		return result

	case EventCRCError:
		return fmt.Sprintf("[%s] %s motor=%d %s (%v)\n", timestamp, ev.Kind, ev.Motor, FormatHex(ev.Raw), ev.Err)

	case EventTimeout:
		return fmt.Sprintf("[%s] %s motor=%d received=%d/%d bytes %s\n", timestamp, ev.Kind, ev.Motor, len(ev.Raw), KissFrameSize, FormatHex(ev.Raw))

	case EventResync:
		return fmt.Sprintf("[%s] %s sentinel collision, skipping %d bytes\n", timestamp, ev.Kind, HobbywingResyncSkip)

	default:
		return fmt.Sprintf("[%s] %s\n", timestamp, ev.Kind)
	}
}

// FormatReading formats the fields of a reading
func FormatReading(r Reading, poles int) string {
	age := fmt.Sprintf("%d", r.Age)
	if r.Stale() {
		age = "invalid"
	}
	return fmt.Sprintf("  Temp: %d°C, Voltage: %.2fV, Current: %.2fA, Consumption: %dmAh, eRPM: %d (%d RPM), Age: %s\n",
		r.Temperature, r.VoltageVolts(), r.CurrentAmps(), r.Consumption, r.ERPM(), MechanicalRPM(int(r.RPM), poles), age)
}

// FormatHobbywing formats the auxiliary fields of a Hobbywing packet
func FormatHobbywing(p HobbywingPacket) string {
	return fmt.Sprintf("  Packet: #%d, Throttle: %d/1024, PWM: %d/1024, BEC Temp: %.1f°C\n",
		p.Counter, p.Throttle, p.PWM, p.BECTemperature())
}

// FormatHex formats bytes as space-separated hex
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "[]"
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FormatCounters formats decoder counters on one line
func FormatCounters(p Protocol, c Counters) string {
	if p == ProtocolHobbywingV4 {
		return fmt.Sprintf("packets=%d resyncs=%d skipped=%d dropped=%d", c.Packets, c.Resyncs, c.SkippedBytes, c.DroppedBytes)
	}
	return fmt.Sprintf("requests=%d frames=%d crc_errors=%d timeouts=%d late=%d", c.Requests, c.Frames, c.CRCErrors, c.Timeouts, c.LateBytes)
}

// FormatSnapshot formats a captured snapshot, one line per motor
func FormatSnapshot(s Snapshot, poles int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", s.Time().Format("15:04:05.000"), s.Protocol)
	for _, m := range s.Motors {
		state := "valid"
		if !m.Valid {
			state = "stale"
		}
		fmt.Fprintf(&b, " Motor %d (%s)\n", m.Motor, state)
		b.WriteString(FormatReading(m.Reading, poles))
	}
	state := "valid"
	if !s.CombinedValid {
		state = "stale"
	}
	fmt.Fprintf(&b, " Combined (%s)\n", state)
	b.WriteString(FormatReading(s.Combined, poles))
	fmt.Fprintf(&b, " %s\n", FormatCounters(s.Protocol, s.Counters))
	return b.String()
}
