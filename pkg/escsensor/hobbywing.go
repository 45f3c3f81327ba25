// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"fmt"
	"time"
)

// StreamParser finds 18-byte Hobbywing V4 packets in a continuous stream.
// A packet starts after a single 0x9B sentinel; there is no length field
// and no checksum.
type StreamParser struct {
	packet    [HobbywingPacketSize]byte
	bytesRead int // 0 while searching for the sentinel
	skipBytes int

	resyncs uint64
	skipped uint64
}

// Feed processes one byte. It returns true when a complete packet is
// available from Packet.
func (p *StreamParser) Feed(b byte) bool {
	switch {
	case p.skipBytes > 0:
		p.skipBytes--
		p.skipped++

	case p.bytesRead == 0 && b == HobbywingSentinel:
		p.bytesRead = 1

	case p.bytesRead == 1 && b == HobbywingSentinel:
		// Two sentinels in a row cannot start a packet. Throw away what
		// follows so we land between packets again.
		p.bytesRead = 0
		p.skipBytes = HobbywingResyncSkip
		p.resyncs++

	case p.bytesRead > 0:
		p.packet[p.bytesRead-1] = b
		p.bytesRead++
		if p.bytesRead > HobbywingPacketSize {
			p.bytesRead = 0
			return true
		}
	}
	return false
}

// Packet returns a copy of the last completed packet
func (p *StreamParser) Packet() []byte {
	out := make([]byte, HobbywingPacketSize)
	copy(out, p.packet[:])
	return out
}

// Idle reports whether the parser is searching for a sentinel
func (p *StreamParser) Idle() bool {
	return p.bytesRead == 0 && p.skipBytes == 0
}

// Resyncs returns how many sentinel collisions were seen
func (p *StreamParser) Resyncs() uint64 {
	return p.resyncs
}

// Skipped returns how many bytes were discarded while resynchronizing
func (p *StreamParser) Skipped() uint64 {
	return p.skipped
}

// Reset drops any partial packet
func (p *StreamParser) Reset() {
	p.bytesRead = 0
	p.skipBytes = 0
}

// HobbywingPacket holds the raw fields of one Hobbywing V4 packet
type HobbywingPacket struct {
	Counter    uint32 // 24-bit packet number
	Throttle   uint16 // 0-1024
	PWM        uint16 // 0-1024
	ERPM       uint32 // 24-bit electrical RPM
	VoltageRaw uint16
	CurrentRaw uint16
	FETTempRaw uint16
	BECTempRaw uint16
}

// DecodeHobbywingPacket extracts the big-endian fields of an 18-byte packet
func DecodeHobbywingPacket(data []byte) (HobbywingPacket, error) {
	if len(data) != HobbywingPacketSize {
		return HobbywingPacket{}, fmt.Errorf("invalid packet length: %d (expected %d)", len(data), HobbywingPacketSize)
	}

	be16 := func(i int) uint16 {
		return uint16(data[i])<<8 | uint16(data[i+1])
	}
	be24 := func(i int) uint32 {
		return uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
	}

	return HobbywingPacket{
		Counter:    be24(0),
		Throttle:   be16(3),
		PWM:        be16(5),
		ERPM:       be24(7),
		VoltageRaw: be16(10),
		CurrentRaw: be16(12),
		FETTempRaw: be16(14),
		BECTempRaw: be16(16),
	}, nil
}

// Voltage returns the battery voltage in volts
func (p HobbywingPacket) Voltage() float64 {
	return CalcVoltage(p.VoltageRaw)
}

// Current returns the motor current in amps
func (p HobbywingPacket) Current() float64 {
	return CalcCurrent(p.CurrentRaw)
}

// FETTemperature returns the FET temperature in degrees C
func (p HobbywingPacket) FETTemperature() float64 {
	return CalcTemperature(p.FETTempRaw)
}

// BECTemperature returns the BEC temperature in degrees C
func (p HobbywingPacket) BECTemperature() float64 {
	return CalcTemperature(p.BECTempRaw)
}

// Reading converts the packet into sensor units. Consumption is left at
// zero; it is integrated over time by the caller.
func (p HobbywingPacket) Reading() Reading {
	return Reading{
		Age:         0,
		Temperature: int16(p.FETTemperature()),
		Voltage:     uint32(p.Voltage() * 100),
		Current:     int32(p.Current() * 100),
		RPM:         int32(p.ERPM / 100),
	}
}

// hobbywingSource drains the byte stream once per cycle. Only one ESC is
// monitored, so every motor index maps to slot 0.
type hobbywingSource struct {
	bytes  ByteSource
	parser StreamParser

	consumption float64
	lastProcess time.Time
	dropped     uint64
}

func newHobbywingSource(bytes ByteSource) *hobbywingSource {
	return &hobbywingSource{bytes: bytes}
}

func (h *hobbywingSource) protocol() Protocol {
	return ProtocolHobbywingV4
}

func (h *hobbywingSource) slots(motorCount int) int {
	return 1
}

func (h *hobbywingSource) slot(motor int) int {
	return 0
}

func (h *hobbywingSource) receive(b byte) {
	if w, ok := h.bytes.(byteOfferer); ok {
		w.Offer(b)
	}
}

// Spinning ESCs report every few cycles, idle ones much less often
func (h *hobbywingSource) valid(r Reading) bool {
	if r.RPM > 0 {
		return r.Age < hobbywingSpinningAge
	}
	return r.Age < hobbywingIdleAge
}

func (h *hobbywingSource) poll(t *Telemetry, now time.Time) PollOutcome {
	const motor = 0

	// Age first, a packet in this cycle resets it
	t.store.IncreaseAge(motor)

	resyncsBefore := h.parser.Resyncs()
	skippedBefore := h.parser.Skipped()
	packets := 0

	for h.bytes.Buffered() > 0 {
		b, err := h.bytes.ReadByte()
		if err != nil {
			t.logger.Warnw("ESC byte source read failed", "error", err)
			break
		}
		if !h.parser.Feed(b) {
			continue
		}

		raw := h.parser.Packet()
		packet, err := DecodeHobbywingPacket(raw)
		if err != nil {
			continue
		}
		fresh := packet.Reading()
		t.store.Update(motor, func(r *Reading) {
			consumption := r.Consumption
			*r = fresh
			r.Consumption = consumption
		})
		packets++
		t.stats.Packets++
		t.stats.LastFrameTime = now
		t.sample(fmt.Sprintf("esc.rpm.%d", motor), MechanicalRPM(int(fresh.RPM), t.cfg.PoleCount)/10)
		t.sample(fmt.Sprintf("esc.temp.%d", motor), int(fresh.Temperature))
		pkt := packet
		t.emit(Event{Kind: EventFrame, Motor: motor, Time: now, Raw: raw, Reading: fresh, Hobbywing: &pkt})
	}

	// Bytes were lost after the ones just drained, so a partial packet can
	// never complete correctly
	if d, ok := h.bytes.(droppedByteCounter); ok {
		if dropped := d.Dropped(); dropped != h.dropped {
			t.logger.Debugw("Hobbywing byte ring overflowed, dropping partial packet", "dropped", dropped-h.dropped)
			h.dropped = dropped
			h.parser.Reset()
		}
	}

	resyncs := h.parser.Resyncs() - resyncsBefore
	if resyncs > 0 {
		t.stats.Resyncs += resyncs
		t.sample(DebugResyncs, int(t.stats.Resyncs))
		t.logger.Debugw("Hobbywing stream resynchronized", "collisions", resyncs)
		t.emit(Event{Kind: EventResync, Motor: motor, Time: now})
	}
	t.stats.SkippedBytes += h.parser.Skipped() - skippedBefore
	if packets > 0 {
		t.sample(DebugPackets, int(t.stats.Packets))
	}
	t.sample(DebugDataAge, int(t.store.Reading(motor).Age))

	// Charge drawn since the last cycle, using the last current we trusted
	if !h.lastProcess.IsZero() {
		elapsed := now.Sub(h.lastProcess).Milliseconds()
		if elapsed > 0 {
			h.consumption = integrateConsumption(h.consumption, elapsed, t.store.Reading(motor).Current)
		}
	}
	consumption := int32(h.consumption)
	t.store.Update(motor, func(r *Reading) {
		r.Consumption = consumption
	})
	h.lastProcess = now

	switch {
	case packets > 0:
		return PollDecoded
	case resyncs > 0:
		return PollResync
	default:
		return PollPending
	}
}
