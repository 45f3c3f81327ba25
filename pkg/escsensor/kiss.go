// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ErrCRCMismatch is wrapped by every checksum failure
var ErrCRCMismatch = fmt.Errorf("CRC mismatch")

// KissFrame is one validated KISS telemetry frame
type KissFrame struct {
	Temperature uint8
	Voltage     uint16 // 0.01 V
	Current     uint16 // 0.01 A
	Consumption uint16 // mAh
	RPM         uint16 // eRPM / 100
	CRC         byte
}

// DecodeKissFrame checks the trailing CRC of a 10-byte frame and returns
// its fields
func DecodeKissFrame(frame []byte) (KissFrame, error) {
	if len(frame) != KissFrameSize {
		return KissFrame{}, fmt.Errorf("invalid frame length: %d (expected %d)", len(frame), KissFrameSize)
	}

	calculated := CalculateCRC8(frame[:KissFrameSize-1])
	received := frame[KissFrameSize-1]
	if calculated != received {
		return KissFrame{}, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrCRCMismatch, calculated, received)
	}

	return KissFrame{
		Temperature: frame[0],
		Voltage:     binary.BigEndian.Uint16(frame[1:3]),
		Current:     binary.BigEndian.Uint16(frame[3:5]),
		Consumption: binary.BigEndian.Uint16(frame[5:7]),
		RPM:         binary.BigEndian.Uint16(frame[7:9]),
		CRC:         received,
	}, nil
}

// EncodeKissFrame builds the wire form of a frame, CRC included
func EncodeKissFrame(f KissFrame) []byte {
	frame := make([]byte, KissFrameSize)
	frame[0] = f.Temperature
	binary.BigEndian.PutUint16(frame[1:3], f.Voltage)
	binary.BigEndian.PutUint16(frame[3:5], f.Current)
	binary.BigEndian.PutUint16(frame[5:7], f.Consumption)
	binary.BigEndian.PutUint16(frame[7:9], f.RPM)
	frame[KissFrameSize-1] = CalculateCRC8(frame[:KissFrameSize-1])
	return frame
}

// Reading converts the frame into a fresh sensor reading
func (f KissFrame) Reading() Reading {
	return Reading{
		Age:         0,
		Temperature: int16(f.Temperature),
		Voltage:     uint32(f.Voltage),
		Current:     int32(f.Current),
		Consumption: int32(f.Consumption),
		RPM:         int32(f.RPM),
	}
}

// KISS request cycle states
type kissState int

const (
	kissStartup kissState = iota
	kissReady
	kissPending
)

func (s kissState) String() string {
	switch s {
	case kissStartup:
		return "STARTUP"
	case kissReady:
		return "READY"
	case kissPending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// kissSource polls one motor at a time and waits for its 10-byte reply
type kissSource struct {
	sink      FrameSink
	bootDelay time.Duration
	timeout   time.Duration
	boot      time.Time

	state   kissState
	motor   int
	trigger time.Time
}

func newKissSource(sink FrameSink, cfg Config) *kissSource {
	return &kissSource{
		sink:      sink,
		bootDelay: cfg.BootDelay,
		timeout:   cfg.RequestTimeout,
		boot:      cfg.BootTime,
		state:     kissStartup,
	}
}

func (k *kissSource) protocol() Protocol {
	return ProtocolKiss
}

func (k *kissSource) slots(motorCount int) int {
	return motorCount
}

func (k *kissSource) slot(motor int) int {
	return motor
}

func (k *kissSource) receive(b byte) {
	k.sink.Push(b)
}

func (k *kissSource) valid(r Reading) bool {
	return r.Age <= AgeMax
}

func (k *kissSource) poll(t *Telemetry, now time.Time) PollOutcome {
	count := t.motorCount()
	if count == 0 {
		return PollIdle
	}
	if k.motor >= count {
		k.motor = 0
	}

	switch k.state {
	case kissStartup:
		// Give the ESCs time to finish their own boot before polling them
		if k.boot.IsZero() {
			k.boot = now
		}
		if now.Sub(k.boot) >= k.bootDelay {
			k.state = kissReady
			t.logger.Debugw("ESC boot delay elapsed, starting telemetry requests", "motors", count)
		}
		return PollIdle

	case kissReady:
		k.trigger = now
		k.sink.Arm(KissFrameSize)
		t.requests = append(t.requests, k.motor)
		k.state = kissPending
		t.stats.Requests++
		t.sample(DebugMotorIndex, k.motor+1)
		return PollRequested

	case kissPending:
		if now.Sub(k.trigger) < k.timeout {
			if !k.sink.Complete() {
				return PollPending
			}
			return k.decode(t, now, count)
		}

		// Move on to the next ESC, we'll come back to this one
		k.sink.Disarm()
		motor := k.motor
		partial := k.sink.Bytes()
		t.store.IncreaseAge(motor)
		t.stats.Timeouts++
		t.sample(DebugTimeouts, int(t.stats.Timeouts))
		t.logger.Debugw("ESC telemetry request timed out", "motor", motor, "bytes", len(partial))
		t.emit(Event{Kind: EventTimeout, Motor: motor, Time: now, Raw: partial})
		k.next(count)
		return PollTimeout

	default:
		k.state = kissReady
		return PollIdle
	}
}

// decode validates the completed frame for the current motor
func (k *kissSource) decode(t *Telemetry, now time.Time, count int) PollOutcome {
	motor := k.motor
	raw := k.sink.Bytes()
	defer k.next(count)

	frame, err := DecodeKissFrame(raw)
	if err != nil {
		t.store.IncreaseAge(motor)
		t.stats.CRCErrors++
		t.sample(DebugCRCErrors, int(t.stats.CRCErrors))
		t.logger.Debugw("ESC telemetry frame rejected", "motor", motor, "error", err)
		t.emit(Event{Kind: EventCRCError, Motor: motor, Time: now, Raw: raw, Err: err})
		return PollCRCError
	}

	reading := frame.Reading()
	t.store.Set(motor, reading)
	t.stats.Frames++
	t.stats.LastFrameTime = now
	if motor < debugMotorSlots {
		t.sample(fmt.Sprintf("esc.rpm.%d", motor), MechanicalRPM(int(reading.RPM), t.cfg.PoleCount)/10)
		t.sample(fmt.Sprintf("esc.temp.%d", motor), int(reading.Temperature))
	}
	t.emit(Event{Kind: EventFrame, Motor: motor, Time: now, Raw: raw, Reading: reading})
	return PollDecoded
}

// next selects the following motor, wrapping around
func (k *kissSource) next(count int) {
	k.motor++
	if k.motor >= count {
		k.motor = 0
	}
	k.state = kissReady
}
