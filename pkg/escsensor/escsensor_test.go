// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
)

// ============================================================
// Test Helpers
// ============================================================

var testBoot = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeMotors records every telemetry request
type fakeMotors struct {
	count    int
	disabled bool
	requests []int
}

func (m *fakeMotors) MotorCount() int            { return m.count }
func (m *fakeMotors) Enabled() bool              { return !m.disabled }
func (m *fakeMotors) RequestTelemetry(motor int) { m.requests = append(m.requests, motor) }

func newTestTelemetry(t *testing.T, protocol Protocol, motors *fakeMotors, opts ...Option) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Protocol = protocol
	cfg.MotorCount = motors.count
	cfg.BootTime = testBoot
	tl, err := New(cfg, motors, logging.NewTestLogger(t), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tl
}

// readyKiss runs the instance past its boot delay and returns the next
// usable timestamp
func readyKiss(t *testing.T, tl *Telemetry) time.Time {
	t.Helper()
	if out := tl.Process(testBoot); out != PollIdle {
		t.Fatalf("Expected idle during startup, got %s", out)
	}
	now := testBoot.Add(DefaultBootDelay)
	if out := tl.Process(now); out != PollIdle {
		t.Fatalf("Expected idle on startup exit, got %s", out)
	}
	return now.Add(10 * time.Millisecond)
}

// kissCycle requests a frame, delivers reply, and completes the cycle.
// A nil reply runs the cycle into its timeout.
func kissCycle(t *testing.T, tl *Telemetry, now time.Time, reply []byte) (PollOutcome, time.Time) {
	t.Helper()
	if out := tl.Process(now); out != PollRequested {
		t.Fatalf("Expected request, got %s", out)
	}
	tl.Write(reply)
	if len(reply) == KissFrameSize {
		now = now.Add(time.Millisecond)
	} else {
		now = now.Add(DefaultRequestTimeout)
	}
	out := tl.Process(now)
	return out, now.Add(time.Millisecond)
}

func kissFrame(temp uint8, voltage, current, consumption, rpm uint16) []byte {
	return EncodeKissFrame(KissFrame{
		Temperature: temp,
		Voltage:     voltage,
		Current:     current,
		Consumption: consumption,
		RPM:         rpm,
	})
}

func hobbywingBytes(counter uint32, erpm uint32, voltage, current, fetTemp uint16) []byte {
	return []byte{
		HobbywingSentinel,
		byte(counter >> 16), byte(counter >> 8), byte(counter),
		0x02, 0x00, // throttle 512
		0x01, 0x00, // pwm 256
		byte(erpm >> 16), byte(erpm >> 8), byte(erpm),
		byte(voltage >> 8), byte(voltage),
		byte(current >> 8), byte(current),
		byte(fetTemp >> 8), byte(fetTemp),
		0x0E, 0xF4, // BEC temp raw 3828
	}
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC8_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{name: "empty", data: []byte{}, expected: 0x00},
		{name: "single 0x01", data: []byte{0x01}, expected: 0x07},
		{name: "ASCII '123456789'", data: []byte("123456789"), expected: 0xF4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC8(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%02X, got 0x%02X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateCRC8_Deterministic(t *testing.T) {
	data := []byte{0x1E, 0x06, 0x40, 0x00, 0x64, 0x00, 0x0A, 0x01, 0x2C}
	if CalculateCRC8(data) != CalculateCRC8(data) {
		t.Error("CRC should be deterministic")
	}
}

// ============================================================
// Protocol Tests
// ============================================================

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		name     string
		expected Protocol
		wantErr  bool
	}{
		{"", ProtocolNone, false},
		{"none", ProtocolNone, false},
		{"KISS", ProtocolKiss, false},
		{"hobbywing", ProtocolHobbywingV4, false},
		{"hobbywing_v4", ProtocolHobbywingV4, false},
		{"dshot", ProtocolNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProtocol(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownProtocol) {
					t.Errorf("Expected ErrUnknownProtocol, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, p)
			}
		})
	}
}

func TestProtocol_BaudRate(t *testing.T) {
	if ProtocolKiss.BaudRate() != 115200 {
		t.Errorf("KISS baud: got %d", ProtocolKiss.BaudRate())
	}
	if ProtocolHobbywingV4.BaudRate() != 19200 {
		t.Errorf("Hobbywing baud: got %d", ProtocolHobbywingV4.BaudRate())
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	bad := DefaultConfig()
	bad.PoleCount = 7
	if err := bad.Validate(); err == nil {
		t.Error("Odd pole count should be rejected")
	}

	bad = DefaultConfig()
	bad.RequestTimeout = 0
	if err := bad.Validate(); err == nil {
		t.Error("Zero request timeout should be rejected")
	}
}

// ============================================================
// Frame Buffer Tests
// ============================================================

func TestFrameBuffer_ArmAndFill(t *testing.T) {
	f := NewFrameBuffer(KissFrameSize)

	if f.Push(0xAA) {
		t.Error("Push before Arm should be discarded")
	}

	f.Arm(3)
	if f.Complete() {
		t.Error("Freshly armed buffer should not be complete")
	}
	for _, b := range []byte{1, 2, 3} {
		if !f.Push(b) {
			t.Fatalf("Push of 0x%02X rejected", b)
		}
	}
	if !f.Complete() {
		t.Error("Buffer should be complete after 3 bytes")
	}
	if f.Push(4) {
		t.Error("Push after completion should be a no-op")
	}
	if got := f.Bytes(); len(got) != 3 || got[2] != 3 {
		t.Errorf("Unexpected bytes: %v", got)
	}
	if f.Discarded() != 2 {
		t.Errorf("Expected 2 discarded bytes, got %d", f.Discarded())
	}
}

func TestFrameBuffer_Disarm(t *testing.T) {
	f := NewFrameBuffer(KissFrameSize)
	f.Arm(KissFrameSize)
	f.Push(1)
	f.Disarm()
	if f.Push(2) {
		t.Error("Push while disarmed should be discarded")
	}
	if f.Filled() != 1 {
		t.Errorf("Expected 1 byte kept, got %d", f.Filled())
	}

	f.Arm(KissFrameSize)
	if f.Filled() != 0 {
		t.Error("Arm should reset the write position")
	}
}

func TestFrameBuffer_ArmClampsToCapacity(t *testing.T) {
	f := NewFrameBuffer(4)
	f.Arm(100)
	for i := 0; i < 10; i++ {
		f.Push(byte(i))
	}
	if f.Filled() != 4 || !f.Complete() {
		t.Errorf("Expected buffer capped at 4 bytes, got %d", f.Filled())
	}
}

// ============================================================
// KISS Decoder Tests
// ============================================================

func TestDecodeKissFrame_Valid(t *testing.T) {
	frame := kissFrame(30, 1600, 1234, 250, 300)

	kf, err := DecodeKissFrame(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	r := kf.Reading()
	if r.Temperature != 30 || r.Voltage != 1600 || r.Current != 1234 || r.Consumption != 250 || r.RPM != 300 {
		t.Errorf("Unexpected reading: %+v", r)
	}
	if r.Age != 0 {
		t.Errorf("Fresh reading should have age 0, got %d", r.Age)
	}
}

func TestDecodeKissFrame_HighTemperatureIsUnsigned(t *testing.T) {
	kf, err := DecodeKissFrame(kissFrame(200, 0, 0, 0, 0))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if kf.Reading().Temperature != 200 {
		t.Errorf("Expected 200, got %d", kf.Reading().Temperature)
	}
}

func TestDecodeKissFrame_CRCMismatch(t *testing.T) {
	frame := kissFrame(30, 1600, 1234, 250, 300)
	frame[KissFrameSize-1] ^= 0xFF

	_, err := DecodeKissFrame(frame)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("Expected ErrCRCMismatch, got %v", err)
	}
}

func TestDecodeKissFrame_InvalidLength(t *testing.T) {
	if _, err := DecodeKissFrame(make([]byte, 9)); err == nil {
		t.Error("Expected error for short frame")
	}
}

// ============================================================
// KISS State Machine Tests
// ============================================================

func TestKiss_StartupDelay(t *testing.T) {
	motors := &fakeMotors{count: 1}
	tl := newTestTelemetry(t, ProtocolKiss, motors)

	if out := tl.Process(testBoot.Add(DefaultBootDelay - time.Millisecond)); out != PollIdle {
		t.Errorf("Expected idle before boot delay, got %s", out)
	}
	if len(motors.requests) != 0 {
		t.Error("No request should be issued during startup")
	}

	tl.Process(testBoot.Add(DefaultBootDelay))
	if out := tl.Process(testBoot.Add(DefaultBootDelay + time.Millisecond)); out != PollRequested {
		t.Errorf("Expected request after boot delay, got %s", out)
	}
	if len(motors.requests) != 1 || motors.requests[0] != 0 {
		t.Errorf("Expected request for motor 0, got %v", motors.requests)
	}
}

func TestKiss_DecodeUpdatesMotor(t *testing.T) {
	motors := &fakeMotors{count: 1}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	out, _ := kissCycle(t, tl, now, kissFrame(42, 1680, 500, 12, 250))
	if out != PollDecoded {
		t.Fatalf("Expected decoded, got %s", out)
	}

	r, err := tl.Reading(0)
	if err != nil {
		t.Fatalf("Reading error: %v", err)
	}
	if r.Age != 0 || r.Temperature != 42 || r.Voltage != 1680 || r.Current != 500 || r.Consumption != 12 || r.RPM != 250 {
		t.Errorf("Unexpected reading: %+v", r)
	}
	if !tl.Valid(0) {
		t.Error("Fresh reading should be valid")
	}

	rpm, err := tl.MotorRPM(0)
	if err != nil {
		t.Fatalf("MotorRPM error: %v", err)
	}
	if rpm != 250*100/7 {
		t.Errorf("Expected %d RPM, got %d", 250*100/7, rpm)
	}
}

func TestKiss_CRCMismatchLeavesValues(t *testing.T) {
	motors := &fakeMotors{count: 1}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	_, now = kissCycle(t, tl, now, kissFrame(42, 1680, 500, 12, 250))

	bad := kissFrame(99, 9999, 9999, 9999, 9999)
	bad[KissFrameSize-1] ^= 0x01
	out, _ := kissCycle(t, tl, now, bad)
	if out != PollCRCError {
		t.Fatalf("Expected CRC error, got %s", out)
	}

	r, _ := tl.Reading(0)
	if r.Age != 1 {
		t.Errorf("Expected age 1 after CRC error, got %d", r.Age)
	}
	if r.Temperature != 42 || r.Voltage != 1680 || r.RPM != 250 {
		t.Errorf("CRC error must not change values: %+v", r)
	}
	if tl.CRCErrors() != 1 {
		t.Errorf("Expected 1 CRC error, got %d", tl.CRCErrors())
	}
	if tl.Timeouts() != 0 {
		t.Errorf("Expected 0 timeouts, got %d", tl.Timeouts())
	}
}

func TestKiss_Timeout(t *testing.T) {
	motors := &fakeMotors{count: 2}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	if out := tl.Process(now); out != PollRequested {
		t.Fatalf("Expected request, got %s", out)
	}
	tl.Write([]byte{0x01, 0x02, 0x03})

	if out := tl.Process(now.Add(DefaultRequestTimeout - time.Millisecond)); out != PollPending {
		t.Errorf("Expected pending just before timeout, got %s", out)
	}
	if out := tl.Process(now.Add(DefaultRequestTimeout)); out != PollTimeout {
		t.Errorf("Expected timeout, got %s", out)
	}
	if tl.Timeouts() != 1 {
		t.Errorf("Expected 1 timeout, got %d", tl.Timeouts())
	}

	// Bytes arriving after the timeout are not part of any request
	tl.Write([]byte{0x04, 0x05})
	if late := tl.Stats().LateBytes; late < 2 {
		t.Errorf("Expected late bytes to be counted, got %d", late)
	}

	// Next request goes to motor 1
	tl.Process(now.Add(DefaultRequestTimeout + time.Millisecond))
	if len(motors.requests) != 2 || motors.requests[1] != 1 {
		t.Errorf("Expected second request for motor 1, got %v", motors.requests)
	}
}

func TestKiss_RoundRobin(t *testing.T) {
	motors := &fakeMotors{count: 3}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	for i := 0; i < 7; i++ {
		var reply []byte
		if i%2 == 0 {
			reply = kissFrame(20, 1600, 0, 0, 0)
		}
		_, now = kissCycle(t, tl, now, reply)
	}

	expected := []int{0, 1, 2, 0, 1, 2, 0}
	if len(motors.requests) != len(expected) {
		t.Fatalf("Expected %d requests, got %d", len(expected), len(motors.requests))
	}
	for i, m := range expected {
		if motors.requests[i] != m {
			t.Errorf("Request %d: expected motor %d, got %d", i, m, motors.requests[i])
		}
	}
}

func TestKiss_StalenessZeroesFields(t *testing.T) {
	motors := &fakeMotors{count: 1}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	_, now = kissCycle(t, tl, now, kissFrame(35, 1600, 700, 40, 300))

	for i := 0; i < AgeMax; i++ {
		_, now = kissCycle(t, tl, now, nil)
	}
	r, _ := tl.Reading(0)
	if r.Age != AgeMax || !tl.Valid(0) {
		t.Fatalf("Expected valid reading at age %d, got age %d", AgeMax, r.Age)
	}
	if r.Voltage != 1600 {
		t.Errorf("Valid reading should keep its voltage, got %d", r.Voltage)
	}

	kissCycle(t, tl, now, nil)
	r, _ = tl.Reading(0)
	if tl.Valid(0) {
		t.Error("Reading should be invalid past AgeMax")
	}
	if r.Voltage != 0 || r.Current != 0 || r.Consumption != 0 || r.RPM != 0 {
		t.Errorf("Invalid reading should be zeroed: %+v", r)
	}
	if r.Temperature != 35 {
		t.Errorf("Temperature should survive invalidation, got %d", r.Temperature)
	}

	c, _ := tl.Combined()
	if c.Voltage != 0 || c.RPM != 0 {
		t.Errorf("Combined reading should be zeroed: %+v", c)
	}
}

func TestKiss_AgeSaturates(t *testing.T) {
	motors := &fakeMotors{count: 1}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	r, _ := tl.Reading(0)
	if r.Age != AgeInvalid {
		t.Fatalf("Unreported motor should start at AgeInvalid, got %d", r.Age)
	}
	for i := 0; i < 3; i++ {
		_, now = kissCycle(t, tl, now, nil)
	}
	r, _ = tl.Reading(0)
	if r.Age != AgeInvalid {
		t.Errorf("Age should saturate at %d, got %d", AgeInvalid, r.Age)
	}
}

func TestKiss_FourMotorScenario(t *testing.T) {
	motors := &fakeMotors{count: 4}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	for i := 0; i < 4; i++ {
		out, next := kissCycle(t, tl, now, kissFrame(uint8(30+i), 1600, uint16(100*i), uint16(10*i), uint16(100*(i+1))))
		if out != PollDecoded {
			t.Fatalf("Motor %d: expected decoded, got %s", i, out)
		}
		now = next
	}

	for i := 0; i < 4; i++ {
		r, err := tl.Reading(i)
		if err != nil {
			t.Fatalf("Reading(%d) error: %v", i, err)
		}
		if r.Temperature != int16(30+i) || r.Current != int32(100*i) {
			t.Errorf("Motor %d: unexpected reading %+v", i, r)
		}
	}

	c, err := tl.Combined()
	if err != nil {
		t.Fatalf("Combined error: %v", err)
	}
	want := Reading{Age: 0, Temperature: 33, Voltage: 1600, Current: 600, Consumption: 60, RPM: 250}
	if c != want {
		t.Errorf("Combined mismatch:\n  want %+v\n  got  %+v", want, c)
	}
	if !tl.CombinedValid() {
		t.Error("Combined reading should be valid")
	}

	// One motor stops answering; the combined age follows the worst motor
	_, now = kissCycle(t, tl, now, nil)
	c, _ = tl.Combined()
	if c.Age != 1 {
		t.Errorf("Combined age should be 1, got %d", c.Age)
	}
}

func TestKiss_EndToEndCycle(t *testing.T) {
	motors := &fakeMotors{count: 4}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	// Every motor reports once so staleness starts from zero
	for i := 0; i < 4; i++ {
		_, now = kissCycle(t, tl, now, kissFrame(30, 1600, 100, 5, 140))
	}
	before := tl.Stats()

	outcomes := make([]PollOutcome, 0, 4)
	var out PollOutcome
	out, now = kissCycle(t, tl, now, kissFrame(35, 1650, 120, 6, 150))
	outcomes = append(outcomes, out)

	corrupt := kissFrame(99, 9999, 9999, 99, 999)
	corrupt[KissFrameSize-1] ^= 0xFF
	out, now = kissCycle(t, tl, now, corrupt)
	outcomes = append(outcomes, out)

	out, now = kissCycle(t, tl, now, nil)
	outcomes = append(outcomes, out)
	out, now = kissCycle(t, tl, now, nil)
	outcomes = append(outcomes, out)

	expected := []PollOutcome{PollDecoded, PollCRCError, PollTimeout, PollTimeout}
	for i, want := range expected {
		if outcomes[i] != want {
			t.Errorf("Motor %d: expected %s, got %s", i, want, outcomes[i])
		}
	}

	after := tl.Stats()
	if after.CRCErrors-before.CRCErrors != 1 {
		t.Errorf("Expected 1 new CRC error, got %d", after.CRCErrors-before.CRCErrors)
	}
	if after.Timeouts-before.Timeouts != 2 {
		t.Errorf("Expected 2 new timeouts, got %d", after.Timeouts-before.Timeouts)
	}

	r0, _ := tl.Reading(0)
	if r0.Age != 0 || r0.Voltage != 1650 || r0.Temperature != 35 {
		t.Errorf("Motor 0 should hold the new frame: %+v", r0)
	}
	for m := 1; m < 4; m++ {
		r, _ := tl.Reading(m)
		if r.Age != 1 {
			t.Errorf("Motor %d: expected age 1, got %d", m, r.Age)
		}
		if r.Voltage != 1600 || r.Temperature != 30 {
			t.Errorf("Motor %d: previous values should be kept: %+v", m, r)
		}
	}

	if out := tl.Process(now); out != PollRequested {
		t.Fatalf("Expected a new request, got %s", out)
	}
	if last := motors.requests[len(motors.requests)-1]; last != 0 {
		t.Errorf("Polling should wrap to motor 0, got %d", last)
	}
}

func TestKiss_MotorCountBelowConfig(t *testing.T) {
	motors := &fakeMotors{count: 4}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	now := readyKiss(t, tl)

	// The motor layer now drives only two of the configured four
	motors.count = 2
	_, now = kissCycle(t, tl, now, kissFrame(30, 1600, 200, 0, 100))
	_, now = kissCycle(t, tl, now, kissFrame(40, 1600, 300, 0, 200))

	c, err := tl.Combined()
	if err != nil {
		t.Fatalf("Combined error: %v", err)
	}
	want := Reading{Age: 0, Temperature: 40, Voltage: 1600, Current: 500, RPM: 150}
	if c != want {
		t.Errorf("Combined mismatch:\n  want %+v\n  got  %+v", want, c)
	}
	if !tl.CombinedValid() {
		t.Error("Combined reading of the driven motors should be valid")
	}

	if _, err := tl.Reading(2); !errors.Is(err, ErrNoData) {
		t.Errorf("Undriven motor should report ErrNoData, got %v", err)
	}
	if tl.Valid(3) {
		t.Error("Undriven motor should not be valid")
	}

	// Polling wraps within the driven motors
	if out := tl.Process(now); out != PollRequested {
		t.Fatalf("Expected request, got %s", out)
	}
	if last := motors.requests[len(motors.requests)-1]; last != 0 {
		t.Errorf("Expected request for motor 0, got %d", last)
	}
}

// lockCheckMotors reports whether the decoder lock was free while a
// request was issued
type lockCheckMotors struct {
	fakeMotors
	tl         *Telemetry
	lockedOnce bool
}

func (m *lockCheckMotors) RequestTelemetry(motor int) {
	if m.tl.mu.TryLock() {
		m.tl.mu.Unlock()
	} else {
		m.lockedOnce = true
	}
	m.fakeMotors.RequestTelemetry(motor)
}

func TestKiss_RequestOutsideLock(t *testing.T) {
	motors := &lockCheckMotors{fakeMotors: fakeMotors{count: 2}}
	cfg := DefaultConfig()
	cfg.Protocol = ProtocolKiss
	cfg.MotorCount = 2
	cfg.BootTime = testBoot
	tl, err := New(cfg, motors, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	motors.tl = tl

	now := readyKiss(t, tl)
	_, now = kissCycle(t, tl, now, kissFrame(30, 1600, 0, 0, 0))
	kissCycle(t, tl, now, nil)

	if len(motors.requests) != 2 {
		t.Fatalf("Expected 2 requests, got %v", motors.requests)
	}
	if motors.lockedOnce {
		t.Error("Telemetry requests must be issued after the decoder lock is released")
	}
}

func TestKiss_ObserverEvents(t *testing.T) {
	var events []Event
	motors := &fakeMotors{count: 1}
	tl := newTestTelemetry(t, ProtocolKiss, motors, WithObserver(func(ev Event) {
		events = append(events, ev)
	}))
	now := readyKiss(t, tl)

	_, now = kissCycle(t, tl, now, kissFrame(20, 1600, 0, 0, 0))
	kissCycle(t, tl, now, nil)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventFrame || events[0].Protocol != ProtocolKiss || len(events[0].Raw) != KissFrameSize {
		t.Errorf("Unexpected frame event: %+v", events[0])
	}
	if events[1].Kind != EventTimeout {
		t.Errorf("Expected timeout event, got %s", events[1].Kind)
	}
}

func TestKiss_DebugSamples(t *testing.T) {
	values := NewDebugValues()
	motors := &fakeMotors{count: 2}
	tl := newTestTelemetry(t, ProtocolKiss, motors, WithDebugSink(values))
	now := readyKiss(t, tl)

	_, now = kissCycle(t, tl, now, kissFrame(25, 1600, 0, 0, 140))
	kissCycle(t, tl, now, nil)

	if v, ok := values.Get(DebugMotorIndex); !ok || v != 2 {
		t.Errorf("Expected motor index sample 2, got %d (%t)", v, ok)
	}
	if v, _ := values.Get(DebugTimeouts); v != 1 {
		t.Errorf("Expected timeouts sample 1, got %d", v)
	}
	if v, _ := values.Get("esc.rpm.0"); v != 200 {
		t.Errorf("Expected rpm/10 sample 200, got %d", v)
	}
	if v, _ := values.Get("esc.temp.0"); v != 25 {
		t.Errorf("Expected temperature sample 25, got %d", v)
	}
}

func TestTelemetry_Disabled(t *testing.T) {
	motors := &fakeMotors{count: 1, disabled: true}
	tl := newTestTelemetry(t, ProtocolKiss, motors)
	if out := tl.Process(testBoot.Add(time.Hour)); out != PollDisabled {
		t.Errorf("Expected disabled, got %s", out)
	}
}

func TestTelemetry_Inactive(t *testing.T) {
	tl := newTestTelemetry(t, ProtocolNone, &fakeMotors{count: 4})
	if tl.Active() {
		t.Error("ProtocolNone should be inactive")
	}
	if _, err := tl.Reading(0); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
	if _, err := tl.Combined(); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
	if tl.CombinedValid() {
		t.Error("Inactive sensor should never be valid")
	}
	tl.Receive(0x42)
	if out := tl.Process(testBoot); out != PollIdle {
		t.Errorf("Expected idle, got %s", out)
	}
}

func TestTelemetry_OutOfRangeMotor(t *testing.T) {
	tl := newTestTelemetry(t, ProtocolKiss, &fakeMotors{count: 2})
	if _, err := tl.Reading(2); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData for motor 2, got %v", err)
	}
	if _, err := tl.Reading(-1); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData for motor -1, got %v", err)
	}
	if tl.Valid(5) {
		t.Error("Out-of-range motor should not be valid")
	}
}

// ============================================================
// Hobbywing Stream Parser Tests
// ============================================================

func TestStreamParser_Packet(t *testing.T) {
	var p StreamParser
	data := hobbywingBytes(0x000102, 100000, 1356, 638, 3814)

	for i, b := range data {
		done := p.Feed(b)
		if done != (i == len(data)-1) {
			t.Fatalf("Byte %d: unexpected completion %t", i, done)
		}
	}

	packet := p.Packet()
	if len(packet) != HobbywingPacketSize {
		t.Fatalf("Expected %d bytes, got %d", HobbywingPacketSize, len(packet))
	}
	if packet[0] != 0x00 || packet[2] != 0x02 {
		t.Errorf("Packet should start with the counter: %s", FormatHex(packet))
	}
	if !p.Idle() {
		t.Error("Parser should be idle after a packet")
	}
}

func TestStreamParser_SentinelInsidePacket(t *testing.T) {
	var p StreamParser
	// 0x9B inside the payload is data, not a new sentinel
	data := hobbywingBytes(0x9B9B9B, 0, 0, 0, 0)
	data[1] = 0x00

	count := 0
	for _, b := range data {
		if p.Feed(b) {
			count++
		}
	}
	if count != 1 || p.Resyncs() != 0 {
		t.Errorf("Expected 1 packet and no resync, got %d packets %d resyncs", count, p.Resyncs())
	}
}

func TestStreamParser_Resync(t *testing.T) {
	var p StreamParser

	stream := []byte{0x9B, 0x9B, 0x9B}
	for i := 0; i < 16; i++ {
		stream = append(stream, 0x00)
	}

	for _, b := range stream {
		if p.Feed(b) {
			t.Fatal("No packet expected from a collision")
		}
	}
	if p.Resyncs() != 1 {
		t.Errorf("Expected 1 resync, got %d", p.Resyncs())
	}
	if p.Skipped() != HobbywingResyncSkip {
		t.Errorf("Expected %d skipped bytes, got %d", HobbywingResyncSkip, p.Skipped())
	}
	if !p.Idle() {
		t.Error("Parser should be back to searching")
	}

	// A clean packet after the collision still frames
	count := 0
	for _, b := range hobbywingBytes(1, 0, 0, 0, 0) {
		if p.Feed(b) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected 1 packet after resync, got %d", count)
	}
}

func TestDecodeHobbywingPacket(t *testing.T) {
	data := hobbywingBytes(0x000102, 100000, 1356, 638, 3814)

	packet, err := DecodeHobbywingPacket(data[1:])
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if packet.Counter != 0x000102 || packet.Throttle != 512 || packet.PWM != 256 || packet.ERPM != 100000 {
		t.Errorf("Unexpected header fields: %+v", packet)
	}

	r := packet.Reading()
	want := Reading{Age: 0, Temperature: 2, Voltage: 1200, Current: 100, RPM: 1000}
	if r != want {
		t.Errorf("Reading mismatch:\n  want %+v\n  got  %+v", want, r)
	}
	if packet.BECTemperature() != 0 {
		t.Errorf("Expected BEC temperature 0, got %f", packet.BECTemperature())
	}

	if _, err := DecodeHobbywingPacket(data); err == nil {
		t.Error("Expected error for a 19-byte packet")
	}
}

// ============================================================
// Calibration Tests
// ============================================================

func TestCalcTemperature(t *testing.T) {
	tests := []struct {
		name     string
		raw      uint16
		expected float64
	}{
		{"zero raw is hot", 0, 100},
		{"lower bound", 1123, 100},
		{"upper bound", 3828, 0},
		{"above upper bound", 4095, 0},
		{"first breakpoint", 3828 - 14, 2},
		{"mid breakpoint", 3828 - 1021, 45},
		{"interpolated", 3828 - 7, 1.5},
		{"last segment", 3828 - 2704, 97 + 2*48.0/49.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalcTemperature(tt.raw)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CalcTemperature(%d): expected %f, got %f", tt.raw, tt.expected, got)
			}
		})
	}
}

func TestCalcTemperature_Monotonic(t *testing.T) {
	prev := CalcTemperature(3828)
	for raw := 3827; raw >= 1123; raw-- {
		got := CalcTemperature(uint16(raw))
		if got < prev {
			t.Fatalf("Temperature decreased at raw=%d: %f < %f", raw, got, prev)
		}
		prev = got
	}
}

func TestCalcCurrent(t *testing.T) {
	tests := []struct {
		raw      uint16
		expected float64
	}{
		{0, 0},
		{28, 0},
		{638, 1.0},
		{28 + 6100, 10.0},
	}

	for _, tt := range tests {
		got := CalcCurrent(tt.raw)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("CalcCurrent(%d): expected %f, got %f", tt.raw, tt.expected, got)
		}
	}
}

func TestCalcVoltage(t *testing.T) {
	if got := CalcVoltage(1356); got != 12.0 {
		t.Errorf("Expected 12.0V, got %f", got)
	}
}

func TestIntegrateConsumption(t *testing.T) {
	// 1 A for one hour is 1000 mAh
	got := integrateConsumption(0, 3600*1000, 100)
	if math.Abs(got-1000) > 1e-9 {
		t.Errorf("Expected 1000 mAh, got %f", got)
	}
}

// ============================================================
// Hobbywing Telemetry Tests
// ============================================================

func TestHobbywing_DecodeIntoSlotZero(t *testing.T) {
	motors := &fakeMotors{count: 4}
	tl := newTestTelemetry(t, ProtocolHobbywingV4, motors)

	tl.Write(hobbywingBytes(7, 100000, 1356, 638, 3814))
	if out := tl.Process(testBoot); out != PollDecoded {
		t.Fatalf("Expected decoded, got %s", out)
	}

	for m := 0; m < 4; m++ {
		r, err := tl.Reading(m)
		if err != nil {
			t.Fatalf("Reading(%d) error: %v", m, err)
		}
		if r.RPM != 1000 || r.Voltage != 1200 || r.Age != 0 {
			t.Errorf("Motor %d: unexpected reading %+v", m, r)
		}
	}

	c, _ := tl.Combined()
	if c.RPM != 1000 || c.Voltage != 1200 {
		t.Errorf("Combined should equal the single ESC: %+v", c)
	}
	if len(motors.requests) != 0 {
		t.Error("Hobbywing must not issue telemetry requests")
	}
}

func TestHobbywing_ConsumptionIntegration(t *testing.T) {
	tl := newTestTelemetry(t, ProtocolHobbywingV4, &fakeMotors{count: 1})

	tl.Write(hobbywingBytes(1, 100000, 1356, 638, 3814))
	tl.Process(testBoot)

	tl.Process(testBoot.Add(time.Hour))
	r, _ := tl.Reading(0)
	if r.Consumption != 1000 {
		t.Errorf("Expected 1000 mAh after an hour at 1 A, got %d", r.Consumption)
	}
	if r.Age != 1 {
		t.Errorf("Expected age 1, got %d", r.Age)
	}
}

func TestHobbywing_Resync(t *testing.T) {
	tl := newTestTelemetry(t, ProtocolHobbywingV4, &fakeMotors{count: 1})

	stream := []byte{0x9B, 0x9B, 0x9B}
	for i := 0; i < 16; i++ {
		stream = append(stream, 0x00)
	}
	tl.Write(stream)

	if out := tl.Process(testBoot); out != PollResync {
		t.Errorf("Expected resync, got %s", out)
	}
	stats := tl.Stats()
	if stats.Resyncs != 1 || stats.SkippedBytes != HobbywingResyncSkip {
		t.Errorf("Unexpected resync counters: %+v", stats)
	}
	if stats.Timeouts != 0 || stats.CRCErrors != 0 {
		t.Errorf("Hobbywing must not touch KISS counters: %+v", stats)
	}
}

func TestHobbywing_RingOverflowDropsPartialPacket(t *testing.T) {
	ring := NewRingSource(32)
	tl := newTestTelemetry(t, ProtocolHobbywingV4, &fakeMotors{count: 1}, WithByteSource(ring))

	// The first packet fits, the second is cut short by the full ring
	tl.Write(hobbywingBytes(1, 100000, 1356, 638, 3814))
	tl.Write(hobbywingBytes(2, 200000, 1356, 638, 3814))
	if out := tl.Process(testBoot); out != PollDecoded {
		t.Fatalf("Expected decoded, got %s", out)
	}
	if got := tl.Stats().DroppedBytes; got != 6 {
		t.Fatalf("Expected 6 dropped bytes, got %d", got)
	}

	tl.Write(hobbywingBytes(3, 300000, 1356, 638, 3814))
	if out := tl.Process(testBoot.Add(10 * time.Millisecond)); out != PollDecoded {
		t.Fatalf("Expected decoded, got %s", out)
	}

	r, _ := tl.Reading(0)
	if r.RPM != 3000 {
		t.Errorf("Expected the third packet (rpm 3000), got %d", r.RPM)
	}
	if got := tl.Stats().Packets; got != 2 {
		t.Errorf("Expected 2 packets, got %d", got)
	}
	if got := tl.LastOutcome(); got != PollDecoded {
		t.Errorf("Expected last outcome decoded, got %s", got)
	}
}

func TestHobbywing_SpinningValidity(t *testing.T) {
	tl := newTestTelemetry(t, ProtocolHobbywingV4, &fakeMotors{count: 1})

	tl.Write(hobbywingBytes(1, 100000, 1356, 638, 3814))
	now := testBoot
	tl.Process(now)

	for i := 0; i < hobbywingSpinningAge-1; i++ {
		now = now.Add(10 * time.Millisecond)
		tl.Process(now)
	}
	r, _ := tl.Reading(0)
	if r.RPM != 1000 || !tl.Valid(0) {
		t.Fatalf("Spinning ESC at age %d should be valid: %+v", r.Age, r)
	}

	tl.Process(now.Add(10 * time.Millisecond))
	r, _ = tl.Reading(0)
	if r.RPM != 0 || r.Voltage != 0 || r.Current != 0 {
		t.Errorf("Spinning ESC past its window should be zeroed: %+v", r)
	}
}

func TestHobbywing_IdleValidity(t *testing.T) {
	h := newHobbywingSource(NewRingSource(16))
	tests := []struct {
		reading Reading
		valid   bool
	}{
		{Reading{RPM: 10, Age: 10}, true},
		{Reading{RPM: 10, Age: 11}, false},
		{Reading{RPM: 0, Age: 99}, true},
		{Reading{RPM: 0, Age: 100}, false},
	}
	for _, tt := range tests {
		if got := h.valid(tt.reading); got != tt.valid {
			t.Errorf("valid(%+v): expected %t, got %t", tt.reading, tt.valid, got)
		}
	}
}

// ============================================================
// Store Tests
// ============================================================

func TestStore_CombinedIdempotent(t *testing.T) {
	s := NewStore(2)
	s.Set(0, Reading{Temperature: 40, Voltage: 1600, Current: 100, Consumption: 5, RPM: 200})
	s.Set(1, Reading{Temperature: 50, Voltage: 1500, Current: 300, Consumption: 7, RPM: 100})

	first := s.Combined(2)
	if s.Dirty() {
		t.Error("Combined should clear the dirty flag")
	}
	second := s.Combined(2)
	if first != second {
		t.Errorf("Combined not idempotent: %+v != %+v", first, second)
	}

	want := Reading{Temperature: 50, Voltage: 1550, Current: 400, Consumption: 12, RPM: 150}
	if first != want {
		t.Errorf("Combined mismatch:\n  want %+v\n  got  %+v", want, first)
	}
}

func TestStore_DirtyOnlyOnChange(t *testing.T) {
	s := NewStore(1)
	r := Reading{Voltage: 1600}
	s.Set(0, r)
	s.Combined(1)

	s.Set(0, r)
	if s.Dirty() {
		t.Error("Setting an identical reading should not dirty the cache")
	}

	s.IncreaseAge(0)
	if !s.Dirty() {
		t.Error("Aging should dirty the cache")
	}
}

func TestStore_Invalidate(t *testing.T) {
	s := NewStore(2)
	s.Set(0, Reading{Age: 20, Temperature: 30, Voltage: 1600, Current: 100, Consumption: 5, RPM: 200})
	s.Set(1, Reading{Voltage: 1600, RPM: 100})
	s.Combined(2)

	s.Invalidate(0)
	r := s.Reading(0)
	if r.Voltage != 0 || r.Current != 0 || r.Consumption != 0 || r.RPM != 0 {
		t.Errorf("Invalidate should zero electrical fields: %+v", r)
	}
	if r.Temperature != 30 || r.Age != 20 {
		t.Errorf("Invalidate should keep age and temperature: %+v", r)
	}
}

func TestStore_CombinedActiveMotors(t *testing.T) {
	s := NewStore(4)
	s.Set(0, Reading{Temperature: 40, Voltage: 1600, Current: 100, RPM: 200})
	s.Set(1, Reading{Temperature: 30, Voltage: 1600, Current: 300, RPM: 100})

	c := s.Combined(2)
	want := Reading{Temperature: 40, Voltage: 1600, Current: 400, RPM: 150}
	if c != want {
		t.Errorf("Combined(2) mismatch:\n  want %+v\n  got  %+v", want, c)
	}

	// Widening the count recomputes without any motor changing
	if c := s.Combined(4); c.Age != AgeInvalid || c.Voltage != 800 {
		t.Errorf("Combined(4) should include the unreported motors: %+v", c)
	}
	if c := s.Combined(9); c.Voltage != 800 {
		t.Errorf("Combined should clamp to the store length: %+v", c)
	}
}

func TestStore_OutOfRange(t *testing.T) {
	s := NewStore(1)
	s.Set(5, Reading{Voltage: 1})
	s.IncreaseAge(-1)
	if !s.Reading(5).Stale() {
		t.Error("Out-of-range reading should be invalid")
	}
}

// ============================================================
// RPM Tests
// ============================================================

func TestMechanicalRPM(t *testing.T) {
	tests := []struct {
		erpm, poles, expected int
	}{
		{1000, 14, 14285},
		{120, 2, 12000},
		{100, 0, 0},
		{100, 1, 0},
	}
	for _, tt := range tests {
		if got := MechanicalRPM(tt.erpm, tt.poles); got != tt.expected {
			t.Errorf("MechanicalRPM(%d, %d): expected %d, got %d", tt.erpm, tt.poles, tt.expected, got)
		}
	}
}
