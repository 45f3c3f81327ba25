// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// ErrNoData is returned for motors the active protocol does not report
var ErrNoData = errors.New("no telemetry data")

// Config selects the protocol and timing of a Telemetry instance
type Config struct {
	Protocol   Protocol
	HalfDuplex bool
	MotorCount int
	PoleCount  int

	BootDelay      time.Duration
	RequestTimeout time.Duration

	// BootTime is the reference for BootDelay. Zero means the first
	// Process call.
	BootTime time.Time

	// RateHz is the Process rate used by Run
	RateHz int
}

// DefaultConfig returns the firmware defaults with no protocol selected
func DefaultConfig() Config {
	return Config{
		Protocol:       ProtocolNone,
		MotorCount:     4,
		PoleCount:      DefaultPoleCount,
		BootDelay:      DefaultBootDelay,
		RequestTimeout: DefaultRequestTimeout,
		RateHz:         DefaultRateHz,
	}
}

// Validate checks the configuration for values the decoder cannot use
func (c Config) Validate() error {
	if c.Protocol < ProtocolNone || c.Protocol > ProtocolHobbywingV4 {
		return fmt.Errorf("%w: %d", ErrUnknownProtocol, int(c.Protocol))
	}
	if c.MotorCount < 0 {
		return fmt.Errorf("invalid motor count: %d", c.MotorCount)
	}
	if c.PoleCount < 2 || c.PoleCount%2 != 0 {
		return fmt.Errorf("invalid pole count: %d (must be an even number >= 2)", c.PoleCount)
	}
	if c.BootDelay < 0 {
		return fmt.Errorf("invalid boot delay: %v", c.BootDelay)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %v", c.RequestTimeout)
	}
	if c.RateHz <= 0 {
		return fmt.Errorf("invalid rate: %d Hz", c.RateHz)
	}
	return nil
}

// MotorControl is the motor output layer the decoder polls through
type MotorControl interface {
	// MotorCount returns the number of motors currently driven
	MotorCount() int
	// Enabled reports whether motor outputs are running
	Enabled() bool
	// RequestTelemetry asks one ESC to send a telemetry frame
	RequestTelemetry(motor int)
}

// FixedMotors is a MotorControl with a constant motor count. OnRequest, if
// set, is called for every telemetry request.
type FixedMotors struct {
	Count     int
	Disabled  bool
	OnRequest func(motor int)
}

func (m FixedMotors) MotorCount() int { return m.Count }
func (m FixedMotors) Enabled() bool   { return !m.Disabled }

func (m FixedMotors) RequestTelemetry(motor int) {
	if m.OnRequest != nil {
		m.OnRequest(motor)
	}
}

// Counters holds the running totals of one Telemetry instance
type Counters struct {
	Requests  uint64 // KISS requests issued
	Frames    uint64 // KISS frames with a valid CRC
	CRCErrors uint64
	Timeouts  uint64

	Packets      uint64 // Hobbywing packets framed
	Resyncs      uint64 // Hobbywing sentinel collisions
	SkippedBytes uint64 // bytes thrown away while resynchronizing

	LateBytes    uint64 // KISS bytes that arrived with no request armed
	DroppedBytes uint64 // Hobbywing bytes lost to a full ring

	LastFrameTime time.Time
}

// protocolSource is the per-protocol half of Telemetry
type protocolSource interface {
	protocol() Protocol
	// slots returns the number of store entries for motorCount motors
	slots(motorCount int) int
	// slot maps a motor index to a store entry
	slot(motor int) int
	receive(b byte)
	valid(r Reading) bool
	poll(t *Telemetry, now time.Time) PollOutcome
}

type lateByteCounter interface {
	Discarded() uint64
}

type droppedByteCounter interface {
	Dropped() uint64
}

// Option customizes a Telemetry instance
type Option func(*options)

type options struct {
	sink      FrameSink
	source    ByteSource
	debug     DebugSink
	observers []Observer
}

// WithFrameSink replaces the KISS frame buffer
func WithFrameSink(sink FrameSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithByteSource replaces the Hobbywing byte ring. Receive only feeds
// sources that accept bytes through an Offer method.
func WithByteSource(source ByteSource) Option {
	return func(o *options) { o.source = source }
}

// WithDebugSink routes debug samples to sink
func WithDebugSink(sink DebugSink) Option {
	return func(o *options) { o.debug = sink }
}

// WithObserver registers a callback for telemetry events
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// Telemetry owns all decoder state for one sensor port
type Telemetry struct {
	cfg       Config
	motors    MotorControl
	logger    logging.Logger
	src       protocolSource
	debug     DebugSink
	observers []Observer

	mu       sync.Mutex
	store    *Store
	stats    Counters
	pending  []Event
	requests []int
	last     PollOutcome
}

// New creates a Telemetry for cfg. A config with ProtocolNone yields an
// inactive instance whose accessors all report ErrNoData.
func New(cfg Config, motors MotorControl, logger logging.Logger, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if motors == nil {
		motors = FixedMotors{Count: cfg.MotorCount}
	}
	if logger == nil {
		logger = logging.NewBlankLogger("escsensor")
	}

	o := options{debug: nopSink{}}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{
		cfg:       cfg,
		motors:    motors,
		logger:    logger,
		debug:     o.debug,
		observers: o.observers,
	}

	switch cfg.Protocol {
	case ProtocolKiss:
		sink := o.sink
		if sink == nil {
			sink = NewFrameBuffer(KissFrameSize)
		}
		t.src = newKissSource(sink, cfg)
	case ProtocolHobbywingV4:
		source := o.source
		if source == nil {
			source = NewRingSource(DefaultRingSize)
		}
		t.src = newHobbywingSource(source)
	}

	slots := 0
	if t.src != nil {
		slots = t.src.slots(cfg.MotorCount)
		logger.Infof("ESC telemetry enabled: protocol=%s motors=%d half_duplex=%t", cfg.Protocol, cfg.MotorCount, cfg.HalfDuplex)
	}
	t.store = NewStore(slots)

	return t, nil
}

// Config returns the configuration the instance was built with
func (t *Telemetry) Config() Config {
	return t.cfg
}

// Protocol returns the configured protocol
func (t *Telemetry) Protocol() Protocol {
	return t.cfg.Protocol
}

// Active reports whether a protocol is configured
func (t *Telemetry) Active() bool {
	return t.src != nil
}

// Receive feeds one byte from the serial link. It is safe to call from the
// reader goroutine while Process runs.
func (t *Telemetry) Receive(b byte) {
	if t.src == nil {
		return
	}
	t.src.receive(b)
}

// Write feeds p through Receive, so a Telemetry can be the target of
// io.Copy
func (t *Telemetry) Write(p []byte) (int, error) {
	for _, b := range p {
		t.Receive(b)
	}
	return len(p), nil
}

// Process runs one polling cycle at time now
func (t *Telemetry) Process(now time.Time) PollOutcome {
	if t.src == nil {
		return PollIdle
	}
	if !t.motors.Enabled() {
		return PollDisabled
	}

	t.mu.Lock()
	outcome := t.src.poll(t, now)
	t.applyValidity()
	t.last = outcome
	events := t.pending
	t.pending = nil
	requests := t.requests
	t.requests = nil
	t.mu.Unlock()

	// The motor layer may write to a slow link, keep it off the lock
	for _, motor := range requests {
		t.motors.RequestTelemetry(motor)
	}
	for _, ev := range events {
		for _, fn := range t.observers {
			fn(ev)
		}
	}
	return outcome
}

// applyValidity zeroes the fields of every active motor that failed the
// protocol's validity check
func (t *Telemetry) applyValidity() {
	for i := 0; i < t.motorCount(); i++ {
		if !t.src.valid(t.store.Reading(i)) {
			t.store.Invalidate(i)
		}
	}
}

// LastOutcome returns the result of the most recent Process call
func (t *Telemetry) LastOutcome() PollOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Telemetry) storeIndex(motor int) (int, error) {
	if t.src == nil || motor < 0 || motor >= t.liveMotors() {
		return 0, fmt.Errorf("%w: motor %d", ErrNoData, motor)
	}
	i := t.src.slot(motor)
	if i >= t.store.Len() {
		return 0, fmt.Errorf("%w: motor %d", ErrNoData, motor)
	}
	return i, nil
}

// Reading returns the current reading of one motor
func (t *Telemetry) Reading(motor int) (Reading, error) {
	i, err := t.storeIndex(motor)
	if err != nil {
		return Reading{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Reading(i), nil
}

// Readings returns the current reading of every store slot
func (t *Telemetry) Readings() []Reading {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Reading, t.store.Len())
	for i := range out {
		out[i] = t.store.Reading(i)
	}
	return out
}

// Combined returns the aggregate reading across all motors
func (t *Telemetry) Combined() (Reading, error) {
	if t.src == nil {
		return Reading{}, ErrNoData
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Combined(t.motorCount()), nil
}

// Valid reports whether the reading of one motor is fresh enough to use
func (t *Telemetry) Valid(motor int) bool {
	i, err := t.storeIndex(motor)
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.src.valid(t.store.Reading(i))
}

// CombinedValid reports whether the combined reading is fresh enough to use
func (t *Telemetry) CombinedValid() bool {
	if t.src == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.src.valid(t.store.Combined(t.motorCount()))
}

// MotorRPM returns the mechanical RPM of one motor
func (t *Telemetry) MotorRPM(motor int) (int, error) {
	r, err := t.Reading(motor)
	if err != nil {
		return 0, err
	}
	return MechanicalRPM(int(r.RPM), t.cfg.PoleCount), nil
}

// Timeouts returns the number of KISS requests that went unanswered
func (t *Telemetry) Timeouts() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Timeouts
}

// CRCErrors returns the number of KISS frames rejected by checksum
func (t *Telemetry) CRCErrors() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.CRCErrors
}

// Stats returns a copy of all counters
func (t *Telemetry) Stats() Counters {
	t.mu.Lock()
	c := t.stats
	t.mu.Unlock()

	if k, ok := t.src.(*kissSource); ok {
		if d, ok := k.sink.(lateByteCounter); ok {
			c.LateBytes = d.Discarded()
		}
	}
	if h, ok := t.src.(*hobbywingSource); ok {
		if d, ok := h.bytes.(droppedByteCounter); ok {
			c.DroppedBytes = d.Dropped()
		}
	}
	return c
}

// liveMotors returns the motor layer's current count, bounded by the
// configured count
func (t *Telemetry) liveMotors() int {
	n := t.motors.MotorCount()
	if n > t.cfg.MotorCount {
		n = t.cfg.MotorCount
	}
	if n < 0 {
		n = 0
	}
	return n
}

// motorCount returns the number of store slots in use by the live motors
func (t *Telemetry) motorCount() int {
	n := t.liveMotors()
	if n > 0 {
		n = t.src.slots(n)
	}
	if n > t.store.Len() {
		n = t.store.Len()
	}
	return n
}

func (t *Telemetry) sample(name string, value int) {
	t.debug.Sample(name, value)
}

// emit queues ev for delivery once the lock is released
func (t *Telemetry) emit(ev Event) {
	if len(t.observers) == 0 {
		return
	}
	ev.Protocol = t.cfg.Protocol
	t.pending = append(t.pending, ev)
}
