// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

// Store holds the latest reading per motor and a lazily computed combined
// reading. It is not safe for concurrent use; Telemetry serializes access.
type Store struct {
	motors    []Reading
	combined  Reading
	combinedN int
	dirty     bool
}

// NewStore creates a store with n motors, all invalid
func NewStore(n int) *Store {
	if n < 0 {
		n = 0
	}
	s := &Store{
		motors:   make([]Reading, n),
		combined: invalidReading(),
	}
	for i := range s.motors {
		s.motors[i] = invalidReading()
	}
	return s
}

// Len returns the number of motor slots
func (s *Store) Len() int {
	return len(s.motors)
}

func (s *Store) inRange(i int) bool {
	return i >= 0 && i < len(s.motors)
}

// Reading returns the reading of motor i, or an invalid reading when i is
// out of range
func (s *Store) Reading(i int) Reading {
	if !s.inRange(i) {
		return invalidReading()
	}
	return s.motors[i]
}

// Set replaces the reading of motor i
func (s *Store) Set(i int, r Reading) {
	if !s.inRange(i) {
		return
	}
	if s.motors[i] != r {
		s.motors[i] = r
		s.dirty = true
	}
}

// Update applies fn to the reading of motor i
func (s *Store) Update(i int, fn func(*Reading)) {
	if !s.inRange(i) {
		return
	}
	r := s.motors[i]
	fn(&r)
	s.Set(i, r)
}

// IncreaseAge ages motor i by one cycle, saturating at AgeInvalid
func (s *Store) IncreaseAge(i int) {
	if !s.inRange(i) {
		return
	}
	if s.motors[i].increaseAge() {
		s.dirty = true
	}
}

// Invalidate zeroes the electrical fields of motor i and of the combined
// cache. Temperature and age are kept so the reading still shows why it
// was rejected.
func (s *Store) Invalidate(i int) {
	if !s.inRange(i) {
		return
	}
	if s.motors[i].clearElectrical() {
		s.dirty = true
	}
	s.combined.clearElectrical()
}

// Combined returns the aggregate across the first n motors, recomputing it
// only when a motor or n changed since the last call
func (s *Store) Combined(n int) Reading {
	if n > len(s.motors) {
		n = len(s.motors)
	}
	if n < 0 {
		n = 0
	}
	if !s.dirty && n == s.combinedN {
		return s.combined
	}
	s.combined = aggregate(s.motors[:n])
	s.combinedN = n
	s.dirty = false
	return s.combined
}

// Dirty reports whether the combined cache is out of date
func (s *Store) Dirty() bool {
	return s.dirty
}

// aggregate takes the worst age and temperature, sums the electrical
// fields, and averages voltage and rpm
func aggregate(motors []Reading) Reading {
	var c Reading
	if len(motors) == 0 {
		return invalidReading()
	}
	for _, m := range motors {
		if m.Age > c.Age {
			c.Age = m.Age
		}
		if m.Temperature > c.Temperature {
			c.Temperature = m.Temperature
		}
		c.Voltage += m.Voltage
		c.Current += m.Current
		c.Consumption += m.Consumption
		c.RPM += m.RPM
	}
	c.Voltage /= uint32(len(motors))
	c.RPM /= int32(len(motors))
	return c
}
