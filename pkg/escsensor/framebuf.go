// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import "sync"

// FrameSink collects a fixed-length frame one byte at a time.
//
// Push is called from the receive goroutine; everything else is called from
// the goroutine that drives Process. Arm is the synchronization point: a
// byte pushed before Arm never lands in the frame armed by it.
type FrameSink interface {
	// Arm resets the write position and expects size bytes
	Arm(size int)
	// Disarm discards every byte until the next Arm
	Disarm()
	// Push stores one byte, returning false if it was discarded
	Push(b byte) bool
	// Complete reports whether the armed frame is full
	Complete() bool
	// Filled returns the number of bytes stored since Arm
	Filled() int
	// Bytes returns a copy of the stored bytes
	Bytes() []byte
}

// FrameBuffer is a mutex-guarded FrameSink
type FrameBuffer struct {
	mu        sync.Mutex
	data      []byte
	size      int
	position  int
	armed     bool
	discarded uint64
}

// NewFrameBuffer allocates a frame buffer with a fixed capacity
func NewFrameBuffer(capacity int) *FrameBuffer {
	return &FrameBuffer{
		data: make([]byte, capacity),
	}
}

// Arm resets the buffer for a read of size bytes (clamped to capacity)
func (f *FrameBuffer) Arm(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size > len(f.data) {
		size = len(f.data)
	}
	if size < 0 {
		size = 0
	}
	f.size = size
	f.position = 0
	f.armed = true
}

// Disarm drops every byte received until the next Arm
func (f *FrameBuffer) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
}

// Push stores b at the current position. It is a no-op once the frame is
// complete or while the buffer is disarmed.
func (f *FrameBuffer) Push(b byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed || f.position >= f.size {
		f.discarded++
		return false
	}
	f.data[f.position] = b
	f.position++
	return true
}

// Complete reports whether the armed frame has been filled
func (f *FrameBuffer) Complete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position == f.size
}

// Filled returns how many bytes have been stored since the last Arm
func (f *FrameBuffer) Filled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// Bytes returns a copy of the bytes stored since the last Arm
func (f *FrameBuffer) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, f.position)
	copy(out, f.data[:f.position])
	return out
}

// Discarded returns the number of bytes dropped because the buffer was
// disarmed or already complete
func (f *FrameBuffer) Discarded() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discarded
}
