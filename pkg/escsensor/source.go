// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"errors"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
)

// ErrSourceEmpty is returned by ReadByte when nothing is buffered
var ErrSourceEmpty = errors.New("byte source empty")

// ByteSource is the receive side of a buffered serial stream
type ByteSource interface {
	// Buffered returns the number of bytes ready to read
	Buffered() int
	// ReadByte returns the next byte without blocking
	ReadByte() (byte, error)
}

// byteOfferer is implemented by sources that accept bytes from Receive
type byteOfferer interface {
	Offer(b byte) bool
}

// DefaultRingSize holds several cycles of Hobbywing traffic at 19200 baud
const DefaultRingSize = 1024

// RingSource is a lock-free single-producer/single-consumer byte queue
type RingSource struct {
	ring    *queue.RingBuffer
	dropped atomic.Uint64
}

// NewRingSource creates a ring of at least size bytes (rounded up to a
// power of two by the ring buffer)
func NewRingSource(size int) *RingSource {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingSource{ring: queue.NewRingBuffer(uint64(size))}
}

// Offer queues b, dropping it if the ring is full or disposed
func (r *RingSource) Offer(b byte) bool {
	ok, err := r.ring.Offer(b)
	if err != nil || !ok {
		r.dropped.Add(1)
		return false
	}
	return true
}

// Write queues p, counting bytes that do not fit as dropped
func (r *RingSource) Write(p []byte) (int, error) {
	for _, b := range p {
		r.Offer(b)
	}
	return len(p), nil
}

// Buffered returns the number of queued bytes
func (r *RingSource) Buffered() int {
	return int(r.ring.Len())
}

// ReadByte pops the next byte. Get blocks on an empty ring, so the length
// is checked first.
func (r *RingSource) ReadByte() (byte, error) {
	if r.ring.Len() == 0 {
		return 0, ErrSourceEmpty
	}
	item, err := r.ring.Get()
	if err != nil {
		return 0, err
	}
	b, ok := item.(byte)
	if !ok {
		return 0, errors.New("unexpected item in byte ring")
	}
	return b, nil
}

// Dropped returns how many bytes were lost to a full ring
func (r *RingSource) Dropped() uint64 {
	return r.dropped.Load()
}

// Dispose releases any reader blocked on the ring
func (r *RingSource) Dispose() {
	r.ring.Dispose()
}
