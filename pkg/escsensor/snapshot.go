// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MotorSnapshot is one motor's state at snapshot time
type MotorSnapshot struct {
	Motor   int     `json:"motor" cbor:"0,keyasint"`
	Reading Reading `json:"reading" cbor:"1,keyasint"`
	Valid   bool    `json:"valid" cbor:"2,keyasint"`
	RPM     int     `json:"mechanical_rpm" cbor:"3,keyasint"`
}

// Snapshot is the full decoder state at one instant, used by the stream
// endpoint and capture files
type Snapshot struct {
	TimestampMs   int64           `json:"timestamp_ms" cbor:"0,keyasint"`
	Protocol      Protocol        `json:"protocol" cbor:"1,keyasint"`
	Motors        []MotorSnapshot `json:"motors" cbor:"2,keyasint"`
	Combined      Reading         `json:"combined" cbor:"3,keyasint"`
	CombinedValid bool            `json:"combined_valid" cbor:"4,keyasint"`
	Counters      Counters        `json:"counters" cbor:"5,keyasint"`
}

// Time returns the snapshot timestamp
func (s Snapshot) Time() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Snapshot captures the current state of every configured motor
func (t *Telemetry) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		TimestampMs: now.UnixMilli(),
		Protocol:    t.cfg.Protocol,
		Counters:    t.Stats(),
	}
	for m := 0; m < t.cfg.MotorCount; m++ {
		r, err := t.Reading(m)
		if err != nil {
			continue
		}
		s.Motors = append(s.Motors, MotorSnapshot{
			Motor:   m,
			Reading: r,
			Valid:   t.Valid(m),
			RPM:     MechanicalRPM(int(r.RPM), t.cfg.PoleCount),
		})
	}
	if c, err := t.Combined(); err == nil {
		s.Combined = c
		s.CombinedValid = t.CombinedValid()
	}
	return s
}

// EncodeSnapshot serializes a snapshot as CBOR
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a CBOR snapshot
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}

// SnapshotWriter appends snapshots to a CBOR sequence
type SnapshotWriter struct {
	enc *cbor.Encoder
}

// NewSnapshotWriter writes snapshots to w
func NewSnapshotWriter(w io.Writer) *SnapshotWriter {
	return &SnapshotWriter{enc: cbor.NewEncoder(w)}
}

// Write appends one snapshot
func (w *SnapshotWriter) Write(s Snapshot) error {
	if err := w.enc.Encode(s); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotReader reads snapshots from a CBOR sequence
type SnapshotReader struct {
	dec *cbor.Decoder
}

// NewSnapshotReader reads snapshots from r
func NewSnapshotReader(r io.Reader) *SnapshotReader {
	return &SnapshotReader{dec: cbor.NewDecoder(r)}
}

// Read returns the next snapshot, or io.EOF at the end of the sequence
func (r *SnapshotReader) Read() (Snapshot, error) {
	var s Snapshot
	if err := r.dec.Decode(&s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
