// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"context"
	"errors"
	"io"
	"time"
)

// Run calls Process at the configured rate until ctx is cancelled
func (t *Telemetry) Run(ctx context.Context) error {
	rate := t.cfg.RateHz
	if rate <= 0 {
		rate = DefaultRateHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			t.Process(now)
		}
	}
}

// Pump copies bytes from r into Receive until r fails or ctx is cancelled.
// The read itself is not interruptible; close r to unblock it.
func (t *Telemetry) Pump(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			t.Receive(b)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
