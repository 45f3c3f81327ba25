// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"sort"
	"sync"

	"go.viam.com/rdk/logging"
)

// DebugSink receives named integer samples from the polling loop
type DebugSink interface {
	Sample(name string, value int)
}

type nopSink struct{}

func (nopSink) Sample(string, int) {}

// LoggerSink writes every sample to a logger at debug level
type LoggerSink struct {
	Logger logging.Logger
}

// Sample logs one value
func (s LoggerSink) Sample(name string, value int) {
	s.Logger.Debugw("ESC debug sample", "name", name, "value", value)
}

// DebugValues keeps the latest value of every sample, for display
type DebugValues struct {
	mu     sync.Mutex
	values map[string]int
}

// NewDebugValues creates an empty sample table
func NewDebugValues() *DebugValues {
	return &DebugValues{values: make(map[string]int)}
}

// Sample records value under name
func (d *DebugValues) Sample(name string, value int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[name] = value
}

// Get returns the latest value for name
func (d *DebugValues) Get(name string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[name]
	return v, ok
}

// Names returns the recorded sample names in sorted order
func (d *DebugValues) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.values))
	for name := range d.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
