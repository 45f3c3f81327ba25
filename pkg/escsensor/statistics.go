// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates for the analyzer
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	CRCErrors       uint64
	Timeouts        uint64
	Resyncs         uint64
	AnomalousValues uint64
	OverTemp        uint64
	VoltageRange    uint64
	OverCurrent     uint64
	RPMNoVoltage    uint64

	// Copied from the decoder counters
	SkippedBytes uint64
	LateBytes    uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one telemetry event and its validation result
func (s *Statistics) Update(ev Event, validationErrors []ValidationError) {
	switch ev.Kind {
	case EventCRCError:
		s.TotalFrames++
		s.CRCErrors++
		return
	case EventTimeout:
		s.Timeouts++
		return
	case EventResync:
		s.Resyncs++
		return
	}

	s.TotalFrames++
	if len(validationErrors) == 0 {
		s.ValidFrames++
	}
	for _, err := range validationErrors {
		s.AnomalousValues++
		switch err.Type {
		case ANOMALY_OVER_TEMP:
			s.OverTemp++
		case ANOMALY_VOLTAGE_RANGE:
			s.VoltageRange++
		case ANOMALY_OVER_CURRENT:
			s.OverCurrent++
		case ANOMALY_RPM_NO_VOLTAGE:
			s.RPMNoVoltage++
		}
	}

	s.LastUpdateTime = time.Now()
}

// UpdateCounters copies the byte-level counters of a decoder
func (s *Statistics) UpdateCounters(c Counters) {
	s.SkippedBytes = c.SkippedBytes
	s.LateBytes = c.LateBytes
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.CRCErrors + s.Timeouts + s.Resyncs + s.AnomalousValues
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, crcErrorPercent, anomalousPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcErrorPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
		anomalousPercent = float64(s.AnomalousValues) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcErrorPercent)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.Resyncs > 0 {
		result += fmt.Sprintf("Resyncs:         %8d (%d bytes skipped)\n", s.Resyncs, s.SkippedBytes)
	}
	if s.LateBytes > 0 {
		result += fmt.Sprintf("Late Bytes:      %8d\n", s.LateBytes)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, anomalousPercent)
		if s.OverTemp > 0 {
			result += fmt.Sprintf("  Over Temp:        %5d\n", s.OverTemp)
		}
		if s.VoltageRange > 0 {
			result += fmt.Sprintf("  Voltage Range:    %5d\n", s.VoltageRange)
		}
		if s.OverCurrent > 0 {
			result += fmt.Sprintf("  Over Current:     %5d\n", s.OverCurrent)
		}
		if s.RPMNoVoltage > 0 {
			result += fmt.Sprintf("  RPM w/o Voltage:  %5d\n", s.RPMNoVoltage)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = Statistics{}
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
}
