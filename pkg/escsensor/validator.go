// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import "fmt"

// AnomalyType represents different types of reading anomalies
type AnomalyType int

const (
	ANOMALY_OVER_TEMP AnomalyType = iota
	ANOMALY_VOLTAGE_RANGE
	ANOMALY_OVER_CURRENT
	ANOMALY_RPM_NO_VOLTAGE
)

func (a AnomalyType) String() string {
	switch a {
	case ANOMALY_OVER_TEMP:
		return "OVER_TEMP"
	case ANOMALY_VOLTAGE_RANGE:
		return "VOLTAGE_RANGE"
	case ANOMALY_OVER_CURRENT:
		return "OVER_CURRENT"
	case ANOMALY_RPM_NO_VOLTAGE:
		return "RPM_NO_VOLTAGE"
	default:
		return "UNKNOWN"
	}
}

// Validation limits
const (
	MaxTemperature = 120  // deg C
	MinVoltage     = 300  // 0.01 V, below a 1S cell
	MaxVoltage     = 5200 // 0.01 V, above a 12S pack
	MaxCurrent     = 20000
)

// ValidationError represents a reading that decoded correctly but holds
// implausible values
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateReading checks a freshly decoded reading for implausible values.
// Returns a slice of validation errors (empty if the reading is plausible).
func ValidateReading(motor int, r Reading) []ValidationError {
	errors := []ValidationError{}

	if r.Temperature > MaxTemperature {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_OVER_TEMP,
			Message: fmt.Sprintf("Motor %d: Temperature %d°C above %d°C", motor, r.Temperature, MaxTemperature),
			Details: map[string]interface{}{"motor": motor, "temperature": r.Temperature, "max": MaxTemperature},
		})
	}

	// 0 V is a powered-down ESC, not an anomaly
	if r.Voltage != 0 && (r.Voltage < MinVoltage || r.Voltage > MaxVoltage) {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_VOLTAGE_RANGE,
			Message: fmt.Sprintf("Motor %d: Voltage %.2fV out of range (%.2f-%.2fV)", motor, r.VoltageVolts(), float64(MinVoltage)/100, float64(MaxVoltage)/100),
			Details: map[string]interface{}{"motor": motor, "voltage": r.Voltage, "min": MinVoltage, "max": MaxVoltage},
		})
	}

	if r.Current > MaxCurrent || r.Current < 0 {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_OVER_CURRENT,
			Message: fmt.Sprintf("Motor %d: Current %.2fA out of range (max %.2fA)", motor, r.CurrentAmps(), float64(MaxCurrent)/100),
			Details: map[string]interface{}{"motor": motor, "current": r.Current, "max": MaxCurrent},
		})
	}

	if r.RPM > 0 && r.Voltage == 0 {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_RPM_NO_VOLTAGE,
			Message: fmt.Sprintf("Motor %d: Spinning at %d eRPM with no voltage", motor, r.ERPM()),
			Details: map[string]interface{}{"motor": motor, "rpm": r.RPM},
		})
	}

	return errors
}
