// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

// Reading holds the latest sensor values for one motor, or the combined view
type Reading struct {
	Age         uint8  `json:"age" cbor:"0,keyasint"`         // polling cycles since last valid update
	Temperature int16  `json:"temperature" cbor:"1,keyasint"` // degrees C
	Voltage     uint32 `json:"voltage" cbor:"2,keyasint"`     // 0.01 V
	Current     int32  `json:"current" cbor:"3,keyasint"`     // 0.01 A
	Consumption int32  `json:"consumption" cbor:"4,keyasint"` // mAh
	RPM         int32  `json:"rpm" cbor:"5,keyasint"`         // eRPM / 100
}

// invalidReading is the state of a motor that has never reported
func invalidReading() Reading {
	return Reading{Age: AgeInvalid}
}

// VoltageVolts returns the voltage in volts
func (r Reading) VoltageVolts() float64 {
	return float64(r.Voltage) / 100.0
}

// CurrentAmps returns the current in amps
func (r Reading) CurrentAmps() float64 {
	return float64(r.Current) / 100.0
}

// ERPM returns the full electrical RPM
func (r Reading) ERPM() int {
	return int(r.RPM) * 100
}

// Stale reports whether the reading has saturated at AgeInvalid
func (r Reading) Stale() bool {
	return r.Age == AgeInvalid
}

// increaseAge ages the reading by one cycle, saturating at AgeInvalid.
// Returns false if the age was already saturated.
func (r *Reading) increaseAge() bool {
	if r.Age >= AgeInvalid {
		return false
	}
	r.Age++
	return true
}

// clearElectrical zeroes every field a consumer could act on.
// Returns true if anything changed.
func (r *Reading) clearElectrical() bool {
	changed := r.Voltage != 0 || r.Current != 0 || r.Consumption != 0 || r.RPM != 0
	r.Voltage = 0
	r.Current = 0
	r.Consumption = 0
	r.RPM = 0
	return changed
}
