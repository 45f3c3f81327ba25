// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

// Hobbywing V4 calibration constants
const (
	hobbywingVoltageDivisor = 113.0
	hobbywingCurrentOffset  = 28
	hobbywingCurrentDivisor = 610.0
	hobbywingTempRawMax     = 3828
	hobbywingTempRawMin     = 1123
)

type tempBreakpoint struct {
	raw     uint16
	degrees uint16
}

// FET thermistor curve, indexed by (3828 - raw)
var hobbywingTempTable = [26]tempBreakpoint{
	{0, 1},
	{14, 2},
	{28, 3},
	{58, 5},
	{106, 8},
	{158, 11},
	{234, 15},
	{296, 18},
	{362, 21},
	{408, 23},
	{505, 27},
	{583, 30},
	{664, 33},
	{720, 35},
	{807, 38},
	{897, 41},
	{1021, 45},
	{1150, 49},
	{1315, 54},
	{1855, 70},
	{1978, 74},
	{2239, 82},
	{2387, 87},
	{2472, 90},
	{2656, 97},
	{2705, 99},
}

// CalcTemperature converts a raw Hobbywing thermistor reading to degrees C
func CalcTemperature(raw uint16) float64 {
	if raw >= hobbywingTempRawMax {
		return 0
	}
	if raw <= hobbywingTempRawMin {
		return 100
	}

	// value is in (0, 2705) here, so both neighbours always exist
	value := hobbywingTempRawMax - raw
	i := 0
	for i < len(hobbywingTempTable) && value >= hobbywingTempTable[i].raw {
		i++
	}
	lo := hobbywingTempTable[i-1]
	hi := hobbywingTempTable[i]

	span := float64(hi.raw - lo.raw)
	return float64(lo.degrees) + float64(hi.degrees-lo.degrees)*float64(value-lo.raw)/span
}

// CalcCurrent converts a raw Hobbywing current reading to amps
func CalcCurrent(raw uint16) float64 {
	if raw <= hobbywingCurrentOffset {
		return 0
	}
	return float64(raw-hobbywingCurrentOffset) / hobbywingCurrentDivisor
}

// CalcVoltage converts a raw Hobbywing voltage reading to volts
func CalcVoltage(raw uint16) float64 {
	return float64(raw) / hobbywingVoltageDivisor
}

// integrateConsumption adds the charge drawn over elapsedMs at current
// (0.01 A units) to an accumulator in mAh
func integrateConsumption(acc float64, elapsedMs int64, current int32) float64 {
	return acc + float64(elapsedMs)*float64(current)*10.0/(1000.0*3600.0)
}
