// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

// MechanicalRPM converts a reported rpm value (eRPM / 100) into shaft RPM.
// A motor with fewer than two poles has no defined ratio and reports 0.
func MechanicalRPM(erpm int, poles int) int {
	pairs := poles / 2
	if pairs <= 0 {
		return 0
	}
	return erpm * 100 / pairs
}
