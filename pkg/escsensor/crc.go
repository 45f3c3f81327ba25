// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

// CalculateCRC8 computes the KISS telemetry CRC-8 (poly 0x07) for the given data
func CalculateCRC8(data []byte) byte {
	crc := byte(crc8Initial)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
