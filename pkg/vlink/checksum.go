// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

// Checksum returns the byte that brings the sum of data to zero modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

// SumZero reports whether data sums to zero modulo 256.
func SumZero(data []byte) bool {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum == 0
}
