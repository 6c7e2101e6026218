// SPDX-License-Identifier: MIT

// Package bitint has power-of-two helpers for sizing FIFOs and transform
// lengths.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0.
//
// size-1 keeps exact powers of two unchanged: for 8 (0b1000), Len(7) is 3
// and 1<<3 is 8 again.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FloorPowerOfTwo returns the largest power of two <= n, and 0 for n <= 0.
func FloorPowerOfTwo(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(n)) - 1)
}
