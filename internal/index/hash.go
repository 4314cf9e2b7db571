// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"github.com/bpowers/seqdb/internal/ondisk"
)

// Sfold maps key to its home slot in a table of numSlots slots.
//
// The key is folded 4 bytes at a time, each chunk packed little-endian
// into an integer, and the chunks are summed.  The sum is squared, the
// low 8 bits are dropped (mid-square), and the absolute value is taken
// modulo numSlots.  Arithmetic is 64-bit and wraps.
func Sfold(key string, numSlots int64) int64 {
	var sum int64
	for i := 0; i < len(key); i += 4 {
		end := min(i+4, len(key))
		for k, c := range []byte(key[i:end]) {
			sum += int64(c) << (8 * k)
		}
	}

	sum = (sum * sum) >> 8
	if sum < 0 {
		sum = -sum
	}
	return sum % numSlots
}

// nextSlot returns the slot probed after slot: the next one up, except
// that the last slot of a bucket wraps around to the first slot of the
// same bucket.
func nextSlot(slot int64) int64 {
	if slot%ondisk.SlotsPerBucket == ondisk.SlotsPerBucket-1 {
		return slot - ondisk.SlotsPerBucket + 1
	}
	return slot + 1
}
