// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitset

import (
	"math/bits"
)

// Bitset is an in-memory bitmap that is conceptually similar to []bool, but more memory efficient.
type Bitset struct {
	bits   []uint64
	length int64
}

func getOffsets(off int64) (sliceOff int64, bitOff uint64) {
	sliceOff = off / 64
	bitOff = uint64(off) % 64
	return
}

// New returns a new in-memory bitset where you can set, clear and test for individual bits.
func New(length int64) *Bitset {
	sliceLen := (length + 63) / 64
	return &Bitset{
		bits:   make([]uint64, sliceLen),
		length: length,
	}
}

// Len returns the number of bits in the set.
func (b *Bitset) Len() int64 {
	return b.length
}

// Set sets the bit at position `off` to 1.
func (b *Bitset) Set(off int64) {
	if off < 0 || off >= b.length {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	b.bits[sliceOff] |= 1 << bitOff
}

// SetRange sets the n bits starting at `off` to 1.
func (b *Bitset) SetRange(off, n int64) {
	for i := off; i < off+n; i++ {
		b.Set(i)
	}
}

// Clear sets the bit at position `off` to 0.
func (b *Bitset) Clear(off int64) {
	if off < 0 || off >= b.length {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	b.bits[sliceOff] &= ^(1 << bitOff)
}

// IsSet returns true if the bit at position `off` is 1.
func (b *Bitset) IsSet(off int64) bool {
	if off < 0 || off >= b.length {
		return false
	}
	sliceOff, bitOff := getOffsets(off)
	return b.bits[sliceOff]&(1<<bitOff) != 0
}

// NextSet returns the position of the first 1 bit at or after `from`, or -1.
func (b *Bitset) NextSet(from int64) int64 {
	return b.next(from, false)
}

// NextClear returns the position of the first 0 bit at or after `from`, or -1.
func (b *Bitset) NextClear(from int64) int64 {
	return b.next(from, true)
}

func (b *Bitset) next(from int64, invert bool) int64 {
	if from < 0 {
		from = 0
	}
	if from >= b.length {
		return -1
	}
	sliceOff, bitOff := getOffsets(from)
	for i := sliceOff; i < int64(len(b.bits)); i++ {
		word := b.bits[i]
		if invert {
			word = ^word
		}
		if i == sliceOff {
			word &= ^uint64(0) << bitOff
		}
		if word != 0 {
			off := i*64 + int64(bits.TrailingZeros64(word))
			if off >= b.length {
				return -1
			}
			return off
		}
	}
	return -1
}
