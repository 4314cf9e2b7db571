// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package codec packs strings over the four-base alphabet (A, C, G, T)
// into 2 bits per base, 4 bases per byte.  The first base of each group
// of 4 occupies the most-significant 2 bits of its byte:
//
//	 7  6   5  4   3  2   1  0
//	+------+------+------+------+
//	| b[0] | b[1] | b[2] | b[3] |
//	+------+------+------+------+
//
// A final partial byte is padded with zero bits, so the logical (unpacked)
// length has to be carried alongside the packed bytes to decode them.
package codec

import (
	"fmt"
	"strings"
)

const (
	BasesPerByte = 4
	bitsPerBase  = 2
	baseMask     = (1 << bitsPerBase) - 1
)

// alphabet maps a 2-bit code back to its base.
const alphabet = "ACGT"

// codes maps a byte to its 2-bit code, or -1 if it isn't a base.
var codes = func() [256]int8 {
	var c [256]int8
	for i := range c {
		c[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		c[alphabet[i]] = int8(i)
	}
	return c
}()

// EncodingError reports a character outside the supported alphabet.
type EncodingError struct {
	Char byte
	Pos  int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("unsupported base %q at position %d (want one of %q)", e.Char, e.Pos, alphabet)
}

// EncodedLen returns the number of packed bytes needed for n bases.
func EncodedLen(n int) int {
	return (n + BasesPerByte - 1) / BasesPerByte
}

// Validate returns an *EncodingError for the first byte of s that
// isn't a base, or nil.
func Validate(s string) error {
	for i := 0; i < len(s); i++ {
		if codes[s[i]] < 0 {
			return &EncodingError{Char: s[i], Pos: i}
		}
	}
	return nil
}

// Encode packs s into a newly allocated slice of EncodedLen(len(s)) bytes.
func Encode(s string) ([]byte, error) {
	dst := make([]byte, EncodedLen(len(s)))
	if err := EncodeTo(dst, s); err != nil {
		return nil, err
	}
	return dst, nil
}

// EncodeTo packs s into dst, which must be exactly EncodedLen(len(s))
// bytes long.  On error dst contents are unspecified.
func EncodeTo(dst []byte, s string) error {
	if len(dst) != EncodedLen(len(s)) {
		return fmt.Errorf("codec: dst len %d, want %d", len(dst), EncodedLen(len(s)))
	}
	for i := range dst {
		dst[i] = 0
	}
	for i := 0; i < len(s); i++ {
		code := codes[s[i]]
		if code < 0 {
			return &EncodingError{Char: s[i], Pos: i}
		}
		dst[i/BasesPerByte] |= byte(code) << shiftFor(i)
	}
	return nil
}

// Decode unpacks exactly n bases from b, ignoring padding bits in the
// final byte.
func Decode(b []byte, n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("codec: negative length %d", n)
	}
	if len(b) < EncodedLen(n) {
		return "", fmt.Errorf("codec: %d bytes too short for %d bases", len(b), n)
	}
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		code := (b[i/BasesPerByte] >> shiftFor(i)) & baseMask
		sb.WriteByte(alphabet[code])
	}
	return sb.String(), nil
}

func shiftFor(i int) uint {
	return uint((BasesPerByte - 1 - i%BasesPerByte) * bitsPerBase)
}
