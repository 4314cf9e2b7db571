// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodedLen(t *testing.T) {
	for _, testcase := range []struct {
		input    int
		expected int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{15, 4},
		{16, 4},
	} {
		require.Equal(t, testcase.expected, EncodedLen(testcase.input))
	}
}

func TestEncode_Layout(t *testing.T) {
	b, err := Encode("ACGT")
	require.NoError(t, err)
	// 00 01 10 11
	assert.Equal(t, []byte{0x1b}, b)

	b, err = Encode("TTTTG")
	require.NoError(t, err)
	// the padding bits of the final byte are zero
	assert.Equal(t, []byte{0xff, 0x80}, b)

	b, err = Encode("")
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestEncode_RejectsUnknownBases(t *testing.T) {
	for _, testcase := range []struct {
		input string
		char  byte
		pos   int
	}{
		{"N", 'N', 0},
		{"ACGTa", 'a', 4},
		{"AC GT", ' ', 2},
	} {
		_, err := Encode(testcase.input)
		require.Error(t, err)
		var encErr *EncodingError
		require.True(t, errors.As(err, &encErr))
		assert.Equal(t, testcase.char, encErr.Char)
		assert.Equal(t, testcase.pos, encErr.Pos)

		assert.Error(t, Validate(testcase.input))
	}
	assert.NoError(t, Validate("GATTACA"))
}

func TestEncodeTo_BadDst(t *testing.T) {
	err := EncodeTo(make([]byte, 3), "ACGT")
	assert.Error(t, err)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte{0x1b}, 5)
	assert.Error(t, err)

	_, err = Decode(nil, -1)
	assert.Error(t, err)
}

func TestDecode_IgnoresPadding(t *testing.T) {
	// garbage in the low bits of the last byte must not leak into the result
	s, err := Decode([]byte{0x1b, 0xc3}, 5)
	require.NoError(t, err)
	assert.Equal(t, "ACGTT", s)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 200; n++ {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(buf)
		b, err := Encode(s)
		require.NoError(t, err)
		require.Len(t, b, EncodedLen(n))
		decoded, err := Decode(b, n)
		require.NoError(t, err)
		require.Equal(t, s, decoded)
	}
}
