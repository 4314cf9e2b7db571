// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"fmt"
	"math"

	"github.com/bpowers/seqdb/internal/codec"
)

// MaxRecordOffset bounds both offsets and logical lengths, which are
// persisted in the index as signed 32-bit integers.
const MaxRecordOffset = math.MaxInt32

// Handle locates a stored record: Offset is a byte position in the
// record file, Length the number of bases (not packed bytes).
type Handle struct {
	Offset uint32
	Length uint32
}

// EncodedLen is the number of bytes the record occupies on disk.
func (h Handle) EncodedLen() int64 {
	return int64(codec.EncodedLen(int(h.Length)))
}

// cacheKey packs the handle into a single word for the record cache.
func (h Handle) cacheKey() uint64 {
	return uint64(h.Offset)<<32 | uint64(h.Length)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d+%d", h.Offset, h.EncodedLen())
}
