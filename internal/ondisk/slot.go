// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bpowers/seqdb/internal/datafile"
)

const (
	// SlotSize is the on-disk size of a slot: four big-endian int32s
	// (idOffset, idLength, seqOffset, seqLength).
	SlotSize       = 16
	SlotsPerBucket = 32
	BucketSize     = SlotSize * SlotsPerBucket

	emptySentinel     = int32(-1)
	tombstoneSentinel = int32(-2)
)

var ErrCorruptSlot = errors.New("corrupt slot")

type SlotState uint8

const (
	Empty SlotState = iota
	Tombstone
	Occupied
)

func (s SlotState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Tombstone:
		return "tombstone"
	case Occupied:
		return "occupied"
	default:
		return fmt.Sprintf("SlotState(%d)", uint8(s))
	}
}

// Slot is one index entry.  ID and Seq are only meaningful when State
// is Occupied.
type Slot struct {
	State SlotState
	ID    datafile.Handle
	Seq   datafile.Handle
}

func EmptySlot() Slot {
	return Slot{State: Empty}
}

func TombstoneSlot() Slot {
	return Slot{State: Tombstone}
}

func OccupiedSlot(id, seq datafile.Handle) Slot {
	return Slot{State: Occupied, ID: id, Seq: seq}
}

// Available reports whether an insert may claim the slot.
func (s Slot) Available() bool {
	return s.State != Occupied
}

func (s Slot) fields() [4]int32 {
	switch s.State {
	case Empty:
		return [4]int32{emptySentinel, emptySentinel, emptySentinel, emptySentinel}
	case Tombstone:
		return [4]int32{tombstoneSentinel, tombstoneSentinel, tombstoneSentinel, tombstoneSentinel}
	default:
		return [4]int32{int32(s.ID.Offset), int32(s.ID.Length), int32(s.Seq.Offset), int32(s.Seq.Length)}
	}
}

// MarshalTo writes the slot's 16-byte encoding to b.
func (s Slot) MarshalTo(b []byte) error {
	if len(b) < SlotSize {
		return fmt.Errorf("slot buffer too short: %d < %d", len(b), SlotSize)
	}
	if s.State == Occupied {
		for _, v := range []uint32{s.ID.Offset, s.ID.Length, s.Seq.Offset, s.Seq.Length} {
			if v > datafile.MaxRecordOffset {
				return fmt.Errorf("handle field %d doesn't fit in an int32", v)
			}
		}
	}
	for i, v := range s.fields() {
		binary.BigEndian.PutUint32(b[4*i:4*i+4], uint32(v))
	}
	return nil
}

// UnmarshalBytes decodes a slot from its 16-byte encoding.
func (s *Slot) UnmarshalBytes(b []byte) error {
	if len(b) < SlotSize {
		return fmt.Errorf("slot buffer too short: %d < %d", len(b), SlotSize)
	}
	var f [4]int32
	for i := range f {
		f[i] = int32(binary.BigEndian.Uint32(b[4*i : 4*i+4]))
	}

	switch {
	case f == [4]int32{emptySentinel, emptySentinel, emptySentinel, emptySentinel}:
		*s = EmptySlot()
	case f == [4]int32{tombstoneSentinel, tombstoneSentinel, tombstoneSentinel, tombstoneSentinel}:
		*s = TombstoneSlot()
	case f[0] >= 0 && f[1] >= 0 && f[2] >= 0 && f[3] >= 0:
		*s = OccupiedSlot(
			datafile.Handle{Offset: uint32(f[0]), Length: uint32(f[1])},
			datafile.Handle{Offset: uint32(f[2]), Length: uint32(f[3])},
		)
	default:
		return fmt.Errorf("%w: fields %v", ErrCorruptSlot, f)
	}
	return nil
}
