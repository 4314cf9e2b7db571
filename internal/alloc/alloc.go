// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package alloc hands out byte ranges inside a single growable file.
//
// Free ranges are kept in a B-tree ordered by offset.  Allocation is
// first fit by ascending offset: the lowest-addressed free block that is
// large enough is used, and any remainder is put back.  When nothing
// fits the file grows at its tail.  Released ranges are merged with
// free neighbors on either side, so two free blocks are never adjacent.
//
// At all times the sizes of the free blocks plus the sizes of the live
// allocations add up to Len().
package alloc

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

const btreeDegree = 8

var (
	ErrNegativeSize = errors.New("negative allocation size")
	ErrDoubleFree   = errors.New("range overlaps a free block")
)

// Block is a free byte range.
type Block struct {
	Offset int64
	Size   int64
}

// End returns the offset one past the last byte of the block.
func (b Block) End() int64 {
	return b.Offset + b.Size
}

func (b Block) String() string {
	return fmt.Sprintf("%d+%d", b.Offset, b.Size)
}

func byOffset(a, b Block) bool {
	return a.Offset < b.Offset
}

type Allocator struct {
	free *btree.BTreeG[Block]
	len  int64
}

// New returns an Allocator managing an empty file.
func New() *Allocator {
	return &Allocator{
		free: btree.NewG[Block](btreeDegree, byOffset),
	}
}

// Len returns the length of the managed file in bytes.
func (a *Allocator) Len() int64 {
	return a.len
}

// Allocate reserves size bytes and returns their offset.  A zero-sized
// request reserves nothing and returns offset 0.
func (a *Allocator) Allocate(size int64) (int64, error) {
	if size < 0 {
		return 0, ErrNegativeSize
	}
	if size == 0 {
		return 0, nil
	}

	var (
		fit   Block
		found bool
	)
	a.free.Ascend(func(b Block) bool {
		if b.Size >= size {
			fit, found = b, true
			return false
		}
		return true
	})

	if !found {
		off := a.len
		a.len += size
		return off, nil
	}

	a.free.Delete(fit)
	if fit.Size > size {
		a.free.ReplaceOrInsert(Block{Offset: fit.Offset + size, Size: fit.Size - size})
	}
	return fit.Offset, nil
}

// Release returns [off, off+size) to the free set, merging it with any
// free block that ends at off or starts at off+size.
func (a *Allocator) Release(off, size int64) error {
	if size < 0 {
		return ErrNegativeSize
	}
	if size == 0 {
		return nil
	}
	if off < 0 || off+size > a.len {
		return fmt.Errorf("release %d+%d outside of file (len %d)", off, size, a.len)
	}

	released := Block{Offset: off, Size: size}

	prev, hasPrev := a.predecessor(off)
	if hasPrev && prev.End() > off {
		return fmt.Errorf("release %s: %w %s", released, ErrDoubleFree, prev)
	}
	next, hasNext := a.successor(off)
	if hasNext && next.Offset < released.End() {
		return fmt.Errorf("release %s: %w %s", released, ErrDoubleFree, next)
	}

	if hasPrev && prev.End() == off {
		a.free.Delete(prev)
		released = Block{Offset: prev.Offset, Size: prev.Size + released.Size}
	}
	if hasNext && next.Offset == released.End() {
		a.free.Delete(next)
		released.Size += next.Size
	}
	a.free.ReplaceOrInsert(released)

	return nil
}

// predecessor returns the free block with the greatest offset <= off.
func (a *Allocator) predecessor(off int64) (b Block, ok bool) {
	a.free.DescendLessOrEqual(Block{Offset: off}, func(item Block) bool {
		b, ok = item, true
		return false
	})
	return
}

// successor returns the free block with the smallest offset > off.
func (a *Allocator) successor(off int64) (b Block, ok bool) {
	a.free.AscendGreaterOrEqual(Block{Offset: off + 1}, func(item Block) bool {
		b, ok = item, true
		return false
	})
	return
}

// FreeBlocks returns every free block in ascending offset order.
func (a *Allocator) FreeBlocks() []Block {
	blocks := make([]Block, 0, a.free.Len())
	a.free.Ascend(func(b Block) bool {
		blocks = append(blocks, b)
		return true
	})
	return blocks
}

// FreeBytes returns the total size of all free blocks.
func (a *Allocator) FreeBytes() int64 {
	var n int64
	a.free.Ascend(func(b Block) bool {
		n += b.Size
		return true
	})
	return n
}
