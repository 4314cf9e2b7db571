// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index implements a paged, open-addressing hash table from
// identifiers to sequences.
//
// Slots live in an index file organized as buckets of 32 slots, one of
// which is cached in memory at a time (see ondisk.BucketCache).  A key's
// home slot is chosen by Sfold, and collisions are resolved by linear
// probing that wraps around inside the home slot's bucket: a key never
// lives outside its home bucket, so a full bucket means a full table for
// every key that hashes into it.
//
// The slots themselves only hold handles; identifiers and sequences are
// kept in a Records store.
package index

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bpowers/seqdb/internal/codec"
	"github.com/bpowers/seqdb/internal/datafile"
	"github.com/bpowers/seqdb/internal/ondisk"
)

var (
	ErrTableFull    = errors.New("hash table bucket is full")
	ErrDuplicateKey = errors.New("key already exists")
	ErrNotFound     = errors.New("key not found")
	ErrEmptyKey     = errors.New("empty key not supported")
)

// Records stores the identifier and sequence text slots point at.
type Records interface {
	Store(text string) (datafile.Handle, error)
	Retrieve(h datafile.Handle) (string, error)
	Remove(h datafile.Handle) error
}

// Option configures a Table.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets an optional logger.  If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

type Table struct {
	numSlots int64
	buckets  *ondisk.BucketCache
	records  Records
	count    int64
	logger   *slog.Logger
}

// New returns a Table over the (freshly formatted) buckets, storing
// keys and values in records.
func New(buckets *ondisk.BucketCache, records Records, opts ...Option) *Table {
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}

	return &Table{
		numSlots: buckets.Len() * ondisk.SlotsPerBucket,
		buckets:  buckets,
		records:  records,
		logger:   options.logger,
	}
}

// NumSlots returns the number of slots in the table.
func (t *Table) NumSlots() int64 {
	return t.numSlots
}

// Len returns the number of keys in the table.
func (t *Table) Len() int64 {
	return t.count
}

// probe visits the slots of key's probe sequence, starting at its home
// slot, until visit returns true or every slot of the home bucket has
// been seen.
func (t *Table) probe(key string, visit func(slot int64, s ondisk.Slot) (bool, error)) error {
	home := Sfold(key, t.numSlots)
	slot := home
	for {
		s, err := t.buckets.Get(slot)
		if err != nil {
			return err
		}
		if stop, err := visit(slot, s); err != nil || stop {
			return err
		}
		slot = nextSlot(slot)
		if slot == home {
			return nil
		}
	}
}

// holds reports whether s is occupied by key.  The length is compared
// before the stored identifier is read back.
func (t *Table) holds(s ondisk.Slot, key string) (bool, error) {
	if s.State != ondisk.Occupied || int(s.ID.Length) != len(key) {
		return false, nil
	}
	stored, err := t.records.Retrieve(s.ID)
	if err != nil {
		return false, fmt.Errorf("records.Retrieve(%s): %w", s.ID, err)
	}
	return stored == key, nil
}

// find returns the slot holding key, or -1.
func (t *Table) find(key string) (int64, ondisk.Slot, error) {
	found := int64(-1)
	var foundSlot ondisk.Slot
	err := t.probe(key, func(slot int64, s ondisk.Slot) (bool, error) {
		if s.State == ondisk.Empty {
			return true, nil
		}
		ok, err := t.holds(s, key)
		if err != nil || !ok {
			return false, err
		}
		found, foundSlot = slot, s
		return true, nil
	})
	return found, foundSlot, err
}

// Insert stores seq under id.  It fails with ErrDuplicateKey if id is
// already present and ErrTableFull if id's home bucket has no
// available slot; in both cases nothing is modified.
func (t *Table) Insert(id, seq string) error {
	if len(id) == 0 {
		return ErrEmptyKey
	}
	if err := codec.Validate(id); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if err := codec.Validate(seq); err != nil {
		return fmt.Errorf("sequence: %w", err)
	}

	// keep probing past the first available slot until an empty one, so
	// a copy of id sitting behind a tombstone is still caught
	claim := int64(-1)
	err := t.probe(id, func(slot int64, s ondisk.Slot) (bool, error) {
		if s.Available() {
			if claim < 0 {
				claim = slot
			}
			return s.State == ondisk.Empty, nil
		}
		if ok, err := t.holds(s, id); err != nil {
			return false, err
		} else if ok {
			return false, fmt.Errorf("%q in slot %d: %w", id, slot, ErrDuplicateKey)
		}
		t.logger.Debug("slot taken, probing", "slot", slot, "id", id)
		return false, nil
	})
	if err != nil {
		return err
	}
	if claim < 0 {
		return fmt.Errorf("%q: %w", id, ErrTableFull)
	}

	// record bytes are written before the slot that points at them
	idHandle, err := t.records.Store(id)
	if err != nil {
		return fmt.Errorf("records.Store(id): %w", err)
	}
	seqHandle, err := t.records.Store(seq)
	if err != nil {
		_ = t.records.Remove(idHandle)
		return fmt.Errorf("records.Store(seq): %w", err)
	}
	if err := t.buckets.Put(claim, ondisk.OccupiedSlot(idHandle, seqHandle)); err != nil {
		_ = t.records.Remove(seqHandle)
		_ = t.records.Remove(idHandle)
		return fmt.Errorf("buckets.Put(%d): %w", claim, err)
	}

	t.count++
	t.logger.Debug("took slot", "slot", claim, "id", id, "id_handle", idHandle, "seq_handle", seqHandle)
	return nil
}

// Remove deletes id, leaving a tombstone in its slot and releasing the
// record bytes of both the identifier and the sequence.
func (t *Table) Remove(id string) error {
	slot, s, err := t.find(id)
	if err != nil {
		return err
	}
	if slot < 0 {
		return fmt.Errorf("%q: %w", id, ErrNotFound)
	}

	if err := t.buckets.Put(slot, ondisk.TombstoneSlot()); err != nil {
		return fmt.Errorf("buckets.Put(%d): %w", slot, err)
	}
	t.count--
	t.logger.Debug("removed", "slot", slot, "id", id)

	return errors.Join(t.records.Remove(s.ID), t.records.Remove(s.Seq))
}

// Search returns the sequence stored under id.
func (t *Table) Search(id string) (string, error) {
	slot, s, err := t.find(id)
	if err != nil {
		return "", err
	}
	if slot < 0 {
		return "", fmt.Errorf("%q: %w", id, ErrNotFound)
	}

	seq, err := t.records.Retrieve(s.Seq)
	if err != nil {
		return "", fmt.Errorf("records.Retrieve(%s): %w", s.Seq, err)
	}
	return seq, nil
}

// Entry describes a non-empty slot.  ID is only set for occupied slots.
type Entry struct {
	Slot  int64
	State ondisk.SlotState
	ID    string
	IDRef datafile.Handle
	Seq   datafile.Handle
}

// Scan calls fn for every occupied or tombstoned slot in table order,
// loading each bucket in turn.
func (t *Table) Scan(fn func(e Entry) error) error {
	for slot := int64(0); slot < t.numSlots; slot++ {
		s, err := t.buckets.Get(slot)
		if err != nil {
			return err
		}
		e := Entry{Slot: slot, State: s.State}
		switch s.State {
		case ondisk.Empty:
			continue
		case ondisk.Occupied:
			id, err := t.records.Retrieve(s.ID)
			if err != nil {
				return fmt.Errorf("slot %d: records.Retrieve(%s): %w", slot, s.ID, err)
			}
			e.ID, e.IDRef, e.Seq = id, s.ID, s.Seq
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
