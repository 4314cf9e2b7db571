// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package seqdb is a disk-resident key/value store from DNA sequence
// identifiers to DNA sequences.
//
// Keys are indexed by a fixed-size, paged hash table kept in an index
// file; identifiers and sequences are packed 4 bases to a byte into a
// separate record file whose free space is reused first-fit.  Only one
// 512-byte bucket of the index is held in memory at a time.
//
// A Table is not safe for concurrent use.
package seqdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/bpowers/seqdb/internal/codec"
	"github.com/bpowers/seqdb/internal/datafile"
	"github.com/bpowers/seqdb/internal/index"
	"github.com/bpowers/seqdb/internal/ondisk"
)

// SlotsPerBucket is the granularity of the index: numSlots passed to
// Open must be a positive multiple of it.
const SlotsPerBucket = ondisk.SlotsPerBucket

var (
	ErrTableFull    = index.ErrTableFull
	ErrDuplicateKey = index.ErrDuplicateKey
	ErrNotFound     = index.ErrNotFound
	ErrEmptyKey     = index.ErrEmptyKey
	ErrClosed       = errors.New("table is closed")
)

// EncodingError reports a character outside of A, C, G and T; use
// errors.As to get at it.
type EncodingError = codec.EncodingError

// Option configures a Table.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	cacheBytes  int64
	syncOnFlush bool
}

// WithLogger sets an optional logger.  If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithRecordCache keeps up to maxBytes of decoded identifiers and
// sequences in memory.  The default, 0, disables the cache.
func WithRecordCache(maxBytes int64) Option {
	return func(opts *options) {
		opts.cacheBytes = maxBytes
	}
}

// WithSyncOnFlush fsyncs the index file every time a modified bucket is
// written back.
func WithSyncOnFlush(sync bool) Option {
	return func(opts *options) {
		opts.syncOnFlush = sync
	}
}

type Table struct {
	indexFile  *os.File
	recordFile *os.File
	buckets    *ondisk.BucketCache
	records    *datafile.Store
	idx        *index.Table
	logger     *slog.Logger
	closed     bool
}

// Open creates an empty table with numSlots slots, truncating the index
// file at indexPath and the record file at recordPath if they exist.
func Open(indexPath string, numSlots int, recordPath string, opts ...Option) (*Table, error) {
	if numSlots <= 0 || numSlots%SlotsPerBucket != 0 {
		return nil, fmt.Errorf("numSlots %d must be a positive multiple of %d", numSlots, SlotsPerBucket)
	}
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}

	indexFile, err := openTruncated(indexPath)
	if err != nil {
		return nil, err
	}
	recordFile, err := openTruncated(recordPath)
	if err != nil {
		_ = indexFile.Close()
		return nil, err
	}
	closeBoth := func() {
		_ = indexFile.Close()
		_ = recordFile.Close()
	}

	// both files are accessed a bucket or a record at a time
	for _, f := range []*os.File{indexFile, recordFile} {
		if err := adviseRandom(f); err != nil {
			options.logger.Warn("fadvise failed", "path", f.Name(), "err", err)
		}
	}

	nBuckets := int64(numSlots / SlotsPerBucket)
	buckets, err := ondisk.NewBucketCache(indexFile, nBuckets,
		ondisk.WithCacheLogger(options.logger),
		ondisk.WithSyncOnFlush(options.syncOnFlush))
	if err != nil {
		closeBoth()
		return nil, fmt.Errorf("ondisk.NewBucketCache: %w", err)
	}

	records, err := datafile.New(recordFile,
		datafile.WithLogger(options.logger),
		datafile.WithCache(options.cacheBytes))
	if err != nil {
		closeBoth()
		return nil, fmt.Errorf("datafile.New: %w", err)
	}

	options.logger.Info("opened table",
		"index", indexPath,
		"slots", numSlots,
		"index_size", humanize.IBytes(uint64(nBuckets*ondisk.BucketSize)),
		"records", recordPath)

	return &Table{
		indexFile:  indexFile,
		recordFile: recordFile,
		buckets:    buckets,
		records:    records,
		idx:        index.New(buckets, records, index.WithLogger(options.logger)),
		logger:     options.logger,
	}, nil
}

func openTruncated(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	return f, nil
}

// Insert stores seq under id.  id must be non-empty; both must consist
// of the characters A, C, G and T.
func (t *Table) Insert(id, seq string) error {
	if t.closed {
		return ErrClosed
	}
	return t.idx.Insert(id, seq)
}

// Remove deletes id and frees the record space it and its sequence used.
func (t *Table) Remove(id string) error {
	if t.closed {
		return ErrClosed
	}
	return t.idx.Remove(id)
}

// Search returns the sequence stored under id, or ErrNotFound.
func (t *Table) Search(id string) (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	return t.idx.Search(id)
}

// Import inserts the "id:sequence" lines read from r, stopping at the
// first line that can't be inserted.  It returns the number of pairs
// inserted.
func (t *Table) Import(r io.Reader) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	var n int
	s := bufio.NewScanner(bufio.NewReaderSize(r, 16*1024))
	s.Buffer(nil, 64*1024*1024)
	for line := 1; s.Scan(); line++ {
		id, seq, ok := split2(s.Bytes(), ':')
		if !ok {
			return n, fmt.Errorf("line %d: expected id:sequence", line)
		}
		if err := t.idx.Insert(string(id), string(seq)); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := s.Err(); err != nil {
		return n, fmt.Errorf("bufio.Scanner: %w", err)
	}
	return n, nil
}

// Len returns the number of identifiers in the table.
func (t *Table) Len() int {
	return int(t.idx.Len())
}

// Entry is a non-empty slot of the index.  ID is empty for tombstones.
type Entry struct {
	Slot      int
	ID        string
	Tombstone bool
}

// Entries lists the occupied and tombstoned slots in slot order.
func (t *Table) Entries() ([]Entry, error) {
	if t.closed {
		return nil, ErrClosed
	}
	var entries []Entry
	err := t.idx.Scan(func(e index.Entry) error {
		entries = append(entries, Entry{
			Slot:      int(e.Slot),
			ID:        e.ID,
			Tombstone: e.State == ondisk.Tombstone,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FreeBlock is a range of the record file available for reuse.
type FreeBlock struct {
	Offset int64
	Size   int64
}

// FreeBlocks lists the free ranges of the record file by ascending offset.
func (t *Table) FreeBlocks() []FreeBlock {
	blocks := t.records.FreeBlocks()
	free := make([]FreeBlock, 0, len(blocks))
	for _, b := range blocks {
		free = append(free, FreeBlock{Offset: b.Offset, Size: b.Size})
	}
	return free
}

// Print writes a listing of the table to w: one "slot -> id" or
// "slot -> tombstone" line per non-empty slot, then one
// "free block: offset+size" line per free range of the record file.
func (t *Table) Print(w io.Writer) error {
	entries, err := t.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		what := e.ID
		if e.Tombstone {
			what = "tombstone"
		}
		if _, err := fmt.Fprintf(w, "%d -> %s\n", e.Slot, what); err != nil {
			return err
		}
	}
	for _, b := range t.FreeBlocks() {
		if _, err := fmt.Fprintf(w, "free block: %d+%d\n", b.Offset, b.Size); err != nil {
			return err
		}
	}
	return nil
}

// Check verifies that the index and the record file agree: every
// record is referenced by exactly one occupied slot, and every byte of
// the record file is either live or free, never both.
func (t *Table) Check() error {
	if t.closed {
		return ErrClosed
	}

	referenced := make(map[datafile.Handle]int64)
	var occupied int64
	err := t.idx.Scan(func(e index.Entry) error {
		if e.State != ondisk.Occupied {
			return nil
		}
		occupied++
		for _, h := range []datafile.Handle{e.IDRef, e.Seq} {
			if h.Length == 0 {
				continue
			}
			if other, ok := referenced[h]; ok {
				return fmt.Errorf("record %s referenced by slots %d and %d", h, other, e.Slot)
			}
			referenced[h] = e.Slot
		}
		return nil
	})
	if err != nil {
		return err
	}
	if occupied != t.idx.Len() {
		return fmt.Errorf("%d occupied slots, but %d keys", occupied, t.idx.Len())
	}

	live := t.records.Live()
	if len(live) != len(referenced) {
		return fmt.Errorf("%d live records, but %d referenced by the index", len(live), len(referenced))
	}
	for _, h := range live {
		if _, ok := referenced[h]; !ok {
			return fmt.Errorf("record %s is not referenced by the index", h)
		}
	}

	return t.records.Verify()
}

// Sync writes back the cached bucket and fsyncs both files.
func (t *Table) Sync() error {
	if t.closed {
		return ErrClosed
	}
	if err := t.buckets.Flush(); err != nil {
		return fmt.Errorf("buckets.Flush: %w", err)
	}
	if err := t.indexFile.Sync(); err != nil {
		return fmt.Errorf("indexFile.Sync: %w", err)
	}
	if err := t.recordFile.Sync(); err != nil {
		return fmt.Errorf("recordFile.Sync: %w", err)
	}
	return nil
}

// Close syncs and closes the table.  Using the Table after Close
// returns ErrClosed.
func (t *Table) Close() error {
	if t.closed {
		return ErrClosed
	}
	err := t.Sync()
	t.closed = true
	t.records.Close()
	err = errors.Join(err, t.indexFile.Close(), t.recordFile.Close())

	stats := t.buckets.Stats()
	t.logger.Info("closed table",
		"keys", t.idx.Len(),
		"record_file_size", humanize.IBytes(uint64(t.records.Len())),
		"bucket_loads", stats.Loads,
		"bucket_flushes", stats.Flushes)
	return err
}
