// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dgryski/go-farm"
	"github.com/dustin/go-humanize"

	"github.com/bpowers/seqdb/internal/alloc"
	"github.com/bpowers/seqdb/internal/bitset"
	"github.com/bpowers/seqdb/internal/codec"
)

var (
	ErrUnknownHandle = errors.New("handle does not refer to a live record")
	ErrFileTooLarge  = errors.New("record file has grown too large (>2 GB)")
	ErrCorrupted     = errors.New("record checksum mismatch: record file corrupted")
)

// File is usually an *os.File, but specified as an interface for easier testing.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	cacheCost int64
}

// WithLogger sets an optional logger.  If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithCache keeps up to maxBytes of decoded records in memory, so
// repeated reads of the same record (identifier comparisons while
// probing, mostly) skip the file.  0 disables the cache.
func WithCache(maxBytes int64) Option {
	return func(opts *options) {
		opts.cacheCost = maxBytes
	}
}

type record struct {
	length   uint32
	checksum uint32
}

// Store persists base sequences in a record file.
type Store struct {
	f       File
	alloc   *alloc.Allocator
	records map[uint32]record // by offset; zero-length records aren't tracked
	cache   *ristretto.Cache[uint64, string]
	logger  *slog.Logger
}

// New returns a Store that treats f as an empty record file.
func New(f File, opts ...Option) (*Store, error) {
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}

	s := &Store{
		f:       f,
		alloc:   alloc.New(),
		records: make(map[uint32]record),
		logger:  options.logger,
	}

	if options.cacheCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, string]{
			NumCounters:        max(1024, options.cacheCost/4),
			MaxCost:            options.cacheCost,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("ristretto.NewCache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

func checksum(b []byte) uint32 {
	return uint32(farm.Hash64(b))
}

// Store encodes text, writes it to a freshly allocated range and
// returns its handle.  Nothing is allocated if text isn't a valid
// sequence or the write fails.
func (s *Store) Store(text string) (Handle, error) {
	if len(text) > MaxRecordOffset {
		return Handle{}, fmt.Errorf("sequence of %d bases too long", len(text))
	}
	encoded, err := codec.Encode(text)
	if err != nil {
		return Handle{}, err
	}
	if len(encoded) == 0 {
		return Handle{}, nil
	}

	prevLen := s.alloc.Len()
	off, err := s.alloc.Allocate(int64(len(encoded)))
	if err != nil {
		return Handle{}, fmt.Errorf("alloc.Allocate: %w", err)
	}
	if off+int64(len(encoded)) > MaxRecordOffset {
		_ = s.alloc.Release(off, int64(len(encoded)))
		return Handle{}, ErrFileTooLarge
	}

	if n, err := s.f.WriteAt(encoded, off); err != nil {
		_ = s.alloc.Release(off, int64(len(encoded)))
		return Handle{}, fmt.Errorf("f.WriteAt(%d): %w", off, err)
	} else if n != len(encoded) {
		_ = s.alloc.Release(off, int64(len(encoded)))
		return Handle{}, fmt.Errorf("f.WriteAt(%d): short write of %d (wanted %d)", off, n, len(encoded))
	}

	if newLen := s.alloc.Len(); newLen > prevLen {
		s.logger.Debug("record file grew", "size", humanize.Bytes(uint64(newLen)))
	}

	h := Handle{Offset: uint32(off), Length: uint32(len(text))}
	s.records[h.Offset] = record{length: h.Length, checksum: checksum(encoded)}
	if s.cache != nil {
		s.cache.Set(h.cacheKey(), text, int64(len(text)))
	}

	return h, nil
}

func (s *Store) lookup(h Handle) (record, error) {
	rec, ok := s.records[h.Offset]
	if !ok || rec.length != h.Length {
		return record{}, fmt.Errorf("handle %s: %w", h, ErrUnknownHandle)
	}
	return rec, nil
}

// Retrieve reads and decodes the record h refers to.
func (s *Store) Retrieve(h Handle) (string, error) {
	if h.Length == 0 {
		return "", nil
	}
	rec, err := s.lookup(h)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if text, ok := s.cache.Get(h.cacheKey()); ok {
			return text, nil
		}
	}

	buf := make([]byte, h.EncodedLen())
	n, err := s.f.ReadAt(buf, int64(h.Offset))
	if n != len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("f.ReadAt(%d, len: %d): short read of %d: %w", h.Offset, len(buf), n, err)
	}

	if actual := checksum(buf); actual != rec.checksum {
		return "", fmt.Errorf("off %d (%d != %d): %w", h.Offset, rec.checksum, actual, ErrCorrupted)
	}

	text, err := codec.Decode(buf, int(h.Length))
	if err != nil {
		return "", fmt.Errorf("codec.Decode: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(h.cacheKey(), text, int64(len(text)))
	}

	return text, nil
}

// Remove releases the bytes of the record h refers to.  h must not be
// used again afterwards.
func (s *Store) Remove(h Handle) error {
	if h.Length == 0 {
		return nil
	}
	if _, err := s.lookup(h); err != nil {
		return err
	}

	if err := s.alloc.Release(int64(h.Offset), h.EncodedLen()); err != nil {
		return fmt.Errorf("alloc.Release: %w", err)
	}
	delete(s.records, h.Offset)
	if s.cache != nil {
		s.cache.Del(h.cacheKey())
	}

	return nil
}

// Len returns the logical length of the record file in bytes.
func (s *Store) Len() int64 {
	return s.alloc.Len()
}

// FreeBlocks lists the free ranges of the record file by ascending offset.
func (s *Store) FreeBlocks() []alloc.Block {
	return s.alloc.FreeBlocks()
}

// Live returns the handles of all non-empty live records by ascending offset.
func (s *Store) Live() []Handle {
	handles := make([]Handle, 0, len(s.records))
	for off, rec := range s.records {
		handles = append(handles, Handle{Offset: off, Length: rec.length})
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].Offset < handles[j].Offset
	})
	return handles
}

// Verify checks that every byte of the record file belongs to exactly
// one live record or free block.
func (s *Store) Verify() error {
	fileLen := s.alloc.Len()
	claimed := bitset.New(fileLen)

	claim := func(what string, off, size int64) error {
		if off < 0 || off+size > fileLen {
			return fmt.Errorf("%s %d+%d outside of file (len %d)", what, off, size, fileLen)
		}
		if i := claimed.NextSet(off); i >= 0 && i < off+size {
			return fmt.Errorf("%s %d+%d: byte %d claimed twice", what, off, size, i)
		}
		claimed.SetRange(off, size)
		return nil
	}

	for _, h := range s.Live() {
		if err := claim("record", int64(h.Offset), h.EncodedLen()); err != nil {
			return err
		}
	}
	for _, b := range s.alloc.FreeBlocks() {
		if err := claim("free block", b.Offset, b.Size); err != nil {
			return err
		}
	}
	if i := claimed.NextClear(0); i >= 0 {
		return fmt.Errorf("byte %d of %d is neither free nor live", i, fileLen)
	}

	return nil
}

// Close releases the record cache.  It does not close the underlying file.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
		s.cache = nil
	}
}
