// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"fmt"
	"io"
	"log/slog"
)

// File is usually an *os.File, but specified as an interface for easier testing.
type File interface {
	io.ReaderAt
	io.WriterAt
}

type truncater interface {
	Truncate(size int64) error
}

type syncer interface {
	Sync() error
}

const noBucket = -1

// CacheOption configures a BucketCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	logger      *slog.Logger
	syncOnFlush bool
}

// WithCacheLogger sets an optional logger.  If not provided, no logging output will be produced.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(opts *cacheOptions) {
		opts.logger = logger
	}
}

// WithSyncOnFlush fsyncs the file after every bucket written back, if
// the file supports it.
func WithSyncOnFlush(sync bool) CacheOption {
	return func(opts *cacheOptions) {
		opts.syncOnFlush = sync
	}
}

// CacheStats counts bucket reads and writes.
type CacheStats struct {
	Loads   int64
	Flushes int64
}

// BucketCache holds exactly one bucket of an index file in memory.
//
// Loading a bucket other than the cached one always writes the cached
// bucket back first if it has pending changes; if that write fails, the
// cached bucket (and its changes) stay put and the load fails.
type BucketCache struct {
	f           File
	nBuckets    int64
	bucket      int64
	slots       [SlotsPerBucket]Slot
	dirty       bool
	bucketBuf   [BucketSize]byte
	syncOnFlush bool
	stats       CacheStats
	logger      *slog.Logger
}

// NewBucketCache formats f as an index of nBuckets buckets whose slots
// are all empty, discarding anything f previously held.
func NewBucketCache(f File, nBuckets int64, opts ...CacheOption) (*BucketCache, error) {
	if nBuckets <= 0 {
		return nil, fmt.Errorf("nBuckets %d must be positive", nBuckets)
	}
	var options cacheOptions
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}

	c := &BucketCache{
		f:           f,
		nBuckets:    nBuckets,
		bucket:      noBucket,
		syncOnFlush: options.syncOnFlush,
		logger:      options.logger,
	}

	if t, ok := f.(truncater); ok {
		if err := t.Truncate(0); err != nil {
			return nil, fmt.Errorf("f.Truncate: %w", err)
		}
	}

	var empty [SlotsPerBucket]Slot
	for i := range empty {
		empty[i] = EmptySlot()
	}
	if err := encodeBucket(c.bucketBuf[:], &empty); err != nil {
		return nil, err
	}
	for i := int64(0); i < nBuckets; i++ {
		if err := c.writeBucket(i); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func encodeBucket(b []byte, slots *[SlotsPerBucket]Slot) error {
	for i := range slots {
		if err := slots[i].MarshalTo(b[i*SlotSize : (i+1)*SlotSize]); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
	}
	return nil
}

func (c *BucketCache) writeBucket(bucket int64) error {
	n, err := c.f.WriteAt(c.bucketBuf[:], bucket*BucketSize)
	if err != nil {
		return fmt.Errorf("writeBucket(%d): %w", bucket, err)
	} else if n != BucketSize {
		return fmt.Errorf("writeBucket(%d): short write of %d (wanted %d)", bucket, n, BucketSize)
	}
	return nil
}

func (c *BucketCache) readBucket(bucket int64) error {
	n, err := c.f.ReadAt(c.bucketBuf[:], bucket*BucketSize)
	if n != BucketSize {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("readBucket(%d): short read of %d: %w", bucket, n, err)
	}
	return nil
}

// Len returns the number of buckets in the index.
func (c *BucketCache) Len() int64 {
	return c.nBuckets
}

// Bucket returns the index of the cached bucket, or -1.
func (c *BucketCache) Bucket() int64 {
	return c.bucket
}

// Dirty reports whether the cached bucket has changes not yet written back.
func (c *BucketCache) Dirty() bool {
	return c.dirty
}

func (c *BucketCache) Stats() CacheStats {
	return c.stats
}

// Flush writes the cached bucket back to the file if it has pending changes.
func (c *BucketCache) Flush() error {
	if !c.dirty {
		return nil
	}
	if err := encodeBucket(c.bucketBuf[:], &c.slots); err != nil {
		return err
	}
	if err := c.writeBucket(c.bucket); err != nil {
		return err
	}
	if s, ok := c.f.(syncer); ok && c.syncOnFlush {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("f.Sync: %w", err)
		}
	}
	c.dirty = false
	c.stats.Flushes++
	c.logger.Debug("flushed bucket", "bucket", c.bucket)
	return nil
}

// Load makes bucket the cached bucket, flushing the current one first
// if it is a different bucket.  Loading the bucket that is already
// cached is a no-op.
func (c *BucketCache) Load(bucket int64) error {
	if bucket < 0 || bucket >= c.nBuckets {
		return fmt.Errorf("bucket %d out of range (len %d)", bucket, c.nBuckets)
	}
	if bucket == c.bucket {
		return nil
	}
	if err := c.Flush(); err != nil {
		return fmt.Errorf("flush bucket %d before loading %d: %w", c.bucket, bucket, err)
	}

	// from here on the old contents are on disk; if the read fails we
	// hold no bucket at all rather than a half-decoded one
	c.bucket = noBucket
	if err := c.readBucket(bucket); err != nil {
		return err
	}
	var slots [SlotsPerBucket]Slot
	for i := range slots {
		if err := slots[i].UnmarshalBytes(c.bucketBuf[i*SlotSize : (i+1)*SlotSize]); err != nil {
			return fmt.Errorf("bucket %d slot %d: %w", bucket, i, err)
		}
	}
	c.slots = slots
	c.bucket = bucket
	c.stats.Loads++
	c.logger.Debug("loaded bucket", "bucket", bucket)
	return nil
}

func (c *BucketCache) split(slot int64) (bucket int64, i int) {
	return slot / SlotsPerBucket, int(slot % SlotsPerBucket)
}

// Get returns the slot at the given table-wide index, loading its
// bucket if necessary.
func (c *BucketCache) Get(slot int64) (Slot, error) {
	if slot < 0 {
		return Slot{}, fmt.Errorf("slot %d out of range", slot)
	}
	bucket, i := c.split(slot)
	if err := c.Load(bucket); err != nil {
		return Slot{}, err
	}
	return c.slots[i], nil
}

// Put replaces the slot at the given table-wide index and marks its
// bucket dirty.  The change reaches the file on the next Flush or when
// another bucket is loaded.
func (c *BucketCache) Put(slot int64, s Slot) error {
	if slot < 0 {
		return fmt.Errorf("slot %d out of range", slot)
	}
	bucket, i := c.split(slot)
	if err := c.Load(bucket); err != nil {
		return err
	}
	c.slots[i] = s
	c.dirty = true
	return nil
}
