// Copyright 2026 The seqdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package datafile stores base sequences in a flat record file.
//
// There is no file header and no per-record framing: a record is just
// its packed bases (see package codec), and a Handle (offset, number of
// bases) is all that is needed to find and decode it again.  Where
// records live is decided by an alloc.Allocator, so space released by
// Remove is reused by later calls to Store.
//
//	┌──────────┬──────┬────────────┬──────┬──────────┐
//	│ record A │ free │ record B   │ free │ record C │ ...
//	└──────────┴──────┴────────────┴──────┴──────────┘
//
// Free-space bookkeeping and record checksums live only in memory; a
// Store always starts from an empty file.
//
// The checksum of each live record's packed bytes is remembered and
// verified on every read, so we don't silently return bases from a
// record file that was changed underneath us.
package datafile
