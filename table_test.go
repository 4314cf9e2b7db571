// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package seqdb

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	benchTable     *Table
	benchTableOnce sync.Once
	benchHashmap   map[string]string
	benchEntries   []benchEntry
)

type benchEntry struct {
	Key   string
	Value string
}

func loadBenchTable() {
	dir, err := os.MkdirTemp("", "seqdb-bench")
	if err != nil {
		panic(err)
	}
	var expected map[string]string
	benchTable, expected, err = openTestFile(dir, "testdata.large", 1<<16)
	if err != nil {
		benchTable, expected, err = openTestFile(dir, "testdata.small", 256)
	}
	if err != nil {
		panic(err)
	}

	benchHashmap = make(map[string]string)
	benchEntries = make([]benchEntry, 0, len(expected))
	for k, v := range expected {
		benchEntries = append(benchEntries, benchEntry{Key: k, Value: v})
		// attempt to ensure the hashmap doesn't share memory with our test oracle
		benchHashmap[strings.Clone(k)] = strings.Clone(v)
	}
}

func TestSplit2(t *testing.T) {
	sep := byte(':')
	for _, testcase := range []string{
		"",
		"a:b",
		":a:b:",
		"a:b:",
		"ACGT:",
	} {
		input := []byte(testcase)
		expected := bytes.SplitN(input, []byte{sep}, 2)
		var actualL, actualR []byte
		var ok bool
		allocs := testing.AllocsPerRun(1, func() {
			actualL, actualR, ok = split2(input, sep)
		})
		require.Zero(t, allocs)
		require.True(t, len(expected) <= 2)
		if len(expected) < 2 {
			require.False(t, ok)
		} else {
			expectedL := expected[0]
			expectedR := expected[1]
			require.Equal(t, expectedL, actualL)
			require.Equal(t, expectedR, actualR)
		}
	}
}

// openTestFile opens a fresh table under dir and imports the
// id:sequence pairs in path into it.
func openTestFile(dir, path string, numSlots int) (*Table, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	table, err := Open(filepath.Join(dir, "test.index"), numSlots, filepath.Join(dir, "test.records"))
	if err != nil {
		return nil, nil, err
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(contents)), "\n") {
		id, seq, ok := split2([]byte(line), ':')
		if !ok {
			panic("input file unexpected shape")
		}
		known[string(id)] = string(seq)
	}

	n, err := table.Import(f)
	if err != nil {
		return nil, nil, err
	}
	if n != len(known) {
		return nil, nil, errors.New("import count mismatch")
	}
	return table, known, nil
}

func newTestTable(t *testing.T, numSlots int, opts ...Option) *Table {
	t.Helper()
	dir := t.TempDir()
	table, err := Open(filepath.Join(dir, "test.index"), numSlots, filepath.Join(dir, "test.records"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = table.Close()
	})
	return table
}

func testFile(t *testing.T, path string, numSlots int) {
	table, known, err := openTestFile(t.TempDir(), path, numSlots)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, table.Close())
	}()
	require.Equal(t, len(known), table.Len())

	for k, expected := range known {
		v, err := table.Search(k)
		require.NoError(t, err)
		require.Equal(t, expected, v)
	}

	for _, negative := range []string{
		"ACGTACGTACGTACGT", "doesn't exist",
	} {
		// we shouldn't find keys that don't exist
		_, err := table.Search(negative)
		require.True(t, errors.Is(err, ErrNotFound))
	}
	require.NoError(t, table.Check())

	// remove every other key, and make sure the rest survive
	removed := 0
	for k := range known {
		if removed%2 == 0 {
			require.NoError(t, table.Remove(k))
			delete(known, k)
		}
		removed++
	}
	require.NoError(t, table.Check())
	for k, expected := range known {
		v, err := table.Search(k)
		require.NoError(t, err)
		require.Equal(t, expected, v)
	}
	require.Equal(t, len(known), table.Len())
}

func TestTableSmall(t *testing.T) {
	testFile(t, "testdata.small", 256)
}

func TestTableLarge(t *testing.T) {
	dataFile := "testdata.large"
	if _, err := os.Stat(dataFile); err != nil {
		t.Skip("testdata.large doesn't exist, skipping large test")
		return
	}
	testFile(t, dataFile, 1<<16)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "x.index")
	recordPath := filepath.Join(dir, "x.records")

	for _, numSlots := range []int{0, -32, 33} {
		_, err := Open(indexPath, numSlots, recordPath)
		assert.Error(t, err, "numSlots %d", numSlots)
	}
	_, err := Open(filepath.Join(dir, "missing", "x.index"), 32, recordPath)
	assert.Error(t, err)

	// existing files are truncated
	require.NoError(t, os.WriteFile(recordPath, []byte("leftovers"), 0644))
	table, err := Open(indexPath, 64, recordPath)
	require.NoError(t, err)
	stat, err := os.Stat(recordPath)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stat.Size())
	stat, err = os.Stat(indexPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2*512), stat.Size())
	require.NoError(t, table.Close())
}

func TestTable_PrintAndEntries(t *testing.T) {
	table := newTestTable(t, 32)

	require.NoError(t, table.Insert("AA", "ACGTACGT"))
	require.NoError(t, table.Insert("CC", "GGGG"))
	require.NoError(t, table.Remove("AA"))

	entries, err := table.Entries()
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Slot: 3, ID: "CC"},
		{Slot: 18, Tombstone: true},
	}, entries)

	// AA's identifier and sequence coalesced back into one block
	assert.Equal(t, []FreeBlock{{Offset: 0, Size: 3}}, table.FreeBlocks())

	var buf bytes.Buffer
	require.NoError(t, table.Print(&buf))
	assert.Equal(t, "3 -> CC\n18 -> tombstone\nfree block: 0+3\n", buf.String())

	// new records are carved out of the front of the file first
	require.NoError(t, table.Insert("GATTACA", "TTTT"))
	assert.Empty(t, table.FreeBlocks())
	require.NoError(t, table.Check())
}

func TestTable_Errors(t *testing.T) {
	table := newTestTable(t, 32)

	require.NoError(t, table.Insert("ACGT", "GGG"))
	assert.True(t, errors.Is(table.Insert("ACGT", "CCC"), ErrDuplicateKey))
	assert.True(t, errors.Is(table.Insert("", "CCC"), ErrEmptyKey))
	assert.True(t, errors.Is(table.Remove("TTTT"), ErrNotFound))

	var encErr *EncodingError
	require.True(t, errors.As(table.Insert("TGCA", "ACGTN"), &encErr))
	assert.Equal(t, byte('N'), encErr.Char)
	assert.Equal(t, 4, encErr.Pos)

	_, err := table.Import(strings.NewReader("TTGG:ACGT\nno separator\n"))
	assert.Error(t, err)
	v, err := table.Search("TTGG")
	require.NoError(t, err)
	assert.Equal(t, "ACGT", v)

	_, err = table.Import(strings.NewReader("TTGG:ACGT\n"))
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	require.NoError(t, table.Check())
}

func TestTable_TableFull(t *testing.T) {
	table := newTestTable(t, 32)

	var ids []string
	for _, a := range "ACGT" {
		for _, b := range "ACGT" {
			for _, c := range "ACGT" {
				ids = append(ids, string([]rune{a, b, c}))
			}
		}
	}
	for _, id := range ids[:32] {
		require.NoError(t, table.Insert(id, id+id))
	}
	assert.True(t, errors.Is(table.Insert(ids[32], "A"), ErrTableFull))
	require.NoError(t, table.Check())
}

func TestTable_Close(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "test.records")
	table, err := Open(filepath.Join(dir, "test.index"), 32, recordPath, WithRecordCache(1<<20), WithSyncOnFlush(true))
	require.NoError(t, err)

	require.NoError(t, table.Insert("ACGT", "TTTTGGGG"))
	require.NoError(t, table.Sync())
	contents, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	// ACGT, then TTTTGGGG
	assert.Equal(t, []byte{0x1b, 0xff, 0xaa}, contents)

	require.NoError(t, table.Close())
	assert.True(t, errors.Is(table.Close(), ErrClosed))
	assert.True(t, errors.Is(table.Insert("A", "C"), ErrClosed))
	assert.True(t, errors.Is(table.Remove("ACGT"), ErrClosed))
	_, err = table.Search("ACGT")
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = table.Entries()
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(table.Check(), ErrClosed))
	assert.True(t, errors.Is(table.Sync(), ErrClosed))
}

func TestTable_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	table := newTestTable(t, 32, WithLogger(logger))

	require.NoError(t, table.Insert("AA", "C"))
	require.NoError(t, table.Insert("AAA", "G"))
	require.NoError(t, table.Remove("AA"))

	out := buf.String()
	assert.Contains(t, out, "opened table")
	assert.Contains(t, out, "took slot")
	assert.Contains(t, out, "slot taken, probing")
	assert.Contains(t, out, "removed")
}

func BenchmarkTable(b *testing.B) {
	benchTableOnce.Do(loadBenchTable)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % len(benchEntries)
		entry := benchEntries[j]
		value, err := benchTable.Search(entry.Key)
		if err != nil || value != entry.Value {
			b.Fatal("bad data or lookup")
		}
	}
}

func BenchmarkHashmap(b *testing.B) {
	benchTableOnce.Do(loadBenchTable)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % len(benchEntries)
		entry := benchEntries[j]
		value, ok := benchHashmap[entry.Key]
		if !ok || value != entry.Value {
			b.Fatal("bad data or lookup")
		}
	}
}
