// Package integration exercises the buffer pool, table heap, and
// B+-tree index together the way a higher-level executor would: an
// index mapping a key column to the heap's RecordIds.
package integration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novasqldb/storage/internal/btree"
	"github.com/novasqldb/storage/internal/bufferpool"
	"github.com/novasqldb/storage/internal/diskio"
	"github.com/novasqldb/storage/internal/heap"
	"github.com/novasqldb/storage/internal/record"
)

func TestHeapAndIndex_InsertLookupAndRangeScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := diskio.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	bp := bufferpool.New(d, 32, 2)

	rowSchema := record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.ColInt64},
		{Name: "name", Type: record.ColText},
	}}
	th, err := heap.New(bp, rowSchema)
	require.NoError(t, err)

	keySchema := record.Schema{Cols: []record.Column{{Name: "id", Type: record.ColInt64}}}
	idx := btree.New(bp, keySchema, 4, 4)

	names := []string{"alice", "bob", "carol", "dave", "erin"}
	for i, name := range names {
		id := int64(i + 1)
		rid, err := th.InsertTuple(record.TupleMeta{InsertTxnID: uint64(i + 1)}, record.Tuple{id, name})
		require.NoError(t, err)
		require.NoError(t, idx.Insert(record.Tuple{id}, rid))
	}

	// Point lookup through the index, then the heap.
	rid, ok, err := idx.Get(record.Tuple{int64(3)})
	require.NoError(t, err)
	require.True(t, ok)
	tup, err := th.Tuple(rid)
	require.NoError(t, err)
	require.Equal(t, record.Tuple{int64(3), "carol"}, tup)

	// Range scan [2, 4] through the index, resolving each hit via the heap.
	it := btree.NewIterator(idx, btree.IncludedKey(record.Tuple{int64(2)}), btree.IncludedKey(record.Tuple{int64(4)}))
	var got []string
	for {
		rid, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		tup, err := th.Tuple(rid)
		require.NoError(t, err)
		got = append(got, tup[1].(string))
	}
	require.Equal(t, []string{"bob", "carol", "dave"}, got)

	// Delete "bob" from the index; the heap row still exists but is no
	// longer reachable via the key.
	require.NoError(t, idx.Delete(record.Tuple{int64(2)}))
	_, ok, err = idx.Get(record.Tuple{int64(2)})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, th.Flush())
}
