package heap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novasqldb/storage/internal/bufferpool"
	"github.com/novasqldb/storage/internal/diskio"
	"github.com/novasqldb/storage/internal/record"
)

func newTestHeap(t *testing.T, poolSize int) (*TableHeap, record.Schema) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := diskio.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	bp := bufferpool.New(d, poolSize, 2)
	schema := record.Schema{Cols: []record.Column{
		{Name: "a", Type: record.ColInt32},
		{Name: "b", Type: record.ColInt32},
	}}

	th, err := New(bp, schema)
	require.NoError(t, err)
	return th, schema
}

func TestTableHeap_InsertAndIterateInInsertionOrder(t *testing.T) {
	th, _ := newTestHeap(t, 8)

	metas := []record.TupleMeta{
		{InsertTxnID: 1},
		{InsertTxnID: 2},
		{InsertTxnID: 3},
	}
	rows := []record.Tuple{
		{int32(1), int32(1)},
		{int32(2), int32(2)},
		{int32(3), int32(3)},
	}

	var rids []record.RecordId
	for i, row := range rows {
		rid, err := th.InsertTuple(metas[i], row)
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	it := NewIterator(th, UnboundedBound(), UnboundedBound())
	var got []record.Tuple
	var gotMeta []record.TupleMeta
	for {
		rid, tup, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, tup)
		meta, err := th.TupleMeta(rid)
		require.NoError(t, err)
		gotMeta = append(gotMeta, meta)
	}

	require.Equal(t, rows, got)
	require.Equal(t, metas, gotMeta)
}

func TestTableHeap_InsertExtendsPageChainWhenFull(t *testing.T) {
	th, _ := newTestHeap(t, 8)

	// Each row carries a 3000-byte bytes column, so only one row fits
	// on a 4KiB page and three rows need a chain of three pages.
	bigSchema := record.Schema{Cols: []record.Column{
		{Name: "a", Type: record.ColInt32},
		{Name: "blob", Type: record.ColBytes},
	}}
	th2, err := New(th.bp, bigSchema)
	require.NoError(t, err)

	payload := make([]byte, 3000)
	for i := 0; i < 3; i++ {
		_, err := th2.InsertTuple(record.TupleMeta{}, record.Tuple{int32(i), payload})
		require.NoError(t, err)
	}

	require.NotEqual(t, th2.FirstPageID(), th2.LastPageID())
}

func TestTableHeap_UpdateTupleInPlace(t *testing.T) {
	th, _ := newTestHeap(t, 8)

	rid, err := th.InsertTuple(record.TupleMeta{}, record.Tuple{int32(10), int32(20)})
	require.NoError(t, err)

	require.NoError(t, th.UpdateTuple(rid, record.Tuple{int32(99), int32(20)}))
	tup, err := th.Tuple(rid)
	require.NoError(t, err)
	require.Equal(t, record.Tuple{int32(99), int32(20)}, tup)
}

func TestTableHeap_UpdateTupleMeta(t *testing.T) {
	th, _ := newTestHeap(t, 8)
	rid, err := th.InsertTuple(record.TupleMeta{InsertTxnID: 5}, record.Tuple{int32(1), int32(2)})
	require.NoError(t, err)

	require.NoError(t, th.UpdateTupleMeta(record.TupleMeta{InsertTxnID: 5, IsDeleted: true}, rid))
	meta, err := th.TupleMeta(rid)
	require.NoError(t, err)
	require.True(t, meta.IsDeleted)
}

func TestTableIterator_ExcludedBoundsExcludeBothEnds(t *testing.T) {
	th, _ := newTestHeap(t, 8)

	var rids []record.RecordId
	for i := 0; i < 5; i++ {
		rid, err := th.InsertTuple(record.TupleMeta{}, record.Tuple{int32(i), int32(i)})
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	it := NewIterator(th, ExcludedBound(rids[0]), ExcludedBound(rids[2]))
	rid, tup, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, rids[1], rid)
	require.Equal(t, record.Tuple{int32(1), int32(1)}, tup)

	_, _, ok = it.Next()
	require.False(t, ok)
}

func TestTableIterator_IncludedStartUnboundedEnd(t *testing.T) {
	th, _ := newTestHeap(t, 8)

	var rids []record.RecordId
	for i := 0; i < 4; i++ {
		rid, err := th.InsertTuple(record.TupleMeta{}, record.Tuple{int32(i), int32(i)})
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	it := NewIterator(th, IncludedBound(rids[2]), UnboundedBound())
	var got []record.Tuple
	for {
		_, tup, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, tup)
	}
	require.Equal(t, []record.Tuple{{int32(2), int32(2)}, {int32(3), int32(3)}}, got)
}

func TestTableHeap_FlushWritesDirtyPages(t *testing.T) {
	th, _ := newTestHeap(t, 8)
	_, err := th.InsertTuple(record.TupleMeta{}, record.Tuple{int32(1), int32(2)})
	require.NoError(t, err)

	require.NoError(t, th.Flush())
}

func TestTableHeap_GetFirstRIDEmptyPageReturnsFalse(t *testing.T) {
	th, _ := newTestHeap(t, 8)
	_, ok := th.GetFirstRID()
	require.False(t, ok)
}
