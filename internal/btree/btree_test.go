package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novasqldb/storage/internal/bufferpool"
	"github.com/novasqldb/storage/internal/diskio"
	"github.com/novasqldb/storage/internal/record"
)

func newTestIndex(t *testing.T, internalMax, leafMax int) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := diskio.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	bp := bufferpool.New(d, 64, 2)
	keySchema := record.Schema{Cols: []record.Column{{Name: "k", Type: record.ColInt64}}}
	return New(bp, keySchema, internalMax, leafMax)
}

func key(i int64) record.Tuple     { return record.Tuple{i} }
func rid(i uint32) record.RecordId { return record.RecordId{PageID: i, SlotNum: i} }

func TestIndex_InsertThenGetRoundTrips(t *testing.T) {
	idx := newTestIndex(t, 4, 4)

	for i := int64(1); i <= 11; i++ {
		require.NoError(t, idx.Insert(key(i), rid(uint32(i))))
	}

	for i := int64(1); i <= 11; i++ {
		got, ok, err := idx.Get(key(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rid(uint32(i)), got)
	}

	_, ok, err := idx.Get(key(99))
	require.NoError(t, err)
	require.False(t, ok)
}

// Scenario 4: insert 11 keys with internal_max = leaf_max = 4.
func TestIndex_Insert11Keys_TerminalShape(t *testing.T) {
	idx := newTestIndex(t, 4, 4)
	for i := int64(1); i <= 11; i++ {
		require.NoError(t, idx.Insert(key(i), rid(uint32(i))))
	}

	rootH, err := idx.bp.FetchPage(idx.RootPageID())
	require.NoError(t, err)
	root, err := DecodeInternalPage(idx.keySchema, rootH.Data())
	require.NoError(t, err)
	rootH.Unpin(false)

	require.Equal(t, 2, root.CurrentSize())

	childSizes := make([]int, 0, 2)
	for _, e := range root.Entries {
		h, err := idx.bp.FetchPage(e.Child)
		require.NoError(t, err)
		ip, err := DecodeInternalPage(idx.keySchema, h.Data())
		require.NoError(t, err)
		h.Unpin(false)
		childSizes = append(childSizes, ip.CurrentSize())
	}
	require.ElementsMatch(t, []int{2, 3}, childSizes)

	// Walk the leaf chain from the leftmost leaf and collect sizes + keys.
	leafPID, err := idx.leftmostLeaf()
	require.NoError(t, err)

	var sizes []int
	var allKeys []int64
	for leafPID != record.InvalidPageID {
		h, err := idx.bp.FetchPage(leafPID)
		require.NoError(t, err)
		leaf, err := DecodeLeafPage(idx.keySchema, h.Data())
		require.NoError(t, err)
		h.Unpin(false)

		sizes = append(sizes, leaf.CurrentSize())
		for _, e := range leaf.Entries {
			allKeys = append(allKeys, e.Key[0].(int64))
		}
		leafPID = leaf.NextPageID
	}

	require.Equal(t, []int{2, 2, 2, 2, 3}, sizes)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, allKeys)
}

// Scenario 5: delete 3, 10, 8 (in order) from the scenario-4 tree.
func TestIndex_DeleteWithBorrowAndMerge(t *testing.T) {
	idx := newTestIndex(t, 4, 4)
	for i := int64(1); i <= 11; i++ {
		require.NoError(t, idx.Insert(key(i), rid(uint32(i))))
	}

	require.NoError(t, idx.Delete(key(3)))
	require.NoError(t, idx.Delete(key(10)))
	require.NoError(t, idx.Delete(key(8)))

	rootH, err := idx.bp.FetchPage(idx.RootPageID())
	require.NoError(t, err)
	root, err := DecodeInternalPage(idx.keySchema, rootH.Data())
	require.NoError(t, err)
	rootH.Unpin(false)
	require.Equal(t, 3, root.CurrentSize())

	leafPID, err := idx.leftmostLeaf()
	require.NoError(t, err)

	var sizes []int
	var allKeys []int64
	for leafPID != record.InvalidPageID {
		h, err := idx.bp.FetchPage(leafPID)
		require.NoError(t, err)
		leaf, err := DecodeLeafPage(idx.keySchema, h.Data())
		require.NoError(t, err)
		h.Unpin(false)

		sizes = append(sizes, leaf.CurrentSize())
		for _, e := range leaf.Entries {
			allKeys = append(allKeys, e.Key[0].(int64))
		}
		leafPID = leaf.NextPageID
	}

	require.Equal(t, []int{3, 2, 3}, sizes)
	require.Equal(t, []int64{1, 2, 4, 5, 6, 7, 9, 11}, allKeys)

	for _, missing := range []int64{3, 8, 10} {
		_, ok, err := idx.Get(key(missing))
		require.NoError(t, err)
		require.False(t, ok)
	}
}

// Scenario 6: range iteration over the scenario-4 tree.
func TestIndex_RangeIteration(t *testing.T) {
	idx := newTestIndex(t, 4, 4)
	for i := int64(1); i <= 11; i++ {
		require.NoError(t, idx.Insert(key(i), rid(uint32(i))))
	}

	it := NewIterator(idx, ExcludedKey(key(6)), ExcludedKey(key(8)))
	got, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid(7), got)

	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)

	it2 := NewIterator(idx, IncludedKey(key(9)), UnboundedKey())
	var rids []record.RecordId
	for {
		r, ok, err := it2.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		rids = append(rids, r)
	}
	require.Equal(t, []record.RecordId{rid(9), rid(10), rid(11)}, rids)

	// Iterator must stay "ended" stably on further calls.
	_, ok, err = it2.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIndex_DeleteNonExistentKeyIsNoOp(t *testing.T) {
	idx := newTestIndex(t, 4, 4)
	require.NoError(t, idx.Insert(key(1), rid(1)))
	require.NoError(t, idx.Delete(key(42)))

	got, ok, err := idx.Get(key(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid(1), got)
}

func TestIndex_DeleteFromEmptyTreeIsNoOp(t *testing.T) {
	idx := newTestIndex(t, 4, 4)
	require.NoError(t, idx.Delete(key(1)))
	require.Equal(t, record.PageId(record.InvalidPageID), idx.RootPageID())
}

func TestIndex_GetOnEmptyTree(t *testing.T) {
	idx := newTestIndex(t, 4, 4)
	_, ok, err := idx.Get(key(1))
	require.NoError(t, err)
	require.False(t, ok)
}
