// Package heap implements the table heap: a singly-linked chain of
// slotted TablePages holding tuples, plus a restartable range iterator
// over RecordIds.
package heap

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/novasqldb/storage/internal/bufferpool"
	"github.com/novasqldb/storage/internal/record"
)

// TableHeap owns the first/last page ids of a tuple chain backed by a
// shared buffer pool. firstPageID/lastPageID are atomic because
// concurrent readers may walk the chain while a writer extends it.
type TableHeap struct {
	schema   record.Schema
	bp       *bufferpool.Manager
	mu       sync.Mutex // serializes Insert's read-then-extend sequence
	firstPID atomic.Uint32
	lastPID  atomic.Uint32
}

// New allocates the heap's first (empty) page and returns the heap.
func New(bp *bufferpool.Manager, schema record.Schema) (*TableHeap, error) {
	h, err := bp.NewPage()
	if err != nil {
		return nil, fmt.Errorf("heap: New: %w", err)
	}
	InitTablePage(h.Data(), record.InvalidPageID)
	id := h.PageID()
	h.Unpin(true)

	th := &TableHeap{schema: schema, bp: bp}
	th.firstPID.Store(id)
	th.lastPID.Store(id)
	return th, nil
}

// FirstPageID returns the id of the heap's first page.
func (th *TableHeap) FirstPageID() record.PageId { return th.firstPID.Load() }

// Flush writes every dirty page in the underlying buffer pool to disk.
func (th *TableHeap) Flush() error { return th.bp.FlushAllPages() }

// LastPageID returns the id of the heap's current last page.
func (th *TableHeap) LastPageID() record.PageId { return th.lastPID.Load() }

// InsertTuple appends tuple (with the given meta) to the heap,
// extending the page chain if the current last page has no room. If
// an empty page still cannot hold the tuple, the tuple exceeds page
// capacity and InsertTuple panics: there is no page size at which it
// could ever be stored.
func (th *TableHeap) InsertTuple(meta record.TupleMeta, tuple record.Tuple) (record.RecordId, error) {
	data, err := record.Encode(th.schema, tuple)
	if err != nil {
		return record.InvalidRID, fmt.Errorf("heap: InsertTuple: %w", err)
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	for {
		lastID := th.lastPID.Load()
		h, err := th.bp.FetchPage(lastID)
		if err != nil {
			return record.InvalidRID, fmt.Errorf("heap: InsertTuple: fetch last page: %w", err)
		}
		tp := TablePage{Buf: h.Data()}

		if tp.NextTupleFits(len(data)) {
			slot, err := tp.InsertTuple(meta, data)
			if err != nil {
				h.Unpin(false)
				return record.InvalidRID, fmt.Errorf("heap: InsertTuple: %w", err)
			}
			h.Unpin(true)
			return record.RecordId{PageID: lastID, SlotNum: uint32(slot)}, nil
		}

		if tp.NumTuples() == 0 {
			h.Unpin(false)
			panic("heap: tuple exceeds page capacity")
		}

		newH, err := th.bp.NewPage()
		if err != nil {
			h.Unpin(false)
			return record.InvalidRID, fmt.Errorf("heap: InsertTuple: extend chain: %w", err)
		}
		InitTablePage(newH.Data(), record.InvalidPageID)
		tp.SetNextPageID(newH.PageID())
		h.Unpin(true)

		th.lastPID.Store(newH.PageID())
		newH.Unpin(true)
		// loop: re-fetch the new last page and retry the insert
	}
}

// UpdateTuple replaces rid's tuple bytes in place; tuple must encode
// to exactly the stored length.
func (th *TableHeap) UpdateTuple(rid record.RecordId, tuple record.Tuple) error {
	data, err := record.Encode(th.schema, tuple)
	if err != nil {
		return fmt.Errorf("heap: UpdateTuple: %w", err)
	}

	h, err := th.bp.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("heap: UpdateTuple: %w", err)
	}
	defer h.Unpin(true)

	tp := TablePage{Buf: h.Data()}
	if err := tp.UpdateTupleData(int(rid.SlotNum), data); err != nil {
		return fmt.Errorf("heap: UpdateTuple: %w", err)
	}
	return nil
}

// UpdateTupleMeta writes only rid's TupleMeta triplet.
func (th *TableHeap) UpdateTupleMeta(meta record.TupleMeta, rid record.RecordId) error {
	h, err := th.bp.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("heap: UpdateTupleMeta: %w", err)
	}
	defer h.Unpin(true)

	tp := TablePage{Buf: h.Data()}
	if err := tp.UpdateTupleMeta(int(rid.SlotNum), meta); err != nil {
		return fmt.Errorf("heap: UpdateTupleMeta: %w", err)
	}
	return nil
}

// Tuple returns rid's decoded tuple.
func (th *TableHeap) Tuple(rid record.RecordId) (record.Tuple, error) {
	_, tup, err := th.FullTuple(rid)
	return tup, err
}

// TupleMeta returns rid's meta triplet.
func (th *TableHeap) TupleMeta(rid record.RecordId) (record.TupleMeta, error) {
	meta, _, err := th.FullTuple(rid)
	return meta, err
}

// FullTuple returns both rid's meta and decoded tuple.
func (th *TableHeap) FullTuple(rid record.RecordId) (record.TupleMeta, record.Tuple, error) {
	h, err := th.bp.FetchPage(rid.PageID)
	if err != nil {
		return record.TupleMeta{}, nil, fmt.Errorf("heap: FullTuple: %w", err)
	}
	defer h.Unpin(false)

	tp := TablePage{Buf: h.Data()}
	data, meta, err := tp.ReadTupleData(int(rid.SlotNum))
	if err != nil {
		return record.TupleMeta{}, nil, fmt.Errorf("heap: FullTuple: %w", err)
	}
	tup, err := record.Decode(th.schema, data)
	if err != nil {
		return record.TupleMeta{}, nil, fmt.Errorf("heap: FullTuple: %w", err)
	}
	return meta, tup, nil
}

// GetFirstRID returns the first page's first slot, or ok=false if the
// first page currently has no tuples at all. Note: this does not skip
// forward past a first page whose sole tuples are all logically
// deleted -- that refinement is left as a documented limitation,
// mirroring the upstream behavior it is modeled on.
func (th *TableHeap) GetFirstRID() (record.RecordId, bool) {
	firstID := th.firstPID.Load()
	h, err := th.bp.FetchPage(firstID)
	if err != nil {
		return record.InvalidRID, false
	}
	defer h.Unpin(false)

	tp := TablePage{Buf: h.Data()}
	if tp.NumTuples() == 0 {
		return record.InvalidRID, false
	}
	return record.RecordId{PageID: firstID, SlotNum: 0}, true
}

// GetNextRID returns the slot immediately following rid: the next
// slot on the same page if in range, else slot 0 of the next page if
// that page has any tuples. Only one page is followed -- a next page
// with zero tuples ends iteration rather than walking further, which
// mirrors a known limitation of the heap this is modeled on.
func (th *TableHeap) GetNextRID(rid record.RecordId) (record.RecordId, bool) {
	h, err := th.bp.FetchPage(rid.PageID)
	if err != nil {
		return record.InvalidRID, false
	}
	tp := TablePage{Buf: h.Data()}
	nextSlot := rid.SlotNum + 1
	if int(nextSlot) < tp.NumTuples() {
		h.Unpin(false)
		return record.RecordId{PageID: rid.PageID, SlotNum: nextSlot}, true
	}
	nextPageID := tp.NextPageID()
	h.Unpin(false)

	if nextPageID == record.InvalidPageID {
		return record.InvalidRID, false
	}

	h2, err := th.bp.FetchPage(nextPageID)
	if err != nil {
		return record.InvalidRID, false
	}
	defer h2.Unpin(false)

	tp2 := TablePage{Buf: h2.Data()}
	if tp2.NumTuples() == 0 {
		return record.InvalidRID, false
	}
	return record.RecordId{PageID: nextPageID, SlotNum: 0}, true
}
