package heap

import (
	"errors"

	"github.com/novasqldb/storage/internal/record"
	"github.com/novasqldb/storage/pkg/bx"
)

// TablePage header layout, all little-endian:
//
//	[0:4]  next_page_id (u32)
//	[4:6]  num_tuples   (u16)
//	[6:8]  free_space_offset (u16), the upper bound of free space;
//	       tuple bytes occupy [free_space_offset, PageSize)
//
// followed by a slot directory growing up (toward the tuple region)
// from offset headerSize,
// one slotSize-byte entry per tuple:
//
//	[0:2]  tuple offset (u16)
//	[2:4]  tuple length (u16)
//	[4:12] insert_txn_id (u64)
//	[12:20] delete_txn_id (u64)
//	[20]    is_deleted (u8)
const (
	headerSize = 8
	slotSize   = 21
)

var (
	// ErrPageFull is returned by InsertTuple when the tuple plus a new
	// slot entry would not fit in the remaining free space.
	ErrPageFull = errors.New("heap: table page has no room for tuple")

	// ErrSlotOutOfRange is returned by slot accessors given an index
	// outside [0, num_tuples).
	ErrSlotOutOfRange = errors.New("heap: slot number out of range")
)

// TablePage is a thin view over a PageSize-byte buffer, interpreting
// it as a slotted data page of a table heap.
type TablePage struct {
	Buf []byte
}

// InitTablePage zero-initializes buf as an empty table page with the
// given next_page_id link.
func InitTablePage(buf []byte, nextPageID record.PageId) TablePage {
	p := TablePage{Buf: buf}
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	bx.PutU32(p.Buf[0:4], nextPageID)
	bx.PutU16(p.Buf[4:6], 0)
	bx.PutU16(p.Buf[6:8], uint16(len(p.Buf)))
	return p
}

func (p TablePage) NextPageID() record.PageId {
	return bx.U32(p.Buf[0:4])
}

func (p TablePage) SetNextPageID(id record.PageId) {
	bx.PutU32(p.Buf[0:4], id)
}

func (p TablePage) NumTuples() int {
	return int(bx.U16(p.Buf[4:6]))
}

func (p TablePage) setNumTuples(n int) {
	bx.PutU16(p.Buf[4:6], uint16(n))
}

func (p TablePage) freeSpaceOffset() int {
	return int(bx.U16(p.Buf[6:8]))
}

func (p TablePage) setFreeSpaceOffset(off int) {
	bx.PutU16(p.Buf[6:8], uint16(off))
}

func (p TablePage) slotOffset(slot int) int {
	return headerSize + slot*slotSize
}

// NextTupleFits reports whether a tuple of tupleLen bytes can be
// inserted without allocating a new page.
func (p TablePage) NextTupleFits(tupleLen int) bool {
	dirEnd := p.slotOffset(p.NumTuples() + 1)
	return p.freeSpaceOffset()-dirEnd >= tupleLen
}

func (p TablePage) putSlot(slot, offset, length int, meta record.TupleMeta) {
	o := p.slotOffset(slot)
	bx.PutU16(p.Buf[o:o+2], uint16(offset))
	bx.PutU16(p.Buf[o+2:o+4], uint16(length))
	bx.PutU64(p.Buf[o+4:o+12], meta.InsertTxnID)
	bx.PutU64(p.Buf[o+12:o+20], meta.DeleteTxnID)
	if meta.IsDeleted {
		p.Buf[o+20] = 1
	} else {
		p.Buf[o+20] = 0
	}
}

func (p TablePage) getSlot(slot int) (offset, length int, meta record.TupleMeta) {
	o := p.slotOffset(slot)
	offset = int(bx.U16(p.Buf[o : o+2]))
	length = int(bx.U16(p.Buf[o+2 : o+4]))
	meta.InsertTxnID = bx.U64(p.Buf[o+4 : o+12])
	meta.DeleteTxnID = bx.U64(p.Buf[o+12 : o+20])
	meta.IsDeleted = p.Buf[o+20] != 0
	return
}

// InsertTuple appends data as a new slot, copying its bytes into the
// growing-down tuple region. Returns ErrPageFull if there is no room.
func (p TablePage) InsertTuple(meta record.TupleMeta, data []byte) (slotNum int, err error) {
	if !p.NextTupleFits(len(data)) {
		return 0, ErrPageFull
	}
	newOffset := p.freeSpaceOffset() - len(data)
	copy(p.Buf[newOffset:newOffset+len(data)], data)
	p.setFreeSpaceOffset(newOffset)

	slot := p.NumTuples()
	p.putSlot(slot, newOffset, len(data), meta)
	p.setNumTuples(slot + 1)
	return slot, nil
}

// ReadTupleData returns the raw encoded bytes and meta for slot.
func (p TablePage) ReadTupleData(slot int) ([]byte, record.TupleMeta, error) {
	if slot < 0 || slot >= p.NumTuples() {
		return nil, record.TupleMeta{}, ErrSlotOutOfRange
	}
	offset, length, meta := p.getSlot(slot)
	return p.Buf[offset : offset+length], meta, nil
}

// UpdateTupleData overwrites slot's bytes in place. The caller must
// supply data of exactly the stored length; growing or shrinking a
// tuple in place is not supported (mirrors the heap's fixed-length
// update contract).
func (p TablePage) UpdateTupleData(slot int, data []byte) error {
	if slot < 0 || slot >= p.NumTuples() {
		return ErrSlotOutOfRange
	}
	offset, length, meta := p.getSlot(slot)
	if len(data) != length {
		return ErrPageFull
	}
	copy(p.Buf[offset:offset+length], data)
	p.putSlot(slot, offset, length, meta)
	return nil
}

// UpdateTupleMeta overwrites only slot's TupleMeta triplet.
func (p TablePage) UpdateTupleMeta(slot int, meta record.TupleMeta) error {
	if slot < 0 || slot >= p.NumTuples() {
		return ErrSlotOutOfRange
	}
	offset, length, _ := p.getSlot(slot)
	p.putSlot(slot, offset, length, meta)
	return nil
}
