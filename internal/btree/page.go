// Package btree implements the B+-tree index: point lookup, range
// iteration, insertion with splits, and deletion with borrow/merge
// rebalancing, built on top of the buffer pool.
package btree

import (
	"errors"

	"github.com/novasqldb/storage/internal/diskio"
	"github.com/novasqldb/storage/internal/record"
	"github.com/novasqldb/storage/pkg/bx"
)

// Tree pages are a tagged variant (internal | leaf): tree walkers such
// as findLeafPage read the tag byte with pageKind first and dispatch to
// the matching decoder.
const (
	tagLeaf     byte = 1
	tagInternal byte = 2
)

var (
	ErrWrongPageKind = errors.New("btree: page has unexpected internal/leaf tag")
	ErrPageOverflow  = errors.New("btree: encoded page exceeds PageSize")
)

// LeafEntry is one (key, RecordId) pair of a LeafPage.
type LeafEntry struct {
	Key   record.Tuple
	Value record.RecordId
}

// LeafPage holds an ordered array of (key, RecordId) entries sorted
// ascending by key, plus the link to its right sibling.
type LeafPage struct {
	MaxSize    int
	NextPageID record.PageId
	Entries    []LeafEntry
}

func (p *LeafPage) CurrentSize() int { return len(p.Entries) }

// InternalEntry is one (key, child PageId) pair of an InternalPage.
// Entries[0].Key is always nil: it stands for negative infinity, the
// implicit lower bound of the page's key range.
type InternalEntry struct {
	Key   record.Tuple
	Child record.PageId
}

// InternalPage holds an ordered array of (key, child) entries.
type InternalPage struct {
	MaxSize int
	Entries []InternalEntry
}

func (p *InternalPage) CurrentSize() int { return len(p.Entries) }

// pageKind reads buf's leading tag byte without fully decoding it.
func pageKind(buf []byte) (byte, error) {
	if len(buf) < 1 {
		return 0, ErrWrongPageKind
	}
	switch buf[0] {
	case tagLeaf, tagInternal:
		return buf[0], nil
	default:
		return 0, ErrWrongPageKind
	}
}

// leafHeaderSize: tag(1) + pad(1) + current_size(2) + max_size(2) + next_page_id(4)
const leafHeaderSize = 10

// internalHeaderSize: tag(1) + pad(1) + current_size(2) + max_size(2)
const internalHeaderSize = 6

// EncodeLeafPage serializes p, keyed against keySchema, into a
// PageSize-capped byte slice suitable for writing to a frame.
func EncodeLeafPage(keySchema record.Schema, p *LeafPage) ([]byte, error) {
	out := make([]byte, leafHeaderSize)
	out[0] = tagLeaf
	bx.PutU16(out[2:4], uint16(len(p.Entries)))
	bx.PutU16(out[4:6], uint16(p.MaxSize))
	bx.PutU32(out[6:10], p.NextPageID)

	for _, e := range p.Entries {
		kb, err := record.Encode(keySchema, e.Key)
		if err != nil {
			return nil, err
		}
		var l [2]byte
		bx.PutU16(l[:], uint16(len(kb)))
		out = append(out, l[:]...)
		out = append(out, kb...)

		var rid [8]byte
		bx.PutU32(rid[0:4], e.Value.PageID)
		bx.PutU32(rid[4:8], e.Value.SlotNum)
		out = append(out, rid[:]...)
	}

	if len(out) > diskio.PageSize {
		return nil, ErrPageOverflow
	}
	return out, nil
}

// DecodeLeafPage is the inverse of EncodeLeafPage.
func DecodeLeafPage(keySchema record.Schema, buf []byte) (*LeafPage, error) {
	kind, err := pageKind(buf)
	if err != nil {
		return nil, err
	}
	if kind != tagLeaf {
		return nil, ErrWrongPageKind
	}

	currentSize := int(bx.U16(buf[2:4]))
	maxSize := int(bx.U16(buf[4:6]))
	next := bx.U32(buf[6:10])

	i := leafHeaderSize
	entries := make([]LeafEntry, currentSize)
	for idx := 0; idx < currentSize; idx++ {
		l := int(bx.U16(buf[i : i+2]))
		i += 2
		keyBytes := buf[i : i+l]
		i += l

		key, err := record.Decode(keySchema, keyBytes)
		if err != nil {
			return nil, err
		}

		pid := bx.U32(buf[i : i+4])
		slot := bx.U32(buf[i+4 : i+8])
		i += 8

		entries[idx] = LeafEntry{Key: key, Value: record.RecordId{PageID: pid, SlotNum: slot}}
	}

	return &LeafPage{MaxSize: maxSize, NextPageID: next, Entries: entries}, nil
}

// EncodeInternalPage serializes p, keyed against keySchema.
func EncodeInternalPage(keySchema record.Schema, p *InternalPage) ([]byte, error) {
	out := make([]byte, internalHeaderSize)
	out[0] = tagInternal
	bx.PutU16(out[2:4], uint16(len(p.Entries)))
	bx.PutU16(out[4:6], uint16(p.MaxSize))

	for idx, e := range p.Entries {
		var kb []byte
		var err error
		if idx > 0 && e.Key != nil {
			kb, err = record.Encode(keySchema, e.Key)
			if err != nil {
				return nil, err
			}
		}
		var l [2]byte
		bx.PutU16(l[:], uint16(len(kb)))
		out = append(out, l[:]...)
		out = append(out, kb...)

		var c [4]byte
		bx.PutU32(c[:], e.Child)
		out = append(out, c[:]...)
	}

	if len(out) > diskio.PageSize {
		return nil, ErrPageOverflow
	}
	return out, nil
}

// DecodeInternalPage is the inverse of EncodeInternalPage.
func DecodeInternalPage(keySchema record.Schema, buf []byte) (*InternalPage, error) {
	kind, err := pageKind(buf)
	if err != nil {
		return nil, err
	}
	if kind != tagInternal {
		return nil, ErrWrongPageKind
	}

	currentSize := int(bx.U16(buf[2:4]))
	maxSize := int(bx.U16(buf[4:6]))

	i := internalHeaderSize
	entries := make([]InternalEntry, currentSize)
	for idx := 0; idx < currentSize; idx++ {
		l := int(bx.U16(buf[i : i+2]))
		i += 2
		var key record.Tuple
		if l > 0 {
			kb := buf[i : i+l]
			k, err := record.Decode(keySchema, kb)
			if err != nil {
				return nil, err
			}
			key = k
		}
		i += l

		child := bx.U32(buf[i : i+4])
		i += 4

		entries[idx] = InternalEntry{Key: key, Child: child}
	}

	return &InternalPage{MaxSize: maxSize, Entries: entries}, nil
}
