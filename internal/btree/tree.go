package btree

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/novasqldb/storage/internal/bufferpool"
	"github.com/novasqldb/storage/internal/record"
)

var (
	ErrKeyNotFound      = errors.New("btree: key not found")
	ErrCorruptTree      = errors.New("btree: child page id not found in parent")
	ErrEmptyLeaf        = errors.New("btree: leaf page has no entries")
	ErrNoSiblingToMerge = errors.New("btree: underflowing page has no sibling to borrow/merge with")
)

// Index is a B+-tree index over tuples of key_schema, mapping keys to
// RecordIds via a page chain rooted at root_page_id. root_page_id is
// atomic because readers may descend the tree concurrently with a
// writer completing a root-promoting split or merge.
type Index struct {
	mu          sync.Mutex
	keySchema   record.Schema
	bp          *bufferpool.Manager
	internalMax int
	leafMax     int
	root        atomic.Uint32
}

// New creates an empty index. internalMax/leafMax bound the number of
// entries an internal/leaf page may hold before it must split.
func New(bp *bufferpool.Manager, keySchema record.Schema, internalMax, leafMax int) *Index {
	idx := &Index{keySchema: keySchema, bp: bp, internalMax: internalMax, leafMax: leafMax}
	idx.root.Store(record.InvalidPageID)
	return idx
}

// RootPageID returns the current root page id, or InvalidPageID if the
// tree is empty.
func (t *Index) RootPageID() record.PageId { return t.root.Load() }

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// compareKey orders a, b where a nil key stands for negative infinity.
func compareKey(s record.Schema, a, b record.Tuple) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return record.Compare(s, a, b)
	}
}

// lookUp returns the child pointer of the greatest entry whose key is
// <= target, treating entries[0]'s key as negative infinity.
func lookUp(s record.Schema, p *InternalPage, target record.Tuple) record.PageId {
	childIdx := 0
	for i := 1; i < len(p.Entries); i++ {
		if compareKey(s, p.Entries[i].Key, target) <= 0 {
			childIdx = i
		} else {
			break
		}
	}
	return p.Entries[childIdx].Child
}

func (t *Index) writeLeaf(h *bufferpool.PageHandle, p *LeafPage) error {
	buf, err := EncodeLeafPage(t.keySchema, p)
	if err != nil {
		return fmt.Errorf("btree: encode leaf: %w", err)
	}
	data := h.Data()
	for i := range data {
		data[i] = 0
	}
	copy(data, buf)
	h.MarkDirty()
	return nil
}

func (t *Index) writeInternal(h *bufferpool.PageHandle, p *InternalPage) error {
	buf, err := EncodeInternalPage(t.keySchema, p)
	if err != nil {
		return fmt.Errorf("btree: encode internal: %w", err)
	}
	data := h.Data()
	for i := range data {
		data[i] = 0
	}
	copy(data, buf)
	h.MarkDirty()
	return nil
}

// findLeafPage descends from the root to the leaf that should contain
// key, recording visited internal page ids in readSet (deepest last).
func (t *Index) findLeafPage(key record.Tuple) (leafPID record.PageId, readSet []record.PageId, err error) {
	cur := t.root.Load()
	if cur == record.InvalidPageID {
		return record.InvalidPageID, nil, ErrKeyNotFound
	}
	for {
		h, err := t.bp.FetchPage(cur)
		if err != nil {
			return 0, nil, fmt.Errorf("btree: findLeafPage: %w", err)
		}
		kind, err := pageKind(h.Data())
		if err != nil {
			h.Unpin(false)
			return 0, nil, err
		}
		if kind == tagLeaf {
			h.Unpin(false)
			return cur, readSet, nil
		}
		ip, err := DecodeInternalPage(t.keySchema, h.Data())
		h.Unpin(false)
		if err != nil {
			return 0, nil, err
		}
		readSet = append(readSet, cur)
		cur = lookUp(t.keySchema, ip, key)
	}
}

// minLeafKey returns the smallest key in the subtree rooted at pid, by
// repeatedly following child 0 down to the leftmost leaf.
func (t *Index) minLeafKey(pid record.PageId) (record.Tuple, error) {
	cur := pid
	for {
		h, err := t.bp.FetchPage(cur)
		if err != nil {
			return nil, fmt.Errorf("btree: minLeafKey: %w", err)
		}
		kind, err := pageKind(h.Data())
		if err != nil {
			h.Unpin(false)
			return nil, err
		}
		if kind == tagLeaf {
			leaf, err := DecodeLeafPage(t.keySchema, h.Data())
			h.Unpin(false)
			if err != nil {
				return nil, err
			}
			if len(leaf.Entries) == 0 {
				return nil, ErrEmptyLeaf
			}
			return leaf.Entries[0].Key, nil
		}
		ip, err := DecodeInternalPage(t.keySchema, h.Data())
		h.Unpin(false)
		if err != nil {
			return nil, err
		}
		cur = ip.Entries[0].Child
	}
}

// leftmostLeaf returns the page id of the tree's leftmost leaf.
func (t *Index) leftmostLeaf() (record.PageId, error) {
	cur := t.root.Load()
	if cur == record.InvalidPageID {
		return record.InvalidPageID, ErrKeyNotFound
	}
	for {
		h, err := t.bp.FetchPage(cur)
		if err != nil {
			return 0, err
		}
		kind, err := pageKind(h.Data())
		if err != nil {
			h.Unpin(false)
			return 0, err
		}
		if kind == tagLeaf {
			h.Unpin(false)
			return cur, nil
		}
		ip, err := DecodeInternalPage(t.keySchema, h.Data())
		h.Unpin(false)
		if err != nil {
			return 0, err
		}
		cur = ip.Entries[0].Child
	}
}

// Get returns the record id associated with key, if present.
func (t *Index) Get(key record.Tuple) (record.RecordId, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.Load() == record.InvalidPageID {
		return record.InvalidRID, false, nil
	}
	leafPID, _, err := t.findLeafPage(key)
	if err != nil {
		return record.InvalidRID, false, err
	}
	h, err := t.bp.FetchPage(leafPID)
	if err != nil {
		return record.InvalidRID, false, err
	}
	defer h.Unpin(false)

	leaf, err := DecodeLeafPage(t.keySchema, h.Data())
	if err != nil {
		return record.InvalidRID, false, err
	}
	for _, e := range leaf.Entries {
		if compareKey(t.keySchema, e.Key, key) == 0 {
			return e.Value, true, nil
		}
	}
	return record.InvalidRID, false, nil
}

// Insert adds (key, rid), splitting pages up the tree as needed.
// Duplicate keys are permitted; within a leaf the new entry is placed
// after any existing equal entries, and Get returns the first equal
// entry of the leaf it descends to. Once equal keys span a split, the
// separator equals the key and lookUp descends to its right, so equal
// entries left in the left sibling are not returned by Get.
func (t *Index) Insert(key record.Tuple, rid record.RecordId) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.Load() == record.InvalidPageID {
		h, err := t.bp.NewPage()
		if err != nil {
			return fmt.Errorf("btree: Insert: %w", err)
		}
		leaf := &LeafPage{
			MaxSize:    t.leafMax,
			NextPageID: record.InvalidPageID,
			Entries:    []LeafEntry{{Key: key, Value: rid}},
		}
		if err := t.writeLeaf(h, leaf); err != nil {
			h.Unpin(false)
			return err
		}
		h.Unpin(true)
		t.root.Store(h.PageID())
		slog.Debug("btree.Insert.newRoot", "pageID", h.PageID())
		return nil
	}

	leafPID, readSet, err := t.findLeafPage(key)
	if err != nil {
		return fmt.Errorf("btree: Insert: %w", err)
	}
	h, err := t.bp.FetchPage(leafPID)
	if err != nil {
		return fmt.Errorf("btree: Insert: %w", err)
	}
	leaf, err := DecodeLeafPage(t.keySchema, h.Data())
	if err != nil {
		h.Unpin(false)
		return err
	}

	idx := 0
	for idx < len(leaf.Entries) && compareKey(t.keySchema, leaf.Entries[idx].Key, key) <= 0 {
		idx++
	}
	leaf.Entries = append(leaf.Entries, LeafEntry{})
	copy(leaf.Entries[idx+1:], leaf.Entries[idx:])
	leaf.Entries[idx] = LeafEntry{Key: key, Value: rid}

	currentPID := leafPID
	curIsLeaf := true
	var curLeaf *LeafPage = leaf
	var curInternal *InternalPage
	curHandle := h

	for {
		var overflow bool
		if curIsLeaf {
			overflow = curLeaf.CurrentSize() > curLeaf.MaxSize
		} else {
			overflow = curInternal.CurrentSize() > curInternal.MaxSize
		}
		if !overflow {
			break
		}

		newH, err := t.bp.NewPage()
		if err != nil {
			curHandle.Unpin(false)
			return fmt.Errorf("btree: Insert: split: %w", err)
		}

		var separator record.Tuple
		var newRightID record.PageId = newH.PageID()

		if curIsLeaf {
			splitPoint := (curLeaf.MaxSize + 1) / 2
			rightEntries := append([]LeafEntry(nil), curLeaf.Entries[splitPoint:]...)
			curLeaf.Entries = curLeaf.Entries[:splitPoint]

			newLeaf := &LeafPage{MaxSize: curLeaf.MaxSize, NextPageID: curLeaf.NextPageID, Entries: rightEntries}
			curLeaf.NextPageID = newRightID
			separator = newLeaf.Entries[0].Key

			if err := t.writeLeaf(newH, newLeaf); err != nil {
				newH.Unpin(false)
				curHandle.Unpin(false)
				return err
			}
		} else {
			splitPoint := (curInternal.MaxSize + 1) / 2
			rightEntries := append([]InternalEntry(nil), curInternal.Entries[splitPoint:]...)
			curInternal.Entries = curInternal.Entries[:splitPoint]
			rightEntries[0].Key = nil // new page's first entry is the sentinel

			newInternal := &InternalPage{MaxSize: curInternal.MaxSize, Entries: rightEntries}

			sep, err := t.minLeafKey(newInternal.Entries[0].Child)
			if err != nil {
				newH.Unpin(false)
				curHandle.Unpin(false)
				return err
			}
			separator = sep

			if err := t.writeInternal(newH, newInternal); err != nil {
				newH.Unpin(false)
				curHandle.Unpin(false)
				return err
			}
		}
		newH.Unpin(true)

		if curIsLeaf {
			if err := t.writeLeaf(curHandle, curLeaf); err != nil {
				curHandle.Unpin(false)
				return err
			}
		} else {
			if err := t.writeInternal(curHandle, curInternal); err != nil {
				curHandle.Unpin(false)
				return err
			}
		}
		curHandle.Unpin(true)

		if len(readSet) == 0 {
			newRootH, err := t.bp.NewPage()
			if err != nil {
				return fmt.Errorf("btree: Insert: new root: %w", err)
			}
			rootInternal := &InternalPage{
				MaxSize: t.internalMax,
				Entries: []InternalEntry{
					{Key: nil, Child: currentPID},
					{Key: separator, Child: newRightID},
				},
			}
			if err := t.writeInternal(newRootH, rootInternal); err != nil {
				newRootH.Unpin(false)
				return err
			}
			newRootH.Unpin(true)
			t.root.Store(newRootH.PageID())
			slog.Debug("btree.Insert.newRootAfterSplit", "pageID", newRootH.PageID())
			return nil
		}

		parentPID := readSet[len(readSet)-1]
		readSet = readSet[:len(readSet)-1]

		parentH, err := t.bp.FetchPage(parentPID)
		if err != nil {
			return fmt.Errorf("btree: Insert: fetch parent: %w", err)
		}
		parentInternal, err := DecodeInternalPage(t.keySchema, parentH.Data())
		if err != nil {
			parentH.Unpin(false)
			return err
		}

		pidx := 1
		for pidx < len(parentInternal.Entries) && compareKey(t.keySchema, parentInternal.Entries[pidx].Key, separator) <= 0 {
			pidx++
		}
		parentInternal.Entries = append(parentInternal.Entries, InternalEntry{})
		copy(parentInternal.Entries[pidx+1:], parentInternal.Entries[pidx:])
		parentInternal.Entries[pidx] = InternalEntry{Key: separator, Child: newRightID}

		currentPID = parentPID
		curIsLeaf = false
		curLeaf = nil
		curInternal = parentInternal
		curHandle = parentH
	}

	if curIsLeaf {
		if err := t.writeLeaf(curHandle, curLeaf); err != nil {
			curHandle.Unpin(false)
			return err
		}
	} else {
		if err := t.writeInternal(curHandle, curInternal); err != nil {
			curHandle.Unpin(false)
			return err
		}
	}
	curHandle.Unpin(true)
	return nil
}
