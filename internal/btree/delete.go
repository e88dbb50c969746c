package btree

import (
	"fmt"
	"log/slog"

	"github.com/novasqldb/storage/internal/bufferpool"
	"github.com/novasqldb/storage/internal/record"
)

// Delete removes key's entry, rebalancing via borrow-then-merge up the
// tree as needed. Deleting a key that is not present is a silent
// no-op, as is deleting from an empty tree.
func (t *Index) Delete(key record.Tuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.Load() == record.InvalidPageID {
		return nil
	}

	leafPID, readSet, err := t.findLeafPage(key)
	if err != nil {
		return fmt.Errorf("btree: Delete: %w", err)
	}
	h, err := t.bp.FetchPage(leafPID)
	if err != nil {
		return fmt.Errorf("btree: Delete: %w", err)
	}
	leaf, err := DecodeLeafPage(t.keySchema, h.Data())
	if err != nil {
		h.Unpin(false)
		return err
	}

	idx := -1
	for i, e := range leaf.Entries {
		if compareKey(t.keySchema, e.Key, key) == 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		h.Unpin(false)
		return nil
	}
	leaf.Entries = append(leaf.Entries[:idx], leaf.Entries[idx+1:]...)

	currentPID := leafPID
	curIsLeaf := true
	var curLeaf *LeafPage = leaf
	var curInternal *InternalPage
	curHandle := h

	for {
		isRoot := len(readSet) == 0

		if isRoot {
			if !curIsLeaf && curInternal.CurrentSize() == 1 {
				soleChild := curInternal.Entries[0].Child
				curHandle.Unpin(false)
				if _, err := t.bp.DeletePage(currentPID); err != nil {
					return fmt.Errorf("btree: Delete: collapse root: %w", err)
				}
				t.root.Store(soleChild)
				slog.Debug("btree.Delete.rootCollapsed", "newRoot", soleChild)
				return nil
			}
			break // root is permissibly small otherwise; persist and stop
		}

		var size, minSize int
		if curIsLeaf {
			size, minSize = curLeaf.CurrentSize(), ceilDiv(curLeaf.MaxSize, 2)
		} else {
			size, minSize = curInternal.CurrentSize(), ceilDiv(curInternal.MaxSize, 2)
		}
		if size >= minSize {
			break
		}

		parentPID := readSet[len(readSet)-1]
		parentH, err := t.bp.FetchPage(parentPID)
		if err != nil {
			curHandle.Unpin(false)
			return fmt.Errorf("btree: Delete: fetch parent: %w", err)
		}
		parentInternal, err := DecodeInternalPage(t.keySchema, parentH.Data())
		if err != nil {
			parentH.Unpin(false)
			curHandle.Unpin(false)
			return err
		}

		childIdx := -1
		for i, e := range parentInternal.Entries {
			if e.Child == currentPID {
				childIdx = i
				break
			}
		}
		if childIdx == -1 {
			parentH.Unpin(false)
			curHandle.Unpin(false)
			return ErrCorruptTree
		}

		haveLeft := childIdx > 0
		haveRight := childIdx < len(parentInternal.Entries)-1

		borrowed, err := t.tryBorrow(curIsLeaf, curLeaf, curInternal, curHandle, parentInternal, childIdx, haveLeft, haveRight)
		if err != nil {
			parentH.Unpin(false)
			curHandle.Unpin(false)
			return err
		}
		if borrowed {
			if err := t.writeInternal(parentH, parentInternal); err != nil {
				parentH.Unpin(false)
				curHandle.Unpin(false)
				return err
			}
			parentH.Unpin(true)
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

		mergeLeftIdx, err := t.mergeWithSibling(curIsLeaf, &curLeaf, &curInternal, currentPID, curHandle, parentInternal, childIdx, haveLeft)
		if err != nil {
			parentH.Unpin(false)
			return err
		}

		parentInternal.Entries = append(parentInternal.Entries[:mergeLeftIdx+1], parentInternal.Entries[mergeLeftIdx+2:]...)

		currentPID = parentPID
		curIsLeaf = false
		curLeaf = nil
		curInternal = parentInternal
		curHandle = parentH
		readSet = readSet[:len(readSet)-1]
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

// tryBorrow attempts to borrow one entry from a sibling that can
// spare it (size strictly exceeds its minimum), preferring the left
// sibling. On success it mutates cur in place and rewrites the
// parent's separator, and the sibling page has already been
// persisted and unpinned.
func (t *Index) tryBorrow(
	curIsLeaf bool, curLeaf *LeafPage, curInternal *InternalPage, curHandle *bufferpool.PageHandle,
	parent *InternalPage, childIdx int, haveLeft, haveRight bool,
) (bool, error) {
	if haveLeft {
		leftPID := parent.Entries[childIdx-1].Child
		lh, err := t.bp.FetchPage(leftPID)
		if err != nil {
			return false, err
		}
		ok, err := t.borrowFromLeft(curIsLeaf, curLeaf, curInternal, lh, parent, childIdx)
		if err != nil {
			lh.Unpin(false)
			return false, err
		}
		if ok {
			return true, nil
		}
		lh.Unpin(false)
	}

	if haveRight {
		rightPID := parent.Entries[childIdx+1].Child
		rh, err := t.bp.FetchPage(rightPID)
		if err != nil {
			return false, err
		}
		ok, err := t.borrowFromRight(curIsLeaf, curLeaf, curInternal, rh, parent, childIdx)
		if err != nil {
			rh.Unpin(false)
			return false, err
		}
		if ok {
			return true, nil
		}
		rh.Unpin(false)
	}

	return false, nil
}

func (t *Index) borrowFromLeft(
	curIsLeaf bool, curLeaf *LeafPage, curInternal *InternalPage,
	lh *bufferpool.PageHandle, parent *InternalPage, childIdx int,
) (bool, error) {
	if curIsLeaf {
		left, err := DecodeLeafPage(t.keySchema, lh.Data())
		if err != nil {
			return false, err
		}
		if left.CurrentSize() <= ceilDiv(left.MaxSize, 2) {
			return false, nil
		}
		moved := left.Entries[len(left.Entries)-1]
		left.Entries = left.Entries[:len(left.Entries)-1]
		curLeaf.Entries = append([]LeafEntry{moved}, curLeaf.Entries...)
		parent.Entries[childIdx].Key = moved.Key

		if err := t.writeLeaf(lh, left); err != nil {
			return false, err
		}
		lh.Unpin(true)
		return true, nil
	}

	left, err := DecodeInternalPage(t.keySchema, lh.Data())
	if err != nil {
		return false, err
	}
	if left.CurrentSize() <= ceilDiv(left.MaxSize, 2) {
		return false, nil
	}
	moved := left.Entries[len(left.Entries)-1]
	left.Entries = left.Entries[:len(left.Entries)-1]

	oldFirst := curInternal.Entries[0]
	oldFirstMinKey, err := t.minLeafKey(oldFirst.Child)
	if err != nil {
		return false, err
	}

	newEntries := make([]InternalEntry, 0, len(curInternal.Entries)+1)
	newEntries = append(newEntries, InternalEntry{Key: nil, Child: moved.Child})
	newEntries = append(newEntries, InternalEntry{Key: oldFirstMinKey, Child: oldFirst.Child})
	newEntries = append(newEntries, curInternal.Entries[1:]...)
	curInternal.Entries = newEntries

	parent.Entries[childIdx].Key = moved.Key

	if err := t.writeInternal(lh, left); err != nil {
		return false, err
	}
	lh.Unpin(true)
	return true, nil
}

func (t *Index) borrowFromRight(
	curIsLeaf bool, curLeaf *LeafPage, curInternal *InternalPage,
	rh *bufferpool.PageHandle, parent *InternalPage, childIdx int,
) (bool, error) {
	if curIsLeaf {
		right, err := DecodeLeafPage(t.keySchema, rh.Data())
		if err != nil {
			return false, err
		}
		if right.CurrentSize() <= ceilDiv(right.MaxSize, 2) {
			return false, nil
		}
		moved := right.Entries[0]
		right.Entries = right.Entries[1:]
		curLeaf.Entries = append(curLeaf.Entries, moved)
		parent.Entries[childIdx+1].Key = right.Entries[0].Key

		if err := t.writeLeaf(rh, right); err != nil {
			return false, err
		}
		rh.Unpin(true)
		return true, nil
	}

	right, err := DecodeInternalPage(t.keySchema, rh.Data())
	if err != nil {
		return false, err
	}
	if right.CurrentSize() <= ceilDiv(right.MaxSize, 2) {
		return false, nil
	}
	movedChild := right.Entries[0].Child
	movedKey, err := t.minLeafKey(movedChild)
	if err != nil {
		return false, err
	}
	curInternal.Entries = append(curInternal.Entries, InternalEntry{Key: movedKey, Child: movedChild})

	newRightSeparator := right.Entries[1].Key
	right.Entries = append([]InternalEntry{{Key: nil, Child: right.Entries[1].Child}}, right.Entries[2:]...)
	parent.Entries[childIdx+1].Key = newRightSeparator

	if err := t.writeInternal(rh, right); err != nil {
		return false, err
	}
	rh.Unpin(true)
	return true, nil
}

// mergeWithSibling merges cur with its left sibling if one exists,
// else its right sibling, writing the surviving (left) page back and
// deleting the absorbed (right) page. It returns the index in parent
// of the surviving left entry, so the caller can drop the absorbed
// entry that followed it.
func (t *Index) mergeWithSibling(
	curIsLeaf bool, curLeaf **LeafPage, curInternal **InternalPage, currentPID record.PageId,
	curHandle *bufferpool.PageHandle, parent *InternalPage, childIdx int, haveLeft bool,
) (int, error) {
	var leftPID, rightPID record.PageId
	var leftHandle, rightHandle *bufferpool.PageHandle
	var mergeLeftIdx int

	if haveLeft {
		leftPID = parent.Entries[childIdx-1].Child
		rightPID = currentPID
		mergeLeftIdx = childIdx - 1

		lh, err := t.bp.FetchPage(leftPID)
		if err != nil {
			return 0, err
		}
		leftHandle = lh
		rightHandle = curHandle
	} else if childIdx < len(parent.Entries)-1 {
		leftPID = currentPID
		rightPID = parent.Entries[childIdx+1].Child
		mergeLeftIdx = childIdx

		rh, err := t.bp.FetchPage(rightPID)
		if err != nil {
			return 0, err
		}
		leftHandle = curHandle
		rightHandle = rh
	} else {
		return 0, ErrNoSiblingToMerge
	}

	if curIsLeaf {
		var left, right *LeafPage
		var err error
		if haveLeft {
			left, err = DecodeLeafPage(t.keySchema, leftHandle.Data())
			right = *curLeaf
		} else {
			left = *curLeaf
			right, err = DecodeLeafPage(t.keySchema, rightHandle.Data())
		}
		if err != nil {
			leftHandle.Unpin(false)
			rightHandle.Unpin(false)
			return 0, err
		}

		left.Entries = append(left.Entries, right.Entries...)
		left.NextPageID = right.NextPageID

		if err := t.writeLeaf(leftHandle, left); err != nil {
			leftHandle.Unpin(false)
			rightHandle.Unpin(false)
			return 0, err
		}
		leftHandle.Unpin(true)
		rightHandle.Unpin(false)
	} else {
		var left, right *InternalPage
		var err error
		if haveLeft {
			left, err = DecodeInternalPage(t.keySchema, leftHandle.Data())
			right = *curInternal
		} else {
			left = *curInternal
			right, err = DecodeInternalPage(t.keySchema, rightHandle.Data())
		}
		if err != nil {
			leftHandle.Unpin(false)
			rightHandle.Unpin(false)
			return 0, err
		}

		rightFirstMinKey, err := t.minLeafKey(right.Entries[0].Child)
		if err != nil {
			leftHandle.Unpin(false)
			rightHandle.Unpin(false)
			return 0, err
		}
		right.Entries[0].Key = rightFirstMinKey

		left.Entries = append(left.Entries, right.Entries...)

		if err := t.writeInternal(leftHandle, left); err != nil {
			leftHandle.Unpin(false)
			rightHandle.Unpin(false)
			return 0, err
		}
		leftHandle.Unpin(true)
		rightHandle.Unpin(false)
	}

	if _, err := t.bp.DeletePage(rightPID); err != nil {
		return 0, fmt.Errorf("btree: merge: delete absorbed page: %w", err)
	}
	slog.Debug("btree.Delete.merged", "survivor", leftPID, "absorbed", rightPID)
	return mergeLeftIdx, nil
}
