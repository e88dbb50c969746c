package btree

import (
	"errors"

	"github.com/novasqldb/storage/internal/record"
)

// KeyBoundKind is the kind of one end of an Iterator's key range.
type KeyBoundKind int

const (
	KeyUnbounded KeyBoundKind = iota
	KeyIncluded
	KeyExcluded
)

// KeyBound is one endpoint of a range passed to NewIterator.
type KeyBound struct {
	Kind KeyBoundKind
	Key  record.Tuple
}

func IncludedKey(key record.Tuple) KeyBound { return KeyBound{Kind: KeyIncluded, Key: key} }
func ExcludedKey(key record.Tuple) KeyBound { return KeyBound{Kind: KeyExcluded, Key: key} }
func UnboundedKey() KeyBound                { return KeyBound{Kind: KeyUnbounded} }

// Iterator is a restartable forward cursor over a key range whose ends
// are each inclusive, exclusive or unbounded.
// It owns a decoded copy of the current leaf rather than a pinned
// handle, to keep lifetimes simple across next_page_id traversal;
// consequently, a concurrent mutation between Next calls can produce
// stale results. Acceptable under the single-writer assumption.
type Iterator struct {
	t     *Index
	start KeyBound
	end   KeyBound

	started bool
	ended   bool
	leaf    *LeafPage
	cursor  int
}

// NewIterator creates a range iterator from start to end; each bound
// includes or excludes its key, or is unbounded, per its KeyBound kind.
func NewIterator(t *Index, start, end KeyBound) *Iterator {
	return &Iterator{t: t, start: start, end: end}
}

func (t *Index) fetchLeafCopy(pid record.PageId) (*LeafPage, error) {
	h, err := t.bp.FetchPage(pid)
	if err != nil {
		return nil, err
	}
	defer h.Unpin(false)
	return DecodeLeafPage(t.keySchema, h.Data())
}

// nextClosest returns the smallest index in leaf whose key >= target
// (or > target when inclusive is false), or -1 if none.
func nextClosest(s record.Schema, leaf *LeafPage, target record.Tuple, inclusive bool) int {
	for i, e := range leaf.Entries {
		c := compareKey(s, e.Key, target)
		if inclusive && c >= 0 {
			return i
		}
		if !inclusive && c > 0 {
			return i
		}
	}
	return -1
}

func (it *Iterator) materializeStart() error {
	switch it.start.Kind {
	case KeyUnbounded:
		pid, err := it.t.leftmostLeaf()
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				it.leaf = nil
				return nil
			}
			return err
		}
		leaf, err := it.t.fetchLeafCopy(pid)
		if err != nil {
			return err
		}
		it.leaf, it.cursor = leaf, 0
		return nil

	default: // KeyIncluded, KeyExcluded
		if it.t.root.Load() == record.InvalidPageID {
			it.leaf = nil
			return nil
		}
		leafPID, _, err := it.t.findLeafPage(it.start.Key)
		if err != nil {
			return err
		}
		leaf, err := it.t.fetchLeafCopy(leafPID)
		if err != nil {
			return err
		}

		idx := nextClosest(it.t.keySchema, leaf, it.start.Key, it.start.Kind == KeyIncluded)
		if idx == -1 {
			next := leaf.NextPageID
			if next == record.InvalidPageID {
				it.leaf = nil
				return nil
			}
			leaf2, err := it.t.fetchLeafCopy(next)
			if err != nil {
				return err
			}
			it.leaf, it.cursor = leaf2, 0
			return nil
		}
		it.leaf, it.cursor = leaf, idx
		return nil
	}
}

// Next advances the cursor and returns the RecordId it now points to,
// or ok=false once the range is exhausted.
func (it *Iterator) Next() (record.RecordId, bool, error) {
	if it.ended {
		return record.InvalidRID, false, nil
	}

	if !it.started {
		it.started = true
		if err := it.materializeStart(); err != nil {
			it.ended = true
			return record.InvalidRID, false, err
		}
		if it.leaf == nil || it.cursor >= len(it.leaf.Entries) {
			it.ended = true
			return record.InvalidRID, false, nil
		}
	} else {
		it.cursor++
		if it.cursor >= len(it.leaf.Entries) {
			next := it.leaf.NextPageID
			if next == record.InvalidPageID {
				it.ended = true
				return record.InvalidRID, false, nil
			}
			leaf, err := it.t.fetchLeafCopy(next)
			if err != nil {
				it.ended = true
				return record.InvalidRID, false, err
			}
			it.leaf, it.cursor = leaf, 0
			if len(it.leaf.Entries) == 0 {
				it.ended = true
				return record.InvalidRID, false, nil
			}
		}
	}

	key := it.leaf.Entries[it.cursor].Key
	switch it.end.Kind {
	case KeyIncluded:
		if compareKey(it.t.keySchema, key, it.end.Key) > 0 {
			it.ended = true
			return record.InvalidRID, false, nil
		}
	case KeyExcluded:
		if compareKey(it.t.keySchema, key, it.end.Key) >= 0 {
			it.ended = true
			return record.InvalidRID, false, nil
		}
	}

	return it.leaf.Entries[it.cursor].Value, true, nil
}
