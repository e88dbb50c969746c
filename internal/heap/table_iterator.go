package heap

import "github.com/novasqldb/storage/internal/record"

// BoundKind is the kind of one end of a TableIterator's RecordId range.
type BoundKind int

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is one endpoint of a range passed to NewIterator.
type Bound struct {
	Kind BoundKind
	RID  record.RecordId
}

// IncludedBound builds a Bound that includes rid itself.
func IncludedBound(rid record.RecordId) Bound { return Bound{Kind: Included, RID: rid} }

// ExcludedBound builds a Bound that excludes rid itself.
func ExcludedBound(rid record.RecordId) Bound { return Bound{Kind: Excluded, RID: rid} }

// UnboundedBound builds a Bound with no constraint.
func UnboundedBound() Bound { return Bound{Kind: Unbounded} }

type iterState int

const (
	notStarted iterState = iota
	active
	ended
)

// TableIterator is a restartable forward cursor over a range of
// RecordIds whose ends are each inclusive, exclusive or unbounded. Each call to Next decodes and returns the tuple at the
// current RID; once the end bound is reached, every subsequent call
// returns ok=false.
type TableIterator struct {
	th    *TableHeap
	start Bound
	end   Bound
	state iterState
	cur   record.RecordId
}

// NewIterator creates a TableIterator from start to end; each bound
// includes or excludes its RID, or is unbounded, per its Bound kind.
func NewIterator(th *TableHeap, start, end Bound) *TableIterator {
	return &TableIterator{th: th, start: start, end: end, state: notStarted}
}

// Next advances the cursor and returns the RID and decoded tuple it
// now points to, or ok=false if the range is exhausted.
func (it *TableIterator) Next() (record.RecordId, record.Tuple, bool) {
	if it.state == ended {
		return record.InvalidRID, nil, false
	}

	var next record.RecordId
	if it.state == notStarted {
		var ok bool
		switch it.start.Kind {
		case Unbounded:
			next, ok = it.th.GetFirstRID()
		case Included:
			next, ok = it.start.RID, true
		case Excluded:
			next, ok = it.th.GetNextRID(it.start.RID)
		}
		if !ok {
			it.state = ended
			return record.InvalidRID, nil, false
		}
		it.state = active
	} else {
		n, ok := it.th.GetNextRID(it.cur)
		if !ok {
			it.state = ended
			return record.InvalidRID, nil, false
		}
		next = n
	}

	if it.end.Kind == Excluded && next == it.end.RID {
		it.state = ended
		return record.InvalidRID, nil, false
	}

	it.cur = next
	meta, tup, err := it.th.FullTuple(next)
	if err != nil {
		it.state = ended
		return record.InvalidRID, nil, false
	}
	_ = meta

	if it.end.Kind == Included && next == it.end.RID {
		it.state = ended
	}
	return next, tup, true
}
