// Package replacer implements the frame-eviction policy used by the
// buffer pool: LRU-K.
package replacer

import (
	"errors"
	"sync"
)

// ErrFrameOutOfRange is returned when a frame id outside [0, N) is
// passed to RecordAccess or SetEvictable.
var ErrFrameOutOfRange = errors.New("replacer: frame id out of range")

// history keeps the last up-to-K access timestamps for one frame,
// oldest first. A frame with fewer than K recorded accesses has an
// infinite backward-k-distance.
type history struct {
	accesses  []int64
	evictable bool
}

// LRUK tracks per-frame access history for up to N frames and selects
// eviction victims by backward k-distance: now minus the timestamp of
// the k-th most recent access, +infinity if a frame has fewer than k
// accesses. Ties within the infinite group break on oldest
// earliest-access timestamp (plain LRU).
type LRUK struct {
	mu    sync.Mutex
	k     int
	clock int64
	cap   int
	frame []history
	size  int // number of currently evictable frames
}

// New creates an LRU-K replacer for numFrames frames with the given
// lookback distance k. k < 1 is treated as 1 (degenerates to plain LRU).
func New(numFrames, k int) *LRUK {
	if k < 1 {
		k = 1
	}
	return &LRUK{
		k:     k,
		cap:   numFrames,
		frame: make([]history, numFrames),
	}
}

func (r *LRUK) inRange(frameID int) bool {
	return frameID >= 0 && frameID < r.cap
}

// RecordAccess appends the current logical timestamp to frameID's
// history, keeping at most k entries (oldest trimmed first).
func (r *LRUK) RecordAccess(frameID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inRange(frameID) {
		return ErrFrameOutOfRange
	}

	r.clock++
	h := &r.frame[frameID]
	h.accesses = append(h.accesses, r.clock)
	if len(h.accesses) > r.k {
		h.accesses = h.accesses[len(h.accesses)-r.k:]
	}
	return nil
}

// SetEvictable toggles whether frameID is a candidate for eviction.
func (r *LRUK) SetEvictable(frameID int, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inRange(frameID) {
		return ErrFrameOutOfRange
	}

	h := &r.frame[frameID]
	if h.evictable == evictable {
		return nil
	}
	h.evictable = evictable
	if evictable {
		r.size++
	} else {
		r.size--
	}
	return nil
}

// Remove forgets all history for frameID; it is no longer an eviction
// candidate until RecordAccess/SetEvictable are called again.
func (r *LRUK) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inRange(frameID) {
		return
	}
	h := &r.frame[frameID]
	if h.evictable {
		r.size--
	}
	*h = history{}
}

// Evict picks the evictable frame with the largest backward k-distance
// and returns it, removing its history. Returns ok=false if no frame
// is evictable.
func (r *LRUK) Evict() (frameID int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	victim := -1
	victimInf := false
	var victimKey int64

	for i := range r.frame {
		h := &r.frame[i]
		if !h.evictable {
			continue
		}
		isInf := len(h.accesses) < r.k
		var key int64
		if len(h.accesses) > 0 {
			key = h.accesses[0]
		}

		switch {
		case victim == -1:
			victim, victimInf, victimKey = i, isInf, key
		case isInf && !victimInf:
			victim, victimInf, victimKey = i, isInf, key
		case isInf == victimInf && key < victimKey:
			victim, victimInf, victimKey = i, isInf, key
		}
	}

	if victim == -1 {
		return 0, false
	}

	r.frame[victim] = history{}
	r.size--
	return victim, true
}

// Size returns the number of currently evictable frames.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
