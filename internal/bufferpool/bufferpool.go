// Package bufferpool implements the buffer pool manager: a bounded
// array of frames caching disk pages, backed by an LRU-K replacer.
package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/novasqldb/storage/internal/diskio"
	"github.com/novasqldb/storage/internal/replacer"
)

var (
	// ErrBufferPoolFull is returned by NewPage when every frame is
	// pinned and there is nothing left to evict.
	ErrBufferPoolFull = errors.New("bufferpool: buffer pool is full, all pages pinned")

	// ErrNoFreeFrame is returned when frame allocation fails because
	// the replacer has nothing evictable either.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available")
)

// frame is one slot of the pool's fixed-size frame array.
type frame struct {
	pageID diskio.PageId
	buf    []byte
	pin    atomic.Int32
	dirty  atomic.Bool
}

// Manager owns the frame array, page table, free list, and replacer.
// It lends out pinned PageHandles and guarantees at most one frame per
// page id.
type Manager struct {
	mu        sync.Mutex
	disk      diskio.DiskManager
	frames    []*frame
	pageTable map[diskio.PageId]int // PageId -> frame index
	freeList  []int
	repl      *replacer.LRUK
}

// New creates a buffer pool of the given size, backed by disk.
// replacerK is the K in LRU-K (the spec's typical default is 2).
func New(disk diskio.DiskManager, poolSize, replacerK int) *Manager {
	if poolSize <= 0 {
		poolSize = 1000 // BUFFER_POOL_SIZE default
	}

	free := make([]int, poolSize)
	for i := range free {
		free[i] = i
	}

	return &Manager{
		disk:      disk,
		frames:    make([]*frame, poolSize),
		pageTable: make(map[diskio.PageId]int, poolSize),
		freeList:  free,
		repl:      replacer.New(poolSize, replacerK),
	}
}

// PageHandle is a pinned reference to a frame. Data() exposes the raw
// PageSize-byte image for the caller to decode/encode in place; Unpin
// must be called exactly once when the caller is done (typically via
// defer), releasing the pin and, if it reaches zero, marking the frame
// evictable again.
type PageHandle struct {
	bp      *Manager
	frameID int
	pageID  diskio.PageId
	once    sync.Once
}

// PageID returns the id of the page behind this handle.
func (h *PageHandle) PageID() diskio.PageId { return h.pageID }

// Data returns the frame's backing byte buffer. Valid only while the
// handle has not been unpinned.
func (h *PageHandle) Data() []byte {
	return h.bp.frames[h.frameID].buf
}

// MarkDirty flags the frame as dirty without unpinning it.
func (h *PageHandle) MarkDirty() {
	h.bp.frames[h.frameID].dirty.Store(true)
}

// Unpin releases this handle. dirty, if true, marks the frame dirty in
// addition to whatever MarkDirty calls already did. Safe to call more
// than once; only the first call has effect.
func (h *PageHandle) Unpin(dirty bool) {
	h.once.Do(func() {
		f := h.bp.frames[h.frameID]
		if dirty {
			f.dirty.Store(true)
		}
		if f.pin.Dec() == 0 {
			h.bp.mu.Lock()
			_ = h.bp.repl.SetEvictable(h.frameID, true)
			h.bp.mu.Unlock()
		}
	})
}

// NewPage allocates a fresh page from the DiskManager, installs it in
// a frame pinned once, and returns a handle to it.
func (m *Manager) NewPage() (*PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.freeList) == 0 && m.repl.Size() == 0 {
		return nil, ErrBufferPoolFull
	}

	fid, err := m.allocateFrameLocked()
	if err != nil {
		return nil, err
	}

	id, err := m.disk.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("bufferpool: NewPage: %w", err)
	}

	f := m.ensureFrame(fid)
	f.pageID = id
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.pin.Store(1)
	f.dirty.Store(false)

	m.pageTable[id] = fid
	_ = m.repl.RecordAccess(fid)
	_ = m.repl.SetEvictable(fid, false)

	slog.Debug("bufferpool.NewPage", "pageID", id, "frameID", fid)
	return &PageHandle{bp: m, frameID: fid, pageID: id}, nil
}

// FetchPage returns a pinned handle to pid, loading it from disk if it
// is not already resident.
func (m *Manager) FetchPage(pid diskio.PageId) (*PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fid, ok := m.pageTable[pid]; ok {
		f := m.frames[fid]
		f.pin.Inc()
		_ = m.repl.RecordAccess(fid)
		_ = m.repl.SetEvictable(fid, false)
		slog.Debug("bufferpool.FetchPage.hit", "pageID", pid, "frameID", fid)
		return &PageHandle{bp: m, frameID: fid, pageID: pid}, nil
	}

	fid, err := m.allocateFrameLocked()
	if err != nil {
		return nil, err
	}

	f := m.ensureFrame(fid)
	if err := m.disk.ReadPage(pid, f.buf); err != nil {
		m.freeList = append(m.freeList, fid)
		return nil, fmt.Errorf("bufferpool: FetchPage: %w", err)
	}
	f.pageID = pid
	f.pin.Store(1)
	f.dirty.Store(false)

	m.pageTable[pid] = fid
	_ = m.repl.RecordAccess(fid)
	_ = m.repl.SetEvictable(fid, false)

	slog.Debug("bufferpool.FetchPage.miss", "pageID", pid, "frameID", fid)
	return &PageHandle{bp: m, frameID: fid, pageID: pid}, nil
}

// allocateFrameLocked pops a free frame or evicts a victim, flushing it
// first if dirty. Caller must hold m.mu.
func (m *Manager) allocateFrameLocked() (int, error) {
	if n := len(m.freeList); n > 0 {
		fid := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return fid, nil
	}

	fid, ok := m.repl.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	victim := m.frames[fid]
	if victim != nil {
		if victim.dirty.Load() {
			if err := m.disk.WritePage(victim.pageID, victim.buf); err != nil {
				return 0, fmt.Errorf("bufferpool: flush victim %d: %w", victim.pageID, err)
			}
			victim.dirty.Store(false)
		}
		delete(m.pageTable, victim.pageID)
	}
	slog.Debug("bufferpool.allocateFrame.evicted", "frameID", fid)
	return fid, nil
}

func (m *Manager) ensureFrame(fid int) *frame {
	f := m.frames[fid]
	if f == nil {
		f = &frame{buf: make([]byte, diskio.PageSize)}
		m.frames[fid] = f
	}
	return f
}

// FlushPage writes pid's current frame bytes to disk if mapped. It
// does not evict the frame. Returns false if pid is not resident.
func (m *Manager) FlushPage(pid diskio.PageId) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushPageLocked(pid)
}

func (m *Manager) flushPageLocked(pid diskio.PageId) (bool, error) {
	fid, ok := m.pageTable[pid]
	if !ok {
		return false, nil
	}
	f := m.frames[fid]
	if err := m.disk.WritePage(pid, f.buf); err != nil {
		return false, fmt.Errorf("bufferpool: FlushPage %d: %w", pid, err)
	}
	f.dirty.Store(false)
	return true, nil
}

// FlushAllPages flushes every currently-mapped page. The id set is
// snapshotted up front so concurrent mutation of the page table during
// the flush cannot corrupt iteration; every snapshotted page, dirty or
// not, is then written out by its own goroutine, with per-page errors
// combined into a single aggregate error rather than stopping at the
// first one.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	ids := make([]diskio.PageId, 0, len(m.pageTable))
	for id := range m.pageTable {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var (
		errMu    sync.Mutex
		combined error
		wg       conc.WaitGroup
	)

	for _, id := range ids {
		id := id
		wg.Go(func() {
			if _, err := m.FlushPage(id); err != nil {
				errMu.Lock()
				combined = multierr.Append(combined, err)
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	if combined != nil {
		slog.Warn("bufferpool.FlushAllPages.errors", "err", combined)
	}
	return combined
}

// DeletePage removes pid from the pool and deallocates it via the
// DiskManager. Returns true if pid was not mapped (already "deleted").
// Fails (returns false, nil) if pid is still pinned.
func (m *Manager) DeletePage(pid diskio.PageId) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[pid]
	if !ok {
		return true, nil
	}

	f := m.frames[fid]
	if f.pin.Load() > 0 {
		return false, nil
	}

	delete(m.pageTable, pid)
	m.freeList = append(m.freeList, fid)
	m.repl.Remove(fid)
	f.pageID = diskio.InvalidPageID
	f.dirty.Store(false)

	if err := m.disk.DeallocatePage(pid); err != nil {
		return false, fmt.Errorf("bufferpool: DeletePage %d: %w", pid, err)
	}
	slog.Debug("bufferpool.DeletePage", "pageID", pid, "frameID", fid)
	return true, nil
}

// ReplacerSize returns the number of frames currently marked evictable
// (exposed for tests asserting buffer-pool invariants).
func (m *Manager) ReplacerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repl.Size()
}
