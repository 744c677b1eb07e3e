// Package zedstoretest provides in-memory reference implementations of
// every collaborator interface zedstore.Tree depends on: a buffer
// manager, a metapage, an undo log, a visibility oracle, and a WAL. None
// of this is part of the engine; it exists so tests and the demo program
// have something real to run the B-tree against, the way the teacher
// codebase's buffer_pool, manager.UndoLogManager, and
// manager.RedoLogManager packages provide concrete, runnable
// collaborators alongside the generic manager interfaces.
package zedstoretest

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/bigsql/zedstore/zedstore"
)

// MemBufferManager is an all-in-memory BufferManager: every page lives in
// a map, guarded by one RWMutex per page (grounded on the teacher's
// latch.Latch) plus a frame-table mutex for pin bookkeeping (grounded on
// buffer_pool.BufferPool's frame table). There is no eviction; it is
// sized for tests, not production data volumes.
type MemBufferManager struct {
	mu      sync.Mutex
	pages   map[zedstore.BlockNumber][]byte
	latches map[zedstore.BlockNumber]*sync.RWMutex
	pins    map[zedstore.BlockNumber]*int32
	next    zedstore.BlockNumber
}

// NewMemBufferManager returns an empty buffer manager.
func NewMemBufferManager() *MemBufferManager {
	return &MemBufferManager{
		pages:   make(map[zedstore.BlockNumber][]byte),
		latches: make(map[zedstore.BlockNumber]*sync.RWMutex),
		pins:    make(map[zedstore.BlockNumber]*int32),
	}
}

// AllocPage reserves a brand new, zero-filled page and returns it pinned
// and unlocked.
func (m *MemBufferManager) AllocPage() (zedstore.Buffer, error) {
	m.mu.Lock()
	blk := m.next
	m.next++
	m.pages[blk] = make([]byte, zedstore.PageSize)
	m.latches[blk] = &sync.RWMutex{}
	var pin int32
	m.pins[blk] = &pin
	m.mu.Unlock()
	return m.pinBuffer(blk), nil
}

// ReadPage pins and returns an existing page.
func (m *MemBufferManager) ReadPage(blk zedstore.BlockNumber) (zedstore.Buffer, error) {
	m.mu.Lock()
	_, ok := m.pages[blk]
	m.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("zedstoretest: no such page %d", blk)
	}
	return m.pinBuffer(blk), nil
}

// ReleaseAndRead unpins buf and pins blk in one call.
func (m *MemBufferManager) ReleaseAndRead(buf zedstore.Buffer, blk zedstore.BlockNumber) (zedstore.Buffer, error) {
	buf.Release()
	return m.ReadPage(blk)
}

func (m *MemBufferManager) pinBuffer(blk zedstore.BlockNumber) *memBuffer {
	m.mu.Lock()
	pin := m.pins[blk]
	m.mu.Unlock()
	atomic.AddInt32(pin, 1)
	return &memBuffer{mgr: m, blk: blk}
}

func (m *MemBufferManager) latchFor(blk zedstore.BlockNumber) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latches[blk]
}

func (m *MemBufferManager) pinFor(blk zedstore.BlockNumber) *int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[blk]
}

func (m *MemBufferManager) pageBytes(blk zedstore.BlockNumber) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[blk]
}

type memBuffer struct {
	mgr  *MemBufferManager
	blk  zedstore.BlockNumber
	mode zedstore.LockMode
}

func (b *memBuffer) Block() zedstore.BlockNumber { return b.blk }

func (b *memBuffer) Lock(mode zedstore.LockMode) {
	latch := b.mgr.latchFor(b.blk)
	switch mode {
	case zedstore.LockShare:
		latch.RLock()
	case zedstore.LockExclusive:
		latch.Lock()
	}
	b.mode = mode
}

func (b *memBuffer) Unlock() {
	latch := b.mgr.latchFor(b.blk)
	switch b.mode {
	case zedstore.LockShare:
		latch.RUnlock()
	case zedstore.LockExclusive:
		latch.Unlock()
	}
	b.mode = zedstore.LockNone
}

func (b *memBuffer) Page() []byte { return b.mgr.pageBytes(b.blk) }

// MarkDirty is a no-op: there is no backing file to flush to.
func (b *memBuffer) MarkDirty() {}

func (b *memBuffer) Release() {
	atomic.AddInt32(b.mgr.pinFor(b.blk), -1)
}

func (b *memBuffer) PinCount() int32 {
	return atomic.LoadInt32(b.mgr.pinFor(b.blk))
}
