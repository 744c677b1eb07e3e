package zedstoretest

import (
	"sync"

	"github.com/bigsql/zedstore/zedstore"
)

// MemUndoLog is an in-memory UndoLog: an append-only map keyed by a
// monotonically increasing pointer, plus an oldest-retained watermark a
// test can advance to simulate a VACUUM horizon moving forward. Grounded
// on the teacher's manager.UndoLogManager (activeTxns/oldestTxnTime
// bookkeeping around an append-only log), minus the on-disk file backing
// since nothing here survives process exit.
type MemUndoLog struct {
	mu      sync.Mutex
	records map[zedstore.UndoPtr]zedstore.UndoRecord
	next    uint64
	oldest  zedstore.UndoPtr
}

// NewMemUndoLog returns an empty undo log whose oldest-retained pointer
// starts at 1, so no record is ever considered pruneable until a test
// explicitly advances it with AdvanceOldest.
func NewMemUndoLog() *MemUndoLog {
	return &MemUndoLog{
		records: make(map[zedstore.UndoPtr]zedstore.UndoRecord),
		next:    1,
		oldest:  1,
	}
}

func (u *MemUndoLog) Append(rec zedstore.UndoRecord) (zedstore.UndoPtr, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	ptr := zedstore.UndoPtr(u.next)
	u.next++
	u.records[ptr] = rec
	return ptr, nil
}

func (u *MemUndoLog) OldestRetainedPtr() zedstore.UndoPtr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.oldest
}

// Lookup returns the record a pointer refers to.
func (u *MemUndoLog) Lookup(ptr zedstore.UndoPtr) (zedstore.UndoRecord, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.records[ptr]
	return r, ok
}

// AdvanceOldest raises the oldest-retained watermark, as a test's
// stand-in for the host's VACUUM deciding no live snapshot can still need
// anything before ptr.
func (u *MemUndoLog) AdvanceOldest(ptr zedstore.UndoPtr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if ptr > u.oldest {
		u.oldest = ptr
	}
}
