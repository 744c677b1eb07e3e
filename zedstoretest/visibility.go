package zedstoretest

import (
	"github.com/bigsql/zedstore/zedstore"
)

// TxSnapshot is the Snapshot token this package's VisibilityOracle
// understands: a single transaction id. Visibility is decided by a
// simplified instant-commit model (there is no "in progress, not yet
// committed" state) — adequate for a test harness exercising the B-tree
// serially or with cooperating goroutines, not a model of real
// concurrent transaction isolation.
type TxSnapshot struct {
	XID uint64
}

// TxVisibilityOracle answers visibility questions against a MemUndoLog
// using the XID stamped on each UndoRecord, grounded on the lock/version
// bookkeeping in the teacher's storage/wrapper/mvcc.MVCCIndexPage, scaled
// down from per-page record chains to per-item undo pointers.
type TxVisibilityOracle struct {
	undo *MemUndoLog
}

// NewTxVisibilityOracle binds a visibility oracle to the undo log whose
// pointers it will be asked to resolve.
func NewTxVisibilityOracle(undo *MemUndoLog) *TxVisibilityOracle {
	return &TxVisibilityOracle{undo: undo}
}

func (o *TxVisibilityOracle) Satisfies(snap zedstore.Snapshot, flags zedstore.ItemFlags, ptr zedstore.UndoPtr) bool {
	if flags.HasAny(zedstore.ItemDead) {
		return false
	}
	if ptr == zedstore.InvalidUndoPtr {
		return true
	}
	rec, ok := o.undo.Lookup(ptr)
	if !ok {
		return true
	}
	snapXID := xidOf(snap)
	switch rec.Kind {
	case zedstore.UndoDelete, zedstore.UndoUpdate:
		// Visible to the deleting/updating transaction itself and to any
		// transaction that started before it committed.
		return rec.XID >= snapXID
	default:
		return true
	}
}

func (o *TxVisibilityOracle) SatisfiesUpdate(snap zedstore.Snapshot, item zedstore.LeafItem) (zedstore.UpdateResult, bool, error) {
	single, ok := item.(*zedstore.SingleItem)
	if !ok {
		return zedstore.UpdateOk, false, nil
	}
	if single.ItFlags.HasAny(zedstore.ItemDead) {
		return zedstore.UpdateInvisible, false, nil
	}
	if single.Undo == zedstore.InvalidUndoPtr {
		return zedstore.UpdateOk, false, nil
	}
	rec, ok := o.undo.Lookup(single.Undo)
	if !ok {
		return zedstore.UpdateOk, false, nil
	}
	snapXID := xidOf(snap)
	switch {
	case !single.ItFlags.HasAny(zedstore.ItemDeleted) && !single.ItFlags.HasAny(zedstore.ItemUpdated):
		return zedstore.UpdateOk, false, nil
	case rec.XID == snapXID:
		return zedstore.UpdateSelfUpdated, true, nil
	case single.ItFlags.HasAny(zedstore.ItemDeleted):
		return zedstore.UpdateInvisible, false, nil
	default:
		return zedstore.UpdateUpdated, false, nil
	}
}

func xidOf(snap zedstore.Snapshot) uint64 {
	if s, ok := snap.(*TxSnapshot); ok {
		return s.XID
	}
	if s, ok := snap.(TxSnapshot); ok {
		return s.XID
	}
	return 0
}
