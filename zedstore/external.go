package zedstore

// This file defines the collaborator contracts the core depends on but
// does not implement: the metapage, the buffer manager, the undo log,
// the visibility oracle, and the write-ahead log. A host embeds zedstore
// by providing concrete implementations; zedstoretest provides in-memory
// ones for tests and the demo program.

// LockMode is the mode a Buffer is locked in.
type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockExclusive
)

// Snapshot is an opaque token the visibility oracle understands; the
// core never inspects it.
type Snapshot interface{}

// UpdateResult is the outcome of satisfies_update, returned as control
// flow rather than a Go error.
type UpdateResult int

const (
	UpdateOk UpdateResult = iota
	UpdateInvisible
	UpdateUpdated
	UpdateBeingModified
	UpdateSelfUpdated
	UpdateWouldBlock
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateOk:
		return "Ok"
	case UpdateInvisible:
		return "Invisible"
	case UpdateUpdated:
		return "Updated"
	case UpdateBeingModified:
		return "BeingModified"
	case UpdateSelfUpdated:
		return "SelfUpdated"
	case UpdateWouldBlock:
		return "WouldBlock"
	default:
		return "Unknown"
	}
}

// UndoRecordKind tags the kind of lifecycle transition an UndoRecord
// describes.
type UndoRecordKind uint8

const (
	UndoInsert UndoRecordKind = iota
	UndoDelete
	UndoUpdate
	UndoLock
)

// UndoRecord is one entry appended to the undo log by an insert, delete,
// update, or lock operation. XID is left for the host's transaction
// manager to stamp and interpret; the core only ever carries it through
// to the visibility oracle.
type UndoRecord struct {
	Kind   UndoRecordKind
	Tid    ZSTid
	NewTid ZSTid // set for UndoUpdate: the tid of the replacement tuple
	Prev   UndoPtr
	XID    uint64
}

// MetaPage resolves and updates each attribute's B-tree root.
type MetaPage interface {
	// RootFor returns the current root block for attno, creating a fresh
	// empty tree (and persisting its root) if createIfMissing is true and
	// none exists yet.
	RootFor(attno AttrNumber, createIfMissing bool) (blk BlockNumber, attlen int16, attbyval bool, err error)
	// UpdateRoot installs newRoot as attno's root, under an exclusive
	// metapage lock.
	UpdateRoot(attno AttrNumber, newRoot BlockNumber) error
}

// BufferManager hands out pinned Buffers for existing or newly allocated
// pages.
type BufferManager interface {
	ReadPage(blk BlockNumber) (Buffer, error)
	AllocPage() (Buffer, error)
	// ReleaseAndRead unpins buf then pins and returns blk, as one call so
	// callers don't have to juggle intermediate unpinned states while
	// re-finding a page (e.g. re-descending after a concurrent split).
	ReleaseAndRead(buf Buffer, blk BlockNumber) (Buffer, error)
}

// Buffer is a pinned, lockable handle onto one page's bytes.
type Buffer interface {
	Block() BlockNumber
	Lock(mode LockMode)
	Unlock()
	// Page returns the buffer's backing bytes, exactly PageSize long.
	Page() []byte
	MarkDirty()
	Release()
	PinCount() int32
}

// UndoLog appends undo records and tracks the oldest pointer any live
// snapshot might still need, for dead-item pruning during recompression.
type UndoLog interface {
	Append(rec UndoRecord) (UndoPtr, error)
	OldestRetainedPtr() UndoPtr
}

// VisibilityOracle answers whether a leaf item is visible to a snapshot,
// and whether an update/delete/lock against it may proceed.
type VisibilityOracle interface {
	Satisfies(snap Snapshot, flags ItemFlags, ptr UndoPtr) bool
	// SatisfiesUpdate additionally reports whether the new undo record
	// should chain to the item's existing undo pointer (keepOldUndoPtr)
	// rather than starting a fresh chain.
	SatisfiesUpdate(snap Snapshot, item LeafItem) (result UpdateResult, keepOldUndoPtr bool, err error)
}

// WAL brackets a page-modifying critical section and logs page images
// (or, in a fuller implementation, logical records) within it.
type WAL interface {
	StartCrit()
	LogPageImage(buf Buffer)
	EndCrit()
}
