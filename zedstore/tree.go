package zedstore

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Tree is the public handle onto one attribute's B-tree: its root block,
// attribute descriptors, and the five collaborators it needs to do
// anything. Callers hold one Tree per attribute, mirroring the teacher's
// DefaultBPlusTreeManager binding a buffer pool, a root page, and a node
// cache behind a single struct.
type Tree struct {
	Attno    AttrNumber
	AttLen   int16
	AttByVal bool

	meta MetaPage
	buf  BufferManager
	undo UndoLog
	vis  VisibilityOracle
	wal  WAL

	logger *logrus.Entry

	mu   sync.RWMutex
	root BlockNumber
}

// NewTree binds the collaborators for one attribute. The root is resolved
// lazily on first use via meta.RootFor.
func NewTree(attno AttrNumber, meta MetaPage, bufmgr BufferManager, undo UndoLog, vis VisibilityOracle, wal WAL, logger *logrus.Entry) *Tree {
	return &Tree{
		Attno:  attno,
		meta:   meta,
		buf:    bufmgr,
		undo:   undo,
		vis:    vis,
		wal:    wal,
		logger: logger,
		root:   InvalidBlockNumber,
	}
}

func (t *Tree) log() *logrus.Entry {
	if t.logger != nil {
		return t.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// GetLastTid returns the highest TID ever assigned in the tree, or
// InvalidZSTid if the tree is empty. An empty rightmost leaf whose lokey
// is above MinZSTid reports that lokey, so the next insert never reuses it.
func (t *Tree) GetLastTid() (ZSTid, error) {
	buf, page, err := t.Descend(MaxZSTid, LockShare)
	if err != nil {
		return InvalidZSTid, err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()
	if len(page.Items) == 0 {
		if page.Trailer.LoKey <= MinZSTid {
			return InvalidZSTid, nil
		}
		return page.Trailer.LoKey, nil
	}
	last, _, err := DecodeItem(page.Items[len(page.Items)-1])
	if err != nil {
		return InvalidZSTid, err
	}
	return last.LastTid(), nil
}

// Insert stores one new row and returns the TID it was assigned.
func (t *Tree) Insert(raw []byte, isnull bool) (ZSTid, error) {
	tid, err := t.insertOne(t.newSingleForInsert(raw, isnull, InvalidUndoPtr))
	return tid, err
}

func (t *Tree) newSingleForInsert(raw []byte, isnull bool, undo UndoPtr) func(tid ZSTid) *SingleItem {
	return func(tid ZSTid) *SingleItem {
		flags := ItemFlags(0)
		var payload []byte
		if isnull {
			flags |= ItemNull
		} else {
			payload = EncodeDatum(t.AttByVal, t.AttLen, raw)
		}
		return &SingleItem{Tid: tid, ItFlags: flags, Undo: undo, Payload: payload}
	}
}

// insertOne appends one new row to the rightmost leaf, assigning it
// lastTid+1.
func (t *Tree) insertOne(build func(tid ZSTid) *SingleItem) (ZSTid, error) {
	last, err := t.GetLastTid()
	if err != nil {
		return InvalidZSTid, err
	}
	newTid := MinZSTid
	if last != InvalidZSTid {
		newTid = last + 1
	}
	if newTid > MaxZSTid {
		return InvalidZSTid, ErrResourceExhausted
	}
	buf, page, err := t.Descend(newTid, LockExclusive)
	if err != nil {
		return InvalidZSTid, err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()
	item := build(newTid)
	if err := t.appendNewItems(buf, page, []LeafItem{item}); err != nil {
		return InvalidZSTid, err
	}
	return newTid, nil
}

// MultiInsert stores a whole batch of rows in as few array items as
// possible, batching up to MaxZedStoreDatumSize/4 elements per array, per
// §4.1. It returns the assigned TIDs in input order.
func (t *Tree) MultiInsert(raws [][]byte, isnulls []bool) ([]ZSTid, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	last, err := t.GetLastTid()
	if err != nil {
		return nil, err
	}
	startTid := MinZSTid
	if last != InvalidZSTid {
		startTid = last + 1
	}
	if startTid > MaxZSTid || MaxZSTid-startTid < ZSTid(len(raws)-1) {
		return nil, ErrResourceExhausted
	}

	tids := make([]ZSTid, len(raws))
	for i := range raws {
		tids[i] = startTid + ZSTid(i)
	}

	maxBatch := MaxZedStoreDatumSize / 4
	if maxBatch < 1 {
		maxBatch = 1
	}

	var newItems []LeafItem
	i := 0
	for i < len(raws) {
		// a null-ness change forces a new batch: arrays must never mix
		// nulls.
		j := i + 1
		for j < len(raws) && j-i < maxBatch && isnulls[j] == isnulls[i] {
			j++
		}
		batchTid := tids[i]
		if isnulls[i] {
			newItems = append(newItems, &ArrayItem{
				Tid: batchTid, ItFlags: ItemNull, Undo: InvalidUndoPtr, NElements: j - i,
			})
		} else if j-i == 1 {
			newItems = append(newItems, &SingleItem{
				Tid: batchTid, Undo: InvalidUndoPtr,
				Payload: EncodeDatum(t.AttByVal, t.AttLen, raws[i]),
			})
		} else {
			var payload []byte
			for k := i; k < j; k++ {
				payload = append(payload, EncodeDatum(t.AttByVal, t.AttLen, raws[k])...)
			}
			newItems = append(newItems, &ArrayItem{
				Tid: batchTid, Undo: InvalidUndoPtr, NElements: j - i, Payload: payload,
			})
		}
		i = j
	}

	buf, page, err := t.Descend(startTid, LockExclusive)
	if err != nil {
		return nil, err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()
	if err := t.appendNewItems(buf, page, newItems); err != nil {
		return nil, err
	}
	return tids, nil
}

// appendNewItems adds newItems to the tail of a leaf already known to be
// the correct (rightmost-relative) target, without touching any existing
// item.
func (t *Tree) appendNewItems(buf Buffer, page *Page, newItems []LeafItem) error {
	decoded, err := decodeLeafItems(page)
	if err != nil {
		return err
	}
	decoded = append(decoded, newItems...)
	return t.recompressReplace(buf, page, decoded)
}

// Fetch performs a point lookup of tid as seen by snap. found is false if
// tid resolves to no item at all or fails the visibility check.
func (t *Tree) Fetch(snap Snapshot, tid ZSTid) (raw []byte, isnull bool, found bool, err error) {
	buf, page, err := t.Descend(tid, LockShare)
	if err != nil {
		return nil, false, false, err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()
	decoded, err := decodeLeafItems(page)
	if err != nil {
		return nil, false, false, err
	}
	for _, item := range decoded {
		if ci, ok := item.(*CompressedItem); ok {
			if tid < ci.FirstTid() || tid > ci.LastTid() {
				continue
			}
			dec, derr := Decompress(ci)
			if derr != nil {
				return nil, false, false, derr
			}
			// scoped: freed on every path, fixing the leak the original
			// implementation had on point lookups.
			func() {
				defer dec.Free()
				for _, member := range dec.Items() {
					if r, n, v, m := t.extractVisible(snap, member, tid); m {
						if v {
							raw, isnull, found = r, n, true
						}
					}
				}
			}()
			if found {
				return raw, isnull, found, nil
			}
			continue
		}
		if r, n, v, m := t.extractVisible(snap, item, tid); m {
			if v {
				return r, n, true, nil
			}
			return nil, false, false, nil
		}
	}
	return nil, false, false, nil
}

// Delete flags tid as DELETED if snap's update-conflict check allows it.
func (t *Tree) Delete(snap Snapshot, tid ZSTid) (UpdateResult, error) {
	buf, page, err := t.Descend(tid, LockExclusive)
	if err != nil {
		return UpdateOk, err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()

	old, err := t.fetchSingleForUpdate(page, tid)
	if err != nil {
		return UpdateOk, err
	}
	result, keepOld, err := t.vis.SatisfiesUpdate(snap, old)
	if err != nil || result != UpdateOk {
		return result, err
	}
	prev := InvalidUndoPtr
	if keepOld {
		prev = old.Undo
	}
	undoPtr, err := t.undo.Append(UndoRecord{Kind: UndoDelete, Tid: tid, Prev: prev})
	if err != nil {
		return UpdateOk, err
	}
	replacement := &SingleItem{Tid: tid, ItFlags: old.ItFlags | ItemDeleted, Undo: undoPtr, Payload: old.Payload}
	if err := t.replaceItem(buf, page, tid, replacement); err != nil {
		return UpdateOk, err
	}
	return UpdateOk, nil
}

// Update marks tid as UPDATED and appends a new row carrying raw. It
// returns the new row's TID. Concurrent-update detection follows the
// same SatisfiesUpdate contract as Delete; this engine does not implement
// blocking tuple locks (see DESIGN.md), so a WouldBlock result is
// returned to the caller rather than waited out.
func (t *Tree) Update(snap Snapshot, tid ZSTid, raw []byte, isnull bool) (ZSTid, UpdateResult, error) {
	buf, page, err := t.Descend(tid, LockExclusive)
	if err != nil {
		return InvalidZSTid, UpdateOk, err
	}
	old, err := t.fetchSingleForUpdate(page, tid)
	if err != nil {
		buf.Unlock()
		buf.Release()
		return InvalidZSTid, UpdateOk, err
	}
	result, keepOld, err := t.vis.SatisfiesUpdate(snap, old)
	if err != nil || result != UpdateOk {
		buf.Unlock()
		buf.Release()
		return InvalidZSTid, result, err
	}
	buf.Unlock()
	buf.Release()

	newTid, err := t.insertOne(t.newSingleForInsert(raw, isnull, InvalidUndoPtr))
	if err != nil {
		return InvalidZSTid, UpdateOk, err
	}

	prev := InvalidUndoPtr
	if keepOld {
		prev = old.Undo
	}
	undoPtr, err := t.undo.Append(UndoRecord{Kind: UndoUpdate, Tid: tid, NewTid: newTid, Prev: prev})
	if err != nil {
		return newTid, UpdateOk, err
	}

	buf2, page2, err := t.Descend(tid, LockExclusive)
	if err != nil {
		return newTid, UpdateOk, err
	}
	defer func() {
		buf2.Unlock()
		buf2.Release()
	}()
	replacement := &SingleItem{Tid: tid, ItFlags: old.ItFlags | ItemUpdated, Undo: undoPtr, Payload: old.Payload}
	if err := t.replaceItem(buf2, page2, tid, replacement); err != nil {
		return newTid, UpdateOk, err
	}
	return newTid, UpdateOk, nil
}

// LockItem records a row lock against tid without blocking; callers that
// receive a result other than UpdateOk must decide for themselves whether
// to retry, per the tuple-locking restriction in DESIGN.md.
func (t *Tree) LockItem(snap Snapshot, tid ZSTid) (UpdateResult, error) {
	buf, page, err := t.Descend(tid, LockExclusive)
	if err != nil {
		return UpdateOk, err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()
	old, err := t.fetchSingleForUpdate(page, tid)
	if err != nil {
		return UpdateOk, err
	}
	result, keepOld, err := t.vis.SatisfiesUpdate(snap, old)
	if err != nil || result != UpdateOk {
		return result, err
	}
	prev := InvalidUndoPtr
	if keepOld {
		prev = old.Undo
	}
	undoPtr, err := t.undo.Append(UndoRecord{Kind: UndoLock, Tid: tid, Prev: prev})
	if err != nil {
		return UpdateOk, err
	}
	replacement := &SingleItem{Tid: tid, ItFlags: old.ItFlags, Undo: undoPtr, Payload: old.Payload}
	if err := t.replaceItem(buf, page, tid, replacement); err != nil {
		return UpdateOk, err
	}
	return UpdateOk, nil
}

// MarkItemDead is the VACUUM-time tombstone transition: it requires no
// snapshot check, since it is only ever applied to an item every open
// snapshot has already stopped needing.
func (t *Tree) MarkItemDead(tid ZSTid) error {
	buf, page, err := t.Descend(tid, LockExclusive)
	if err != nil {
		return err
	}
	defer func() {
		buf.Unlock()
		buf.Release()
	}()
	old, err := t.fetchSingleForUpdate(page, tid)
	if err != nil {
		return err
	}
	replacement := &SingleItem{Tid: tid, ItFlags: old.ItFlags | ItemDead, Undo: old.Undo, Payload: old.Payload}
	return t.replaceItem(buf, page, tid, replacement)
}
