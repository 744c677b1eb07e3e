package zedstore

// mvcc.go glues the leaf item representation to the host-provided
// VisibilityOracle: extracting the single logical row that covers a TID
// out of whatever item variant currently holds it, either checked for
// visibility (extractVisible) or handed back for delete/update/lock to pass
// to the oracle's SatisfiesUpdate before they call replaceItem.

// extractSingle returns the SingleItem view of tid within item (splitting
// an ArrayItem if necessary), or nil if item does not cover tid.
func (t *Tree) extractSingle(item LeafItem, tid ZSTid) *SingleItem {
	switch v := item.(type) {
	case *SingleItem:
		if v.Tid == tid {
			return v
		}
		return nil
	case *ArrayItem:
		if tid < v.FirstTid() || tid > v.LastTid() {
			return nil
		}
		for _, s := range t.splitArrayToSingles(v) {
			if s.Tid == tid {
				return s
			}
		}
		return nil
	default:
		return nil
	}
}

// fetchSingleForUpdate locates the logical row covering tid within page,
// decompressing its container if needed, and returns a synthetic
// SingleItem describing its current flags and undo pointer. The backing
// Decompressor (if any) is freed before returning, since the returned
// item's Payload is copied, not shared.
func (t *Tree) fetchSingleForUpdate(page *Page, tid ZSTid) (*SingleItem, error) {
	decoded, err := decodeLeafItems(page)
	if err != nil {
		return nil, err
	}
	for _, item := range decoded {
		if ci, ok := item.(*CompressedItem); ok {
			if tid < ci.FirstTid() || tid > ci.LastTid() {
				continue
			}
			dec, err := Decompress(ci)
			if err != nil {
				return nil, err
			}
			for _, member := range dec.Items() {
				if s := t.extractSingle(member, tid); s != nil {
					dec.Free()
					return s, nil
				}
			}
			dec.Free()
			continue
		}
		if s := t.extractSingle(item, tid); s != nil {
			return s, nil
		}
	}
	return nil, ErrTupleNotFound
}

// extractVisible returns the raw payload and null-ness of tid within item
// as seen by snap, reporting matched=false if item does not cover tid at
// all (as opposed to covering it but being invisible).
func (t *Tree) extractVisible(snap Snapshot, item LeafItem, tid ZSTid) (raw []byte, isnull, visible, matched bool) {
	s := t.extractSingle(item, tid)
	if s == nil {
		return nil, false, false, false
	}
	return s.Payload, s.ItFlags.HasAny(ItemNull), t.vis.Satisfies(snap, s.Flags(), s.Undo), true
}
