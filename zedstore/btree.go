package zedstore

// internalSplitFraction is the internal-page split point, expressed as
// the fraction of items kept on the left page; the remainder (plus the
// newly inserted downlink, if it lands on the right) goes to the right
// page. Kept as specified rather than an even 50/50 split, since internal
// pages are expected to fill left-to-right under ascending TID insertion.
const internalSplitFraction = 0.9

// descendGuard is the lock-coupled path acquired by Descend: a page is
// held locked only long enough to pick the next child and is released
// before the child is locked, except while installing a downlink where
// the caller explicitly couples child-before-parent. See §5.
type descendGuard struct {
	buf  Buffer
	page *Page
}

func (g *descendGuard) release() {
	if g.buf != nil {
		g.buf.Unlock()
		g.buf.Release()
		g.buf = nil
	}
}

// binsrchInternal returns the index of the entry that covers tid: the
// largest index i such that entries[i].LoKey <= tid. entries must be
// sorted ascending by LoKey and entries[0].LoKey must be <= every tid the
// page could be asked about (its page-level lokey).
func binsrchInternal(entries []internalEntry, tid ZSTid) int {
	lo, hi := 0, len(entries)-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if entries[mid].LoKey <= tid {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// Descend walks from the tree's root to the leaf that covers tid,
// following FOLLOW_RIGHT right-links and hikey checks along the way so a
// concurrent split never strands it on the wrong page. The returned
// Buffer is locked in mode and must be released by the caller.
func (t *Tree) Descend(tid ZSTid, mode LockMode) (Buffer, *Page, error) {
	root, err := t.currentRoot()
	if err != nil {
		return nil, nil, err
	}
	blk := root
	for {
		buf, err := t.buf.ReadPage(blk)
		if err != nil {
			return nil, nil, err
		}
		g := &descendGuard{buf: buf}
		lockMode := LockShare
		buf.Lock(lockMode)
		page, err := Deserialize(buf.Page())
		if err != nil {
			g.release()
			return nil, nil, err
		}
		g.page = page
		// hikey check: if tid has moved past this page's range because of
		// a concurrent split, follow the right sibling instead of
		// descending into a child we'd have to immediately walk right
		// from anyway.
		if page.Trailer.HiKey != InvalidZSTid && tid >= page.Trailer.HiKey && page.Trailer.Next != InvalidBlockNumber {
			next := page.Trailer.Next
			g.release()
			blk = next
			continue
		}
		if page.Trailer.IsLeaf() {
			if mode == LockExclusive && lockMode != LockExclusive {
				buf.Unlock()
				buf.Lock(LockExclusive)
				// re-verify after upgrading; another writer may have split
				// this page while we didn't hold the lock.
				page, err = Deserialize(buf.Page())
				if err != nil {
					g.release()
					return nil, nil, err
				}
				g.page = page
				if tid >= page.Trailer.HiKey && page.Trailer.HiKey != InvalidZSTid && page.Trailer.Next != InvalidBlockNumber {
					next := page.Trailer.Next
					g.release()
					blk = next
					continue
				}
			}
			return buf, page, nil
		}
		entries := decodeInternalEntries(page)
		if len(entries) == 0 {
			g.release()
			return nil, nil, wrapCorruption("descend: internal page %d has no entries", blk)
		}
		idx := binsrchInternal(entries, tid)
		child := entries[idx].Child
		g.release()
		blk = child
	}
}

func (t *Tree) currentRoot() (BlockNumber, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	if root != InvalidBlockNumber {
		return root, nil
	}
	blk, attlen, attbyval, err := t.meta.RootFor(t.Attno, true)
	if err != nil {
		return InvalidBlockNumber, err
	}
	t.mu.Lock()
	t.root = blk
	t.AttLen = attlen
	t.AttByVal = attbyval
	t.mu.Unlock()
	return blk, nil
}

// FindDownlink re-finds the parent of a page by descending from the
// current root looking for an internal entry at level+1 whose LoKey
// equals lokey, rather than relying on a cached path: the tree may have
// grown or reshaped since the child was split. Returns the parent buffer
// locked exclusive and the index of the matching entry.
func (t *Tree) FindDownlink(lokey ZSTid, level uint16) (Buffer, *Page, int, error) {
	root, err := t.currentRoot()
	if err != nil {
		return nil, nil, 0, err
	}
	blk := root
	for {
		buf, err := t.buf.ReadPage(blk)
		if err != nil {
			return nil, nil, 0, err
		}
		g := &descendGuard{buf: buf}
		buf.Lock(LockExclusive)
		page, err := Deserialize(buf.Page())
		if err != nil {
			g.release()
			return nil, nil, 0, err
		}
		g.page = page
		if page.Trailer.HiKey != InvalidZSTid && lokey >= page.Trailer.HiKey && page.Trailer.Next != InvalidBlockNumber {
			next := page.Trailer.Next
			g.release()
			blk = next
			continue
		}
		if page.Trailer.Level == level+1 {
			entries := decodeInternalEntries(page)
			idx := binsrchInternal(entries, lokey)
			if entries[idx].LoKey != lokey {
				g.release()
				return nil, nil, 0, wrapCorruption("find downlink: no entry for lokey %v at level %d", lokey, level+1)
			}
			return buf, page, idx, nil
		}
		if page.Trailer.IsLeaf() {
			g.release()
			return nil, nil, 0, wrapCorruption("find downlink: descended past target level looking for lokey %v", lokey)
		}
		entries := decodeInternalEntries(page)
		idx := binsrchInternal(entries, lokey)
		child := entries[idx].Child
		g.release()
		blk = child
	}
}

// InsertDownlink re-finds lbuf's parent and installs a new downlink for
// (rightLoKey, rightBlk) in sort position, then clears FOLLOW_RIGHT on
// lbuf. If the parent is full it is split (and the split recurses
// upward); if lbuf's page is the current root, a fresh root is created.
func (t *Tree) InsertDownlink(lbuf Buffer, lokey ZSTid, level uint16, rightLoKey ZSTid, rightBlk BlockNumber) error {
	root, err := t.currentRoot()
	if err != nil {
		return err
	}
	if lbuf.Block() == root {
		return t.newRoot(lbuf, lokey, level, rightLoKey, rightBlk)
	}

	pbuf, ppage, idx, err := t.FindDownlink(lokey, level)
	if err != nil {
		return err
	}
	defer func() {
		pbuf.Unlock()
		pbuf.Release()
	}()

	entries := decodeInternalEntries(ppage)
	newEntry := internalEntry{LoKey: rightLoKey, Child: rightBlk}
	inserted := make([]internalEntry, 0, len(entries)+1)
	inserted = append(inserted, entries[:idx+1]...)
	inserted = append(inserted, newEntry)
	inserted = append(inserted, entries[idx+1:]...)

	if fitsInternalPage(inserted) {
		t.wal.StartCrit()
		ppage.Items = encodeInternalEntries(inserted)
		t.writePage(pbuf, ppage)
		clearFollowRight(lbuf)
		t.wal.EndCrit()
		return nil
	}

	return t.splitInternalPage(pbuf, ppage, inserted, lbuf)
}

func clearFollowRight(buf Buffer) {
	page, err := Deserialize(buf.Page())
	if err != nil {
		return
	}
	page.Trailer.Flags &^= FollowRight
	out, err := page.Serialize()
	if err != nil {
		return
	}
	copy(buf.Page(), out)
	buf.MarkDirty()
}

func fitsInternalPage(entries []internalEntry) bool {
	used := 2 + len(entries)*(slotEntrySize+internalEntrySize)
	return used <= PageSize-trailerSize
}

func encodeInternalEntries(entries []internalEntry) [][]byte {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = encodeInternalEntry(e)
	}
	return out
}

// writePage serializes page into buf and marks it dirty; caller must hold
// an exclusive lock and be inside a WAL critical section.
func (t *Tree) writePage(buf Buffer, page *Page) error {
	out, err := page.Serialize()
	if err != nil {
		return err
	}
	copy(buf.Page(), out)
	buf.MarkDirty()
	t.wal.LogPageImage(buf)
	return nil
}

// splitInternalPage splits a full internal page 90/10 (left/right) and
// recurses InsertDownlink into the grandparent for the new right page's
// downlink, or creates a new root if pbuf is currently the root.
func (t *Tree) splitInternalPage(pbuf Buffer, ppage *Page, entries []internalEntry, childBuf Buffer) error {
	splitAt := int(float64(len(entries)) * internalSplitFraction)
	if splitAt <= 0 {
		splitAt = 1
	}
	if splitAt >= len(entries) {
		splitAt = len(entries) - 1
	}
	left := entries[:splitAt]
	right := entries[splitAt:]

	rbuf, err := t.buf.AllocPage()
	if err != nil {
		return err
	}
	rbuf.Lock(LockExclusive)
	defer func() {
		rbuf.Unlock()
		rbuf.Release()
	}()

	rightLoKey := right[0].LoKey
	rpage := &Page{
		Trailer: PageTrailer{
			Attno:  t.Attno,
			Flags:  0,
			Next:   ppage.Trailer.Next,
			LoKey:  rightLoKey,
			HiKey:  ppage.Trailer.HiKey,
			Level:  ppage.Trailer.Level,
			PageID: zsBtreePageID,
		},
		Items: encodeInternalEntries(right),
	}

	t.wal.StartCrit()
	ppage.Trailer.Flags |= FollowRight
	ppage.Trailer.Next = rbuf.Block()
	ppage.Trailer.HiKey = rightLoKey
	ppage.Items = encodeInternalEntries(left)
	if err := t.writePage(pbuf, ppage); err != nil {
		t.wal.EndCrit()
		return err
	}
	if err := t.writePage(rbuf, rpage); err != nil {
		t.wal.EndCrit()
		return err
	}
	if childBuf != nil {
		clearFollowRight(childBuf)
	}
	t.wal.EndCrit()

	return t.InsertDownlink(pbuf, ppage.Trailer.LoKey, ppage.Trailer.Level, rightLoKey, rbuf.Block())
}

// newRoot creates a fresh root page containing exactly two downlinks
// (lbuf's own lokey and the new right page's), and installs it as the
// tree's root under the metapage's exclusive lock.
func (t *Tree) newRoot(lbuf Buffer, lokey ZSTid, level uint16, rightLoKey ZSTid, rightBlk BlockNumber) error {
	nbuf, err := t.buf.AllocPage()
	if err != nil {
		return err
	}
	nbuf.Lock(LockExclusive)
	defer func() {
		nbuf.Unlock()
		nbuf.Release()
	}()

	npage := &Page{
		Trailer: PageTrailer{
			Attno:  t.Attno,
			Flags:  0,
			Next:   InvalidBlockNumber,
			LoKey:  MinZSTid,
			HiKey:  MaxPlusOneZSTid,
			Level:  level + 1,
			PageID: zsBtreePageID,
		},
		Items: encodeInternalEntries([]internalEntry{
			{LoKey: lokey, Child: lbuf.Block()},
			{LoKey: rightLoKey, Child: rightBlk},
		}),
	}

	t.wal.StartCrit()
	if err := t.writePage(nbuf, npage); err != nil {
		t.wal.EndCrit()
		return err
	}
	clearFollowRight(lbuf)
	t.wal.EndCrit()

	if err := t.meta.UpdateRoot(t.Attno, nbuf.Block()); err != nil {
		return err
	}
	t.mu.Lock()
	t.root = nbuf.Block()
	t.mu.Unlock()
	return nil
}
