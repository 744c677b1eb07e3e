package zedstore

// Scan implements a forward scan over a tree's leaves. Its state is the
// currently pinned leaf, a flattened queue of the logical rows on that
// leaf still to be emitted, and the block number to move to once the
// queue drains. Arrays and compressed containers are expanded into plain
// rows once per leaf rather than re-walked item by item; this is
// observably identical to tracking a separate array/decompression cursor
// and considerably simpler.
type Scan struct {
	tree    *Tree
	snap    Snapshot
	buf     Buffer
	pending []*SingleItem
	pidx    int
	nextBlk BlockNumber
	done    bool
}

// BeginScan opens a forward scan of the whole tree as of snap.
func (t *Tree) BeginScan(snap Snapshot) (*Scan, error) {
	s := &Scan{tree: t, snap: snap}
	if err := s.loadLeaf(MinZSTid); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scan) loadLeaf(fromTid ZSTid) error {
	buf, page, err := s.tree.Descend(fromTid, LockShare)
	if err != nil {
		return err
	}
	flat, err := s.tree.flattenPage(page)
	if err != nil {
		buf.Unlock()
		buf.Release()
		return err
	}
	s.buf = buf
	s.pending = flat
	s.pidx = 0
	s.nextBlk = page.Trailer.Next
	return nil
}

// Next returns the next visible row in TID order, or ok=false once the
// scan is exhausted.
func (s *Scan) Next() (tid ZSTid, raw []byte, isnull bool, ok bool, err error) {
	for {
		for s.pidx < len(s.pending) {
			it := s.pending[s.pidx]
			s.pidx++
			if s.tree.vis.Satisfies(s.snap, it.Flags(), it.Undo) {
				return it.Tid, it.Payload, it.ItFlags.HasAny(ItemNull), true, nil
			}
		}
		if s.done {
			return InvalidZSTid, nil, false, false, nil
		}
		if s.nextBlk == InvalidBlockNumber {
			s.closeCurrent()
			s.done = true
			continue
		}
		if err := s.advance(); err != nil {
			return InvalidZSTid, nil, false, false, err
		}
	}
}

func (s *Scan) advance() error {
	next := s.nextBlk
	s.closeCurrent()
	buf, err := s.tree.buf.ReadPage(next)
	if err != nil {
		return err
	}
	buf.Lock(LockShare)
	page, err := Deserialize(buf.Page())
	if err != nil {
		buf.Unlock()
		buf.Release()
		return err
	}
	flat, err := s.tree.flattenPage(page)
	if err != nil {
		buf.Unlock()
		buf.Release()
		return err
	}
	s.buf = buf
	s.pending = flat
	s.pidx = 0
	s.nextBlk = page.Trailer.Next
	return nil
}

func (s *Scan) closeCurrent() {
	if s.buf != nil {
		s.buf.Unlock()
		s.buf.Release()
		s.buf = nil
	}
}

// EndScan releases any pinned leaf. Safe to call more than once.
func (s *Scan) EndScan() {
	s.closeCurrent()
	s.done = true
}

// flattenPage expands every item on page into its constituent logical
// rows, in TID order, decompressing containers as needed.
func (t *Tree) flattenPage(page *Page) ([]*SingleItem, error) {
	decoded, err := decodeLeafItems(page)
	if err != nil {
		return nil, err
	}
	var out []*SingleItem
	for _, item := range decoded {
		switch v := item.(type) {
		case *SingleItem:
			out = append(out, v)
		case *ArrayItem:
			out = append(out, t.splitArrayToSingles(v)...)
		case *CompressedItem:
			dec, err := Decompress(v)
			if err != nil {
				return nil, err
			}
			for _, member := range dec.Items() {
				switch m := member.(type) {
				case *SingleItem:
					out = append(out, m)
				case *ArrayItem:
					out = append(out, t.splitArrayToSingles(m)...)
				}
			}
			dec.Free()
		}
	}
	return out, nil
}
