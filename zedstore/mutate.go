package zedstore

import (
	"github.com/sirupsen/logrus"
)

// leafCompressorBudget bounds how large a single CompressedItem's encoded
// form may grow before recompressReplace closes it out and starts a new
// container, matching the teacher's "stream items into compressor/page"
// pattern rather than trying to pack an entire page into one container.
const leafCompressorBudget = PageSize / 2

// replaceItem is the leaf mutation engine's entry point: Step A
// (normalize) flattens the leaf's current contents into a list of plain
// items with oldTid either replaced by replacement or dropped (replacement
// == nil), or with replacement appended as a brand new item when oldTid
// is InvalidZSTid. Step B/C/D (recompressReplace) then rewrites the leaf
// — and splits it into a page chain if the result no longer fits — in one
// critical section.
func (t *Tree) replaceItem(buf Buffer, page *Page, oldTid ZSTid, replacement LeafItem) error {
	items, err := t.normalizeItems(page, oldTid, replacement)
	if err != nil {
		return err
	}
	return t.recompressReplace(buf, page, items)
}

// normalizeItems decompresses the one container covering oldTid (if any),
// cuts the one array covering oldTid into the Array (or Single) slices on
// either side of it, and replaces or drops the matching item, leaving every
// other item untouched.
func (t *Tree) normalizeItems(page *Page, oldTid ZSTid, replacement LeafItem) ([]LeafItem, error) {
	decoded, err := decodeLeafItems(page)
	if err != nil {
		return nil, err
	}

	var out []LeafItem
	found := false
	for _, item := range decoded {
		switch v := item.(type) {
		case *CompressedItem:
			if oldTid != InvalidZSTid && v.FirstTid() <= oldTid && oldTid <= v.LastTid() {
				dec, err := Decompress(v)
				if err != nil {
					return nil, err
				}
				for _, member := range dec.Items() {
					out = append(out, t.normalizeMember(member, oldTid, replacement, &found)...)
				}
				dec.Free()
			} else {
				out = append(out, v)
			}
		default:
			out = append(out, t.normalizeMember(v, oldTid, replacement, &found)...)
		}
	}

	if oldTid == InvalidZSTid {
		if replacement != nil {
			out = append(out, replacement)
		}
	} else if !found {
		return nil, wrapCorruption("replace item: no item covers old tid %v", oldTid)
	}
	return out, nil
}

func (t *Tree) normalizeMember(item LeafItem, oldTid ZSTid, replacement LeafItem, found *bool) []LeafItem {
	switch v := item.(type) {
	case *SingleItem:
		if oldTid != InvalidZSTid && v.Tid == oldTid {
			*found = true
			if replacement != nil {
				return []LeafItem{replacement}
			}
			return nil
		}
		return []LeafItem{v}
	case *ArrayItem:
		if oldTid == InvalidZSTid || oldTid < v.FirstTid() || oldTid > v.LastTid() {
			return []LeafItem{v}
		}
		*found = true
		// Step A, per §4.5 and the boundary property in §8: a replacement
		// inside an Array preserves the untouched side(s) as Array slices
		// (or a Single, if only one element remains), rather than shattering
		// the whole run into individual Singles.
		cutoff := int(oldTid - v.FirstTid())
		var out []LeafItem
		if cutoff > 0 {
			out = append(out, t.arraySlice(v, 0, cutoff))
		}
		if replacement != nil {
			out = append(out, replacement)
		}
		if tailCount := v.NElements - cutoff - 1; tailCount > 0 {
			out = append(out, t.arraySlice(v, cutoff+1, tailCount))
		}
		return out
	default:
		return []LeafItem{item}
	}
}

// arraySlice rebuilds one contiguous run of count elements starting at
// element index startIdx of a's payload as a Single (count==1) or Array
// item, mirroring zsbt_create_item's dispatch on the remaining element
// count. Used to re-pack the flanking run(s) left over when a replacement
// or deletion lands inside a multi-element Array.
func (t *Tree) arraySlice(a *ArrayItem, startIdx, count int) LeafItem {
	isnull := a.ItFlags.HasAny(ItemNull)
	offset := 0
	if startIdx > 0 {
		offset = ArraySliceLength(a.Payload, t.AttByVal, t.AttLen, isnull, 0, startIdx)
	}
	values := make([][]byte, count)
	pos := offset
	for i := 0; i < count; i++ {
		sz := DatumRawSize(a.Payload[pos:], t.AttByVal, t.AttLen, isnull)
		values[i] = append([]byte(nil), a.Payload[pos:pos+sz]...)
		pos += sz
	}
	return newSingleOrArray(a.Tid+ZSTid(startIdx), isnull, a.Undo, values)
}

// splitArrayToSingles expands an ArrayItem's packed elements back into
// individual SingleItems, per the attribute's fixed/varlena width rule.
func (t *Tree) splitArrayToSingles(a *ArrayItem) []*SingleItem {
	isnull := a.ItFlags.HasAny(ItemNull)
	out := make([]*SingleItem, 0, a.NElements)
	offset := 0
	for i := 0; i < a.NElements; i++ {
		sz := DatumRawSize(a.Payload[offset:], t.AttByVal, t.AttLen, isnull)
		elem := append([]byte(nil), a.Payload[offset:offset+sz]...)
		out = append(out, &SingleItem{
			Tid:     a.Tid + ZSTid(i),
			ItFlags: a.ItFlags &^ ItemArray,
			Undo:    a.Undo,
			Payload: elem,
		})
		offset += sz
	}
	return out
}

// pruneDead drops items flagged DEAD whose undo pointer is older than the
// oldest pointer any live snapshot might still consult; every other
// flag-bearing item (DELETED, UPDATED) survives.
func pruneDead(items []LeafItem, oldest UndoPtr) []LeafItem {
	out := make([]LeafItem, 0, len(items))
	for _, it := range items {
		if s, ok := it.(*SingleItem); ok && s.ItFlags.HasAny(ItemDead) && s.Undo < oldest {
			continue
		}
		out = append(out, it)
	}
	return out
}

type leafPageBuilder struct {
	items    [][]byte
	used     int
	comp     *Compressor
	finished [][][]byte
}

func newLeafPageBuilder() *leafPageBuilder {
	return &leafPageBuilder{used: 2, comp: NewCompressor(leafCompressorBudget)}
}

func (b *leafPageBuilder) flushCompressor() error {
	if b.comp.Empty() {
		return nil
	}
	ci, err := b.comp.Finish()
	if err != nil {
		return err
	}
	enc := make([]byte, ci.EncodedSize())
	ci.EncodeFull(enc)
	b.appendRaw(enc)
	b.comp = NewCompressor(leafCompressorBudget)
	return nil
}

func (b *leafPageBuilder) appendRaw(enc []byte) {
	if b.used+slotEntrySize+len(enc) > PageSize-trailerSize {
		b.finished = append(b.finished, b.items)
		b.items = nil
		b.used = 2
	}
	b.items = append(b.items, enc)
	b.used += slotEntrySize + len(enc)
}

func (b *leafPageBuilder) add(it LeafItem) error {
	if ci, ok := it.(*CompressedItem); ok {
		if err := b.flushCompressor(); err != nil {
			return err
		}
		enc := make([]byte, ci.EncodedSize())
		ci.EncodeFull(enc)
		b.appendRaw(enc)
		return nil
	}
	be := it.(bodyEncoder)
	ok, err := b.comp.Add(be)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := b.flushCompressor(); err != nil {
		return err
	}
	ok, err = b.comp.Add(be)
	if err != nil {
		return err
	}
	if !ok {
		enc := make([]byte, it.EncodedSize())
		it.EncodeFull(enc)
		b.appendRaw(enc)
	}
	return nil
}

func (b *leafPageBuilder) finish() ([][][]byte, error) {
	if err := b.flushCompressor(); err != nil {
		return nil, err
	}
	if len(b.items) > 0 || len(b.finished) == 0 {
		b.finished = append(b.finished, b.items)
	}
	return b.finished, nil
}

// recompressReplace rewrites buf's leaf with items, splitting into a page
// chain when the result no longer fits one page. The first output page
// reuses buf; additional pages come from the allocator. All page writes
// happen inside one WAL critical section; downlinks for extra pages are
// installed afterward, outside the critical section, per §4.5.
func (t *Tree) recompressReplace(buf Buffer, origPage *Page, items []LeafItem) error {
	items = pruneDead(items, t.undo.OldestRetainedPtr())

	builder := newLeafPageBuilder()
	for _, it := range items {
		if err := builder.add(it); err != nil {
			return err
		}
	}
	chains, err := builder.finish()
	if err != nil {
		return err
	}
	if len(chains) == 1 && len(chains[0]) == 0 {
		chains[0] = nil // empty leaf is legal (all items deleted/pruned)
	}

	type outPage struct {
		buf   Buffer
		page  *Page
		lokey ZSTid
	}
	outs := make([]outPage, len(chains))
	outs[0].buf = buf

	for i := 1; i < len(chains); i++ {
		nbuf, err := t.buf.AllocPage()
		if err != nil {
			return err
		}
		nbuf.Lock(LockExclusive)
		outs[i].buf = nbuf
	}

	formerRight := origPage.Trailer.Next
	for i, chainItems := range chains {
		lokey := origPage.Trailer.LoKey
		if i > 0 {
			lokey = firstTidOfEncoded(chainItems[0])
		}
		hikey := origPage.Trailer.HiKey
		flags := PageFlags(0)
		next := formerRight
		if i < len(chains)-1 {
			hikey = firstTidOfEncoded(chains[i+1][0])
			flags |= FollowRight
			next = outs[i+1].buf.Block()
		}
		outs[i].lokey = lokey
		outs[i].page = &Page{
			Trailer: PageTrailer{
				Attno:  t.Attno,
				Flags:  flags,
				Next:   next,
				LoKey:  lokey,
				HiKey:  hikey,
				Level:  0,
				PageID: zsBtreePageID,
			},
			Items: chainItems,
		}
	}

	t.wal.StartCrit()
	for _, o := range outs {
		if err := t.writePage(o.buf, o.page); err != nil {
			t.wal.EndCrit()
			return err
		}
	}
	t.wal.EndCrit()

	t.log().WithFields(logrus.Fields{
		"attno":  t.Attno,
		"npages": len(outs),
	}).Debug("recompressed leaf")

	for i := 1; i < len(outs); i++ {
		left := outs[i-1]
		if err := t.InsertDownlink(left.buf, left.lokey, 0, outs[i].lokey, outs[i].buf.Block()); err != nil {
			return err
		}
	}
	for i := 1; i < len(outs); i++ {
		outs[i].buf.Unlock()
		outs[i].buf.Release()
	}
	return nil
}

func firstTidOfEncoded(enc []byte) ZSTid {
	_, tid, _, _ := decodeItemHeader(enc)
	return tid
}
