package zedstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PageSize is the fixed physical size of every page in a zedstore file.
const PageSize = 8192

// zsBtreePageID discriminates a zedstore btree page from any other page
// type the host file format might carry; it has no meaning beyond acting
// as a sanity check on read.
const zsBtreePageID = 0x5A53 // "ZS"

// PageFlags are the trailer's flag bits.
type PageFlags uint16

// FollowRight marks a page as having completed a split whose downlink is
// not yet installed in the parent; see §4.6.
const FollowRight PageFlags = 0x01

// trailerSize is the fixed byte width of PageTrailer's wire encoding:
// attno(2) flags(2) next(4) lokey(8) hikey(8) level(2) page_id(2).
const trailerSize = 2 + 2 + 4 + 8 + 8 + 2 + 2

// PageTrailer is the opaque per-page trailer carried by every zedstore
// page, bit-exact per the wire format: fields packed in this order,
// little-endian (this module picks a fixed byte order rather than true
// host-native order; see DESIGN.md).
type PageTrailer struct {
	Attno AttrNumber
	Flags PageFlags
	Next  BlockNumber
	LoKey ZSTid
	HiKey ZSTid
	Level uint16
	// PageID is the discriminator; always zsBtreePageID on a valid page.
	PageID uint16
}

func (t PageTrailer) IsLeaf() bool          { return t.Level == 0 }
func (t PageTrailer) HasFollowRight() bool  { return t.Flags&FollowRight != 0 }

// Page is an in-memory decoded view of one physical page: its trailer
// plus an ordered slot array of opaque item byte-strings. For a leaf page
// each slot holds one LeafItem.EncodeFull() image; for an internal page
// each slot holds one encoded internalEntry.
type Page struct {
	Trailer PageTrailer
	Items   [][]byte
}

// slotEntrySize is the width of one slot-array entry: offset(u16) + length(u16).
const slotEntrySize = 4

// FreeSpace estimates how many bytes remain available for additional
// items, accounting for the slot array growing by one entry per item.
func (p *Page) FreeSpace() int {
	used := 2 + len(p.Items)*slotEntrySize
	for _, it := range p.Items {
		used += len(it)
	}
	return PageSize - trailerSize - used
}

// Serialize writes the page into a PageSize-length buffer.
func (p *Page) Serialize() ([]byte, error) {
	buf := make([]byte, PageSize)
	nitems := len(p.Items)
	if 2+nitems*slotEntrySize > PageSize-trailerSize {
		return nil, errors.New("zedstore: page slot array does not fit")
	}
	binary.LittleEndian.PutUint16(buf[0:2], uint16(nitems))

	slotOff := 2
	dataOff := 2 + nitems*slotEntrySize
	for _, it := range p.Items {
		if dataOff+len(it) > PageSize-trailerSize {
			return nil, errors.New("zedstore: page item data does not fit")
		}
		binary.LittleEndian.PutUint16(buf[slotOff:slotOff+2], uint16(dataOff))
		binary.LittleEndian.PutUint16(buf[slotOff+2:slotOff+4], uint16(len(it)))
		copy(buf[dataOff:dataOff+len(it)], it)
		slotOff += slotEntrySize
		dataOff += len(it)
	}

	writeTrailer(buf[PageSize-trailerSize:], p.Trailer)
	return buf, nil
}

// Deserialize reads a page from a PageSize-length buffer.
func Deserialize(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, errors.Errorf("zedstore: page buffer is %d bytes, want %d", len(buf), PageSize)
	}
	trailer, err := readTrailer(buf[PageSize-trailerSize:])
	if err != nil {
		return nil, err
	}
	nitems := int(binary.LittleEndian.Uint16(buf[0:2]))
	items := make([][]byte, nitems)
	slotOff := 2
	for i := 0; i < nitems; i++ {
		off := int(binary.LittleEndian.Uint16(buf[slotOff : slotOff+2]))
		length := int(binary.LittleEndian.Uint16(buf[slotOff+2 : slotOff+4]))
		if off < 0 || off+length > PageSize-trailerSize {
			return nil, wrapCorruption("deserialize page: slot %d out of bounds", i)
		}
		items[i] = append([]byte(nil), buf[off:off+length]...)
		slotOff += slotEntrySize
	}
	return &Page{Trailer: trailer, Items: items}, nil
}

func writeTrailer(dst []byte, t PageTrailer) {
	binary.LittleEndian.PutUint16(dst[0:2], uint16(t.Attno))
	binary.LittleEndian.PutUint16(dst[2:4], uint16(t.Flags))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(t.Next))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(t.LoKey))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(t.HiKey))
	binary.LittleEndian.PutUint16(dst[24:26], t.Level)
	binary.LittleEndian.PutUint16(dst[26:28], t.PageID)
}

func readTrailer(src []byte) (PageTrailer, error) {
	t := PageTrailer{
		Attno:  AttrNumber(binary.LittleEndian.Uint16(src[0:2])),
		Flags:  PageFlags(binary.LittleEndian.Uint16(src[2:4])),
		Next:   BlockNumber(binary.LittleEndian.Uint32(src[4:8])),
		LoKey:  ZSTid(binary.LittleEndian.Uint64(src[8:16])),
		HiKey:  ZSTid(binary.LittleEndian.Uint64(src[16:24])),
		Level:  binary.LittleEndian.Uint16(src[24:26]),
		PageID: binary.LittleEndian.Uint16(src[26:28]),
	}
	if t.PageID != zsBtreePageID {
		return t, wrapCorruption("page trailer: unexpected page id %#x", t.PageID)
	}
	return t, nil
}

// NewEmptyLeafPage returns a freshly initialized, empty leaf page for
// attno, suitable as a tree's very first root. A MetaPage implementation
// allocates one of these the first time RootFor is asked to create a
// tree.
func NewEmptyLeafPage(attno AttrNumber) *Page {
	return &Page{
		Trailer: PageTrailer{
			Attno:  attno,
			Flags:  0,
			Next:   InvalidBlockNumber,
			LoKey:  MinZSTid,
			HiKey:  MaxPlusOneZSTid,
			Level:  0,
			PageID: zsBtreePageID,
		},
	}
}

// internalEntry is one downlink slot of an internal page: the smallest
// TID reachable through child, paired with child's block number.
type internalEntry struct {
	LoKey ZSTid
	Child BlockNumber
}

const internalEntrySize = 8 + 4

func encodeInternalEntry(e internalEntry) []byte {
	buf := make([]byte, internalEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.LoKey))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.Child))
	return buf
}

func decodeInternalEntry(buf []byte) internalEntry {
	return internalEntry{
		LoKey: ZSTid(binary.LittleEndian.Uint64(buf[0:8])),
		Child: BlockNumber(binary.LittleEndian.Uint32(buf[8:12])),
	}
}

// decodeLeafItems decodes every slot of a leaf page in order.
func decodeLeafItems(p *Page) ([]LeafItem, error) {
	out := make([]LeafItem, len(p.Items))
	for i, raw := range p.Items {
		item, n, err := DecodeItem(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode leaf item %d", i)
		}
		if n != len(raw) {
			return nil, wrapCorruption("decode leaf item %d: trailing bytes", i)
		}
		out[i] = item
	}
	return out, nil
}

// decodeInternalEntries decodes every slot of an internal page in order.
func decodeInternalEntries(p *Page) []internalEntry {
	out := make([]internalEntry, len(p.Items))
	for i, raw := range p.Items {
		out[i] = decodeInternalEntry(raw)
	}
	return out
}
