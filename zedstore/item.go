package zedstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ItemFlags are the per-item flag bits carried in every leaf item's common
// header. COMPRESSED and ARRAY are the tag for the three-way union; the
// remaining bits describe a tuple's MVCC lifecycle state.
type ItemFlags uint8

const (
	ItemCompressed ItemFlags = 0x01
	ItemArray      ItemFlags = 0x02
	ItemNull       ItemFlags = 0x04
	ItemDeleted    ItemFlags = 0x08
	ItemUpdated    ItemFlags = 0x10
	ItemDead       ItemFlags = 0x20
)

func (f ItemFlags) HasAny(bits ItemFlags) bool { return f&bits != 0 }

// UndoPtr is an opaque reference into the host's undo log. The zero value
// means "no undo record" (an always-visible, never-modified tuple).
type UndoPtr uint64

// InvalidUndoPtr means the item carries no undo record.
const InvalidUndoPtr UndoPtr = 0

// itemHeaderSize is the byte width of the common prefix shared by every
// encoded item: flags(1) reserved(1) tid(6, 48-bit LE) size(2).
const itemHeaderSize = 10

// LeafItem is the tagged union over the three leaf item variants. Exactly
// one of the concrete types below implements it at a time; the member
// items packed inside a Compressed item are themselves Single/Array items
// and never another Compressed item.
type LeafItem interface {
	// FirstTid is the smallest TID this item covers.
	FirstTid() ZSTid
	// LastTid is the largest TID this item covers (inclusive).
	LastTid() ZSTid
	// Flags returns the item's flag bits, tag bits included.
	Flags() ItemFlags
	// EncodedSize is the number of bytes EncodeFull would produce.
	EncodedSize() int
	// EncodeFull serializes the item, including its own TID, to dst.
	EncodeFull(dst []byte) int
}

// SingleItem represents exactly one tuple.
type SingleItem struct {
	Tid     ZSTid
	ItFlags ItemFlags
	Undo    UndoPtr
	Payload []byte
}

func (s *SingleItem) FirstTid() ZSTid  { return s.Tid }
func (s *SingleItem) LastTid() ZSTid   { return s.Tid }
func (s *SingleItem) Flags() ItemFlags { return s.ItFlags &^ (ItemCompressed | ItemArray) }

func (s *SingleItem) EncodedSize() int {
	return itemHeaderSize + 8 + len(s.Payload)
}

func (s *SingleItem) EncodeFull(dst []byte) int {
	n := encodeItemHeader(dst, s.Tid, s.Flags(), s.EncodedSize())
	binary.LittleEndian.PutUint64(dst[n:], uint64(s.Undo))
	n += 8
	n += copy(dst[n:], s.Payload)
	return n
}

// EncodeBody encodes everything but the leading TID, for use as a member
// of a Compressed container whose TID is reconstructed externally from the
// simple8b-packed delta stream.
func (s *SingleItem) EncodeBody(dst []byte) int {
	dst[0] = byte(s.Flags())
	dst[1] = 0
	binary.LittleEndian.PutUint16(dst[2:], uint16(s.bodySize()))
	n := 4
	binary.LittleEndian.PutUint64(dst[n:], uint64(s.Undo))
	n += 8
	n += copy(dst[n:], s.Payload)
	return n
}

func (s *SingleItem) bodySize() int { return 4 + 8 + len(s.Payload) }

// ArrayItem represents nelements tuples with consecutive TIDs sharing one
// undo pointer and one null-ness.
type ArrayItem struct {
	Tid        ZSTid
	ItFlags    ItemFlags
	Undo       UndoPtr
	NElements  int
	Payload    []byte // elements back-to-back, natural/varlena width
}

func (a *ArrayItem) FirstTid() ZSTid { return a.Tid }
func (a *ArrayItem) LastTid() ZSTid  { return a.Tid + ZSTid(a.NElements) - 1 }
func (a *ArrayItem) Flags() ItemFlags {
	return (a.ItFlags &^ ItemCompressed) | ItemArray
}

func (a *ArrayItem) EncodedSize() int {
	return itemHeaderSize + 8 + 4 + len(a.Payload)
}

func (a *ArrayItem) EncodeFull(dst []byte) int {
	n := encodeItemHeader(dst, a.Tid, a.Flags(), a.EncodedSize())
	binary.LittleEndian.PutUint64(dst[n:], uint64(a.Undo))
	n += 8
	binary.LittleEndian.PutUint32(dst[n:], uint32(a.NElements))
	n += 4
	n += copy(dst[n:], a.Payload)
	return n
}

func (a *ArrayItem) EncodeBody(dst []byte) int {
	dst[0] = byte(a.Flags())
	dst[1] = 0
	binary.LittleEndian.PutUint16(dst[2:], uint16(a.bodySize()))
	n := 4
	binary.LittleEndian.PutUint64(dst[n:], uint64(a.Undo))
	n += 8
	binary.LittleEndian.PutUint32(dst[n:], uint32(a.NElements))
	n += 4
	n += copy(dst[n:], a.Payload)
	return n
}

func (a *ArrayItem) bodySize() int { return 4 + 8 + 4 + len(a.Payload) }

// CompressedItem wraps a concatenated byte image of a run of plain
// (Single/Array) items. Containers never nest.
type CompressedItem struct {
	FirstTidV       ZSTid
	LastTidV        ZSTid
	UncompressedLen int
	CompressedBytes []byte
}

func (c *CompressedItem) FirstTid() ZSTid  { return c.FirstTidV }
func (c *CompressedItem) LastTid() ZSTid   { return c.LastTidV }
func (c *CompressedItem) Flags() ItemFlags { return ItemCompressed }

func (c *CompressedItem) EncodedSize() int {
	return itemHeaderSize + 4 + 8 + len(c.CompressedBytes)
}

func (c *CompressedItem) EncodeFull(dst []byte) int {
	n := encodeItemHeader(dst, c.FirstTidV, c.Flags(), c.EncodedSize())
	binary.LittleEndian.PutUint32(dst[n:], uint32(c.UncompressedLen))
	n += 4
	binary.LittleEndian.PutUint64(dst[n:], uint64(c.LastTidV)&uint64(tidMask))
	n += 8
	n += copy(dst[n:], c.CompressedBytes)
	return n
}

// encodeItemHeader writes the common {flags, reserved, tid:48, size:u16}
// prefix and returns the number of bytes written.
func encodeItemHeader(dst []byte, tid ZSTid, flags ItemFlags, size int) int {
	dst[0] = byte(flags)
	dst[1] = 0
	putTid48(dst[2:8], tid)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(size))
	return itemHeaderSize
}

func putTid48(dst []byte, tid ZSTid) {
	v := uint64(tid) & uint64(tidMask)
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
	dst[4] = byte(v >> 32)
	dst[5] = byte(v >> 40)
}

func getTid48(src []byte) ZSTid {
	v := uint64(src[0]) | uint64(src[1])<<8 | uint64(src[2])<<16 |
		uint64(src[3])<<24 | uint64(src[4])<<32 | uint64(src[5])<<40
	return ZSTid(v)
}

// decodeItemHeader reads the common prefix and returns flags, tid, size,
// and the number of header bytes consumed.
func decodeItemHeader(src []byte) (flags ItemFlags, tid ZSTid, size int, n int) {
	flags = ItemFlags(src[0])
	tid = getTid48(src[2:8])
	size = int(binary.LittleEndian.Uint16(src[8:10]))
	return flags, tid, size, itemHeaderSize
}

// DecodeItem parses one full (TID-bearing) leaf item from src, returning
// the item and the number of bytes consumed.
func DecodeItem(src []byte) (LeafItem, int, error) {
	flags, tid, size, n := decodeItemHeader(src)
	if size < n || size > len(src) {
		return nil, 0, wrapCorruption("decode item: implausible size %d at tid %v", size, tid)
	}
	switch {
	case flags.HasAny(ItemCompressed):
		if size < n+12 {
			return nil, 0, errors.Wrap(ErrCorruption, "decode compressed item: truncated")
		}
		uncompLen := int(binary.LittleEndian.Uint32(src[n:]))
		last := getTid48(src[n+4 : n+10])
		body := src[n+12 : size]
		return &CompressedItem{
			FirstTidV:       tid,
			LastTidV:        last,
			UncompressedLen: uncompLen,
			CompressedBytes: append([]byte(nil), body...),
		}, size, nil
	case flags.HasAny(ItemArray):
		undo := UndoPtr(binary.LittleEndian.Uint64(src[n:]))
		nelem := int(binary.LittleEndian.Uint32(src[n+8:]))
		payload := src[n+12 : size]
		return &ArrayItem{
			Tid:       tid,
			ItFlags:   flags,
			Undo:      undo,
			NElements: nelem,
			Payload:   append([]byte(nil), payload...),
		}, size, nil
	default:
		undo := UndoPtr(binary.LittleEndian.Uint64(src[n:]))
		payload := src[n+8 : size]
		return &SingleItem{
			Tid:     tid,
			ItFlags: flags,
			Undo:    undo,
			Payload: append([]byte(nil), payload...),
		}, size, nil
	}
}

// decodeItemBody parses a TID-less item body (as produced by EncodeBody)
// given its already-known TID, used when unpacking a Compressed
// container's member stream.
func decodeItemBody(tid ZSTid, src []byte) (LeafItem, int, error) {
	if len(src) < 4 {
		return nil, 0, errors.Wrap(ErrCorruption, "decode item body: truncated header")
	}
	flags := ItemFlags(src[0])
	size := int(binary.LittleEndian.Uint16(src[2:4]))
	if size < 4 || size > len(src) {
		return nil, 0, wrapCorruption("decode item body: implausible size %d", size)
	}
	n := 4
	switch {
	case flags.HasAny(ItemArray):
		undo := UndoPtr(binary.LittleEndian.Uint64(src[n:]))
		nelem := int(binary.LittleEndian.Uint32(src[n+8:]))
		payload := src[n+12 : size]
		return &ArrayItem{
			Tid:       tid,
			ItFlags:   flags,
			Undo:      undo,
			NElements: nelem,
			Payload:   append([]byte(nil), payload...),
		}, size, nil
	default:
		undo := UndoPtr(binary.LittleEndian.Uint64(src[n:]))
		payload := src[n+8 : size]
		return &SingleItem{
			Tid:     tid,
			ItFlags: flags,
			Undo:    undo,
			Payload: append([]byte(nil), payload...),
		}, size, nil
	}
}

// newSingleOrArray picks the Single vs Array representation for a run of
// values sharing one undo pointer and null-ness, mirroring zsbt_create_item's
// dispatch on nelements.
func newSingleOrArray(tid ZSTid, isnull bool, undo UndoPtr, encodedValues [][]byte) LeafItem {
	flags := ItemFlags(0)
	if isnull {
		flags |= ItemNull
	}
	if len(encodedValues) == 1 {
		return &SingleItem{Tid: tid, ItFlags: flags, Undo: undo, Payload: encodedValues[0]}
	}
	var payload []byte
	for _, v := range encodedValues {
		payload = append(payload, v...)
	}
	return &ArrayItem{Tid: tid, ItFlags: flags, Undo: undo, NElements: len(encodedValues), Payload: payload}
}
