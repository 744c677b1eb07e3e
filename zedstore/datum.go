package zedstore

import "encoding/binary"

// MaxZedStoreDatumSize bounds how large a single inline datum may be. The
// host's TOAST collaborator (out of scope, see spec §1) is expected to
// replace anything larger with a pointer before it ever reaches the core;
// the core itself does not check incoming datums against it, and uses it
// only to size MultiInsert's array batches.
const MaxZedStoreDatumSize = PageSize / 4

// varlenaShortMax is the largest payload length that fits the 1-byte
// "short" varlena header.
const varlenaShortMax = 0x7f

// datumSize returns the encoded byte length of a single value starting at
// ptr, for the given attribute descriptors and null-ness. A NULL element
// occupies zero bytes regardless of attlen, per §4.1's
// array_slice_length(attlen, attbyval, isnull, ptr, n) contract (mirroring
// zsbt_get_array_slice_len's "if (isnull) datasz = 0"): an Array built over
// a fixed-width attribute still stores nothing for its null elements, so
// attlen must never be charged against them. For a non-null fixed-width
// attribute this is just attlen. For a non-null variable-length attribute
// the value is self-describing: the first byte's low bit tells us whether
// to read a 1-byte (short) or 4-byte (full) length header.
func datumSize(ptr []byte, attbyval bool, attlen int16, isnull bool) int {
	if isnull {
		return 0
	}
	if attlen > 0 {
		return int(attlen)
	}
	if len(ptr) == 0 {
		return 0
	}
	if ptr[0]&0x1 == 1 {
		return 1 + int(ptr[0]>>1)
	}
	total := binary.LittleEndian.Uint32(ptr[:4]) >> 1
	return int(total)
}

// encodeVarlena marshals raw into the self-describing varlena wire format,
// preferring the short (1-byte header) form whenever raw fits within
// varlenaShortMax bytes, per §4.1.
func encodeVarlena(raw []byte) []byte {
	if len(raw) <= varlenaShortMax {
		out := make([]byte, 1+len(raw))
		out[0] = byte(len(raw)<<1) | 0x1
		copy(out[1:], raw)
		return out
	}
	out := make([]byte, 4+len(raw))
	total := uint32(4 + len(raw))
	binary.LittleEndian.PutUint32(out[:4], total<<1)
	copy(out[4:], raw)
	return out
}

// decodeVarlena returns the raw value bytes (header stripped) and the
// total encoded length consumed from ptr.
func decodeVarlena(ptr []byte) (raw []byte, encodedLen int) {
	if ptr[0]&0x1 == 1 {
		n := int(ptr[0] >> 1)
		return ptr[1 : 1+n], 1 + n
	}
	total := int(binary.LittleEndian.Uint32(ptr[:4]) >> 1)
	return ptr[4:total], total
}

// encodeByVal marshals a fixed-width by-value datum (an unsigned integer
// of width attlen, little-endian) into its storage width.
func encodeByVal(val uint64, attlen int16) []byte {
	out := make([]byte, attlen)
	switch attlen {
	case 1:
		out[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(out, val)
	}
	return out
}

func decodeByVal(ptr []byte, attlen int16) uint64 {
	switch attlen {
	case 1:
		return uint64(ptr[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(ptr))
	case 4:
		return uint64(binary.LittleEndian.Uint32(ptr))
	case 8:
		return binary.LittleEndian.Uint64(ptr)
	}
	return 0
}

// Datum is a single attribute value in its on-disk byte representation,
// ready to be copied verbatim into an item's payload. Callers build one
// with EncodeDatum and read one back with DecodeDatum.
type Datum []byte

// EncodeDatum marshals a value according to the attribute descriptors.
// raw is the value's natural byte representation: for a by-value
// attribute, attlen little-endian bytes already trimmed to width; for a
// by-reference fixed-width attribute, exactly attlen bytes; for a
// variable-length attribute, the bare payload bytes (the header is added
// here).
func EncodeDatum(attbyval bool, attlen int16, raw []byte) Datum {
	if attlen > 0 {
		if attbyval {
			var v uint64
			for i := 0; i < len(raw) && i < 8; i++ {
				v |= uint64(raw[i]) << (8 * i)
			}
			return Datum(encodeByVal(v, attlen))
		}
		out := make([]byte, attlen)
		copy(out, raw)
		return Datum(out)
	}
	return Datum(encodeVarlena(raw))
}

// EncodeInt64Datum is a convenience wrapper for fixed-width by-value
// integer attributes (attlen one of 1,2,4,8).
func EncodeInt64Datum(attlen int16, v int64) Datum {
	return Datum(encodeByVal(uint64(v), attlen))
}

// DecodeInt64Datum is the inverse of EncodeInt64Datum.
func DecodeInt64Datum(attlen int16, d Datum) int64 {
	return int64(decodeByVal(d, attlen))
}

// DatumRawSize returns the encoded length of the datum starting at ptr.
// isnull must reflect the covering item's null-ness: a NULL element of a
// fixed-width attribute stores nothing, even though attlen is nonzero.
func DatumRawSize(ptr []byte, attbyval bool, attlen int16, isnull bool) int {
	return datumSize(ptr, attbyval, attlen, isnull)
}

// ArraySliceLength returns the total encoded byte length of count
// consecutive elements of an Array's payload, starting at byte offset
// startOffset, per §4.1's array_slice_length(attlen, attbyval, isnull, ptr,
// n) contract. Used to carve a contiguous byte range out of an Array's
// payload without decoding every element into its own buffer. isnull is
// one value for the whole call since every element of one Array shares
// one null-ness.
func ArraySliceLength(payload []byte, attbyval bool, attlen int16, isnull bool, startOffset, count int) int {
	off := startOffset
	for i := 0; i < count; i++ {
		off += datumSize(payload[off:], attbyval, attlen, isnull)
	}
	return off - startOffset
}

// DecodeVarlenaValue strips a variable-length datum's self-describing
// header and returns its raw payload bytes.
func DecodeVarlenaValue(encoded Datum) []byte {
	raw, _ := decodeVarlena(encoded)
	return raw
}
