// Package simple8b implements the Simple-8b integer packing scheme: each
// 64-bit word holds a 4-bit selector plus a run of equal-width integers,
// chosen to pack as many values as will fit. It is used by the zedstore
// compressor to delta-pack ascending TID streams before LZ compression.
package simple8b

import "github.com/pkg/errors"

// ErrValueOutOfRange is returned by Encode when a value does not fit in
// the widest selector (60 bits).
var ErrValueOutOfRange = errors.New("simple8b: value does not fit in 60 bits")

// selector table: index -> {bits per value, values per word}. Index 0 is
// reserved for 240 zero values (a common run in delta streams), matching
// the scheme used by most Simple-8b implementations in the wild (e.g.
// InfluxDB's tsm1 encoder).
var selectorBits = [16]int{0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 12, 15, 20, 30, 60}
var selectorN = [16]int{240, 120, 60, 30, 20, 15, 12, 10, 8, 7, 6, 5, 4, 3, 2, 1}

// Encode packs as many leading values from src as fit into one 64-bit
// word, choosing the widest selector that still packs at least one value,
// and returns the word plus the number of values it consumed.
func Encode(src []uint64) (word uint64, n int, err error) {
	if len(src) == 0 {
		return 0, 0, nil
	}
	// selector 0: run of zeros.
	if allZero(src, selectorN[0]) {
		return 0, min(selectorN[0], len(src)), nil
	}
	// Try selectors from the widest value-count down to the narrowest, so
	// the widest run that fits is always the one chosen; sel=15 (1 value,
	// 60 bits) always matches if the leading value fits at all, so the
	// loop never falls through for an in-range input.
	for sel := 1; sel <= 15; sel++ {
		bits := selectorBits[sel]
		count := selectorN[sel]
		if count > len(src) {
			continue
		}
		if !fits(src[:count], bits) {
			continue
		}
		w := uint64(sel)
		for i := 0; i < count; i++ {
			w |= (src[i] & mask(bits)) << uint(4+i*bits)
		}
		return w, count, nil
	}
	return 0, 0, ErrValueOutOfRange
}

// EncodeAll packs the entire src slice into a sequence of words.
func EncodeAll(src []uint64) ([]uint64, error) {
	var out []uint64
	for len(src) > 0 {
		w, n, err := Encode(src)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
		src = src[n:]
	}
	return out, nil
}

// Decode unpacks one word into dst, returning the number of values
// written. dst must have capacity for at least 240 values.
func Decode(dst []uint64, word uint64) int {
	sel := int(word & 0xf)
	bits := selectorBits[sel]
	count := selectorN[sel]
	if sel == 0 {
		for i := 0; i < count; i++ {
			dst[i] = 0
		}
		return count
	}
	w := word >> 4
	m := mask(bits)
	for i := 0; i < count; i++ {
		dst[i] = w & m
		w >>= uint(bits)
	}
	return count
}

// DecodeAll unpacks a full sequence of words back into the original
// integer stream, truncated to n values.
func DecodeAll(words []uint64, n int) []uint64 {
	out := make([]uint64, 0, n)
	buf := make([]uint64, 240)
	for _, w := range words {
		if len(out) >= n {
			break
		}
		c := Decode(buf, w)
		out = append(out, buf[:c]...)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func fits(vals []uint64, bits int) bool {
	if bits >= 64 {
		return true
	}
	limit := uint64(1) << uint(bits)
	for _, v := range vals {
		if v >= limit {
			return false
		}
	}
	return true
}

func allZero(vals []uint64, limit int) bool {
	if limit > len(vals) {
		limit = len(vals)
	}
	if limit == 0 {
		return false
	}
	for i := 0; i < limit; i++ {
		if vals[i] != 0 {
			return false
		}
	}
	return true
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
