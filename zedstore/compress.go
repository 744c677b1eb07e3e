package zedstore

import (
	"bytes"
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/bigsql/zedstore/zedstore/simple8b"
)

// bodyEncoder is satisfied by the two plain item types a Compressed
// container may hold.
type bodyEncoder interface {
	LeafItem
	EncodeBody(dst []byte) int
	bodySize() int
}

// Compressor accumulates a run of plain (Single/Array) items and, on
// Finish, produces one CompressedItem whose compressed_bytes holds a
// simple8b-packed TID-delta block followed by the concatenated item
// bodies, LZ4-compressed as a single block. Add is tentative: it rebuilds
// and recompresses the trial buffer and only commits if the result still
// fits the caller's budget, since LZ4's output size is not known ahead of
// time.
type Compressor struct {
	budget int
	items  []bodyEncoder
}

// NewCompressor returns a Compressor that will refuse to grow past budget
// bytes of *compressed* output (the size the finished CompressedItem's
// EncodedSize will occupy).
func NewCompressor(budget int) *Compressor {
	return &Compressor{budget: budget}
}

func (c *Compressor) Empty() bool { return len(c.items) == 0 }
func (c *Compressor) Count() int  { return len(c.items) }

// Add attempts to append item to the run. It returns false, leaving the
// compressor unchanged, if doing so would exceed the configured budget.
func (c *Compressor) Add(item LeafItem) (bool, error) {
	be, ok := item.(bodyEncoder)
	if !ok {
		return false, errors.Wrap(ErrCorruption, "zedstore: compressor cannot add a compressed item (containers never nest)")
	}
	trial := append(append([]bodyEncoder(nil), c.items...), be)
	encoded, err := encodeContainerBody(trial)
	if err != nil {
		return false, err
	}
	compressed, err := lz4Compress(encoded)
	if err != nil {
		return false, err
	}
	if itemHeaderSize+12+len(compressed) > c.budget {
		return false, nil
	}
	c.items = trial
	return true, nil
}

// Finish builds the final CompressedItem for the accumulated run and
// resets the compressor.
func (c *Compressor) Finish() (*CompressedItem, error) {
	if len(c.items) == 0 {
		return nil, errors.New("zedstore: cannot finish an empty compressor run")
	}
	encoded, err := encodeContainerBody(c.items)
	if err != nil {
		return nil, err
	}
	compressed, err := lz4Compress(encoded)
	if err != nil {
		return nil, err
	}
	first := c.items[0].FirstTid()
	last := c.items[len(c.items)-1].LastTid()
	out := &CompressedItem{
		FirstTidV:       first,
		LastTidV:        last,
		UncompressedLen: len(encoded),
		CompressedBytes: compressed,
	}
	c.items = nil
	return out, nil
}

// encodeContainerBody lays out the uncompressed payload that gets fed to
// LZ4: a u32 item count, a u32 count of simple8b words, those words
// (8 bytes each, little-endian) packing each item's FirstTid
// delta from the previous item's FirstTid (the very first is stored raw),
// and the concatenated EncodeBody() output of every item in order.
func encodeContainerBody(items []bodyEncoder) ([]byte, error) {
	deltas := make([]uint64, len(items))
	var prev ZSTid
	for i, it := range items {
		if i == 0 {
			deltas[i] = uint64(it.FirstTid())
		} else {
			deltas[i] = uint64(it.FirstTid() - prev)
		}
		prev = it.FirstTid()
	}
	words, err := simple8b.EncodeAll(deltas)
	if err != nil {
		return nil, errors.Wrap(err, "zedstore: packing tid deltas")
	}

	var buf bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(items)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(words)))
	buf.Write(hdr[:])
	for _, w := range words {
		var wb [8]byte
		binary.LittleEndian.PutUint64(wb[:], w)
		buf.Write(wb[:])
	}
	for _, it := range items {
		b := make([]byte, it.bodySize())
		n := it.EncodeBody(b)
		buf.Write(b[:n])
	}
	return buf.Bytes(), nil
}

// decodeContainerBody reverses encodeContainerBody, returning the member
// items in order with their TIDs reconstructed from the delta stream.
func decodeContainerBody(buf []byte) ([]LeafItem, error) {
	if len(buf) < 8 {
		return nil, errors.Wrap(ErrCorruption, "decode container body: truncated header")
	}
	nitems := int(binary.LittleEndian.Uint32(buf[0:4]))
	nwords := int(binary.LittleEndian.Uint32(buf[4:8]))
	off := 8
	if off+nwords*8 > len(buf) {
		return nil, errors.Wrap(ErrCorruption, "decode container body: truncated tid words")
	}
	words := make([]uint64, nwords)
	for i := 0; i < nwords; i++ {
		words[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	deltas := simple8b.DecodeAll(words, nitems)
	if len(deltas) != nitems {
		return nil, wrapCorruption("decode container body: expected %d tids, got %d", nitems, len(deltas))
	}

	items := make([]LeafItem, nitems)
	var tid ZSTid
	for i := 0; i < nitems; i++ {
		if i == 0 {
			tid = ZSTid(deltas[i])
		} else {
			tid += ZSTid(deltas[i])
		}
		item, n, err := decodeItemBody(tid, buf[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "decode container body: item %d", i)
		}
		items[i] = item
		off += n
	}
	return items, nil
}

func lz4Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return nil, errors.Wrap(err, "zedstore: lz4 compress")
	}
	if n == 0 && len(src) > 0 {
		// lz4 reports 0 when the data is incompressible; store raw with a
		// length-prefixed marker so decompress can tell the two apart.
		out := make([]byte, 4+len(src))
		binary.LittleEndian.PutUint32(out[:4], 0)
		copy(out[4:], src)
		return out, nil
	}
	out := make([]byte, 4+n)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(src)))
	copy(out[4:], dst[:n])
	return out, nil
}

func lz4Decompress(src []byte, uncompressedLen int) ([]byte, error) {
	if len(src) < 4 {
		return nil, errors.Wrap(ErrCorruption, "lz4 decompress: truncated")
	}
	marker := binary.LittleEndian.Uint32(src[:4])
	if marker == 0 {
		return append([]byte(nil), src[4:]...), nil
	}
	dst := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(src[4:], dst)
	if err != nil {
		return nil, errors.Wrap(err, "zedstore: lz4 decompress")
	}
	return dst[:n], nil
}

// Decompressor exposes a scoped handle to a decompressed container run.
// Callers must call Free when done. Each returned item holds its own copy
// of its payload, so items taken from Items stay valid after Free; Free
// only drops the Decompressor's references to them.
type Decompressor struct {
	items []LeafItem
	freed bool
}

// Decompress decodes a CompressedItem's payload into its member items.
func Decompress(ci *CompressedItem) (*Decompressor, error) {
	raw, err := lz4Decompress(ci.CompressedBytes, ci.UncompressedLen)
	if err != nil {
		return nil, err
	}
	items, err := decodeContainerBody(raw)
	if err != nil {
		return nil, err
	}
	return &Decompressor{items: items}, nil
}

// Items returns the decompressed member items. Valid until Free is called.
func (d *Decompressor) Items() []LeafItem {
	return d.items
}

// Free releases the Decompressor's backing memory. Safe to call more than
// once.
func (d *Decompressor) Free() {
	if d.freed {
		return
	}
	d.items = nil
	d.freed = true
}
