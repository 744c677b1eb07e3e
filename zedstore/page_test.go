package zedstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageSerializeDeserializeRoundTrip(t *testing.T) {
	item := &SingleItem{Tid: 1, Payload: EncodeInt64Datum(8, 99)}
	enc := make([]byte, item.EncodedSize())
	item.EncodeFull(enc)

	page := &Page{
		Trailer: PageTrailer{
			Attno:  1,
			Flags:  0,
			Next:   InvalidBlockNumber,
			LoKey:  MinZSTid,
			HiKey:  MaxPlusOneZSTid,
			Level:  0,
			PageID: zsBtreePageID,
		},
		Items: [][]byte{enc},
	}

	buf, err := page.Serialize()
	require.NoError(t, err)
	require.Len(t, buf, PageSize)

	got, err := Deserialize(buf)
	require.NoError(t, err)
	require.Equal(t, page.Trailer, got.Trailer)
	require.Equal(t, page.Items, got.Items)
}

func TestDeserializeRejectsWrongPageID(t *testing.T) {
	page := NewEmptyLeafPage(1)
	buf, err := page.Serialize()
	require.NoError(t, err)
	buf[PageSize-1] = 0xFF
	buf[PageSize-2] = 0xFF

	_, err = Deserialize(buf)
	require.Error(t, err)
}

func TestFollowRightFlag(t *testing.T) {
	trailer := PageTrailer{Flags: FollowRight}
	require.True(t, trailer.HasFollowRight())
	trailer.Flags = 0
	require.False(t, trailer.HasFollowRight())
}

func TestInternalEntryEncodeDecode(t *testing.T) {
	e := internalEntry{LoKey: 77, Child: 3}
	buf := encodeInternalEntry(e)
	got := decodeInternalEntry(buf)
	require.Equal(t, e, got)
}
