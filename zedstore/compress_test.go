package zedstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeSingles(startTid ZSTid, n int) []LeafItem {
	items := make([]LeafItem, n)
	for i := 0; i < n; i++ {
		items[i] = &SingleItem{
			Tid:     startTid + ZSTid(i),
			Payload: EncodeInt64Datum(8, int64(i)),
		}
	}
	return items
}

func TestCompressorRoundTrip(t *testing.T) {
	comp := NewCompressor(PageSize)
	items := makeSingles(1000, 20)
	for _, it := range items {
		ok, err := comp.Add(it)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ci, err := comp.Finish()
	require.NoError(t, err)
	require.Equal(t, ZSTid(1000), ci.FirstTid())
	require.Equal(t, ZSTid(1019), ci.LastTid())

	dec, err := Decompress(ci)
	require.NoError(t, err)
	defer dec.Free()

	got := dec.Items()
	require.Len(t, got, 20)
	for i, it := range got {
		s, ok := it.(*SingleItem)
		require.True(t, ok)
		require.Equal(t, ZSTid(1000+i), s.Tid)
		require.Equal(t, int64(i), DecodeInt64Datum(8, s.Payload))
	}
}

func TestCompressorRespectsBudget(t *testing.T) {
	comp := NewCompressor(64)
	items := makeSingles(1, 1000)
	added := 0
	for _, it := range items {
		ok, err := comp.Add(it)
		require.NoError(t, err)
		if !ok {
			break
		}
		added++
	}
	require.Less(t, added, len(items))
	require.False(t, comp.Empty())
}

func TestCompressorEmptyFinishErrors(t *testing.T) {
	comp := NewCompressor(PageSize)
	_, err := comp.Finish()
	require.Error(t, err)
}
