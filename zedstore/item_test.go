package zedstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleItemEncodeDecodeRoundTrip(t *testing.T) {
	s := &SingleItem{
		Tid:     42,
		ItFlags: ItemDeleted,
		Undo:    UndoPtr(7),
		Payload: []byte("hello"),
	}
	buf := make([]byte, s.EncodedSize())
	n := s.EncodeFull(buf)
	require.Equal(t, len(buf), n)

	decoded, consumed, err := DecodeItem(buf)
	require.NoError(t, err)
	require.Equal(t, n, consumed)

	got, ok := decoded.(*SingleItem)
	require.True(t, ok)
	require.Equal(t, s.Tid, got.Tid)
	require.Equal(t, s.Undo, got.Undo)
	require.Equal(t, s.Payload, got.Payload)
	require.True(t, got.Flags().HasAny(ItemDeleted))
}

func TestArrayItemFirstLastTid(t *testing.T) {
	a := &ArrayItem{Tid: 100, NElements: 5}
	require.Equal(t, ZSTid(100), a.FirstTid())
	require.Equal(t, ZSTid(104), a.LastTid())
}

func TestArrayItemEncodeDecodeRoundTrip(t *testing.T) {
	payload := append(append([]byte{1, 0, 0, 0}, []byte{2, 0, 0, 0}...), []byte{3, 0, 0, 0}...)
	a := &ArrayItem{Tid: 10, Undo: UndoPtr(3), NElements: 3, Payload: payload}
	buf := make([]byte, a.EncodedSize())
	n := a.EncodeFull(buf)

	decoded, consumed, err := DecodeItem(buf)
	require.NoError(t, err)
	require.Equal(t, n, consumed)

	got, ok := decoded.(*ArrayItem)
	require.True(t, ok)
	require.Equal(t, 3, got.NElements)
	require.Equal(t, payload, got.Payload)
	require.True(t, got.Flags().HasAny(ItemArray))
}

func TestCompressedItemEncodeDecodeRoundTrip(t *testing.T) {
	c := &CompressedItem{
		FirstTidV:       5,
		LastTidV:        9,
		UncompressedLen: 123,
		CompressedBytes: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	buf := make([]byte, c.EncodedSize())
	n := c.EncodeFull(buf)

	decoded, consumed, err := DecodeItem(buf)
	require.NoError(t, err)
	require.Equal(t, n, consumed)

	got, ok := decoded.(*CompressedItem)
	require.True(t, ok)
	require.Equal(t, c.FirstTidV, got.FirstTid())
	require.Equal(t, c.LastTidV, got.LastTid())
	require.Equal(t, c.UncompressedLen, got.UncompressedLen)
	require.Equal(t, c.CompressedBytes, got.CompressedBytes)
}
