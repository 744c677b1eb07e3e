package zedstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarlenaShortRoundTrip(t *testing.T) {
	raw := []byte("a short string")
	encoded := encodeVarlena(raw)
	require.Equal(t, byte(1), encoded[0]&0x1, "short form expected")

	got, n := decodeVarlena(encoded)
	require.Equal(t, len(encoded), n)
	require.True(t, bytes.Equal(raw, got))
}

func TestVarlenaFullRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("x"), 500)
	encoded := encodeVarlena(raw)
	require.Equal(t, byte(0), encoded[0]&0x1, "full form expected")

	got, n := decodeVarlena(encoded)
	require.Equal(t, len(encoded), n)
	require.True(t, bytes.Equal(raw, got))
}

func TestEncodeDatumFixedWidthByVal(t *testing.T) {
	d := EncodeInt64Datum(8, 123456)
	require.Equal(t, int64(123456), DecodeInt64Datum(8, d))
}

func TestDatumRawSizeVariesByHeaderForm(t *testing.T) {
	short := encodeVarlena([]byte("hi"))
	require.Equal(t, len(short), DatumRawSize(short, false, -1, false))

	long := encodeVarlena(bytes.Repeat([]byte("y"), 200))
	require.Equal(t, len(long), DatumRawSize(long, false, -1, false))
}

func TestDatumRawSizeNullIsZeroRegardlessOfAttlen(t *testing.T) {
	require.Equal(t, 0, DatumRawSize(nil, true, 8, true))
	require.Equal(t, 0, DatumRawSize(nil, false, -1, true))
}
