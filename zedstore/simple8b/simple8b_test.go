package simple8b

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]uint64{
		{0, 0, 0, 0, 0},
		{1, 1, 1, 1, 1, 1, 1, 1},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		{1 << 10, 1 << 10, 1 << 10},
		{1 << 59},
	}
	for _, vals := range cases {
		words, err := EncodeAll(vals)
		require.NoError(t, err)
		got := DecodeAll(words, len(vals))
		require.Equal(t, vals, got)
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	_, err := EncodeAll([]uint64{1 << 61})
	require.Error(t, err)
}

func TestEncodeLargeRun(t *testing.T) {
	vals := make([]uint64, 1000)
	for i := range vals {
		vals[i] = uint64(i % 3)
	}
	words, err := EncodeAll(vals)
	require.NoError(t, err)
	require.Equal(t, vals, DecodeAll(words, len(vals)))
}

func TestEncodePacksMultipleValuesPerWord(t *testing.T) {
	vals := make([]uint64, 100)
	for i := range vals {
		vals[i] = 1
	}
	words, err := EncodeAll(vals)
	require.NoError(t, err)
	require.Less(t, len(words), len(vals), "small ascending-delta values should pack many per word, not one")
	require.Equal(t, vals, DecodeAll(words, len(vals)))
}
