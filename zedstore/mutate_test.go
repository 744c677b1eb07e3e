package zedstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeTestArray(t *testing.T, startTid ZSTid, n int) *ArrayItem {
	var payload []byte
	for i := 0; i < n; i++ {
		payload = append(payload, EncodeInt64Datum(8, int64(i))...)
	}
	return &ArrayItem{Tid: startTid, NElements: n, Payload: payload}
}

func TestNormalizeMemberPreservesFlankingArraysOnMiddleDelete(t *testing.T) {
	tr := &Tree{AttLen: 8, AttByVal: true}
	a := makeTestArray(t, 100, 5)

	out := tr.normalizeMember(a, 102, nil, new(bool))
	require.Len(t, out, 2)

	left, ok := out[0].(*ArrayItem)
	require.True(t, ok, "left flank of 2 elements should stay an Array")
	require.Equal(t, ZSTid(100), left.FirstTid())
	require.Equal(t, 2, left.NElements)

	right, ok := out[1].(*ArrayItem)
	require.True(t, ok, "right flank of 2 elements should stay an Array")
	require.Equal(t, ZSTid(103), right.FirstTid())
	require.Equal(t, 2, right.NElements)

	require.Equal(t, int64(0), DecodeInt64Datum(8, left.Payload[:8]))
	require.Equal(t, int64(1), DecodeInt64Datum(8, left.Payload[8:]))
	require.Equal(t, int64(3), DecodeInt64Datum(8, right.Payload[:8]))
	require.Equal(t, int64(4), DecodeInt64Datum(8, right.Payload[8:]))
}

func TestNormalizeMemberCollapsesSingleElementFlankToSingle(t *testing.T) {
	tr := &Tree{AttLen: 8, AttByVal: true}
	a := makeTestArray(t, 100, 3)

	// deleting the last element leaves a 2-element left flank and no right
	// flank; deleting the first of those two again should collapse the
	// remaining one element down to a Single, not a 1-element Array.
	found := new(bool)
	out := tr.normalizeMember(a, 102, nil, found)
	require.Len(t, out, 1)
	left, ok := out[0].(*ArrayItem)
	require.True(t, ok)

	out2 := tr.normalizeMember(left, 100, nil, found)
	require.Len(t, out2, 1)
	single, ok := out2[0].(*SingleItem)
	require.True(t, ok, "one remaining element should collapse to a Single")
	require.Equal(t, ZSTid(101), single.Tid)
	require.Equal(t, int64(1), DecodeInt64Datum(8, single.Payload))
}

func TestNormalizeMemberReplacesMiddleElementKeepingFlanksAsArrays(t *testing.T) {
	tr := &Tree{AttLen: 8, AttByVal: true}
	a := makeTestArray(t, 100, 5)
	replacement := &SingleItem{Tid: 102, Payload: EncodeInt64Datum(8, 999)}

	out := tr.normalizeMember(a, 102, replacement, new(bool))
	require.Len(t, out, 3)
	_, leftIsArray := out[0].(*ArrayItem)
	require.True(t, leftIsArray)
	require.Same(t, replacement, out[1])
	_, rightIsArray := out[2].(*ArrayItem)
	require.True(t, rightIsArray)
}
