package zedstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bigsql/zedstore/zedstore"
	"github.com/bigsql/zedstore/zedstoretest"
)

const testAttno zedstore.AttrNumber = 1

func newTestTree(t *testing.T, attlen int16, attbyval bool) (*zedstore.Tree, *zedstoretest.MemUndoLog) {
	tree, _, _, undo := newTestTreeWithCollaborators(t, attlen, attbyval)
	return tree, undo
}

func newTestTreeWithCollaborators(t *testing.T, attlen int16, attbyval bool) (*zedstore.Tree, *zedstoretest.MemBufferManager, *zedstoretest.MemMetaPage, *zedstoretest.MemUndoLog) {
	bufmgr := zedstoretest.NewMemBufferManager()
	undo := zedstoretest.NewMemUndoLog()
	vis := zedstoretest.NewTxVisibilityOracle(undo)
	wal := zedstoretest.NewMemWAL()
	meta := zedstoretest.NewMemMetaPage(bufmgr, map[zedstore.AttrNumber]zedstoretest.AttrDesc{
		testAttno: {AttLen: attlen, AttByVal: attbyval},
	})
	tree := zedstore.NewTree(testAttno, meta, bufmgr, undo, vis, wal, nil)
	return tree, bufmgr, meta, undo
}

// seedRootWithLastTid overwrites the tree's (already-created) root leaf so
// it looks like one whose last assigned TID is lastTid, without actually
// inserting that many rows.
func seedRootWithLastTid(t *testing.T, bufmgr *zedstoretest.MemBufferManager, meta *zedstoretest.MemMetaPage, lastTid zedstore.ZSTid) {
	blk, _, _, err := meta.RootFor(testAttno, true)
	require.NoError(t, err)

	item := &zedstore.SingleItem{Tid: lastTid, Payload: zedstore.EncodeInt64Datum(8, 1)}
	enc := make([]byte, item.EncodedSize())
	item.EncodeFull(enc)

	page := &zedstore.Page{
		Trailer: zedstore.PageTrailer{
			Attno:  testAttno,
			Next:   zedstore.InvalidBlockNumber,
			LoKey:  lastTid,
			HiKey:  zedstore.MaxPlusOneZSTid,
			Level:  0,
			PageID: 0x5A53,
		},
		Items: [][]byte{enc},
	}
	buf, err := page.Serialize()
	require.NoError(t, err)

	pbuf, err := bufmgr.ReadPage(blk)
	require.NoError(t, err)
	pbuf.Lock(zedstore.LockExclusive)
	copy(pbuf.Page(), buf)
	pbuf.MarkDirty()
	pbuf.Unlock()
	pbuf.Release()
}

func TestInsertAndFetch(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	tid, err := tree.Insert(zedstore.EncodeInt64Datum(8, 42), false)
	require.NoError(t, err)
	require.Equal(t, zedstore.MinZSTid, tid)

	raw, isnull, found, err := tree.Fetch(snap, tid)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, isnull)
	require.Equal(t, int64(42), zedstore.DecodeInt64Datum(8, raw))
}

func TestGetLastTidOnEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	last, err := tree.GetLastTid()
	require.NoError(t, err)
	require.Equal(t, zedstore.InvalidZSTid, last)
}

func TestBulkInsertThenScanOrdered(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	const n = 200
	var tids []zedstore.ZSTid
	for i := 0; i < n; i++ {
		tid, err := tree.Insert(zedstore.EncodeInt64Datum(8, int64(i)), false)
		require.NoError(t, err)
		tids = append(tids, tid)
	}

	scan, err := tree.BeginScan(snap)
	require.NoError(t, err)
	defer scan.EndScan()

	var got []int64
	for {
		_, raw, _, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, zedstore.DecodeInt64Datum(8, raw))
	}
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, int64(i), v)
	}
}

func TestDeleteThenFetchInvisible(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	tid, err := tree.Insert(zedstore.EncodeInt64Datum(8, 1), false)
	require.NoError(t, err)

	result, err := tree.Delete(snap, tid)
	require.NoError(t, err)
	require.Equal(t, zedstore.UpdateOk, result)

	laterSnap := &zedstoretest.TxSnapshot{XID: 2}
	_, _, found, err := tree.Fetch(laterSnap, tid)
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpdateAppendsNewRowAndMarksOld(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	tid, err := tree.Insert(zedstore.EncodeInt64Datum(8, 1), false)
	require.NoError(t, err)

	newTid, result, err := tree.Update(snap, tid, zedstore.EncodeInt64Datum(8, 2), false)
	require.NoError(t, err)
	require.Equal(t, zedstore.UpdateOk, result)
	require.NotEqual(t, tid, newTid)

	laterSnap := &zedstoretest.TxSnapshot{XID: 2}
	raw, _, found, err := tree.Fetch(laterSnap, newTid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), zedstore.DecodeInt64Datum(8, raw))

	_, _, found, err = tree.Fetch(laterSnap, tid)
	require.NoError(t, err)
	require.False(t, found, "old row should be marked UPDATED and invisible to a later snapshot")
}

func TestMultiInsertBatchesIntoArrays(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	raws := make([][]byte, 50)
	nulls := make([]bool, 50)
	for i := range raws {
		raws[i] = zedstore.EncodeInt64Datum(8, int64(i*2))
	}
	tids, err := tree.MultiInsert(raws, nulls)
	require.NoError(t, err)
	require.Len(t, tids, 50)

	for i, tid := range tids {
		raw, _, found, err := tree.Fetch(snap, tid)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(i*2), zedstore.DecodeInt64Datum(8, raw))
	}
}

func TestDeleteInsideArrayKeepsSiblingsVisible(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	raws := make([][]byte, 5)
	nulls := make([]bool, 5)
	for i := range raws {
		raws[i] = zedstore.EncodeInt64Datum(8, int64(i*10))
	}
	tids, err := tree.MultiInsert(raws, nulls)
	require.NoError(t, err)
	require.Len(t, tids, 5)

	result, err := tree.Delete(snap, tids[2])
	require.NoError(t, err)
	require.Equal(t, zedstore.UpdateOk, result)

	laterSnap := &zedstoretest.TxSnapshot{XID: 2}
	for i, tid := range tids {
		raw, _, found, err := tree.Fetch(laterSnap, tid)
		require.NoError(t, err)
		if i == 2 {
			require.False(t, found, "deleted element should be invisible")
			continue
		}
		require.True(t, found, "untouched flanking element should remain visible")
		require.Equal(t, int64(i*10), zedstore.DecodeInt64Datum(8, raw))
	}
}

func TestNullArrayOnFixedWidthAttributeScansAndDeletesWithoutPanicking(t *testing.T) {
	tree, _ := newTestTree(t, 8, true)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	raws := make([][]byte, 4)
	nulls := []bool{true, true, true, true}
	tids, err := tree.MultiInsert(raws, nulls)
	require.NoError(t, err)
	require.Len(t, tids, 4)

	scan, err := tree.BeginScan(snap)
	require.NoError(t, err)
	defer scan.EndScan()
	count := 0
	for {
		_, _, isnull, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.True(t, isnull)
		count++
	}
	require.Equal(t, 4, count)

	_, _, found, err := tree.Fetch(snap, tids[1])
	require.NoError(t, err)
	require.True(t, found)

	result, err := tree.Delete(snap, tids[1])
	require.NoError(t, err)
	require.Equal(t, zedstore.UpdateOk, result)

	laterSnap := &zedstoretest.TxSnapshot{XID: 2}
	for i, tid := range tids {
		_, _, found, err := tree.Fetch(laterSnap, tid)
		require.NoError(t, err)
		if i == 1 {
			require.False(t, found)
			continue
		}
		require.True(t, found)
	}
}

func TestInsertAtMaxTidSucceedsAndPastItFails(t *testing.T) {
	tree, bufmgr, meta, _ := newTestTreeWithCollaborators(t, 8, true)
	seedRootWithLastTid(t, bufmgr, meta, zedstore.MaxZSTid-1)

	tid, err := tree.Insert(zedstore.EncodeInt64Datum(8, 1), false)
	require.NoError(t, err)
	require.Equal(t, zedstore.MaxZSTid, tid)

	last, err := tree.GetLastTid()
	require.NoError(t, err)
	require.Equal(t, zedstore.MaxZSTid, last)

	_, err = tree.Insert(zedstore.EncodeInt64Datum(8, 1), false)
	require.ErrorIs(t, err, zedstore.ErrResourceExhausted)
}

func TestMultiInsertPastMaxTidFails(t *testing.T) {
	tree, bufmgr, meta, _ := newTestTreeWithCollaborators(t, 8, true)
	seedRootWithLastTid(t, bufmgr, meta, zedstore.MaxZSTid)

	raws := [][]byte{zedstore.EncodeInt64Datum(8, 1), zedstore.EncodeInt64Datum(8, 2)}
	nulls := []bool{false, false}
	_, err := tree.MultiInsert(raws, nulls)
	require.ErrorIs(t, err, zedstore.ErrResourceExhausted)
}

func TestVarlenaInsertAndFetch(t *testing.T) {
	tree, _ := newTestTree(t, -1, false)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	tid, err := tree.Insert([]byte("hello world"), false)
	require.NoError(t, err)

	raw, isnull, found, err := tree.Fetch(snap, tid)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, isnull)
	require.Equal(t, "hello world", string(zedstore.DecodeVarlenaValue(raw)))
}

func TestInsertTriggersLeafSplit(t *testing.T) {
	tree, _ := newTestTree(t, -1, false)
	snap := &zedstoretest.TxSnapshot{XID: 1}

	const n = 2000
	longValue := make([]byte, 40)
	for i := range longValue {
		longValue[i] = byte('a' + i%26)
	}
	for i := 0; i < n; i++ {
		_, err := tree.Insert(longValue, false)
		require.NoError(t, err)
	}

	scan, err := tree.BeginScan(snap)
	require.NoError(t, err)
	defer scan.EndScan()
	count := 0
	for {
		_, _, _, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, n, count)
}
