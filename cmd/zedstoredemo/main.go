// Command zedstoredemo wires a toy three-column table onto zedstore's
// in-memory reference collaborators and replays a bulk insert followed
// by a full scan, logging progress along the way. It exists to let a
// reader watch the engine run; it is not part of the library's contract.
package main

import (
	"fmt"

	"github.com/bigsql/zedstore/logger"
	"github.com/bigsql/zedstore/zedstore"
	"github.com/bigsql/zedstore/zedstoretest"
)

const (
	attID   zedstore.AttrNumber = 1
	attName zedstore.AttrNumber = 2
	attQty  zedstore.AttrNumber = 3
)

func main() {
	log := logger.New("info")
	entry := log.WithField("component", "zedstoredemo")

	bufmgr := zedstoretest.NewMemBufferManager()
	undo := zedstoretest.NewMemUndoLog()
	vis := zedstoretest.NewTxVisibilityOracle(undo)
	wal := zedstoretest.NewMemWAL()
	meta := zedstoretest.NewMemMetaPage(bufmgr, map[zedstore.AttrNumber]zedstoretest.AttrDesc{
		attID:   {AttLen: 8, AttByVal: true},
		attName: {AttLen: -1, AttByVal: false},
		attQty:  {AttLen: 4, AttByVal: true},
	})

	idTree := zedstore.NewTree(attID, meta, bufmgr, undo, vis, wal, entry.WithField("attr", "id"))
	nameTree := zedstore.NewTree(attName, meta, bufmgr, undo, vis, wal, entry.WithField("attr", "name"))
	qtyTree := zedstore.NewTree(attQty, meta, bufmgr, undo, vis, wal, entry.WithField("attr", "qty"))

	names := []string{"widget", "sprocket", "gizmo", "gadget", "doohickey"}
	entry.Info("bulk inserting rows")
	for i, name := range names {
		idRaw := zedstore.EncodeInt64Datum(8, int64(i+1))
		if _, err := idTree.Insert(idRaw, false); err != nil {
			entry.Fatalf("insert id: %v", err)
		}
		if _, err := nameTree.Insert([]byte(name), false); err != nil {
			entry.Fatalf("insert name: %v", err)
		}
		qtyRaw := zedstore.EncodeInt64Datum(4, int64((i+1)*10))
		if _, err := qtyTree.Insert(qtyRaw, false); err != nil {
			entry.Fatalf("insert qty: %v", err)
		}
	}

	snap := &zedstoretest.TxSnapshot{XID: 1}
	entry.Info("scanning name column")
	scan, err := nameTree.BeginScan(snap)
	if err != nil {
		entry.Fatalf("begin scan: %v", err)
	}
	defer scan.EndScan()
	for {
		tid, raw, isnull, ok, err := scan.Next()
		if err != nil {
			entry.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		if isnull {
			fmt.Printf("tid=%v name=NULL\n", tid)
			continue
		}
		text := zedstore.DecodeVarlenaValue(raw)
		fmt.Printf("tid=%v name=%s\n", tid, text)
	}
}
