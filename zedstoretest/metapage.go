package zedstoretest

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bigsql/zedstore/zedstore"
)

// AttrDesc is the catalog information a real host would already have on
// hand for each attribute; the in-memory metapage needs it once, at tree
// creation, to seed the empty root leaf.
type AttrDesc struct {
	AttLen   int16
	AttByVal bool
}

// MemMetaPage is an in-memory MetaPage: one root BlockNumber per
// attribute, created lazily on first use.
type MemMetaPage struct {
	mu     sync.Mutex
	bufmgr *MemBufferManager
	descs  map[zedstore.AttrNumber]AttrDesc
	roots  map[zedstore.AttrNumber]zedstore.BlockNumber
}

// NewMemMetaPage returns a metapage that knows how to create a tree for
// each attribute named in descs, lazily, the first time it's asked.
func NewMemMetaPage(bufmgr *MemBufferManager, descs map[zedstore.AttrNumber]AttrDesc) *MemMetaPage {
	return &MemMetaPage{
		bufmgr: bufmgr,
		descs:  descs,
		roots:  make(map[zedstore.AttrNumber]zedstore.BlockNumber),
	}
}

func (m *MemMetaPage) RootFor(attno zedstore.AttrNumber, createIfMissing bool) (zedstore.BlockNumber, int16, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	desc, known := m.descs[attno]
	if !known {
		return zedstore.InvalidBlockNumber, 0, false, errors.Errorf("zedstoretest: unknown attribute %d", attno)
	}
	if blk, ok := m.roots[attno]; ok {
		return blk, desc.AttLen, desc.AttByVal, nil
	}
	if !createIfMissing {
		return zedstore.InvalidBlockNumber, desc.AttLen, desc.AttByVal, errors.Errorf("zedstoretest: no tree yet for attribute %d", attno)
	}

	buf, err := m.bufmgr.AllocPage()
	if err != nil {
		return zedstore.InvalidBlockNumber, 0, false, err
	}
	buf.Lock(zedstore.LockExclusive)
	page := zedstore.NewEmptyLeafPage(attno)
	out, err := page.Serialize()
	if err != nil {
		buf.Unlock()
		buf.Release()
		return zedstore.InvalidBlockNumber, 0, false, err
	}
	copy(buf.Page(), out)
	buf.MarkDirty()
	blk := buf.Block()
	buf.Unlock()
	buf.Release()

	m.roots[attno] = blk
	return blk, desc.AttLen, desc.AttByVal, nil
}

func (m *MemMetaPage) UpdateRoot(attno zedstore.AttrNumber, newRoot zedstore.BlockNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, known := m.descs[attno]; !known {
		return errors.Errorf("zedstoretest: unknown attribute %d", attno)
	}
	m.roots[attno] = newRoot
	return nil
}
