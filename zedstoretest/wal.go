package zedstoretest

import (
	"sync"

	"github.com/bigsql/zedstore/zedstore"
)

// MemWAL is an in-memory stand-in for the write-ahead log: it tracks
// whether a critical section is open and counts page images logged, so tests can
// assert on how many pages a mutation touched, without actually
// persisting anything. Grounded on the teacher's manager.RedoLogManager
// (LSN allocation, buffered entries) minus the durability it exists to
// provide, since nothing here needs to survive a crash.
type MemWAL struct {
	mu         sync.Mutex
	lsn        uint64
	inCrit     bool
	pagesLogged int
}

// NewMemWAL returns a WAL with LSN allocation starting at 1.
func NewMemWAL() *MemWAL {
	return &MemWAL{lsn: 1}
}

func (w *MemWAL) StartCrit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inCrit = true
}

func (w *MemWAL) LogPageImage(buf zedstore.Buffer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lsn++
	w.pagesLogged++
}

func (w *MemWAL) EndCrit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inCrit = false
}

// PagesLogged returns the running count of LogPageImage calls, for tests
// that want to assert on write amplification.
func (w *MemWAL) PagesLogged() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pagesLogged
}
