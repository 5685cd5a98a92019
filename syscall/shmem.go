package syscall

import (
	"sync/atomic"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/pmm"
)

// SharedMemory is §3's SharedMemory object: a list of owned physical
// pages plus a usage counter. Any process holding a handle to it may
// map it; the pages outlive the process that allocated them as long as
// some holder (the original allocator or a peer it shared the handle
// with) still has a live reference.
//
// No package in the retrieval pack models cross-process shared memory
// directly (biscuit's own mem.go only manages kernel-owned frames), so
// this type is new, grounded on spec §3's description and layered
// directly on pmm.Allocator the way every other page-owning object in
// this rewrite is. The usage counter is SharedMemory's own rather than
// the handle table's per-entry refcount: SHARED_MEM_SHARE (shmem.go's
// sibling in memory.go) inserts the same object into a brand new
// handle-table slot, which needs its own independent table-local
// refcount (for Duplicate/MOVE_HANDLE within one table) layered over
// this object-level one (for "how many holders across every table
// still need the pages").
type SharedMemory struct {
	alloc *pmm.Allocator
	pages []pmm.Pa_t
	refs  atomic.Int32
}

// newSharedMemory allocates enough whole pages to cover size bytes.
func newSharedMemory(alloc *pmm.Allocator, size int) (*SharedMemory, defs.Err_t) {
	if size <= 0 {
		return nil, defs.ErrInvalidArgument
	}
	npages := (size + defs.PageSize - 1) / defs.PageSize

	sm := &SharedMemory{alloc: alloc}
	sm.refs.Store(1)
	for i := 0; i < npages; i++ {
		p, err := alloc.Pmalloc()
		if err != 0 {
			sm.freeAll()
			return nil, err
		}
		sm.pages = append(sm.pages, p)
	}
	return sm, 0
}

// addRef records one more holder, called by SHARED_MEM_SHARE before it
// installs a second handle-table entry for the same object.
func (sm *SharedMemory) addRef() { sm.refs.Add(1) }

func (sm *SharedMemory) freeAll() {
	for _, p := range sm.pages {
		sm.alloc.Pfree(p)
	}
	sm.pages = nil
}

// Close drops one holder's reference; the backing pages are only
// actually freed once every holder (across every handle table that
// ever received a share) has dropped theirs.
func (sm *SharedMemory) Close() defs.Err_t {
	if sm.refs.Add(-1) <= 0 {
		sm.freeAll()
	}
	return 0
}
