// Package kheap is the fixed-size bucket allocator described in §4.3:
// buckets 16..2048 bytes, each bucket's bump arena a single page
// divided into equal slots, with no header in the page; the free slot
// indices are kept in a separate slice beside it. Allocations
// exactly PAGE_SIZE fall through to pmm; sizes >2048 are served by
// Large, a vmem-backed arena reserved at construction.
//
// Grounded on biscuit/src/mem/mem.go's page-bump allocation idiom:
// frames come from the same Page_i-shaped allocator (here, pmm) that
// backs the rest of physical memory.
package kheap

import (
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
	"github.com/Qwinci/crescent-sub002/pmm"
	"github.com/Qwinci/crescent-sub002/vmem"
)

var bucketSizes = [...]int{16, 32, 64, 128, 256, 512, 1024, 2048}

// slotArena_t is one page-backed bump arena for a single bucket size.
type slotArena_t struct {
	phys      pmm.Pa_t
	mem       []byte
	slotSize  int
	nslots    int
	freeSlots []int // indices of free slots
	used      int
}

// Heap is the kernel heap: one bucket list per size class, plus the
// backing frame allocator.
type Heap struct {
	mu      sync.Mutex
	pm      *pmm.Allocator
	buckets [len(bucketSizes)][]*slotArena_t

	large   *vmem.Arena
	backing []byte
}

// New constructs a heap drawing bucket and exact-page frames from pm.
// If largeMem is non-nil, allocations above the largest bucket size
// are served from it through a vmem arena spanning its whole range
// (§4.3's Large path); a nil largeMem leaves Large/FreeLarge returning
// defs.ErrNoMem, same as having exhausted the range.
func New(pm *pmm.Allocator, largeMem *hostio.Arena) *Heap {
	h := &Heap{pm: pm}
	if largeMem != nil {
		size := largeMem.Size()
		size -= size % defs.PageSize
		if size > 0 {
			h.backing = largeMem.Slice(0, size)
			h.large = vmem.New(0, uintptr(size))
		}
	}
	return h
}

// Large serves an allocation too big for any bucket, returning the
// backing vaddr alongside the slice so the caller can hand it back to
// FreeLarge.
func (h *Heap) Large(size int) ([]byte, uintptr, defs.Err_t) {
	if h.large == nil {
		return nil, 0, defs.ErrNoMem
	}
	base, err := h.large.Xalloc(size, 0, ^uintptr(0))
	if err != 0 {
		return nil, 0, err
	}
	return h.backing[int(base) : int(base)+size], base, 0
}

// FreeLarge returns a slice obtained from Large to the large arena.
func (h *Heap) FreeLarge(base uintptr, size int) {
	if h.large != nil {
		h.large.Xfree(base, size)
	}
}

func bucketFor(size int) (int, bool) {
	for i, b := range bucketSizes {
		if size <= b {
			return i, true
		}
	}
	return 0, false
}

// Alloc returns a byte slice of at least size bytes. Sizes that fit no
// bucket but equal PageSize are served directly by pmm; every other
// size above the largest bucket returns ErrUnsupported (Large and
// FreeLarge serve those through the vmem arena).
func (h *Heap) Alloc(size int) ([]byte, defs.Err_t) {
	if size == defs.PageSize {
		p, err := h.pm.Pmalloc()
		if err != 0 {
			return nil, err
		}
		return h.pm.FromPhys(p), 0
	}

	idx, ok := bucketFor(size)
	if !ok {
		return nil, defs.ErrUnsupported
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sa := range h.buckets[idx] {
		if len(sa.freeSlots) > 0 {
			return h.takeSlot(sa, idx), 0
		}
	}

	sa, err := h.newArena(idx)
	if err != 0 {
		return nil, err
	}
	h.buckets[idx] = append(h.buckets[idx], sa)
	return h.takeSlot(sa, idx), 0
}

func (h *Heap) newArena(idx int) (*slotArena_t, defs.Err_t) {
	p, err := h.pm.Pmalloc()
	if err != 0 {
		return nil, err
	}
	mem := h.pm.FromPhys(p)
	slotSize := bucketSizes[idx]
	nslots := len(mem) / slotSize

	sa := &slotArena_t{phys: p, mem: mem, slotSize: slotSize, nslots: nslots}
	for i := 0; i < nslots; i++ {
		sa.freeSlots = append(sa.freeSlots, i)
	}
	return sa, 0
}

func (h *Heap) takeSlot(sa *slotArena_t, idx int) []byte {
	i := sa.freeSlots[len(sa.freeSlots)-1]
	sa.freeSlots = sa.freeSlots[:len(sa.freeSlots)-1]
	sa.used++
	off := i * sa.slotSize
	return sa.mem[off : off+sa.slotSize]
}

// Free returns a slice previously obtained from Alloc to its bucket.
// When the last slot in an arena is freed, the arena's backing frame
// returns to pmm, per §4.3.
func (h *Heap) Free(b []byte) {
	if len(b) == defs.PageSize {
		// exact-page allocations are returned via FreePage, since we
		// cannot recover their physical address from the slice alone
		// without a reverse index; see FreePage.
		return
	}

	idx, ok := bucketFor(len(b))
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ai, sa := range h.buckets[idx] {
		base := &sa.mem[0]
		if samePage(base, &b[0], len(sa.mem)) {
			off := addrOffset(base, &b[0])
			slot := off / sa.slotSize
			sa.freeSlots = append(sa.freeSlots, slot)
			sa.used--
			if sa.used == 0 {
				h.pm.Pfree(sa.phys)
				h.buckets[idx] = append(h.buckets[idx][:ai], h.buckets[idx][ai+1:]...)
			}
			return
		}
	}
}

// FreePage returns an exact-PageSize allocation obtained via Alloc.
func (h *Heap) FreePage(p pmm.Pa_t) {
	h.pm.Pfree(p)
}

func samePage(base, p *byte, size int) bool {
	bo := addrOf(base)
	po := addrOf(p)
	return po >= bo && po < bo+uintptr(size)
}

func addrOffset(base, p *byte) int {
	return int(addrOf(p) - addrOf(base))
}
