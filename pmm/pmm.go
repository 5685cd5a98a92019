// Package pmm is the physical frame allocator (§4.1, "pmalloc"): one
// free list of Page descriptors across all registered physical
// regions. Pmalloc(n) only ever supports n=1 per the spec; callers
// needing multiple frames call it repeatedly.
//
// Grounded on biscuit/src/mem/mem.go's Pa_t/PGSIZE/PTE_* constants and
// Page_i allocator-interface shape; dmap.go's physical->Go-slice
// mapping technique is reused via hostio.Arena in place of the
// teacher's direct-mapped virtual window (this kernel has no real MMU,
// so "physical address" is just an offset into the hostio arena).
package pmm

import (
	"sort"
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
	"github.com/Qwinci/crescent-sub002/limits"
)

const PageSize = defs.PageSize

// Pa_t is a physical address, always page-aligned when it names a
// whole frame.
type Pa_t uintptr

// region_t is one physical memory region registered at boot, kept in
// a sorted list so Page-descriptor lookup by address is a linear scan
// over "≤ a handful of regions" (§4.1).
type region_t struct {
	base   Pa_t
	npages int
	arena  *hostio.Arena
}

// Allocator is the kernel-wide physical frame allocator. One free list
// across every registered region, protected by a single spinlock-style
// mutex; it must survive concurrent callers from any CPU per §4.1.
type Allocator struct {
	mu      sync.Mutex
	regions []region_t
	free    []Pa_t // LIFO free list of page base addresses
}

// New constructs an empty allocator with no regions registered.
func New() *Allocator {
	return &Allocator{}
}

// AddRegion registers a contiguous run of npages pages backed by
// arena, inserting it in address order. O(n_pages): every page of the
// region becomes a free-list entry, matching §4.1's stated complexity.
func (a *Allocator) AddRegion(base Pa_t, npages int, arena *hostio.Arena) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.regions = append(a.regions, region_t{base: base, npages: npages, arena: arena})
	sort.Slice(a.regions, func(i, j int) bool { return a.regions[i].base < a.regions[j].base })

	for i := 0; i < npages; i++ {
		a.free = append(a.free, base+Pa_t(i*PageSize))
	}
	limits.Syslimit.Frames.Given(uint(npages))
}

// FromPhys returns the byte slice backing one page at the given
// physical address, the equivalent of the spec's
// "Page::from_phys(p)->phys == p" invariant realized as a direct
// lookup rather than a separate descriptor object.
func (a *Allocator) FromPhys(p Pa_t) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fromPhysLocked(p)
}

func (a *Allocator) fromPhysLocked(p Pa_t) []byte {
	for _, r := range a.regions {
		if p >= r.base && p < r.base+Pa_t(r.npages*PageSize) {
			off := int(p - r.base)
			return r.arena.Slice(off, PageSize)
		}
	}
	return nil
}

// Pmalloc allocates exactly one page: pops a page, poisons its
// contents, and returns its physical address. Only n=1 is supported,
// per §4.1.
func (a *Allocator) Pmalloc() (Pa_t, defs.Err_t) {
	a.mu.Lock()
	if len(a.free) == 0 {
		a.mu.Unlock()
		return 0, defs.ErrNoMem
	}
	p := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.mu.Unlock()

	if !limits.Syslimit.Frames.Take() {
		a.mu.Lock()
		a.free = append(a.free, p)
		a.mu.Unlock()
		return 0, defs.ErrNoMem
	}

	if b := a.FromPhys(p); b != nil {
		hostio.Poison(b)
	}
	return p, 0
}

// Pfree poisons and returns a page to the free list.
func (a *Allocator) Pfree(p Pa_t) {
	if b := a.FromPhys(p); b != nil {
		hostio.Poison(b)
	}
	a.mu.Lock()
	a.free = append(a.free, p)
	a.mu.Unlock()
	limits.Syslimit.Frames.Give()
}

// Cardinality returns the number of pages currently on the free list,
// used by the pmalloc/pfree round-trip test in §8.
func (a *Allocator) Cardinality() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
