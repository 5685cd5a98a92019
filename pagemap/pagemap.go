// Package pagemap implements a per-process page map (§3 PageMap): a
// four-level page table abstraction shared across the x86-64 and
// AArch64 variants named in §1. Since this kernel hosts itself rather
// than walking real hardware page tables, a PageMap here is a sorted
// map from virtual page number to a mapping record rather than literal
// four radix-tree levels — the operations and invariants it exposes
// (map/unmap/protect one page, get_phys, high-half mirroring, use())
// are exactly §3's.
//
// Grounded on biscuit/src/vm/as.go: the Lock_pmap/Unlock_pmap pairing
// and the PTE_P/PTE_W/PTE_U/PTE_COW bit names are kept.
package pagemap

import (
	"sort"
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/pmm"
)

// PTE bit flags, named after biscuit/src/mem/mem.go.
const (
	PTE_P   = 1 << 0
	PTE_W   = 1 << 1
	PTE_U   = 1 << 2
	PTE_COW = 1 << 9 // software-defined bit, unused by real hardware
)

type mapping_t struct {
	phys  pmm.Pa_t
	flags int
}

// HighHalfBase is the virtual address at which the kernel's own
// mappings begin; every PageMap mirrors this range at construction
// ("fill high half", §3).
const HighHalfBase = uintptr(1) << 47

// PageMap is one process's address space.
type PageMap struct {
	mu       sync.Mutex
	entries  map[uintptr]*mapping_t
	kernel   *PageMap // the shared kernel map mirrored into the high half
	inUse    bool
	pgfltMu  sync.Mutex
	pgflHeld bool
}

// New constructs a PageMap whose high half mirrors kernelMap (nil for
// the kernel map itself).
func New(kernelMap *PageMap) *PageMap {
	return &PageMap{entries: make(map[uintptr]*mapping_t), kernel: kernelMap}
}

// LockPmap acquires the address-space lock, marking that a page fault
// is being handled — mirrors biscuit's Lock_pmap/pgfltaken pattern.
func (pm *PageMap) LockPmap() {
	pm.pgfltMu.Lock()
	pm.pgflHeld = true
}

// UnlockPmap releases the address-space lock.
func (pm *PageMap) UnlockPmap() {
	pm.pgflHeld = false
	pm.pgfltMu.Unlock()
}

// LockassertPmap panics if the lock is not currently held.
func (pm *PageMap) LockassertPmap() {
	if !pm.pgflHeld {
		panic("pagemap: pgfl lock must be held")
	}
}

// Map installs a mapping from virtual page va to physical page phys
// with the given flags. va and phys must both be page-aligned.
func (pm *PageMap) Map(va uintptr, phys pmm.Pa_t, flags int) defs.Err_t {
	if va%defs.PageSize != 0 || uintptr(phys)%defs.PageSize != 0 {
		return defs.ErrInvalidArgument
	}
	if va >= HighHalfBase && pm.kernel != nil {
		// user maps never install directly into the mirrored high
		// half; that range belongs to the shared kernel map.
		return defs.ErrInvalidArgument
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.entries[va] = &mapping_t{phys: phys, flags: flags | PTE_P}
	return 0
}

// Unmap removes va's mapping and returns the frame that was mapped
// there (0 if none), so the caller (pmm) can free it.
func (pm *PageMap) Unmap(va uintptr) (pmm.Pa_t, defs.Err_t) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	m, ok := pm.entries[va]
	if !ok {
		return 0, defs.ErrInvalidArgument
	}
	delete(pm.entries, va)
	return m.phys, 0
}

// Protect changes the permission flags of an existing mapping.
func (pm *PageMap) Protect(va uintptr, flags int) defs.Err_t {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	m, ok := pm.entries[va]
	if !ok {
		return defs.ErrInvalidArgument
	}
	m.flags = flags | PTE_P
	return 0
}

// GetPhys translates a virtual address (need not be page-aligned) to
// its physical address, consulting the mirrored kernel map for
// high-half addresses.
func (pm *PageMap) GetPhys(va uintptr) (pmm.Pa_t, bool) {
	page := va &^ (defs.PageSize - 1)
	off := va & (defs.PageSize - 1)

	target := pm
	if page >= HighHalfBase && pm.kernel != nil {
		target = pm.kernel
	}

	target.mu.Lock()
	m, ok := target.entries[page]
	target.mu.Unlock()
	if !ok {
		return 0, false
	}
	return m.phys + pmm.Pa_t(off), true
}

// Use installs this PageMap as the active map for the calling
// simulated CPU. In this hosted kernel there is no hardware CR3 to
// load; Use exists so callers (sched) can express "switch address
// space on context switch" the way the real kernel would. It only sets
// this map's in-use flag; other maps' flags are not cleared and nothing
// reads the flag.
func (pm *PageMap) Use() {
	pm.mu.Lock()
	pm.inUse = true
	pm.mu.Unlock()
}

// Disjoint reports whether a and b are distinct maps, which combined
// with the high-half mirror gives the "user and kernel mappings never
// collide" invariant: user maps never get entries above HighHalfBase
// (Map rejects that), and the high half always resolves through the
// single shared kernel map.
func Disjoint(a, b *PageMap) bool { return a != b }

// userVAs returns the sorted list of currently user-mapped virtual
// addresses. Nothing in the repository calls it.
func (pm *PageMap) userVAs() []uintptr {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]uintptr, 0, len(pm.entries))
	for va := range pm.entries {
		out = append(out, va)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
