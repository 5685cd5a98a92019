// Package vmem is the kernel virtual-address arena (§4.2): a
// boundary-tag allocator over a virtual range, quantized to PAGE_SIZE,
// with size-class freelists and a hash-table index of live
// allocations keyed by base address.
//
// Grounded on biscuit/src/hashtable/hashtable.go for the FNV-hashed,
// linear-probed live-allocation index §4.2 calls for, and on
// biscuit/src/mem/mem.go's region-list-in-address-order idiom for the
// segment list.
package vmem

import (
	"container/list"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hashtable"
	"github.com/Qwinci/crescent-sub002/util"
)

const quantum = defs.PageSize

type segKind int

const (
	segFree segKind = iota
	segUsed
	segSpan
)

// segment_t is one boundary-tagged span of the arena's address range.
type segment_t struct {
	base uintptr
	size int
	kind segKind
	elem *list.Element // this segment's node in Arena.order
}

const nFreelists = 64

// Arena is a boundary-tag virtual-address allocator, e.g. the
// kernel's own vaddr range.
type Arena struct {
	min, max  uintptr
	order     *list.List // *segment_t in address order
	freelists [nFreelists][]*segment_t
	live      *hashtable.Hashtable_t // base(uintptr) -> *segment_t
	debug     bool
}

// New creates an arena spanning [min, max), both already
// quantum-aligned.
func New(min, max uintptr) *Arena {
	if min%quantum != 0 || max%quantum != 0 {
		panic("vmem: bounds must be quantum-aligned")
	}
	a := &Arena{
		min:   min,
		max:   max,
		order: list.New(),
		live:  hashtable.Mkhashtable(256),
	}
	root := &segment_t{base: min, size: int(max - min), kind: segFree}
	root.elem = a.order.PushBack(root)
	a.insertFree(root)
	return a
}

func freelistIndex(size int) int {
	idx := 0
	for s := size >> 3; s > 1; s >>= 1 {
		idx++
	}
	if idx >= nFreelists {
		idx = nFreelists - 1
	}
	return idx
}

func (a *Arena) insertFree(s *segment_t) {
	idx := freelistIndex(s.size)
	a.freelists[idx] = append(a.freelists[idx], s)
}

func (a *Arena) removeFree(s *segment_t) {
	idx := freelistIndex(s.size)
	fl := a.freelists[idx]
	for i, c := range fl {
		if c == s {
			a.freelists[idx] = append(fl[:i], fl[i+1:]...)
			return
		}
	}
}

// Xalloc returns a base address satisfying min<=base, base+size<=max,
// aligned to the quantum, splitting the smallest acceptable free
// segment. Residue is reinserted with no merge, per §4.2.
func (a *Arena) Xalloc(size int, min, max uintptr) (uintptr, defs.Err_t) {
	size = util.Roundup(size, quantum)
	if size <= 0 {
		return 0, defs.ErrInvalidArgument
	}

	var best *segment_t
	for idx := freelistIndex(size); idx < nFreelists; idx++ {
		for _, s := range a.freelists[idx] {
			if s.size < size {
				continue
			}
			base := s.base
			if base < min {
				base = util.RoundupPtr(min, quantum)
			}
			if base < s.base {
				base = s.base
			}
			end := base + uintptr(size)
			if base < min || end > max || end > s.base+uintptr(s.size) {
				continue
			}
			if best == nil || s.size < best.size {
				best = s
			}
		}
		if best != nil {
			break
		}
	}
	if best == nil {
		return 0, defs.ErrNoMem
	}

	base := best.base
	if base < min {
		base = util.RoundupPtr(min, quantum)
	}
	a.removeFree(best)

	// left residue
	if base > best.base {
		left := &segment_t{base: best.base, size: int(base - best.base), kind: segFree}
		left.elem = a.order.InsertBefore(left, best.elem)
		a.insertFree(left)
	}
	// right residue
	end := base + uintptr(size)
	segEnd := best.base + uintptr(best.size)
	if end < segEnd {
		right := &segment_t{base: end, size: int(segEnd - end), kind: segFree}
		right.elem = a.order.InsertAfter(right, best.elem)
		a.insertFree(right)
	}

	best.base = base
	best.size = size
	best.kind = segUsed
	a.live.Set(base, best)
	return base, 0
}

// Xfree returns a previously allocated [base, base+size) span to the
// arena, consulting the live-allocation hash table and merging with
// address-order neighbors.
func (a *Arena) Xfree(base uintptr, size int) defs.Err_t {
	v, ok := a.live.Get(base)
	if !ok {
		return defs.ErrInvalidArgument
	}
	s := v.(*segment_t)
	a.live.Del(base)
	s.kind = segFree

	// merge with right neighbor if free
	if next := s.elem.Next(); next != nil {
		if ns, ok := next.Value.(*segment_t); ok && ns.kind == segFree {
			a.removeFree(ns)
			s.size += ns.size
			a.order.Remove(next)
		}
	}
	// merge with left neighbor if free
	if prev := s.elem.Prev(); prev != nil {
		if ps, ok := prev.Value.(*segment_t); ok && ps.kind == segFree {
			a.removeFree(ps)
			ps.size += s.size
			a.order.Remove(s.elem)
			s = ps
		}
	}
	a.insertFree(s)
	return 0
}

// LiveCount reports the number of outstanding allocations, used by
// Destroy's debug-mode assertion.
func (a *Arena) LiveCount() int {
	return len(a.live.Elems())
}

// Destroy asserts no live allocations remain; a debug-mode-only check
// per §4.2.
func (a *Arena) Destroy() {
	if n := a.LiveCount(); n != 0 {
		panic("vmem: destroy with live allocations")
	}
}
