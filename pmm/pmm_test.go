package pmm

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
)

func newTestAllocator(t *testing.T, npages int) *Allocator {
	t.Helper()
	arena, err := hostio.NewArena(npages * PageSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })

	a := New()
	a.AddRegion(0, npages, arena)
	return a
}

func TestPmallocPfreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 8)
	before := a.Cardinality()

	p, err := a.Pmalloc()
	if err != 0 {
		t.Fatalf("Pmalloc: %v", err)
	}
	if p%PageSize != 0 {
		t.Fatalf("page not aligned: %#x", p)
	}
	a.Pfree(p)

	if after := a.Cardinality(); after != before {
		t.Fatalf("cardinality changed: before=%d after=%d", before, after)
	}
}

func TestFromPhysInvariant(t *testing.T) {
	a := newTestAllocator(t, 4)
	p, err := a.Pmalloc()
	if err != 0 {
		t.Fatalf("Pmalloc: %v", err)
	}
	b := a.FromPhys(p)
	if b == nil || len(b) != PageSize {
		t.Fatalf("FromPhys returned %v", b)
	}
}

func TestPmallocExhaustion(t *testing.T) {
	a := newTestAllocator(t, 2)
	var got []Pa_t
	for i := 0; i < 2; i++ {
		p, err := a.Pmalloc()
		if err != 0 {
			t.Fatalf("Pmalloc %d: %v", i, err)
		}
		got = append(got, p)
	}
	if _, err := a.Pmalloc(); err != defs.ErrNoMem {
		t.Fatalf("expected NO_MEM, got %v", err)
	}
	for _, p := range got {
		a.Pfree(p)
	}
}
