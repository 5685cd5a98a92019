package kheap

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
	"github.com/Qwinci/crescent-sub002/pmm"
)

func newTestHeap(t *testing.T, npages int) *Heap {
	t.Helper()
	arena, err := hostio.NewArena(npages * defs.PageSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })

	pm := pmm.New()
	pm.AddRegion(0, npages, arena)
	return New(pm, nil)
}

func newTestHeapWithLarge(t *testing.T, npages, largeBytes int) *Heap {
	t.Helper()
	arena, err := hostio.NewArena(npages * defs.PageSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	largeMem, err := hostio.NewArena(largeBytes)
	if err != nil {
		t.Fatalf("NewArena large: %v", err)
	}
	t.Cleanup(func() { largeMem.Close() })

	pm := pmm.New()
	pm.AddRegion(0, npages, arena)
	return New(pm, largeMem)
}

func TestAllocFreeSmallBucket(t *testing.T) {
	h := newTestHeap(t, 4)
	b, err := h.Alloc(32)
	if err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("got %d bytes, want 32", len(b))
	}
	h.Free(b)
}

func TestAllocUnsupportedSize(t *testing.T) {
	h := newTestHeap(t, 4)
	if _, err := h.Alloc(3000); err != defs.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestLargeWithNoBackingArenaFails(t *testing.T) {
	h := newTestHeap(t, 4)
	if _, _, err := h.Large(8192); err != defs.ErrNoMem {
		t.Fatalf("expected ErrNoMem with no large arena, got %v", err)
	}
}

func TestLargeAllocFreeRoundTrip(t *testing.T) {
	h := newTestHeapWithLarge(t, 4, 64*defs.PageSize)

	b, base, err := h.Large(8192)
	if err != 0 {
		t.Fatalf("Large: %v", err)
	}
	if len(b) != 8192 {
		t.Fatalf("got %d bytes, want 8192", len(b))
	}
	for i := range b {
		b[i] = 0x42
	}

	b2, base2, err := h.Large(4096)
	if err != 0 {
		t.Fatalf("second Large: %v", err)
	}
	if base2 == base {
		t.Fatalf("expected distinct large allocations, both at %d", base)
	}
	_ = b2

	h.FreeLarge(base, len(b))
	b3, base3, err := h.Large(8192)
	if err != 0 {
		t.Fatalf("Large after free: %v", err)
	}
	if base3 != base {
		t.Fatalf("expected freed span to be reused at %d, got %d", base, base3)
	}
	_ = b3
}
