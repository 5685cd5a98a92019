package vmem

import "testing"

func TestXallocBounds(t *testing.T) {
	a := New(0, 1<<20)
	base, err := a.Xalloc(8192, 0, 1<<20)
	if err != 0 {
		t.Fatalf("Xalloc: %v", err)
	}
	if base%quantum != 0 {
		t.Fatalf("base not quantum-aligned: %#x", base)
	}
	if base+8192 > 1<<20 {
		t.Fatalf("segment exceeds max")
	}
}

func TestXallocXfreeRoundTrip(t *testing.T) {
	a := New(0, 1<<20)
	before := a.LiveCount()

	base, err := a.Xalloc(4096, 0, 1<<20)
	if err != 0 {
		t.Fatalf("Xalloc: %v", err)
	}
	if err := a.Xfree(base, 4096); err != 0 {
		t.Fatalf("Xfree: %v", err)
	}
	if after := a.LiveCount(); after != before {
		t.Fatalf("live count changed: before=%d after=%d", before, after)
	}
	a.Destroy()
}

func TestXallocDisjointSegments(t *testing.T) {
	a := New(0, 1<<20)
	b1, err := a.Xalloc(4096, 0, 1<<20)
	if err != 0 {
		t.Fatalf("Xalloc b1: %v", err)
	}
	b2, err := a.Xalloc(4096, 0, 1<<20)
	if err != 0 {
		t.Fatalf("Xalloc b2: %v", err)
	}
	if b1 == b2 {
		t.Fatalf("segments not disjoint: %#x == %#x", b1, b2)
	}
	lo, hi := b1, b1+4096
	if b2 >= lo && b2 < hi {
		t.Fatalf("segments overlap")
	}
}
