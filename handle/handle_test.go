package handle

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
)

type fakeObj struct{ closed bool }

func (f *fakeObj) Close() defs.Err_t {
	f.closed = true
	return 0
}

func TestInsertRemoveFreesLastReference(t *testing.T) {
	tbl := New()
	obj := &fakeObj{}

	h, err := tbl.Insert(obj)
	if err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Remove(h); err != 0 {
		t.Fatalf("Remove: %v", err)
	}
	if !obj.closed {
		t.Fatalf("object was not closed on last reference removal")
	}
	if _, err := tbl.Get(h); err == 0 {
		t.Fatalf("expected freed handle to be unusable")
	}
}

func TestDuplicateKeepsObjectAliveUntilLastRemove(t *testing.T) {
	tbl := New()
	obj := &fakeObj{}

	h, _ := tbl.Insert(obj)
	if err := tbl.Duplicate(h); err != 0 {
		t.Fatalf("Duplicate: %v", err)
	}
	tbl.Remove(h)
	if obj.closed {
		t.Fatalf("object closed while a duplicate reference remained")
	}
	tbl.Remove(h)
	if !obj.closed {
		t.Fatalf("object should be closed after both references removed")
	}
}

func TestMoveTransfersHandle(t *testing.T) {
	src := New()
	dst := New()
	obj := &fakeObj{}

	h1, _ := src.Insert(obj)
	h2, err := src.Move(h1, dst)
	if err != 0 {
		t.Fatalf("Move: %v", err)
	}
	if _, err := src.Get(h1); err == 0 {
		t.Fatalf("source handle should be gone after move")
	}
	if _, err := dst.Get(h2); err != 0 {
		t.Fatalf("destination handle should resolve: %v", err)
	}
}

func TestHandleSlotReuse(t *testing.T) {
	tbl := New()
	obj1 := &fakeObj{}
	h1, _ := tbl.Insert(obj1)
	tbl.Remove(h1)

	obj2 := &fakeObj{}
	h2, _ := tbl.Insert(obj2)
	if h2 != h1 {
		t.Fatalf("expected freed slot %d to be reissued, got %d", h1, h2)
	}
}
