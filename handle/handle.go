// Package handle implements the per-process handle table (§3, §4.7):
// a resizable vector with a freelist of reusable indices, mapping a
// Handle_t to a shared reference to a typed object.
//
// Grounded on biscuit/src/fd/fd.go's Fd_t/Fops_i shape (an object
// reference plus permission bits) and on
// original_source/kernel/src/utils/handle.c, which confirmed the
// FREED top-bit convention spec §3 describes ("the top bit reserved as
// a FREED flag... never exposed").
package handle

import (
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/limits"
)

// Object is anything a handle can name: OpenFile, Socket, SharedMemory,
// DeviceHandle, ProcessDescriptor, ThreadDescriptor, SignalStack, Evm,
// VirtualCpu (§3). Kernel packages define their own concrete types;
// this package only needs to know an Object can be closed.
type Object interface {
	// Close releases any resources the object owns. Called when the
	// table's last reference to it is dropped.
	Close() defs.Err_t
}

type entry_t struct {
	obj  Object
	refs int
	freed bool
}

// Table is one process's handle table. Protected by a single
// spinlock-style mutex at IPL=normal, per §5.
type Table struct {
	mu      sync.Mutex
	entries []entry_t
	free    []int32 // freelist of reusable indices
}

// New constructs an empty table.
func New() *Table {
	return &Table{}
}

// Insert adds obj to the table and returns its handle. O(1) amortized,
// reusing a freelist slot when available.
func (t *Table) Insert(obj Object) (defs.Handle_t, defs.Err_t) {
	if !limits.Syslimit.Handles.Take() {
		return 0, defs.ErrNoMem
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[idx] = entry_t{obj: obj, refs: 1}
		return defs.Handle_t(idx), 0
	}

	t.entries = append(t.entries, entry_t{obj: obj, refs: 1})
	idx := defs.Handle_t(len(t.entries) - 1)
	return idx, 0
}

// Get returns the object named by h without affecting its reference
// count — objects are themselves shared-reference-counted, per §4.7.
func (t *Table) Get(h defs.Handle_t) (Object, defs.Err_t) {
	if h&defs.HandleFreedBit != 0 {
		return nil, defs.ErrInvalidArgument
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int(h)
	if idx < 0 || idx >= len(t.entries) || t.entries[idx].freed {
		return nil, defs.ErrInvalidArgument
	}
	return t.entries[idx].obj, 0
}

// Remove drops the table's reference to h's object; the object is
// actually destroyed only once every reference (including any taken
// via Duplicate) is dropped.
func (t *Table) Remove(h defs.Handle_t) defs.Err_t {
	if h&defs.HandleFreedBit != 0 {
		return defs.ErrInvalidArgument
	}

	t.mu.Lock()
	idx := int(h)
	if idx < 0 || idx >= len(t.entries) || t.entries[idx].freed {
		t.mu.Unlock()
		return defs.ErrInvalidArgument
	}

	e := &t.entries[idx]
	e.refs--
	shouldClose := e.refs <= 0
	var obj Object
	if shouldClose {
		obj = e.obj
		e.obj = nil
		e.freed = true
		t.free = append(t.free, int32(idx))
		limits.Syslimit.Handles.Give()
	}
	t.mu.Unlock()

	if shouldClose && obj != nil {
		return obj.Close()
	}
	return 0
}

// Duplicate adds a reference count to h's object without creating a
// new slot; used when a handle is shared across a socket peer-name
// exchange (§3 Descriptor: "may be duplicated via socket peer-name
// exchange").
func (t *Table) Duplicate(h defs.Handle_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := int(h)
	if idx < 0 || idx >= len(t.entries) || t.entries[idx].freed {
		return defs.ErrInvalidArgument
	}
	t.entries[idx].refs++
	return 0
}

// Move transfers ownership of the object named by h in this table
// into dst as a new handle in dst, then frees h in this table without
// running Close (the object's lifetime continues inside dst) — MOVE_HANDLE
// (§6.1, §8 scenario 3).
func (t *Table) Move(h defs.Handle_t, dst *Table) (defs.Handle_t, defs.Err_t) {
	t.mu.Lock()
	idx := int(h)
	if idx < 0 || idx >= len(t.entries) || t.entries[idx].freed {
		t.mu.Unlock()
		return 0, defs.ErrInvalidArgument
	}
	obj := t.entries[idx].obj
	refs := t.entries[idx].refs
	t.entries[idx] = entry_t{freed: true}
	t.free = append(t.free, int32(idx))
	t.mu.Unlock()
	limits.Syslimit.Handles.Give()

	dst.mu.Lock()
	var nh defs.Handle_t
	if n := len(dst.free); n > 0 {
		di := dst.free[n-1]
		dst.free = dst.free[:n-1]
		dst.entries[di] = entry_t{obj: obj, refs: refs}
		nh = defs.Handle_t(di)
	} else {
		dst.entries = append(dst.entries, entry_t{obj: obj, refs: refs})
		nh = defs.Handle_t(len(dst.entries) - 1)
	}
	dst.mu.Unlock()
	if !limits.Syslimit.Handles.Take() {
		// best effort: the move already happened; record keeping only
	}
	return nh, 0
}

// Len reports the number of live (non-freed) entries, for diagnostics
// and tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if !e.freed {
			n++
		}
	}
	return n
}
