// Package futex implements §4.6: a per-process map from a user virtual
// address (as an atomic-int identity) to a waiter list. Races between
// a concurrent wake and a wait's compare-and-block preparation are
// closed by a single process-wide futex lock held across that window.
package futex

import (
	"sync"
	"time"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/limits"
)

type waiter_t struct {
	ev *event.Event
}

// Table is one process's futex table.
type Table struct {
	mu      sync.Mutex
	waiters map[uintptr][]*waiter_t
}

// NewTable constructs an empty per-process futex table.
func NewTable() *Table {
	return &Table{waiters: make(map[uintptr][]*waiter_t)}
}

// LoadFunc reads *ptr's current value; supplied by the caller since
// this package has no notion of user-memory mapping (that's
// syscall.UserAccessor's job).
type LoadFunc func() (int32, defs.Err_t)

// Wait atomically verifies *ptr == expected (via load), enqueues the
// current waiter, and blocks, optionally with a timeout.
//
// The process-wide Table lock is held across the load-and-enqueue
// step (not across the actual block), closing the race with a
// concurrent Wake — §4.6: "held across the compare-and-block
// preparation."
func (t *Table) Wait(ptr uintptr, expected int32, load LoadFunc, timeout time.Duration) defs.Err_t {
	if !limits.Syslimit.Futexes.Take() {
		return defs.ErrNoMem
	}
	defer limits.Syslimit.Futexes.Give()

	t.mu.Lock()
	cur, err := load()
	if err != 0 {
		t.mu.Unlock()
		return err
	}
	if cur != expected {
		t.mu.Unlock()
		return defs.ErrTryAgain
	}
	w := &waiter_t{ev: event.New()}
	t.waiters[ptr] = append(t.waiters[ptr], w)
	t.mu.Unlock()

	if timeout <= 0 {
		w.ev.Wait()
		return 0
	}
	if !w.ev.WaitWithTimeout(timeout) {
		t.removeWaiter(ptr, w)
		return defs.ErrTimeout
	}
	return 0
}

func (t *Table) removeWaiter(ptr uintptr, w *waiter_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.waiters[ptr]
	for i, c := range ws {
		if c == w {
			t.waiters[ptr] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// Wake wakes up to n waiters blocked on ptr, returning the count
// actually woken.
func (t *Table) Wake(ptr uintptr, n int) int {
	t.mu.Lock()
	ws := t.waiters[ptr]
	if n > len(ws) {
		n = len(ws)
	}
	woken := ws[:n]
	t.waiters[ptr] = ws[n:]
	if len(t.waiters[ptr]) == 0 {
		delete(t.waiters, ptr)
	}
	t.mu.Unlock()

	for _, w := range woken {
		w.ev.SignalOne()
	}
	return len(woken)
}
