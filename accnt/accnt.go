// Package accnt accumulates per-thread and per-process CPU accounting.
// The syscall dispatcher folds each call's duration into the calling
// thread's system time; sched and GET_STATUS do not use it.
//
// Grounded on biscuit/src/accnt/accnt.go, kept nearly verbatim: the
// teacher's Userns/Sysns nanosecond counters and Add/Finish bookkeeping
// carry over unchanged since the spec never redefines this concern.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates CPU time in nanoseconds. Userns/Sysns are
// updated with atomic adds (Utadd/Systadd; Finish calls Systadd); the
// mutex guards only the compound Snapshot/Add operations.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds of user-mode time.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds of kernel-mode time.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish folds the time elapsed since start into system time; called
// when a syscall handler returns.
func (a *Accnt_t) Finish(start int64) {
	a.Systadd(a.Now() - start)
}

// Add merges n's counters into a, used when a thread's accounting is
// folded into its process total at reap time.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.mu.Unlock()
}

// Snapshot returns a consistent (userns, sysns) pair.
func (a *Accnt_t) Snapshot() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}
