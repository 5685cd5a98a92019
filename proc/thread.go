// Package proc implements the Process/Thread/Descriptor data model of
// §3. Threads are modeled as goroutines — biscuit's own technique: a
// "thread" in that kernel literally is a Go goroutine carrying a
// Tnote_t for kill/state bookkeeping (tinfo.go), and the kernel's
// scheduler cooperates with, rather than replaces, the Go runtime
// scheduler. This rewrite keeps that HOW: proc.Thread owns a
// tinfo-style Note, and sched drives level/quantum bookkeeping around
// goroutines that block on real channels/mutexes instead of a
// hand-rolled context switch.
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/Qwinci/crescent-sub002/accnt"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/handle"
	"github.com/Qwinci/crescent-sub002/signal"
)

// Status mirrors §3's Thread status enum and §4.14's transition table.
type Status int

const (
	StatusWaiting Status = iota
	StatusRunning
	StatusBlocked
	StatusSleeping
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusRunning:
		return "Running"
	case StatusBlocked:
		return "Blocked"
	case StatusSleeping:
		return "Sleeping"
	case StatusTerminal:
		return "Terminal"
	default:
		return "?"
	}
}

// Note is the per-thread bookkeeping record the scheduler and signal
// machinery share, grounded on biscuit/src/tinfo/tinfo.go's Tnote_t.
type Note struct {
	mu sync.Mutex

	status Status
	killed bool
	doomed bool

	sleepInterrupted bool

	moveLock sync.Mutex // guards unblock transitions specifically, per §3 Thread invariant
}

func (n *Note) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Note) setStatus(s Status) {
	n.mu.Lock()
	n.status = s
	n.mu.Unlock()
}

// SetWaiting, SetRunning, SetBlocked, and SetSleeping drive the status
// transitions of §4.14's state table; exported for sched, which owns
// the scheduling decisions that trigger them.
func (n *Note) SetWaiting()  { n.setStatus(StatusWaiting) }
func (n *Note) SetRunning()  { n.setStatus(StatusRunning) }
func (n *Note) SetBlocked()  { n.setStatus(StatusBlocked) }
func (n *Note) SetSleeping() { n.setStatus(StatusSleeping) }

// Kill marks the thread (and by extension, on the next scheduling
// decision, observes process-wide kill per §5's cancellation rule).
func (n *Note) Kill() {
	n.mu.Lock()
	n.killed = true
	n.mu.Unlock()
}

func (n *Note) Killed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.killed
}

// SleepInterrupted reports and clears the flag a timeout sets on a
// sleeping thread per §5: "Timeouts set sleep_interrupted = true... on
// wake, the waiter distinguishes success from timeout by checking that
// flag."
func (n *Note) SleepInterrupted() bool {
	n.mu.Lock()
	v := n.sleepInterrupted
	n.sleepInterrupted = false
	n.mu.Unlock()
	return v
}

func (n *Note) setSleepInterrupted() {
	n.mu.Lock()
	n.sleepInterrupted = true
	n.mu.Unlock()
}

// Unblock transitions a Blocked or Sleeping thread back to Waiting.
// Per §3's Thread invariant, unblock uses the move-lock rather than
// the owning CPU's scheduler lock, since an unblock can race in from
// any CPU (a futex wake, a signal, a socket becoming readable).
func (n *Note) Unblock(removeSleeping bool) {
	n.moveLock.Lock()
	defer n.moveLock.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status == StatusBlocked || (removeSleeping && n.status == StatusSleeping) {
		n.status = StatusWaiting
	}
}

// Thread owns a simulated kernel stack identity (the goroutine
// itself), saved scheduler bookkeeping, an owning process pointer, a
// cpu pin flag, a level index, status via Note, signal mask/pending,
// descriptors, and optional fs/gs base — all per §3 Thread.
type Thread struct {
	Tid     defs.Tid_t
	Proc    *Process
	Note    Note
	Accnt   accnt.Accnt_t

	Level      int32 // scheduler level, 0..N-1
	PinLevel   bool
	PinCPU     int32 // -1 if unpinned
	RemainingNs int64

	Signals signal.ThreadSignals

	FSBase uint64
	GSBase uint64

	descMu sync.Mutex
	descs  []*Descriptor

	exitStatus int32
	exited     atomic.Bool
}

// AddDescriptor registers d as observing this thread's exit.
func (t *Thread) AddDescriptor(d *Descriptor) {
	t.descMu.Lock()
	t.descs = append(t.descs, d)
	t.descMu.Unlock()
}

// Exit marks the thread terminal, publishes its exit status to every
// descriptor, and clears each descriptor's weak reference atomically —
// §3 Descriptor: "When the target exits, every descriptor's weak
// reference is atomically cleared and the exit status is published."
func (t *Thread) Exit(status int32) {
	t.exitStatus = status
	t.exited.Store(true)
	t.Note.setStatus(StatusTerminal)

	t.descMu.Lock()
	descs := t.descs
	t.descMu.Unlock()
	for _, d := range descs {
		d.publish(status)
	}
}

func (t *Thread) Exited() bool { return t.exited.Load() }

// Descriptor is a reference-counted reaper token (§3 Descriptor): a
// weak reference to the target, an exit status cell, and a hook into
// the target's descriptor list.
type Descriptor struct {
	mu        sync.Mutex
	target    interface{ Exited() bool } // Thread or Process, weakly observed
	status    int32
	published bool
	ready     chan struct{}
}

// NewThreadDescriptor creates a descriptor observing t, registering
// itself on t's descriptor list.
func NewThreadDescriptor(t *Thread) *Descriptor {
	d := &Descriptor{target: t, ready: make(chan struct{})}
	t.AddDescriptor(d)
	return d
}

// NewProcessDescriptor creates a descriptor observing p, registering
// itself on p's descriptor list (SYS_PROCESS_CREATE's returned handle).
func NewProcessDescriptor(p *Process) *Descriptor {
	d := &Descriptor{target: p, ready: make(chan struct{})}
	p.AddDescriptor(d)
	return d
}

func (d *Descriptor) publish(status int32) {
	d.mu.Lock()
	if d.published {
		d.mu.Unlock()
		return
	}
	d.status = status
	d.published = true
	d.target = nil // atomically clear the weak reference
	d.mu.Unlock()
	close(d.ready)
}

// Wait blocks until the target has exited and returns its status.
func (d *Descriptor) Wait() int32 {
	<-d.ready
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Close implements handle.Object so a Descriptor can live in a handle
// table (ThreadDescriptor/ProcessDescriptor, §3 HandleTable).
func (d *Descriptor) Close() defs.Err_t { return 0 }

var _ handle.Object = (*Descriptor)(nil)
