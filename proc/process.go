package proc

import (
	"sync"
	"sync/atomic"

	"github.com/Qwinci/crescent-sub002/accnt"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/futex"
	"github.com/Qwinci/crescent-sub002/handle"
	"github.com/Qwinci/crescent-sub002/pagemap"
	"github.com/Qwinci/crescent-sub002/signal"
)

// lifecycleState mirrors §3 Process's lifecycle: created, killed,
// destroyed.
type lifecycleState int32

const (
	lcCreated lifecycleState = iota
	lcKilled
	lcDestroyed
)

// StdHandle indexes the three standard handles named in §3.
type StdHandle int

const (
	Stdin StdHandle = iota
	Stdout
	Stderr
)

// Process owns a page map, a handle table, a list of threads, CPU
// accounting, signal dispositions, a futex table, and three standard
// handles, per §3. It has no separate list of memory mappings (the
// page map holds them) and no IPC socket endpoint field.
type Process struct {
	Pid     defs.Pid_t
	PageMap *pagemap.PageMap
	Handles *handle.Table
	Accnt   accnt.Accnt_t
	Futex   *futex.Table
	Signals *signal.Table

	StdHandles [3]defs.Handle_t

	mu      sync.Mutex
	threads []*Thread

	lifecycle atomic.Int32

	killed atomic.Bool

	externalRefs atomic.Int32 // descriptors/handles pointing at this PCB from elsewhere

	descMu     sync.Mutex
	descs      []*Descriptor
	exitStatus int32
	exited     atomic.Bool
}

// New creates a process with a fresh page map mirroring kernelMap and
// an empty handle table.
func New(pid defs.Pid_t, kernelMap *pagemap.PageMap) *Process {
	return &Process{
		Pid:     pid,
		PageMap: pagemap.New(kernelMap),
		Handles: handle.New(),
		Futex:   futex.NewTable(),
		Signals: signal.NewTable(),
	}
}

// AddThread registers t as belonging to this process. Invariant (§8):
// "T's page map equals P's page map; T is reachable from P's thread
// list" — callers must construct t with t.Proc == p before calling.
func (p *Process) AddThread(t *Thread) {
	p.mu.Lock()
	p.threads = append(p.threads, t)
	p.mu.Unlock()
}

// Threads returns a snapshot of the process's thread list.
func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Thread(nil), p.threads...)
}

// RemoveThread drops a reaped thread from the process's thread list;
// called by the scheduler's destroyer thread once a Thread has fully
// exited (§4.4: "drains it, removes the thread from its process").
func (p *Process) RemoveThread(t *Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, th := range p.threads {
		if th == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			return
		}
	}
}

// ThreadCount reports the number of threads still attached.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// Kill transitions the process to "killed" and sets the killed flag on
// every current thread's Note. It only sets flags: sched does not
// consult them, so the threads are not stopped or exited by Kill.
func (p *Process) Kill() {
	p.killed.Store(true)
	p.lifecycle.Store(int32(lcKilled))
	for _, t := range p.Threads() {
		t.Note.Kill()
	}
}

func (p *Process) Killed() bool { return p.killed.Load() }

// AddDescriptor registers d as observing this process's exit, mirroring
// Thread.AddDescriptor so a ProcessDescriptor can Wait() on PROCESS_EXIT.
func (p *Process) AddDescriptor(d *Descriptor) {
	p.descMu.Lock()
	p.descs = append(p.descs, d)
	p.descMu.Unlock()
}

// Exit publishes status to every descriptor observing this process
// (SYS_PROCESS_EXIT, §6.1). Unlike Kill, which only flags threads for
// cooperative teardown, Exit is the terminal state change a waiter
// blocks for.
func (p *Process) Exit(status int32) {
	p.exitStatus = status
	p.exited.Store(true)
	p.Kill()

	p.descMu.Lock()
	descs := p.descs
	p.descMu.Unlock()
	for _, d := range descs {
		d.publish(status)
	}
}

func (p *Process) Exited() bool { return p.exited.Load() }

// HoldExternal records an externally-held reference (a descriptor or
// a moved handle from another process) to keep the PCB addressable
// per §3's invariant: "while any descriptor to it is held, its memory
// is drained but the PCB remains addressable through the descriptor."
func (p *Process) HoldExternal() { p.externalRefs.Add(1) }

// ReleaseExternal drops an externally-held reference; when it reaches
// zero and the process has no threads, the reaper may destroy the PCB.
func (p *Process) ReleaseExternal() { p.externalRefs.Add(-1) }

// Reapable reports whether a reaper may destroy this PCB: its last
// thread has been reaped and no external descriptors remain.
func (p *Process) Reapable() bool {
	return p.ThreadCount() == 0 && p.externalRefs.Load() <= 0
}

// Destroy transitions the process to "destroyed". Only a reaper
// should call this, after confirming Reapable().
func (p *Process) Destroy() {
	p.lifecycle.Store(int32(lcDestroyed))
}
