// Package sched implements the per-CPU multi-level run-queue scheduler
// of §4.4: N levels (default 5), level i's quantum is
// (i+1)*MAX/N microseconds, lower levels get shorter slices.
//
// Because this kernel hosts threads as goroutines (see proc's package
// doc), sched does not itself context-switch registers; it tracks
// which Thread currently "owns" each simulated CPU's attention and
// drives the level/quantum bookkeeping the spec describes, the same
// separation of concerns biscuit itself keeps between Go's goroutine
// scheduler and its own accounting.
package sched

import (
	"sort"
	"sync"
	"time"

	"github.com/Qwinci/crescent-sub002/proc"
)

const (
	defaultLevels  = 5
	defaultMaxUs   = 50000 // MAX, microseconds, per §4.4
	tickPeriod     = time.Millisecond
)

// levelQuantum returns level i's time slice, per §4.4:
// "(i+1) * MAX/N microseconds".
func levelQuantum(i, n int) time.Duration {
	us := (i + 1) * (defaultMaxUs / n)
	return time.Duration(us) * time.Microsecond
}

type sleeper_t struct {
	th       *proc.Thread
	deadline time.Time
}

// CPU is one simulated CPU's scheduler state: N run-queue levels, an
// idle thread, a destroyer thread's work queue, and a sleeping list.
type CPU struct {
	ID     int32
	Levels int

	mu      sync.Mutex
	queues  [][]*proc.Thread
	current *proc.Thread

	sleepMu sync.Mutex
	sleeping []sleeper_t

	destroyMu sync.Mutex
	destroy   []*proc.Thread

	idle *proc.Thread
}

// NewCPU constructs a CPU with the default level count.
func NewCPU(id int32) *CPU {
	c := &CPU{ID: id, Levels: defaultLevels}
	c.queues = make([][]*proc.Thread, c.Levels)
	return c
}

// SetIdle installs the CPU's idle thread, run when no other thread is
// Waiting.
func (c *CPU) SetIdle(t *proc.Thread) { c.idle = t }

// Queue appends thread to its current level's queue — §4.4: "appends
// to its current level's queue; this is also the way waking threads
// are requeued."
func (c *CPU) Queue(t *proc.Thread) {
	t.Note.SetWaiting()
	lvl := int(t.Level)
	if lvl < 0 {
		lvl = 0
	}
	if lvl >= c.Levels {
		lvl = c.Levels - 1
	}

	c.mu.Lock()
	c.queues[lvl] = append(c.queues[lvl], t)
	c.mu.Unlock()
}

func (c *CPU) dequeueLowest() *proc.Thread {
	for lvl := 0; lvl < c.Levels; lvl++ {
		q := c.queues[lvl]
		for i, th := range q {
			if th.Note.Status() == proc.StatusWaiting {
				c.queues[lvl] = append(q[:i], q[i+1:]...)
				return th
			}
		}
	}
	return nil
}

// UpdateSchedule is invoked on every tick and on explicit
// yield/block/exit, per §4.4's control flow.
func (c *CPU) UpdateSchedule(elapsed time.Duration) *proc.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current
	if cur != nil {
		cur.RemainingNs -= elapsed.Nanoseconds()
		if cur.RemainingNs > 0 && cur.Note.Status() == proc.StatusRunning {
			return cur
		}

		if cur.Note.Status() == proc.StatusRunning && !cur.PinLevel {
			if int(cur.Level) < c.Levels-1 {
				cur.Level++ // decays by +1 (slower)
			}
		}
	}

	next := c.dequeueLowest()
	if next == nil {
		if cur != nil && cur.Note.Status() == proc.StatusRunning {
			return cur // none found; continue running current
		}
		c.current = c.idle
		return c.idle
	}

	next.Note.SetRunning()
	next.RemainingNs = levelQuantum(int(next.Level), c.Levels).Nanoseconds()
	c.current = next
	return next
}

// Promote lowers a thread's level by one (boost toward higher
// priority), the path Block/Yield/Exit take per §4.4.
func (c *CPU) Promote(t *proc.Thread) {
	if t.PinLevel {
		return
	}
	if t.Level > 0 {
		t.Level--
	}
}

// Sleep registers t to wake at deadline. TickWake, called from the
// tick loop, wakes any whose deadline has elapsed and returns the time
// to the next wake; no one-shot timer is armed, so a sleeper wakes on
// the first tick at or after its deadline.
func (c *CPU) Sleep(t *proc.Thread, deadline time.Time) {
	t.Note.SetSleeping()
	c.sleepMu.Lock()
	c.sleeping = append(c.sleeping, sleeper_t{th: t, deadline: deadline})
	c.sleepMu.Unlock()
}

// TickWake wakes any sleepers whose deadline has elapsed as of now,
// requeueing them, and returns the duration until the next pending
// wake (or 0 if none remain).
func (c *CPU) TickWake(now time.Time) time.Duration {
	c.sleepMu.Lock()
	var woke []*proc.Thread
	var remaining []sleeper_t
	for _, s := range c.sleeping {
		if !now.Before(s.deadline) {
			woke = append(woke, s.th)
		} else {
			remaining = append(remaining, s)
		}
	}
	c.sleeping = remaining
	sort.Slice(c.sleeping, func(i, j int) bool { return c.sleeping[i].deadline.Before(c.sleeping[j].deadline) })
	var next time.Duration
	if len(c.sleeping) > 0 {
		next = c.sleeping[0].deadline.Sub(now)
	}
	c.sleepMu.Unlock()

	for _, t := range woke {
		c.Queue(t)
	}
	return next
}

// Block transitions t to Blocked and lowers its level by one.
func (c *CPU) Block(t *proc.Thread) {
	c.Promote(t)
	t.Note.SetBlocked()
}

// Yield requeues t after lowering its level by one.
func (c *CPU) Yield(t *proc.Thread) {
	c.Promote(t)
	c.Queue(t)
}

// Exit lowers t's level (the bookkeeping is symmetric with
// block/yield), marks it terminal, and pushes it to the destroy list
// for the destroyer thread to drain.
func (c *CPU) Exit(t *proc.Thread, status int32) {
	c.Promote(t)
	t.Exit(status)
	c.destroyMu.Lock()
	c.destroy = append(c.destroy, t)
	c.destroyMu.Unlock()
}

// QueueDepth returns the number of threads currently queued across
// every MLFQ level, a debug counter for the kernel's log/profile
// dump syscall path.
func (c *CPU) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}

// DrainDestroyed removes every thread queued for destruction, calling
// remove(t) on each (typically Process.RemoveThread), and reports how
// many were drained. This is the destroyer thread's body, per §4.4:
// "a dedicated destroyer thread on that CPU drains it, removes the
// thread from its process, and deletes the PCB when its process is
// empty."
func (c *CPU) DrainDestroyed(remove func(t *proc.Thread)) int {
	c.destroyMu.Lock()
	batch := c.destroy
	c.destroy = nil
	c.destroyMu.Unlock()

	for _, t := range batch {
		remove(t)
	}
	return len(batch)
}
