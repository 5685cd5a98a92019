package sched

import (
	"testing"
	"time"

	"github.com/Qwinci/crescent-sub002/proc"
)

func newTestThread(tid int) *proc.Thread {
	return &proc.Thread{Tid: 1, PinCPU: int32(tid)}
}

func TestQueueDequeueOrder(t *testing.T) {
	c := NewCPU(0)
	a := newTestThread(1)
	b := newTestThread(2)
	c.Queue(a)
	c.Queue(b)

	got := c.dequeueLowest()
	if got != a {
		t.Fatalf("expected FIFO-within-level dequeue to return a first")
	}
}

func TestExitPushesToDestroyList(t *testing.T) {
	c := NewCPU(0)
	th := newTestThread(1)
	c.Exit(th, 0)

	drained := 0
	c.DrainDestroyed(func(t *proc.Thread) { drained++ })
	if drained != 1 {
		t.Fatalf("expected 1 thread drained, got %d", drained)
	}
	if !th.Exited() {
		t.Fatalf("thread should be marked exited")
	}
}

func TestSleepWakeRequeues(t *testing.T) {
	c := NewCPU(0)
	th := newTestThread(1)
	c.Sleep(th, time.Now().Add(-time.Millisecond)) // already elapsed

	c.TickWake(time.Now())
	if th.Note.Status() != proc.StatusWaiting {
		t.Fatalf("expected woken thread to be Waiting, got %v", th.Note.Status())
	}
}

func TestLevelQuantumShorterAtLowerLevels(t *testing.T) {
	q0 := levelQuantum(0, defaultLevels)
	q4 := levelQuantum(4, defaultLevels)
	if q0 >= q4 {
		t.Fatalf("expected level 0 quantum < level 4 quantum, got %v >= %v", q0, q4)
	}
}

func TestQueueDepthCountsAcrossLevels(t *testing.T) {
	c := NewCPU(0)
	if got := c.QueueDepth(); got != 0 {
		t.Fatalf("expected empty CPU to report 0 queue depth, got %d", got)
	}

	a := newTestThread(1)
	b := newTestThread(2)
	c.Queue(a)
	c.Queue(b)
	if got := c.QueueDepth(); got != 2 {
		t.Fatalf("expected queue depth 2, got %d", got)
	}

	c.dequeueLowest()
	if got := c.QueueDepth(); got != 1 {
		t.Fatalf("expected queue depth 1 after dequeue, got %d", got)
	}
}
