package proc

import "testing"

func TestThreadReachableFromProcess(t *testing.T) {
	kmap := pagemapNewKernelForTest()
	p := New(1, kmap)
	th := &Thread{Tid: 1, Proc: p, PinCPU: -1}
	p.AddThread(th)

	found := false
	for _, c := range p.Threads() {
		if c == th {
			found = true
		}
	}
	if !found {
		t.Fatalf("thread not reachable from process thread list")
	}
	if th.Proc.PageMap != p.PageMap {
		t.Fatalf("thread's process page map mismatch")
	}
}

func TestProcessKillPropagatesToThreads(t *testing.T) {
	kmap := pagemapNewKernelForTest()
	p := New(2, kmap)
	th := &Thread{Tid: 1, Proc: p, PinCPU: -1}
	p.AddThread(th)

	p.Kill()
	if !th.Note.Killed() {
		t.Fatalf("thread did not observe process kill")
	}
}

func TestReapableAfterLastThreadAndNoExternalRefs(t *testing.T) {
	kmap := pagemapNewKernelForTest()
	p := New(3, kmap)
	th := &Thread{Tid: 1, Proc: p, PinCPU: -1}
	p.AddThread(th)
	p.HoldExternal()

	if p.Reapable() {
		t.Fatalf("process should not be reapable with a thread and an external ref")
	}
	p.RemoveThread(th)
	if p.Reapable() {
		t.Fatalf("process should not be reapable while external ref held")
	}
	p.ReleaseExternal()
	if !p.Reapable() {
		t.Fatalf("process should be reapable once threads are gone and refs released")
	}
}
