package futex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Qwinci/crescent-sub002/defs"
)

func TestWaitReturnsExactlyOnceOnMatchingWake(t *testing.T) {
	tbl := NewTable()
	var cell int32 = 0
	ptr := uintptr(0x1000)
	load := func() (int32, defs.Err_t) { return atomic.LoadInt32(&cell), 0 }

	var wg sync.WaitGroup
	var returns int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tbl.Wait(ptr, 0, load, 0); err != 0 {
			t.Errorf("unexpected error from Wait: %v", err)
		}
		atomic.AddInt32(&returns, 1)
	}()

	// Give the waiter time to register before mutating and waking.
	time.Sleep(10 * time.Millisecond)
	atomic.StoreInt32(&cell, 1)
	woken := tbl.Wake(ptr, 1<<30) // "wake infinity"
	if woken != 1 {
		t.Fatalf("expected exactly 1 waiter woken, got %d", woken)
	}

	wg.Wait()
	if atomic.LoadInt32(&returns) != 1 {
		t.Fatalf("expected Wait to return exactly once, got %d", returns)
	}
}

func TestWaitMismatchedValueReturnsTryAgain(t *testing.T) {
	tbl := NewTable()
	load := func() (int32, defs.Err_t) { return 5, 0 }
	if err := tbl.Wait(0x2000, 0, load, 0); err != defs.ErrTryAgain {
		t.Fatalf("expected ErrTryAgain on mismatched value, got %v", err)
	}
}

func TestWaitTimeoutRemovesWaiter(t *testing.T) {
	tbl := NewTable()
	load := func() (int32, defs.Err_t) { return 0, 0 }
	err := tbl.Wait(0x3000, 0, load, 5*time.Millisecond)
	if err != defs.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if woken := tbl.Wake(0x3000, 1); woken != 0 {
		t.Fatalf("expected no waiters left after timeout, woke %d", woken)
	}
}

func TestWakeLimitsCount(t *testing.T) {
	tbl := NewTable()
	load := func() (int32, defs.Err_t) { return 0, 0 }
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.Wait(0x4000, 0, load, 0)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	woken := tbl.Wake(0x4000, 2)
	if woken != 2 {
		t.Fatalf("expected 2 woken, got %d", woken)
	}
	// wake the rest so the goroutine doesn't leak past the test
	tbl.Wake(0x4000, 1)
	wg.Wait()
}
