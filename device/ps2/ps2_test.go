package ps2

import (
	"testing"
	"time"
)

func TestSimpleMakeBreakProducesPressThenRelease(t *testing.T) {
	kb := New()
	defer kb.Close()

	ch := make(chan KeyEvent, 8)
	kb.Listen(ch)

	kb.Feed(0x1C) // 'A' make
	kb.Feed(0xF0) // release prefix
	kb.Feed(0x1C) // 'A' break

	press := recvWithTimeout(t, ch)
	if press.Key != ScanA || !press.Pressed {
		t.Fatalf("expected A press, got %+v", press)
	}
	release := recvWithTimeout(t, ch)
	if release.Key != ScanA || release.Pressed {
		t.Fatalf("expected A release, got %+v", release)
	}
}

func TestE0PrefixedArrowKey(t *testing.T) {
	kb := New()
	defer kb.Close()

	ch := make(chan KeyEvent, 8)
	kb.Listen(ch)

	kb.Feed(0xE0)
	kb.Feed(0x75) // up arrow

	ev := recvWithTimeout(t, ch)
	if ev.Key != ScanUp || !ev.Pressed {
		t.Fatalf("expected up-arrow press, got %+v", ev)
	}
}

func TestShiftModifierTrackedAcrossKeys(t *testing.T) {
	kb := New()
	defer kb.Close()

	ch := make(chan KeyEvent, 8)
	kb.Listen(ch)

	kb.Feed(0x12) // left shift make
	_ = recvWithTimeout(t, ch)

	kb.Feed(0x1C) // 'A' make while shift held
	ev := recvWithTimeout(t, ch)
	if ev.Mods&ModShift == 0 {
		t.Fatalf("expected ModShift set while shift held, got mods=%v", ev.Mods)
	}
}

func TestDriverOpenReadsEventThroughDevlinkOp(t *testing.T) {
	kb := New()
	defer kb.Close()

	drv := NewDriver()
	drv.Add("kb0", kb)

	h, err := drv.Open("kb0")
	if err != 0 {
		t.Fatalf("open: %v", err)
	}

	done := make(chan []byte, 1)
	go func() {
		resp, _ := h.Specific(OpReadEvent, nil)
		done <- resp
	}()

	kb.Feed(0x1C) // 'A' make

	select {
	case resp := <-done:
		if len(resp) != 6 || resp[0] != byte(ScanA) || resp[5] != 1 {
			t.Fatalf("unexpected event payload: %v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for devlink key event")
	}
}

func recvWithTimeout(t *testing.T, ch chan KeyEvent) KeyEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for key event")
		return KeyEvent{}
	}
}
