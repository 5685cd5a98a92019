package signal

import "testing"

func TestSIGKILLCannotBeOverridden(t *testing.T) {
	tbl := NewTable()
	if tbl.SetDisposition(SIGKILL, DispIgnore) {
		t.Fatalf("expected SIGKILL disposition change to be rejected")
	}
	if got := tbl.Disposition(SIGKILL); got != DispTerm {
		t.Fatalf("SIGKILL disposition changed to %v", got)
	}
}

func TestMaskedSignalNotDelivered(t *testing.T) {
	var ts ThreadSignals
	ts.SetMask(1 << 5)
	ts.Raise(5)
	if got := ts.NextDeliverable(); got != -1 {
		t.Fatalf("masked signal 5 should not be deliverable, got %d", got)
	}
}

func TestLowestNumberedSignalDeliveredFirst(t *testing.T) {
	var ts ThreadSignals
	ts.Raise(40)
	ts.Raise(3)
	if got := ts.NextDeliverable(); got != 3 {
		t.Fatalf("expected signal 3 first, got %d", got)
	}
	if got := ts.NextDeliverable(); got != 40 {
		t.Fatalf("expected signal 40 next, got %d", got)
	}
}

func TestSIGKILLUnmaskable(t *testing.T) {
	var ts ThreadSignals
	ts.SetMask(1 << SIGKILL)
	ts.Raise(SIGKILL)
	if got := ts.NextDeliverable(); got != SIGKILL {
		t.Fatalf("SIGKILL should be deliverable despite mask, got %d", got)
	}
}
