package evm

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
	"github.com/Qwinci/crescent-sub002/pmm"
)

func newTestAllocator(t *testing.T) *pmm.Allocator {
	t.Helper()
	arena, err := hostio.NewArena(32 * defs.PageSize)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	alloc := pmm.New()
	alloc.AddRegion(0, 32, arena)
	return alloc
}

// mapCode pmallocs a fresh host page, writes code at its start, and
// maps it at guestPage — the common setup every exit-dispatch test
// below shares.
func mapCode(t *testing.T, e *Evm, alloc *pmm.Allocator, guestPage uint64, code []byte) {
	t.Helper()
	host, errc := alloc.Pmalloc()
	if errc != 0 {
		t.Fatalf("pmalloc: %v", errc)
	}
	frame := alloc.FromPhys(host)
	copy(frame, code)
	if err := e.MapPage(guestPage, uint64(host)); err != 0 {
		t.Fatalf("map_page: %v", err)
	}
}

// TestEvmHelloHalts is the §8 scenario 5 walkthrough: EVM_CREATE,
// EVM_CREATE_VCPU, map one page at guest 0x0 containing HLT, set
// CS.base=0/RIP=0, VCPU_RUN -> exit_reason=HALT.
func TestEvmHelloHalts(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	mapCode(t, e, alloc, 0, []byte{0xF4}) // hlt

	vcpu, errc := e.CreateVcpu()
	if errc != 0 {
		t.Fatalf("create_vcpu: %v", errc)
	}
	vcpu.State.CS.Base = 0
	vcpu.State.RIP = 0

	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt {
		t.Fatalf("expected HALT, got %v", vcpu.State.ExitReason)
	}
}

func TestOutReportsPortAndValue(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	// mov al, 0x42; mov dx, 0x3f8; out dx, al; hlt
	mapCode(t, e, alloc, 0, []byte{0xB0, 0x42, 0x66, 0xBA, 0xF8, 0x03, 0xEE, 0xF4})

	vcpu, _ := e.CreateVcpu()
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitIOOut {
		t.Fatalf("expected IO_OUT, got %v", vcpu.State.ExitReason)
	}
	if vcpu.State.IO.Port != 0x3f8 || vcpu.State.IO.Value != 0x42 || vcpu.State.IO.Size != 1 {
		t.Fatalf("unexpected io_out: %+v", vcpu.State.IO)
	}

	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run after out: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt {
		t.Fatalf("expected HALT after out, got %v", vcpu.State.ExitReason)
	}
}

func TestInAppliesReturnedValueThenAdvances(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	mapCode(t, e, alloc, 0, []byte{0xEC, 0xF4}) // in al, dx; hlt

	vcpu, _ := e.CreateVcpu()
	vcpu.State.RDX = 0x3f8

	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitIOIn || vcpu.State.IO.Port != 0x3f8 {
		t.Fatalf("unexpected io_in exit: %+v", vcpu.State)
	}

	vcpu.State.IO.Value = 0x7
	if err := vcpu.WriteState(StateGPRegs); err != 0 {
		t.Fatalf("write_state: %v", err)
	}
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run after in: %v", err)
	}
	if vcpu.State.RAX&0xFF != 0x7 {
		t.Fatalf("expected al=7, got rax=%#x", vcpu.State.RAX)
	}
	if vcpu.State.ExitReason != ExitHalt {
		t.Fatalf("expected HALT after in, got %v", vcpu.State.ExitReason)
	}
}

func TestCpuidAdvancesPastExitOnNextRun(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	mapCode(t, e, alloc, 0, []byte{0x0F, 0xA2, 0xF4}) // cpuid; hlt

	vcpu, _ := e.CreateVcpu()
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitCPUID {
		t.Fatalf("expected CPUID, got %v", vcpu.State.ExitReason)
	}

	vcpu.State.RAX, vcpu.State.RBX, vcpu.State.RCX, vcpu.State.RDX = 1, 2, 3, 4
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run after cpuid: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt {
		t.Fatalf("expected HALT after cpuid, got %v", vcpu.State.ExitReason)
	}
	if vcpu.State.RAX != 1 || vcpu.State.RBX != 2 {
		t.Fatalf("expected cpuid results preserved, got %+v", vcpu.State)
	}
}

func TestMmioReadThenWriteOnUnmappedPage(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	// mov eax, [rbx]; mov [rbx], eax; hlt
	mapCode(t, e, alloc, 0, []byte{0x8B, 0x03, 0x89, 0x03, 0xF4})

	vcpu, _ := e.CreateVcpu()
	vcpu.State.RBX = 0x2000 // deliberately never MapPage'd: must trap as MMIO

	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitMMIORead || vcpu.State.MMIO.GuestPhysAddr != 0x2000 || vcpu.State.MMIO.Size != 4 {
		t.Fatalf("unexpected mmio_read exit: %+v", vcpu.State.MMIO)
	}

	vcpu.State.MMIO.Value = 0xDEADBEEF
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run after mmio read: %v", err)
	}
	if vcpu.State.RAX != 0xDEADBEEF {
		t.Fatalf("expected eax=0xdeadbeef, got %#x", vcpu.State.RAX)
	}
	if vcpu.State.ExitReason != ExitMMIOWrite || vcpu.State.MMIO.Value != 0xDEADBEEF {
		t.Fatalf("unexpected mmio_write exit: %+v", vcpu.State.MMIO)
	}

	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run after mmio write: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt {
		t.Fatalf("expected HALT after mmio write, got %v", vcpu.State.ExitReason)
	}
}

func TestTriggerIrqWakesHaltedVcpu(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	mapCode(t, e, alloc, 0, []byte{0xF4, 0xF4}) // hlt; hlt

	vcpu, _ := e.CreateVcpu()
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt {
		t.Fatalf("expected HALT, got %v", vcpu.State.ExitReason)
	}

	// A second run without an interrupt reports HALT again rather than
	// progressing — the guest is still waiting.
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt || vcpu.State.RIP != 1 {
		t.Fatalf("expected the vcpu to stay halted at rip=1, got reason=%v rip=%#x", vcpu.State.ExitReason, vcpu.State.RIP)
	}

	if err := vcpu.TriggerIrq(IrqInfo{Type: IrqTypeIRQ, Vec: 0x20}); err != 0 {
		t.Fatalf("trigger_irq: %v", err)
	}
	if err := vcpu.Run(); err != 0 {
		t.Fatalf("run after trigger_irq: %v", err)
	}
	if vcpu.State.ExitReason != ExitHalt || vcpu.State.RIP != 2 {
		t.Fatalf("expected the woken vcpu to execute the second hlt, got reason=%v rip=%#x", vcpu.State.ExitReason, vcpu.State.RIP)
	}
}

func TestMapPageRejectsUnalignedOrUnbackedHost(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	if err := e.MapPage(1, 0); err != defs.ErrInvalidArgument {
		t.Fatalf("expected unaligned guest address to be rejected, got %v", err)
	}
	if err := e.MapPage(0, 0xFFFFFFFF000); err != defs.ErrInvalidArgument {
		t.Fatalf("expected unbacked host page to be rejected, got %v", err)
	}
}

func TestUnmapReturnsPageToAllocator(t *testing.T) {
	alloc := newTestAllocator(t)
	e := New(alloc)
	defer e.Close()

	before := alloc.Cardinality()
	host, errc := alloc.Pmalloc()
	if errc != 0 {
		t.Fatalf("pmalloc: %v", errc)
	}
	if err := e.MapPage(0x5000, uint64(host)); err != 0 {
		t.Fatalf("map_page: %v", err)
	}
	if alloc.Cardinality() != before-1 {
		t.Fatalf("expected one page consumed, free list at %d", alloc.Cardinality())
	}

	if err := e.UnmapPage(0x5000); err != 0 {
		t.Fatalf("unmap_page: %v", err)
	}
	if alloc.Cardinality() != before {
		t.Fatalf("expected page returned to allocator, free list at %d", alloc.Cardinality())
	}
}
