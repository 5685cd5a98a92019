// Package evm implements the hardware virtualization runtime (§4.11):
// an address space for a guest made of pinned host pages backing
// guest physical frames, and one or more VirtualCpus that run the
// guest and report back a typed exit reason.
//
// A real EVM is VMX-backed: guest instructions execute directly on
// the host CPU inside a VMCS-controlled non-root mode, and a VM-exit
// is a hardware trap. This rewrite has no such hardware available
// (goroutines, not hardware rings, stand in for the whole kernel), so
// the vcpu in vcpu.go is a small software interpreter over the guest's
// mapped pages instead — it decodes and executes guest instructions
// one at a time until it reaches one of the exit-producing cases the
// original VMX vcpu would trap on (HLT, IN/OUT, an access to a guest
// physical page with no host backing, CPUID), and reports that exit
// through the same EvmGuestState/EvmExitReason shape
// original_source/include/crescent/evm.h defines. Anything the
// interpreter doesn't recognize is reported as a triple fault, since
// there is no hardware to fall back on.
//
// Host-page pinning and the destructor-time "if (--page.ref_count ==
// 0) pfree()" behavior is grounded on
// original_source/src/dev/evm.cpp's Evm destructor; the vcpu lifecycle
// (create, run, write_state/read_state, trigger_irq) is grounded on
// original_source/src/dev/evm.hpp's VirtualCpu/Evm interfaces, with
// the mmap'd kvm_run / ioctl dispatch shape of avagin-gvisor's
// pkg/sentry/platform/kvm/kvm.go and BigBossBoolingB-VDATABPro's
// core_engine/vcpu.go generalized into the Run/exit-reason-switch
// pattern below.
package evm

import (
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/limits"
	"github.com/Qwinci/crescent-sub002/pmm"
)

// ExitReason mirrors EvmExitReason from evm.h.
type ExitReason uint32

const (
	ExitVMEnterFailed ExitReason = iota
	ExitHalt
	ExitIOIn
	ExitIOOut
	ExitMMIORead
	ExitMMIOWrite
	ExitCPUID
	ExitTripleFault
)

func (r ExitReason) String() string {
	switch r {
	case ExitVMEnterFailed:
		return "VM_ENTER_FAILED"
	case ExitHalt:
		return "HALT"
	case ExitIOIn:
		return "IO_IN"
	case ExitIOOut:
		return "IO_OUT"
	case ExitMMIORead:
		return "MMIO_READ"
	case ExitMMIOWrite:
		return "MMIO_WRITE"
	case ExitCPUID:
		return "CPUID"
	case ExitTripleFault:
		return "TRIPLE_FAULT"
	default:
		return "UNKNOWN"
	}
}

// StateBits mirrors EvmStateBits: the mask write_state/read_state use
// to name which part of EvmGuestState a caller touched.
type StateBits uint32

const (
	StateNone         StateBits = 0
	StateGPRegs       StateBits = 1 << 0
	StateRIP          StateBits = 1 << 1
	StateRSP          StateBits = 1 << 2
	StateRFlags       StateBits = 1 << 3
	StateSegRegs      StateBits = 1 << 4
	StateControlRegs  StateBits = 1 << 5
	StateAll          StateBits = StateGPRegs | StateRIP | StateRSP | StateRFlags | StateSegRegs | StateControlRegs
)

// IrqType mirrors EvmIrqType.
type IrqType int

const (
	IrqTypeException IrqType = iota
	IrqTypeIRQ
)

// IrqInfo mirrors EvmIrqInfo: the argument to trigger_irq.
type IrqInfo struct {
	Type  IrqType
	Vec   uint32
	Error uint32
}

// SegmentRegister mirrors EvmSegmentRegister.
type SegmentRegister struct {
	Base     uint64
	Selector uint16
	Limit    uint16
}

// IOExit is the io_in/io_out member of EvmExitState.
type IOExit struct {
	Port  uint16
	Size  uint8
	Value uint32 // ret_value for IO_IN, the outgoing value for IO_OUT
}

// MMIOExit is the mmio_read/mmio_write member of EvmExitState.
type MMIOExit struct {
	GuestPhysAddr uint64
	Value         uint64
	Size          uint8
}

// GuestState mirrors EvmGuestState field for field: the guest register
// file plus the most recent exit's reason and parameters. In the real
// kernel this is a page mapped into the owning user process so the VMM
// can read/write it without a syscall round trip; since this rewrite
// has no cross-process memory mapping, VirtualCpu.State is simply a
// pointer the vcpu's owner holds directly, and ReadState/WriteState
// exist to keep the same call shape (and bit-masked semantics) as the
// ioctl-backed original — documented deviation, not a hardware page.
type GuestState struct {
	RAX, RBX, RCX, RDX uint64
	RDI, RSI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	RIP    uint64
	RFlags uint64

	CR0, CR3, CR4 uint64

	ES, CS, SS, DS, FS, GS SegmentRegister
	LDTR, TR               SegmentRegister
	GDTR, IDTR             SegmentRegister

	ExitReason ExitReason
	IO         IOExit
	MMIO       MMIOExit
}

type pageMapping struct {
	guestPage uint64
	hostPage  uint64
}

// Evm owns a guest's physical address space: the set of guest-page to
// host-page mappings backing it, and the VirtualCpus running inside
// it. Host pages come from the shared pmm.Allocator; map_page pins one
// and unmap_page/Close unpins it, freeing it back to pmm only once no
// other Evm still references it (evm.cpp's destructor behavior).
type Evm struct {
	mu     sync.Mutex
	alloc  *pmm.Allocator
	pages  map[uint64]uint64 // guest page -> host page
	vcpus  []*VirtualCpu
	closed bool
}

var (
	pageRefMu sync.Mutex
	pageRefs  = map[uint64]int{}
)

func pinHostPage(host uint64) {
	pageRefMu.Lock()
	pageRefs[host]++
	pageRefMu.Unlock()
}

func unpinHostPage(alloc *pmm.Allocator, host uint64) {
	pageRefMu.Lock()
	pageRefs[host]--
	remaining := pageRefs[host]
	if remaining <= 0 {
		delete(pageRefs, host)
	}
	pageRefMu.Unlock()
	if remaining <= 0 {
		alloc.Pfree(pmm.Pa_t(host))
	}
}

// New constructs an empty Evm (EVM_CREATE, §8 scenario 5).
func New(alloc *pmm.Allocator) *Evm {
	return &Evm{alloc: alloc, pages: make(map[uint64]uint64)}
}

// MapPage pins host (a page pmm already owns) as the backing for
// guest, both page-aligned physical addresses (EVM_MAP).
func (e *Evm) MapPage(guest, host uint64) defs.Err_t {
	if guest%defs.PageSize != 0 || host%defs.PageSize != 0 {
		return defs.ErrInvalidArgument
	}
	if e.alloc.FromPhys(pmm.Pa_t(host)) == nil {
		return defs.ErrInvalidArgument
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return defs.ErrInvalidArgument
	}
	if _, exists := e.pages[guest]; exists {
		return defs.ErrAlreadyExists
	}
	e.pages[guest] = host
	pinHostPage(host)
	return 0
}

// UnmapPage reverses MapPage (EVM_UNMAP).
func (e *Evm) UnmapPage(guest uint64) defs.Err_t {
	e.mu.Lock()
	host, ok := e.pages[guest]
	if !ok {
		e.mu.Unlock()
		return defs.ErrInvalidArgument
	}
	delete(e.pages, guest)
	e.mu.Unlock()

	unpinHostPage(e.alloc, host)
	return 0
}

// translate resolves a guest physical address to the host byte slice
// backing its page, or nil if no MapPage call ever backed that page —
// the latter is how the interpreter recognizes an MMIO-destined
// access (§4.11: "owns guest physical -> host physical mappings").
func (e *Evm) translate(guestAddr uint64) []byte {
	page := guestAddr &^ (defs.PageSize - 1)
	off := int(guestAddr & (defs.PageSize - 1))

	e.mu.Lock()
	host, ok := e.pages[page]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	frame := e.alloc.FromPhys(pmm.Pa_t(host))
	if frame == nil {
		return nil
	}
	return frame[off:]
}

// CreateVcpu constructs a VirtualCpu bound to this Evm (EVM_CREATE_VCPU).
func (e *Evm) CreateVcpu() (*VirtualCpu, defs.Err_t) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, defs.ErrInvalidArgument
	}
	e.mu.Unlock()

	if !limits.Syslimit.Vcpus.Take() {
		return nil, defs.ErrNoMem
	}

	v := &VirtualCpu{evm: e, State: &GuestState{}}
	e.mu.Lock()
	e.vcpus = append(e.vcpus, v)
	e.mu.Unlock()
	return v, 0
}

// Close releases every vcpu and unpins every mapped page, matching
// evm.cpp's destructor loop over Evm::pages.
func (e *Evm) Close() defs.Err_t {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	e.closed = true
	pages := e.pages
	e.pages = nil
	vcpus := e.vcpus
	e.vcpus = nil
	e.mu.Unlock()

	for _, v := range vcpus {
		v.Close()
	}
	for _, host := range pages {
		unpinHostPage(e.alloc, host)
	}
	return 0
}
