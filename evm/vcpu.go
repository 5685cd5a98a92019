package evm

import (
	"sync"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Qwinci/crescent-sub002/defs"
)

// maxStepsPerRun bounds how many guest instructions one Run() call
// interprets before giving up and reporting a triple fault — a
// software stand-in for "the guest never produced a VM-exit", which
// can't happen on real VMX hardware but can happen to an interpreter
// fed a guest program this minimal decoder can't make sense of.
const maxStepsPerRun = 4096

// completionKind names what a pending exit still owes the guest's
// register file, applied at the start of the next Run: IN and MMIO
// reads need their returned value written into the instruction's
// destination operand, CPUID needs nothing but an RIP advance since
// the servicer already overwrote the GP registers directly.
type completionKind int

const (
	completeNone completionKind = iota
	completeIn
	completeMMIORead
	completeCPUID
)

type pendingCompletion struct {
	kind    completionKind
	dstReg  x86asm.Reg
	dstSize int
	instLen int
}

// VirtualCpu is one guest CPU: its published register/exit state plus
// the not-entered/entered/vm-exit state machine of §4.14's "EVM VCPU".
type VirtualCpu struct {
	mu      sync.Mutex
	evm     *Evm
	State   *GuestState
	halted  bool
	pending *pendingCompletion
	closed  bool
}

// Close tears down the vcpu. Idempotent, called both directly and from
// Evm.Close.
func (v *VirtualCpu) Close() defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return 0
}

// ReadState copies the vcpu's current register/exit state out. wanted
// is accepted for ABI fidelity with read_state's mask argument but
// this rewrite has no partial-copy cost to save, so it is ignored and
// the full state is always returned.
func (v *VirtualCpu) ReadState(wanted StateBits) (GuestState, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return GuestState{}, defs.ErrInvalidArgument
	}
	return *v.State, 0
}

// WriteState accepts the servicer's update to *v.State. Real hardware
// must be told which fields changed so it can skip re-validating the
// rest of the VMCS; here State is already the live struct the caller
// mutated directly; this call only validates the vcpu is still alive.
func (v *VirtualCpu) WriteState(changed StateBits) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return defs.ErrInvalidArgument
	}
	return 0
}

// TriggerIrq injects an external interrupt or exception (§4.11). This
// interpreter has no guest IDT walk, so the only architectural effect
// modeled is HLT's defining one: an injected IRQ wakes a halted vcpu,
// matching "HLT ends when an unmasked interrupt arrives." info is not
// stored anywhere: an exception or IRQ injected into a running
// (non-halted) vcpu has no effect, since dispatching it would require
// a guest interrupt-vector table this software vcpu does not implement.
func (v *VirtualCpu) TriggerIrq(info IrqInfo) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return defs.ErrInvalidArgument
	}
	v.halted = false
	return 0
}

// Run enters the guest and executes until the next vm-exit (EVM_VCPU_RUN,
// §8 scenario 5 and §4.14's "EVM VCPU" state machine).
func (v *VirtualCpu) Run() defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return defs.ErrInvalidArgument
	}

	if v.pending != nil {
		v.applyPendingLocked()
		v.pending = nil
	}

	for steps := 0; steps < maxStepsPerRun; steps++ {
		if v.halted {
			v.State.ExitReason = ExitHalt
			return 0
		}
		exited, err := v.step()
		if err != 0 {
			return err
		}
		if exited {
			return 0
		}
	}
	v.State.ExitReason = ExitTripleFault
	return 0
}

// applyPendingLocked finishes the instruction a previous exit paused
// mid-decode: it writes the servicer-supplied value (already sitting
// in v.State.IO.Value or v.State.MMIO.Value) into the instruction's
// destination and advances RIP past it, exactly as VMX hardware would
// on guest re-entry after an IO/MMIO-read/CPUID exit is serviced.
func (v *VirtualCpu) applyPendingLocked() {
	p := v.pending
	switch p.kind {
	case completeIn:
		setReg(v.State, p.dstReg, uint64(v.State.IO.Value), p.dstSize)
	case completeMMIORead:
		setReg(v.State, p.dstReg, v.State.MMIO.Value, p.dstSize)
	case completeCPUID:
		// GP registers already overwritten directly by the servicer.
	}
	v.State.RIP += uint64(p.instLen)
}

// step decodes and executes exactly one guest instruction, returning
// exited=true when it produced a vm-exit (the caller stops the run
// loop and reports v.State.ExitReason). Its Err_t is always 0: a
// failed fetch (an unmapped code page) or an undecodable instruction
// is reported as a triple fault exit rather than an error return, to
// keep Run's contract "0 means an exit was recorded".
func (v *VirtualCpu) step() (bool, defs.Err_t) {
	linear := v.State.CS.Base + v.State.RIP
	code := v.evm.translate(linear)
	if code == nil {
		v.State.ExitReason = ExitTripleFault
		return true, 0
	}
	if len(code) > 15 {
		code = code[:15]
	}

	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		v.State.ExitReason = ExitTripleFault
		return true, 0
	}

	switch inst.Op {
	case x86asm.HLT:
		v.State.RIP += uint64(inst.Len)
		v.halted = true
		v.State.ExitReason = ExitHalt
		return true, 0

	case x86asm.OUT:
		port := v.decodePort(inst.Args[0])
		val, dataSize := getReg(v.State, regArg(inst.Args[1]))
		v.State.RIP += uint64(inst.Len)
		v.State.ExitReason = ExitIOOut
		v.State.IO = IOExit{Port: port, Size: uint8(dataSize), Value: uint32(val)}
		return true, 0

	case x86asm.IN:
		dst := regArg(inst.Args[0])
		_, dstSize := getReg(v.State, dst)
		port := v.decodePort(inst.Args[1])
		v.State.ExitReason = ExitIOIn
		v.State.IO = IOExit{Port: port, Size: uint8(dstSize)}
		v.pending = &pendingCompletion{kind: completeIn, dstReg: dst, dstSize: dstSize, instLen: inst.Len}
		return true, 0

	case x86asm.CPUID:
		v.State.ExitReason = ExitCPUID
		v.pending = &pendingCompletion{kind: completeCPUID, instLen: inst.Len}
		return true, 0

	case x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		return v.execMove(inst)

	default:
		v.State.ExitReason = ExitTripleFault
		return true, 0
	}
}

// decodePort extracts an OUT/IN port number from an operand that's
// either an immediate (OUT imm8, AL) or the DX register (OUT DX, AL) —
// DX's own 16-bit width has no bearing on the transfer size, which is
// the data operand's width (AL/AX/EAX), so only the value is wanted
// here.
func (v *VirtualCpu) decodePort(arg x86asm.Arg) uint16 {
	switch a := arg.(type) {
	case x86asm.Imm:
		return uint16(a)
	case x86asm.Reg:
		val, _ := getReg(v.State, a)
		return uint16(val)
	default:
		return 0
	}
}

func regArg(arg x86asm.Arg) x86asm.Reg {
	if r, ok := arg.(x86asm.Reg); ok {
		return r
	}
	return 0
}

// execMove executes a MOV between two registers, a register and an
// immediate, or a register and guest memory. A memory operand backed
// by a MapPage'd page is a plain RAM access executed in place
// (execution continues without exiting); a memory operand over an
// unmapped guest physical page is this interpreter's only way to
// recognize "this must be a device register", so it is reported as an
// MMIO exit instead (§4.11: devices with no RAM backing trap).
func (v *VirtualCpu) execMove(inst x86asm.Inst) (bool, defs.Err_t) {
	dst, src := inst.Args[0], inst.Args[1]

	if mem, ok := dst.(x86asm.Mem); ok {
		addr := v.memAddr(mem)
		size := inst.MemBytes
		if size == 0 {
			size = 8
		}
		val := v.readOperandValue(src, size)
		if bytes := v.evm.translate(addr); bytes != nil {
			putLE(bytes, val, size)
			v.State.RIP += uint64(inst.Len)
			return false, 0
		}
		v.State.ExitReason = ExitMMIOWrite
		v.State.MMIO = MMIOExit{GuestPhysAddr: addr, Value: val, Size: uint8(size)}
		v.State.RIP += uint64(inst.Len)
		return true, 0
	}

	if mem, ok := src.(x86asm.Mem); ok {
		addr := v.memAddr(mem)
		dstReg := regArg(dst)
		_, dstSize := getReg(v.State, dstReg)
		size := inst.MemBytes
		if size == 0 {
			size = dstSize
		}
		if bytes := v.evm.translate(addr); bytes != nil {
			val := getLE(bytes, size)
			setReg(v.State, dstReg, val, dstSize)
			v.State.RIP += uint64(inst.Len)
			return false, 0
		}
		v.State.ExitReason = ExitMMIORead
		v.State.MMIO = MMIOExit{GuestPhysAddr: addr, Size: uint8(size)}
		v.pending = &pendingCompletion{kind: completeMMIORead, dstReg: dstReg, dstSize: dstSize, instLen: inst.Len}
		return true, 0
	}

	// register <- register/immediate: no memory involved, never exits.
	dstReg := regArg(dst)
	_, dstSize := getReg(v.State, dstReg)
	val := v.readOperandValue(src, dstSize)
	setReg(v.State, dstReg, val, dstSize)
	v.State.RIP += uint64(inst.Len)
	return false, 0
}

func (v *VirtualCpu) readOperandValue(arg x86asm.Arg, size int) uint64 {
	switch a := arg.(type) {
	case x86asm.Imm:
		return uint64(a)
	case x86asm.Reg:
		val, _ := getReg(v.State, a)
		return val
	default:
		return 0
	}
}

// memAddr resolves a Mem operand to a flat guest physical address.
// This interpreter only targets the chipset bring-up style of code the
// EVM hello and MMIO scenarios use (base+disp, optionally an indexed
// access), with the segment always treated as flat (base 0): m.Segment
// and the segment registers' bases are not consulted.
func (v *VirtualCpu) memAddr(m x86asm.Mem) uint64 {
	var addr uint64
	if m.Base != 0 {
		val, _ := getReg(v.State, m.Base)
		addr += val
	}
	if m.Scale != 0 && m.Index != 0 {
		val, _ := getReg(v.State, m.Index)
		addr += val * uint64(m.Scale)
	}
	addr += uint64(m.Disp)
	return addr
}

func putLE(b []byte, val uint64, size int) {
	for i := 0; i < size && i < len(b); i++ {
		b[i] = byte(val >> (8 * i))
	}
}

func getLE(b []byte, size int) uint64 {
	var val uint64
	for i := 0; i < size && i < len(b); i++ {
		val |= uint64(b[i]) << (8 * i)
	}
	return val
}

type regFamily struct {
	r8, r16, r32, r64 x86asm.Reg
}

var regFamilies = []regFamily{
	{x86asm.AL, x86asm.AX, x86asm.EAX, x86asm.RAX},
	{x86asm.CL, x86asm.CX, x86asm.ECX, x86asm.RCX},
	{x86asm.DL, x86asm.DX, x86asm.EDX, x86asm.RDX},
	{x86asm.BL, x86asm.BX, x86asm.EBX, x86asm.RBX},
	{x86asm.SPB, x86asm.SP, x86asm.ESP, x86asm.RSP},
	{x86asm.BPB, x86asm.BP, x86asm.EBP, x86asm.RBP},
	{x86asm.SIB, x86asm.SI, x86asm.ESI, x86asm.RSI},
	{x86asm.DIB, x86asm.DI, x86asm.EDI, x86asm.RDI},
	{x86asm.R8B, x86asm.R8W, x86asm.R8L, x86asm.R8},
	{x86asm.R9B, x86asm.R9W, x86asm.R9L, x86asm.R9},
	{x86asm.R10B, x86asm.R10W, x86asm.R10L, x86asm.R10},
	{x86asm.R11B, x86asm.R11W, x86asm.R11L, x86asm.R11},
	{x86asm.R12B, x86asm.R12W, x86asm.R12L, x86asm.R12},
	{x86asm.R13B, x86asm.R13W, x86asm.R13L, x86asm.R13},
	{x86asm.R14B, x86asm.R14W, x86asm.R14L, x86asm.R14},
	{x86asm.R15B, x86asm.R15W, x86asm.R15L, x86asm.R15},
}

func regPtr(state *GuestState, r64 x86asm.Reg) *uint64 {
	switch r64 {
	case x86asm.RAX:
		return &state.RAX
	case x86asm.RCX:
		return &state.RCX
	case x86asm.RDX:
		return &state.RDX
	case x86asm.RBX:
		return &state.RBX
	case x86asm.RSP:
		return &state.RSP
	case x86asm.RBP:
		return &state.RBP
	case x86asm.RSI:
		return &state.RSI
	case x86asm.RDI:
		return &state.RDI
	case x86asm.R8:
		return &state.R8
	case x86asm.R9:
		return &state.R9
	case x86asm.R10:
		return &state.R10
	case x86asm.R11:
		return &state.R11
	case x86asm.R12:
		return &state.R12
	case x86asm.R13:
		return &state.R13
	case x86asm.R14:
		return &state.R14
	case x86asm.R15:
		return &state.R15
	default:
		return nil
	}
}

// getReg returns a register's current value and its width in bytes
// (1, 2, 4, or 8), or (0, 0) for a register this interpreter's guest
// code never needs (segment/control/FPU registers are read directly
// off GuestState by their own fields, not through this GPR path).
func getReg(state *GuestState, r x86asm.Reg) (uint64, int) {
	for _, f := range regFamilies {
		switch r {
		case f.r8:
			return *regPtr(state, f.r64) & 0xFF, 1
		case f.r16:
			return *regPtr(state, f.r64) & 0xFFFF, 2
		case f.r32:
			return *regPtr(state, f.r64) & 0xFFFFFFFF, 4
		case f.r64:
			return *regPtr(state, f.r64), 8
		}
	}
	return 0, 0
}

// setReg writes val into r, applying x86's sub-register masking rule:
// an 8/16-bit write leaves the rest of the 64-bit register untouched,
// a 32-bit write zero-extends and clears the upper 32 bits.
func setReg(state *GuestState, r x86asm.Reg, val uint64, size int) {
	for _, f := range regFamilies {
		var full x86asm.Reg
		switch r {
		case f.r8, f.r16, f.r32, f.r64:
			full = f.r64
		default:
			continue
		}
		p := regPtr(state, full)
		if p == nil {
			return
		}
		switch size {
		case 1:
			*p = (*p &^ 0xFF) | (val & 0xFF)
		case 2:
			*p = (*p &^ 0xFFFF) | (val & 0xFFFF)
		case 4:
			*p = val & 0xFFFFFFFF
		default:
			*p = val
		}
		return
	}
}
