package syscall

import (
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/evm"
	"github.com/Qwinci/crescent-sub002/util"
)

// sysEvmCreate creates a new virtual machine address space, inserting
// a handle (SYS_EVM_CREATE).
func (k *Kernel) sysEvmCreate(ctx *Context, args Args) (int64, defs.Err_t) {
	e := evm.New(k.PMM)
	h, err := ctx.Proc.Handles.Insert(e)
	if err != 0 {
		e.Close()
		return 0, err
	}
	return int64(h), 0
}

func (k *Kernel) evmOf(ctx *Context, h defs.Handle_t) (*evm.Evm, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(h)
	if err != 0 {
		return nil, err
	}
	e, ok := obj.(*evm.Evm)
	if !ok {
		return nil, defs.ErrInvalidArgument
	}
	return e, 0
}

func (k *Kernel) vcpuOf(ctx *Context, h defs.Handle_t) (*evm.VirtualCpu, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(h)
	if err != 0 {
		return nil, err
	}
	v, ok := obj.(*evm.VirtualCpu)
	if !ok {
		return nil, defs.ErrInvalidArgument
	}
	return v, 0
}

// sysEvmCreateVcpu creates a vcpu within the machine named by args[0],
// inserting a handle (SYS_EVM_CREATE_VCPU).
func (k *Kernel) sysEvmCreateVcpu(ctx *Context, args Args) (int64, defs.Err_t) {
	e, err := k.evmOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	vcpu, err := e.CreateVcpu()
	if err != 0 {
		return 0, err
	}
	h, err := ctx.Proc.Handles.Insert(vcpu)
	if err != 0 {
		vcpu.Close()
		return 0, err
	}
	return int64(h), 0
}

// sysEvmMap maps host physical page args[2] at guest physical address
// args[1] within the machine named by args[0] (SYS_EVM_MAP).
func (k *Kernel) sysEvmMap(ctx *Context, args Args) (int64, defs.Err_t) {
	e, err := k.evmOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	return 0, e.MapPage(args[1], args[2])
}

// sysEvmUnmap removes the guest physical page args[1]'s mapping within
// the machine named by args[0] (SYS_EVM_UNMAP).
func (k *Kernel) sysEvmUnmap(ctx *Context, args Args) (int64, defs.Err_t) {
	e, err := k.evmOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	return 0, e.UnmapPage(args[1])
}

// sysEvmVcpuRun resumes the vcpu named by args[0] until it exits,
// copying the resulting guest state out to args[1] (SYS_EVM_VCPU_RUN).
func (k *Kernel) sysEvmVcpuRun(ctx *Context, args Args) (int64, defs.Err_t) {
	v, err := k.vcpuOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	if rerr := v.Run(); rerr != 0 {
		return 0, rerr
	}
	st, serr := v.ReadState(evm.StateAll)
	if serr != 0 {
		return 0, serr
	}
	if args[1] != 0 {
		if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), encodeGuestState(st)); cerr != 0 {
			return 0, cerr
		}
	}
	return int64(st.ExitReason), 0
}

// sysEvmVcpuWriteState overwrites the vcpu named by args[0]'s register
// file from the encoded GuestState at user memory args[2]; args[1]
// names which groups changed, mirroring write_state's mask argument
// (SYS_EVM_VCPU_WRITE_STATE).
func (k *Kernel) sysEvmVcpuWriteState(ctx *Context, args Args) (int64, defs.Err_t) {
	v, err := k.vcpuOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, guestStateSize)
	if cerr := ctx.Accessor(k).CopyIn(uintptr(args[2]), buf); cerr != 0 {
		return 0, cerr
	}
	decodeGuestStateInto(v.State, buf, evm.StateBits(args[1]))
	return 0, v.WriteState(evm.StateBits(args[1]))
}

// sysEvmVcpuReadState copies the vcpu named by args[0]'s full guest
// state out to user memory at args[2] (SYS_EVM_VCPU_READ_STATE).
func (k *Kernel) sysEvmVcpuReadState(ctx *Context, args Args) (int64, defs.Err_t) {
	v, err := k.vcpuOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	st, rerr := v.ReadState(evm.StateBits(args[1]))
	if rerr != 0 {
		return 0, rerr
	}
	if cerr := ctx.Accessor(k).CopyOut(uintptr(args[2]), encodeGuestState(st)); cerr != 0 {
		return 0, cerr
	}
	return 0, 0
}

// sysEvmVcpuTriggerIrq delivers the IrqInfo encoded at user memory
// args[1] to the vcpu named by args[0] (SYS_EVM_VCPU_TRIGGER_IRQ).
func (k *Kernel) sysEvmVcpuTriggerIrq(ctx *Context, args Args) (int64, defs.Err_t) {
	v, err := k.vcpuOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, 16)
	if cerr := ctx.Accessor(k).CopyIn(uintptr(args[1]), buf); cerr != 0 {
		return 0, cerr
	}
	info := evm.IrqInfo{
		Type:  evm.IrqType(util.Readn64(buf, 0)),
		Vec:   uint32(util.Readn64(buf, 4)),
		Error: uint32(util.Readn64(buf, 8)),
	}
	return 0, v.TriggerIrq(info)
}

// guestStateSize is the fixed wire width of an encoded GuestState: the
// sixteen general-purpose registers, rip/rflags, and the exit reason,
// all as little-endian uint64 fields. Segment registers, control
// registers and the exit's IO/MMIO detail are not round-tripped through
// this ABI surface; of write_state's mask groups (§4.11's
// "EVM_VCPU_WRITE_STATE"), only GP/RIP/RSP/RFlags are applied.
const guestStateSize = 8 * 19

func encodeGuestState(st evm.GuestState) []byte {
	buf := make([]byte, guestStateSize)
	util.Writen64(buf, 0, st.RAX)
	util.Writen64(buf, 8, st.RBX)
	util.Writen64(buf, 16, st.RCX)
	util.Writen64(buf, 24, st.RDX)
	util.Writen64(buf, 32, st.RDI)
	util.Writen64(buf, 40, st.RSI)
	util.Writen64(buf, 48, st.RBP)
	util.Writen64(buf, 56, st.RSP)
	util.Writen64(buf, 64, st.R8)
	util.Writen64(buf, 72, st.R9)
	util.Writen64(buf, 80, st.R10)
	util.Writen64(buf, 88, st.R11)
	util.Writen64(buf, 96, st.R12)
	util.Writen64(buf, 104, st.R13)
	util.Writen64(buf, 112, st.R14)
	util.Writen64(buf, 120, st.R15)
	util.Writen64(buf, 128, st.RIP)
	util.Writen64(buf, 136, st.RFlags)
	util.Writen64(buf, 144, uint64(st.ExitReason))
	return buf
}

// decodeGuestStateInto overwrites only the register groups named by
// mask on dst, leaving everything else (segment registers, the
// previous exit's IO/MMIO detail) untouched.
func decodeGuestStateInto(dst *evm.GuestState, buf []byte, mask evm.StateBits) {
	if mask&evm.StateGPRegs != 0 {
		dst.RAX = util.Readn64(buf, 0)
		dst.RBX = util.Readn64(buf, 8)
		dst.RCX = util.Readn64(buf, 16)
		dst.RDX = util.Readn64(buf, 24)
		dst.RDI = util.Readn64(buf, 32)
		dst.RSI = util.Readn64(buf, 40)
		dst.RBP = util.Readn64(buf, 48)
		dst.R8 = util.Readn64(buf, 64)
		dst.R9 = util.Readn64(buf, 72)
		dst.R10 = util.Readn64(buf, 80)
		dst.R11 = util.Readn64(buf, 88)
		dst.R12 = util.Readn64(buf, 96)
		dst.R13 = util.Readn64(buf, 104)
		dst.R14 = util.Readn64(buf, 112)
		dst.R15 = util.Readn64(buf, 120)
	}
	if mask&evm.StateRSP != 0 {
		dst.RSP = util.Readn64(buf, 56)
	}
	if mask&evm.StateRIP != 0 {
		dst.RIP = util.Readn64(buf, 128)
	}
	if mask&evm.StateRFlags != 0 {
		dst.RFlags = util.Readn64(buf, 136)
	}
}
