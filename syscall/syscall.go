// Package syscall implements §4.8's dispatcher and §6.1's call table:
// the boundary between a user thread trapping into the kernel and
// every other kernel package. The dispatcher itself owns almost no
// policy — it decodes a call number and six argument registers (the
// x86-64 syscall convention: rdi, rsi, rdx, r10, r8, r9), validates
// every pointer argument through UserAccessor, and forwards to the
// owning package (proc, handle, vfs, socket, device, evm, futex,
// service, net).
//
// Grounded on biscuit/src/vm/as.go's Userdmap8r: a fault-catching,
// bounds-checked copy between kernel and user memory that never lets a
// bad user pointer become a kernel panic — "any fault while touching
// user memory becomes ERR_FAULT" (§4.8) is exactly Userdmap8r's
// contract, reimplemented in useraccessor.go against pagemap+pmm
// instead of a real page-fault handler.
package syscall

import (
	"sync"
	"time"

	"github.com/Qwinci/crescent-sub002/bootinfo"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/device"
	"github.com/Qwinci/crescent-sub002/kheap"
	"github.com/Qwinci/crescent-sub002/klog"
	"github.com/Qwinci/crescent-sub002/net"
	"github.com/Qwinci/crescent-sub002/pagemap"
	"github.com/Qwinci/crescent-sub002/pmm"
	"github.com/Qwinci/crescent-sub002/proc"
	"github.com/Qwinci/crescent-sub002/rand"
	"github.com/Qwinci/crescent-sub002/sched"
	"github.com/Qwinci/crescent-sub002/service"
	"github.com/Qwinci/crescent-sub002/vfs"
)

// Num is a syscall number, the complete list of §6.1.
type Num int

const (
	SysThreadCreate Num = iota
	SysThreadExit
	SysProcessCreate
	SysProcessExit
	SysKill
	SysGetStatus
	SysGetThreadID
	SysSleep
	SysGetTime
	SysGetDateTime
	SysSyslog
	SysMap
	SysUnmap
	SysDevlink
	SysCloseHandle
	SysMoveHandle
	SysPollEvent
	SysShutdown
	SysOpenAt
	SysRead
	SysWrite
	SysSeek
	SysStat
	SysListDir
	SysPipeCreate
	SysReplaceStdHandle
	SysServiceCreate
	SysServiceGet
	SysSocketCreate
	SysSocketConnect
	SysSocketListen
	SysSocketAccept
	SysSocketSend
	SysSocketReceive
	SysSocketSendTo
	SysSocketReceiveFrom
	SysSocketGetPeerName
	SysSharedMemAlloc
	SysSharedMemMap
	SysSharedMemShare
	SysFutexWait
	SysFutexWake
	SysSetFSBase
	SysGetFSBase
	SysSetGSBase
	SysGetGSBase
	SysGetArchInfo
	SysEvmCreate
	SysEvmCreateVcpu
	SysEvmMap
	SysEvmUnmap
	SysEvmVcpuRun
	SysEvmVcpuWriteState
	SysEvmVcpuReadState
	SysEvmVcpuTriggerIrq

	numSyscalls
)

// Args is the six-register argument vector every syscall is handed,
// mirroring the x86-64 syscall ABI's rdi/rsi/rdx/r10/r8/r9 (§6.1:
// "argument registers").
type Args [6]uint64

// Context is the per-call environment the dispatcher hands every
// handler: which thread trapped in, and (derived from it) which
// process and UserAccessor to use.
type Context struct {
	Proc   *proc.Process
	Thread *proc.Thread
	ua     *UserAccessor
}

// Accessor returns the UserAccessor bound to this call's process
// address space, constructing it lazily.
func (c *Context) Accessor(k *Kernel) *UserAccessor {
	if c.ua == nil {
		c.ua = NewUserAccessor(c.Proc.PageMap, k.PMM)
	}
	return c.ua
}

// Kernel is every piece of global kernel state a syscall handler might
// need to reach, threaded through explicitly instead of via package
// globals so tests can construct an isolated instance per §4.8's
// description of the dispatcher's collaborators.
type Kernel struct {
	KernelMap *pagemap.PageMap
	PMM       *pmm.Allocator
	Heap      *kheap.Heap
	Devices   *device.Registry
	Services  *service.Registry
	Root      vfs.VNode_i
	Nic       *net.Nic
	Log       *klog.Ring
	Boot      *bootinfo.Info

	CPU *sched.CPU

	mu        sync.Mutex
	nextPid   defs.Pid_t
	nextTid   defs.Tid_t
	processes map[defs.Pid_t]*proc.Process

	vaMu    sync.Mutex
	vaNext  map[defs.Pid_t]uintptr
	bootNs  int64
}

// NewKernel constructs the dispatcher state around the subsystems
// cmd/kernel's boot sequence has already brought up.
func NewKernel(kernelMap *pagemap.PageMap, alloc *pmm.Allocator) *Kernel {
	seedEntropy()
	return &Kernel{
		KernelMap: kernelMap,
		PMM:       alloc,
		Heap:      kheap.New(alloc, nil),
		Devices:   device.NewRegistry(),
		Services:  service.NewRegistry(),
		Log:       klog.Default,
		CPU:       sched.NewCPU(0),
		processes: make(map[defs.Pid_t]*proc.Process),
		vaNext:    make(map[defs.Pid_t]uintptr),
		bootNs:    time.Now().UnixNano(),
	}
}

// seedEntropy folds a boot-time sample into the global entropy pool,
// mirroring §4.13's irq-folding path for the one "interrupt" this
// dispatcher can observe before real device IRQs exist: its own
// construction time.
func seedEntropy() {
	now := time.Now()
	rand.Global.FoldIRQ(0, 0, uint64(now.UnixNano()), 0, 0)
}

const userVaBase = uintptr(0x10_0000_0000) // 64GiB mark: clear of any low-memory identity mapping, far below pagemap.HighHalfBase

// allocUserVA bump-allocates npages contiguous user-virtual pages for
// pid, never reused within the process's lifetime — SYS_MAP and
// SHARED_MEM_MAP's placement policy (§3 SharedMemory/§4.2 MAP have no
// stated placement algorithm beyond "the kernel chooses the range").
func (k *Kernel) allocUserVA(pid defs.Pid_t, npages int) uintptr {
	k.vaMu.Lock()
	defer k.vaMu.Unlock()
	base, ok := k.vaNext[pid]
	if !ok {
		base = userVaBase
	}
	k.vaNext[pid] = base + uintptr(npages)*defs.PageSize
	return base
}

// RegisterProcess inserts p under its own Pid, for pid-addressed calls
// (KILL, GET_STATUS) and for the boot sequence's first process.
func (k *Kernel) RegisterProcess(p *proc.Process) {
	k.mu.Lock()
	k.processes[p.Pid] = p
	k.mu.Unlock()
}

func (k *Kernel) lookupProcess(pid defs.Pid_t) (*proc.Process, defs.Err_t) {
	k.mu.Lock()
	p, ok := k.processes[pid]
	k.mu.Unlock()
	if !ok {
		return nil, defs.ErrNotExists
	}
	return p, 0
}

// processCount reports how many processes are currently registered, a
// debug counter for the log/profile dump syscall path.
func (k *Kernel) processCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.processes)
}

// NewProcess allocates a fresh pid and an empty Process (SYS_PROCESS_CREATE
// and the boot sequence's first-process construction share this path).
func (k *Kernel) NewProcess() *proc.Process {
	k.mu.Lock()
	k.nextPid++
	pid := k.nextPid
	k.mu.Unlock()

	p := proc.New(pid, k.KernelMap)
	k.RegisterProcess(p)
	return p
}

// NewThread allocates a fresh tid and a Thread attached to p, queueing
// it onto the dispatcher's CPU (SYS_THREAD_CREATE, and the boot
// sequence's first thread).
func (k *Kernel) NewThread(p *proc.Process) *proc.Thread {
	k.mu.Lock()
	k.nextTid++
	tid := k.nextTid
	k.mu.Unlock()

	t := &proc.Thread{Tid: tid, Proc: p, PinCPU: -1}
	p.AddThread(t)
	k.CPU.Queue(t)
	return t
}

// Dispatch decodes num and forwards to the owning handler. Every
// pointer-shaped argument the handler needs is copied through
// ctx.Accessor(k) rather than dereferenced directly, per §6.1: "all
// pointer arguments are verified by UserAccessor, never dereferenced
// directly." SYS_PROCESS_EXIT is the only call that does not return to
// its caller in the real kernel; here it still returns normally so the
// caller (the scheduler loop, in cmd/kernel) can tear the thread down.
func (k *Kernel) Dispatch(ctx *Context, num Num, args Args) (int64, defs.Err_t) {
	start := ctx.Thread.Accnt.Now()
	defer ctx.Thread.Accnt.Finish(start)

	switch num {
	case SysThreadCreate:
		return k.sysThreadCreate(ctx, args)
	case SysThreadExit:
		return k.sysThreadExit(ctx, args)
	case SysProcessCreate:
		return k.sysProcessCreate(ctx, args)
	case SysProcessExit:
		return k.sysProcessExit(ctx, args)
	case SysKill:
		return k.sysKill(ctx, args)
	case SysGetStatus:
		return k.sysGetStatus(ctx, args)
	case SysGetThreadID:
		return int64(ctx.Thread.Tid), 0
	case SysSleep:
		return k.sysSleep(ctx, args)
	case SysGetTime:
		return k.sysGetTime(ctx, args)
	case SysGetDateTime:
		return k.sysGetDateTime(ctx, args)
	case SysSyslog:
		return k.sysSyslog(ctx, args)
	case SysMap:
		return k.sysMap(ctx, args)
	case SysUnmap:
		return k.sysUnmap(ctx, args)
	case SysDevlink:
		return k.sysDevlink(ctx, args)
	case SysCloseHandle:
		return k.sysCloseHandle(ctx, args)
	case SysMoveHandle:
		return k.sysMoveHandle(ctx, args)
	case SysPollEvent:
		return k.sysPollEvent(ctx, args)
	case SysShutdown:
		return k.sysShutdown(ctx, args)
	case SysOpenAt:
		return k.sysOpenAt(ctx, args)
	case SysRead:
		return k.sysRead(ctx, args)
	case SysWrite:
		return k.sysWrite(ctx, args)
	case SysSeek:
		return k.sysSeek(ctx, args)
	case SysStat:
		return k.sysStat(ctx, args)
	case SysListDir:
		return k.sysListDir(ctx, args)
	case SysPipeCreate:
		return k.sysPipeCreate(ctx, args)
	case SysReplaceStdHandle:
		return k.sysReplaceStdHandle(ctx, args)
	case SysServiceCreate:
		return k.sysServiceCreate(ctx, args)
	case SysServiceGet:
		return k.sysServiceGet(ctx, args)
	case SysSocketCreate:
		return k.sysSocketCreate(ctx, args)
	case SysSocketConnect:
		return k.sysSocketConnect(ctx, args)
	case SysSocketListen:
		return k.sysSocketListen(ctx, args)
	case SysSocketAccept:
		return k.sysSocketAccept(ctx, args)
	case SysSocketSend:
		return k.sysSocketSend(ctx, args)
	case SysSocketReceive:
		return k.sysSocketReceive(ctx, args)
	case SysSocketSendTo:
		return k.sysSocketSendTo(ctx, args)
	case SysSocketReceiveFrom:
		return k.sysSocketReceiveFrom(ctx, args)
	case SysSocketGetPeerName:
		return k.sysSocketGetPeerName(ctx, args)
	case SysSharedMemAlloc:
		return k.sysSharedMemAlloc(ctx, args)
	case SysSharedMemMap:
		return k.sysSharedMemMap(ctx, args)
	case SysSharedMemShare:
		return k.sysSharedMemShare(ctx, args)
	case SysFutexWait:
		return k.sysFutexWait(ctx, args)
	case SysFutexWake:
		return k.sysFutexWake(ctx, args)
	case SysSetFSBase:
		ctx.Thread.FSBase = args[0]
		return 0, 0
	case SysGetFSBase:
		return int64(ctx.Thread.FSBase), 0
	case SysSetGSBase:
		ctx.Thread.GSBase = args[0]
		return 0, 0
	case SysGetGSBase:
		return int64(ctx.Thread.GSBase), 0
	case SysGetArchInfo:
		return k.sysGetArchInfo(ctx, args)
	case SysEvmCreate:
		return k.sysEvmCreate(ctx, args)
	case SysEvmCreateVcpu:
		return k.sysEvmCreateVcpu(ctx, args)
	case SysEvmMap:
		return k.sysEvmMap(ctx, args)
	case SysEvmUnmap:
		return k.sysEvmUnmap(ctx, args)
	case SysEvmVcpuRun:
		return k.sysEvmVcpuRun(ctx, args)
	case SysEvmVcpuWriteState:
		return k.sysEvmVcpuWriteState(ctx, args)
	case SysEvmVcpuReadState:
		return k.sysEvmVcpuReadState(ctx, args)
	case SysEvmVcpuTriggerIrq:
		return k.sysEvmVcpuTriggerIrq(ctx, args)
	default:
		return 0, defs.ErrInvalidArgument
	}
}
