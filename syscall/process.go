package syscall

import (
	"runtime"
	"time"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/proc"
	"github.com/Qwinci/crescent-sub002/util"
)

// sysThreadCreate adds a new thread to the calling process and queues
// it onto the dispatcher's scheduler (SYS_THREAD_CREATE). Entry,
// stack-top, and arg (args[0..2]) describe where user-mode execution
// should resume; this rewrite has no user-mode entry trampoline of its
// own (goroutines stand in for threads, §1/proc package doc), so
// actually invoking entry is left to whatever runs the returned
// thread's goroutine body — the bookkeeping half lives here, the same
// split sched keeps between itself and the Go runtime scheduler.
func (k *Kernel) sysThreadCreate(ctx *Context, args Args) (int64, defs.Err_t) {
	t := k.NewThread(ctx.Proc)
	return int64(t.Tid), 0
}

// sysThreadExit retires only the calling thread (SYS_THREAD_EXIT).
func (k *Kernel) sysThreadExit(ctx *Context, args Args) (int64, defs.Err_t) {
	k.CPU.Exit(ctx.Thread, int32(args[0]))
	return 0, 0
}

// sysProcessCreate spawns a child process with one bootstrap thread,
// returning a ProcessDescriptor handle in the caller's table (so a
// future wait on it observes PROCESS_EXIT) and copying the new pid out
// through args[0] if non-nil, per §3's handle-based surface layered
// over the plain pid KILL/GET_STATUS address by.
func (k *Kernel) sysProcessCreate(ctx *Context, args Args) (int64, defs.Err_t) {
	child := k.NewProcess()
	k.NewThread(child)

	desc := proc.NewProcessDescriptor(child)
	h, err := ctx.Proc.Handles.Insert(desc)
	if err != 0 {
		return 0, err
	}

	if args[0] != 0 {
		var buf [8]byte
		util.Writen64(buf[:], 0, uint64(child.Pid))
		if cerr := ctx.Accessor(k).CopyOut(uintptr(args[0]), buf[:]); cerr != 0 {
			return 0, cerr
		}
	}
	return int64(h), 0
}

// sysProcessExit terminates the calling process: it marks the process
// exited and killed (the flags only; its other threads are not
// stopped), retires the calling thread, and any descriptor holder's
// Wait unblocks with status (SYS_PROCESS_EXIT, the one call that never
// returns on real hardware; here it still returns so the caller's
// scheduling loop can tear the thread down).
func (k *Kernel) sysProcessExit(ctx *Context, args Args) (int64, defs.Err_t) {
	status := int32(args[0])
	ctx.Proc.Exit(status)
	k.CPU.Exit(ctx.Thread, status)
	return 0, 0
}

// sysKill marks the process named by pid (args[0]) killed, per §6.1
// KILL, through proc.Process.Kill, which only sets flags: the target's
// threads are not stopped or exited by this call.
func (k *Kernel) sysKill(ctx *Context, args Args) (int64, defs.Err_t) {
	p, err := k.lookupProcess(defs.Pid_t(args[0]))
	if err != 0 {
		return 0, err
	}
	p.Kill()
	return 0, 0
}

// sysGetStatus reports pid's lifecycle: 0 running, 1 killed (teardown
// in progress), 2 exited.
func (k *Kernel) sysGetStatus(ctx *Context, args Args) (int64, defs.Err_t) {
	p, err := k.lookupProcess(defs.Pid_t(args[0]))
	if err != 0 {
		return 0, err
	}
	switch {
	case p.Exited():
		return 2, 0
	case p.Killed():
		return 1, 0
	default:
		return 0, 0
	}
}

// sysSleep blocks the calling thread for args[0] nanoseconds
// (SYS_SLEEP). Real hardware can interrupt a sleeping thread mid-wait
// via an IPI that sets sleep_interrupted (§5); this rewrite has no
// preemption primitive able to interrupt a blocked goroutine, so a
// killed process's sleeping threads simply finish their sleep instead
// of waking early.
func (k *Kernel) sysSleep(ctx *Context, args Args) (int64, defs.Err_t) {
	ns := int64(args[0])
	if ns < 0 {
		return 0, defs.ErrInvalidArgument
	}
	ctx.Thread.Note.SetSleeping()
	time.Sleep(time.Duration(ns))
	ctx.Thread.Note.SetWaiting()
	return 0, 0
}

// sysGetTime returns nanoseconds since the Unix epoch (SYS_GET_TIME).
func (k *Kernel) sysGetTime(ctx *Context, args Args) (int64, defs.Err_t) {
	return time.Now().UnixNano(), 0
}

// sysGetDateTime copies a broken-down UTC calendar time out to args[0]
// as seven little-endian uint64 fields (year, month, day, hour,
// minute, second, nanosecond), per SYS_GET_DATE_TIME.
func (k *Kernel) sysGetDateTime(ctx *Context, args Args) (int64, defs.Err_t) {
	now := time.Now().UTC()
	buf := make([]byte, 56)
	util.Writen64(buf, 0, uint64(now.Year()))
	util.Writen64(buf, 8, uint64(now.Month()))
	util.Writen64(buf, 16, uint64(now.Day()))
	util.Writen64(buf, 24, uint64(now.Hour()))
	util.Writen64(buf, 32, uint64(now.Minute()))
	util.Writen64(buf, 40, uint64(now.Second()))
	util.Writen64(buf, 48, uint64(now.Nanosecond()))
	if err := ctx.Accessor(k).CopyOut(uintptr(args[0]), buf); err != 0 {
		return 0, err
	}
	return 0, 0
}

// sysGetArchInfo copies a small architecture descriptor (online CPU
// count, page size) out to args[0], per SYS_GET_ARCH_INFO.
func (k *Kernel) sysGetArchInfo(ctx *Context, args Args) (int64, defs.Err_t) {
	buf := make([]byte, 16)
	util.Writen64(buf, 0, uint64(runtime.NumCPU()))
	util.Writen64(buf, 8, uint64(defs.PageSize))
	if err := ctx.Accessor(k).CopyOut(uintptr(args[0]), buf); err != 0 {
		return 0, err
	}
	return 0, 0
}
