package syscall

import (
	"time"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/proc"
)

// sysCloseHandle drops the caller's reference to a handle (SYS_CLOSE_HANDLE).
func (k *Kernel) sysCloseHandle(ctx *Context, args Args) (int64, defs.Err_t) {
	err := ctx.Proc.Handles.Remove(defs.Handle_t(args[0]))
	return 0, err
}

// sysMoveHandle transfers a handle from the caller's table into the
// process named by args[1] (SYS_MOVE_HANDLE, §8 scenario 3).
func (k *Kernel) sysMoveHandle(ctx *Context, args Args) (int64, defs.Err_t) {
	dest, err := k.lookupProcess(defs.Pid_t(args[1]))
	if err != 0 {
		return 0, err
	}
	h, err := ctx.Proc.Handles.Move(defs.Handle_t(args[0]), dest.Handles)
	if err != 0 {
		return 0, err
	}
	return int64(h), 0
}

// pollable is implemented by every handle.Object kind with readiness
// to report (OpenFile, Socket_i); DeviceHandle and process/thread
// descriptors are not pollable through this path.
type pollable interface {
	Poll() *event.Event
}

// sysPollEvent waits for h's readiness event, up to args[1] nanoseconds
// (SYS_POLL_EVENT). A negative timeout blocks indefinitely; a zero
// timeout polls once without meaningfully blocking. Returns 1 if the
// event fired, 0 on timeout.
func (k *Kernel) sysPollEvent(ctx *Context, args Args) (int64, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	p, ok := obj.(pollable)
	if !ok {
		return 0, defs.ErrUnsupported
	}

	timeoutNs := int64(args[1])
	var timeout time.Duration
	switch {
	case timeoutNs < 0:
		timeout = 0 // Event's own "block forever" convention
	case timeoutNs == 0:
		timeout = time.Nanosecond
	default:
		timeout = time.Duration(timeoutNs)
	}

	if p.Poll().WaitWithTimeout(timeout) {
		return 1, 0
	}
	return 0, 0
}

// sysReplaceStdHandle designates which existing handle fills stdin(0)/
// stdout(1)/stderr(2) for the calling process (SYS_REPLACE_STD_HANDLE).
func (k *Kernel) sysReplaceStdHandle(ctx *Context, args Args) (int64, defs.Err_t) {
	which := int(args[0])
	if which < 0 || which > 2 {
		return 0, defs.ErrInvalidArgument
	}
	h := defs.Handle_t(args[1])
	if _, err := ctx.Proc.Handles.Get(h); err != 0 {
		return 0, err
	}
	ctx.Proc.StdHandles[proc.StdHandle(which)] = h
	return 0, 0
}
