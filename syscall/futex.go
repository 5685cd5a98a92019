package syscall

import (
	"encoding/binary"
	"time"

	"github.com/Qwinci/crescent-sub002/defs"
)

// sysFutexWait blocks the calling thread while the int32 at user
// address args[0] still equals args[1], up to args[2] nanoseconds (0
// or negative blocks forever) (SYS_FUTEX_WAIT).
func (k *Kernel) sysFutexWait(ctx *Context, args Args) (int64, defs.Err_t) {
	ptr := uintptr(args[0])
	expected := int32(args[1])
	timeout := time.Duration(int64(args[2]))

	acc := ctx.Accessor(k)
	load := func() (int32, defs.Err_t) {
		var buf [4]byte
		if err := acc.CopyIn(ptr, buf[:]); err != 0 {
			return 0, err
		}
		return int32(binary.LittleEndian.Uint32(buf[:])), 0
	}

	err := ctx.Proc.Futex.Wait(ptr, expected, load, timeout)
	return 0, err
}

// sysFutexWake wakes up to args[1] threads blocked on the futex word at
// user address args[0] (SYS_FUTEX_WAKE).
func (k *Kernel) sysFutexWake(ctx *Context, args Args) (int64, defs.Err_t) {
	n := ctx.Proc.Futex.Wake(uintptr(args[0]), int(args[1]))
	return int64(n), 0
}
