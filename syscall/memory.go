package syscall

import (
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/handle"
	"github.com/Qwinci/crescent-sub002/pagemap"
)

var _ handle.Object = (*SharedMemory)(nil)

// mapProt bits for SYS_MAP's args[1], narrowed to what pagemap exposes.
const (
	ProtWrite = 1 << 0
	ProtExec  = 1 << 1 // accepted but not separately enforced; this rewrite has no NX bit to flip
)

// sysMap allocates args[0] bytes of fresh anonymous memory and maps it
// into the caller's address space at a kernel-chosen base (SYS_MAP),
// returning that base.
func (k *Kernel) sysMap(ctx *Context, args Args) (int64, defs.Err_t) {
	size := int(args[0])
	if size <= 0 {
		return 0, defs.ErrInvalidArgument
	}
	npages := (size + defs.PageSize - 1) / defs.PageSize
	flags := pagemap.PTE_U
	if args[1]&ProtWrite != 0 {
		flags |= pagemap.PTE_W
	}

	base := k.allocUserVA(ctx.Proc.Pid, npages)
	for i := 0; i < npages; i++ {
		p, err := k.PMM.Pmalloc()
		if err != 0 {
			k.unmapRange(ctx, base, i)
			return 0, err
		}
		va := base + uintptr(i)*defs.PageSize
		if merr := ctx.Proc.PageMap.Map(va, p, flags); merr != 0 {
			k.PMM.Pfree(p)
			k.unmapRange(ctx, base, i)
			return 0, merr
		}
	}
	return int64(base), 0
}

func (k *Kernel) unmapRange(ctx *Context, base uintptr, npages int) {
	for i := 0; i < npages; i++ {
		va := base + uintptr(i)*defs.PageSize
		if p, err := ctx.Proc.PageMap.Unmap(va); err == 0 {
			k.PMM.Pfree(p)
		}
	}
}

// sysUnmap reverses sysMap over [args[0], args[0]+args[1]) (SYS_UNMAP).
func (k *Kernel) sysUnmap(ctx *Context, args Args) (int64, defs.Err_t) {
	base := uintptr(args[0])
	size := int(args[1])
	if size <= 0 {
		return 0, defs.ErrInvalidArgument
	}
	npages := (size + defs.PageSize - 1) / defs.PageSize
	for i := 0; i < npages; i++ {
		va := base + uintptr(i)*defs.PageSize
		p, err := ctx.Proc.PageMap.Unmap(va)
		if err != 0 {
			return 0, err
		}
		k.PMM.Pfree(p)
	}
	return 0, 0
}

// sysSharedMemAlloc allocates args[0] bytes of shared memory and
// returns a handle to it (SYS_SHARED_MEM_ALLOC).
func (k *Kernel) sysSharedMemAlloc(ctx *Context, args Args) (int64, defs.Err_t) {
	sm, err := newSharedMemory(k.PMM, int(args[0]))
	if err != 0 {
		return 0, err
	}
	h, err := ctx.Proc.Handles.Insert(sm)
	if err != 0 {
		sm.Close()
		return 0, err
	}
	return int64(h), 0
}

// sysSharedMemMap maps the shared memory named by the handle in
// args[0] into the caller's address space, returning the chosen base
// (SYS_SHARED_MEM_MAP).
func (k *Kernel) sysSharedMemMap(ctx *Context, args Args) (int64, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	sm, ok := obj.(*SharedMemory)
	if !ok {
		return 0, defs.ErrInvalidArgument
	}

	base := k.allocUserVA(ctx.Proc.Pid, len(sm.pages))
	for i, p := range sm.pages {
		va := base + uintptr(i)*defs.PageSize
		if merr := ctx.Proc.PageMap.Map(va, p, pagemap.PTE_U|pagemap.PTE_W); merr != 0 {
			k.unmapRange(ctx, base, i)
			return 0, merr
		}
	}
	return int64(base), 0
}

// sysSharedMemShare installs a second handle-table entry in the
// caller's own table referencing the same SharedMemory object,
// incrementing its holder count, so the caller can MOVE_HANDLE one
// copy to a peer while keeping the other (SYS_SHARED_MEM_SHARE).
func (k *Kernel) sysSharedMemShare(ctx *Context, args Args) (int64, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	sm, ok := obj.(*SharedMemory)
	if !ok {
		return 0, defs.ErrInvalidArgument
	}
	sm.addRef()
	h, err := ctx.Proc.Handles.Insert(sm)
	if err != 0 {
		sm.Close()
		return 0, err
	}
	return int64(h), 0
}
