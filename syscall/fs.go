package syscall

import (
	"github.com/Qwinci/crescent-sub002/bpath"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/ustr"
	"github.com/Qwinci/crescent-sub002/util"
	"github.com/Qwinci/crescent-sub002/vfs"
)

// resolve walks k.Root down path's components, the namespace lookup
// every OPEN_AT-family call shares.
func (k *Kernel) resolve(path ustr.Ustr) (vfs.VNode_i, defs.Err_t) {
	node := k.Root
	for _, comp := range bpath.Canonicalize(path).Split() {
		next, err := node.Lookup(comp)
		if err != 0 {
			return nil, err
		}
		node = next
	}
	return node, 0
}

// sysOpenAt resolves a NUL-terminated path at args[0] (max 4096 bytes)
// and opens it with the mode in args[1], inserting an OpenFile handle
// (SYS_OPEN_AT).
func (k *Kernel) sysOpenAt(ctx *Context, args Args) (int64, defs.Err_t) {
	path, err := ctx.Accessor(k).CopyInString(uintptr(args[0]), 4096)
	if err != 0 {
		return 0, err
	}
	node, err := k.resolve(ustr.MkUstr(path))
	if err != 0 {
		return 0, err
	}
	of := vfs.NewOpenFile(node, vfs.OpenMode(args[1]))
	h, err := ctx.Proc.Handles.Insert(of)
	if err != 0 {
		return 0, err
	}
	return int64(h), 0
}

func (k *Kernel) openFileOf(ctx *Context, h defs.Handle_t) (*vfs.OpenFile, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(h)
	if err != 0 {
		return nil, err
	}
	of, ok := obj.(*vfs.OpenFile)
	if !ok {
		return nil, defs.ErrInvalidArgument
	}
	return of, 0
}

// sysRead reads up to args[2] bytes from handle args[0] into user
// buffer args[1] (SYS_READ).
func (k *Kernel) sysRead(ctx *Context, args Args) (int64, defs.Err_t) {
	of, err := k.openFileOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	n := int(args[2])
	if n < 0 {
		return 0, defs.ErrInvalidArgument
	}
	buf, release, err := k.stageBuffer(n)
	if err != 0 {
		return 0, err
	}
	defer release()
	got, err := of.Read(buf)
	if err != 0 {
		return 0, err
	}
	if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), buf[:got]); cerr != 0 {
		return 0, cerr
	}
	return int64(got), 0
}

// sysWrite writes args[2] bytes from user buffer args[1] to handle
// args[0] (SYS_WRITE).
func (k *Kernel) sysWrite(ctx *Context, args Args) (int64, defs.Err_t) {
	of, err := k.openFileOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	n := int(args[2])
	if n < 0 {
		return 0, defs.ErrInvalidArgument
	}
	buf, release, err := k.stageBuffer(n)
	if err != 0 {
		return 0, err
	}
	defer release()
	if cerr := ctx.Accessor(k).CopyIn(uintptr(args[1]), buf); cerr != 0 {
		return 0, cerr
	}
	wrote, err := of.Write(buf)
	if err != 0 {
		return 0, err
	}
	return int64(wrote), 0
}

// sysSeek repositions handle args[0]'s cursor (SYS_SEEK): args[1] is
// the offset, args[2] the whence (0 set, 1 cur, 2 end).
func (k *Kernel) sysSeek(ctx *Context, args Args) (int64, defs.Err_t) {
	of, err := k.openFileOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	pos, err := of.Seek(int64(args[1]), int(args[2]))
	if err != 0 {
		return 0, err
	}
	return pos, 0
}

// sysStat copies handle args[0]'s stat_t out to user buffer args[1]
// (SYS_STAT).
func (k *Kernel) sysStat(ctx *Context, args Args) (int64, defs.Err_t) {
	of, err := k.openFileOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	st, err := of.Stat()
	if err != 0 {
		return 0, err
	}
	if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), st.Bytes()); cerr != 0 {
		return 0, cerr
	}
	return 0, 0
}

// sysListDir copies directory entry names out to user buffer args[1],
// one NUL-terminated name after another, truncating at args[2] bytes;
// returns the number of whole entries written (SYS_LIST_DIR).
func (k *Kernel) sysListDir(ctx *Context, args Args) (int64, defs.Err_t) {
	of, err := k.openFileOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	names, err := of.ListDir()
	if err != 0 {
		return 0, err
	}

	limit := int(args[2])
	buf := make([]byte, 0, limit)
	written := 0
	for _, name := range names {
		s := name.String()
		if len(buf)+len(s)+1 > limit {
			break
		}
		buf = append(buf, s...)
		buf = append(buf, 0)
		written++
	}
	if len(buf) > 0 {
		if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), buf); cerr != 0 {
			return 0, cerr
		}
	}
	return int64(written), 0
}

// sysPipeCreate creates an anonymous pipe, inserting read-end and
// write-end handles and copying them out to args[0] as two
// little-endian uint64s, read end first (SYS_PIPE_CREATE).
func (k *Kernel) sysPipeCreate(ctx *Context, args Args) (int64, defs.Err_t) {
	rnode, wnode := vfs.NewPipe()
	rf := vfs.NewOpenFile(rnode, vfs.ModeRead)
	wf := vfs.NewOpenFile(wnode, vfs.ModeWrite)

	rh, err := ctx.Proc.Handles.Insert(rf)
	if err != 0 {
		return 0, err
	}
	wh, err := ctx.Proc.Handles.Insert(wf)
	if err != 0 {
		ctx.Proc.Handles.Remove(rh)
		return 0, err
	}

	buf := make([]byte, 16)
	util.Writen64(buf, 0, uint64(rh))
	util.Writen64(buf, 8, uint64(wh))
	if cerr := ctx.Accessor(k).CopyOut(uintptr(args[0]), buf); cerr != 0 {
		ctx.Proc.Handles.Remove(rh)
		ctx.Proc.Handles.Remove(wh)
		return 0, cerr
	}
	return 0, 0
}
