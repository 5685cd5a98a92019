package syscall

import (
	"bytes"
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
	"github.com/Qwinci/crescent-sub002/pagemap"
	"github.com/Qwinci/crescent-sub002/pmm"
	"github.com/Qwinci/crescent-sub002/proc"
	"github.com/Qwinci/crescent-sub002/socket"
)

// newTestKernel builds a Kernel over a small backing arena, enough
// physical memory for the handful of pages any one test needs.
func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	arena, err := hostio.NewArena(4 * 1024 * 1024)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	alloc := pmm.New()
	alloc.AddRegion(0, 1024, arena)

	kernelMap := pagemap.New(nil)
	return NewKernel(kernelMap, alloc)
}

func newTestProc(t *testing.T, k *Kernel) (*Context, Args) {
	t.Helper()
	p := k.NewProcess()
	th := k.NewThread(p)
	return &Context{Proc: p, Thread: th}, Args{}
}

func TestSysMapUnmapRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	ret, err := k.Dispatch(ctx, SysMap, Args{8192, ProtWrite})
	if err != 0 {
		t.Fatalf("SysMap: %v", err)
	}
	base := uintptr(ret)
	if base == 0 {
		t.Fatalf("SysMap returned zero base")
	}

	if phys, ok := ctx.Proc.PageMap.GetPhys(base); !ok || phys == 0 {
		t.Fatalf("mapped page not resolvable: ok=%v phys=%v", ok, phys)
	}

	if _, err := k.Dispatch(ctx, SysUnmap, Args{uint64(base), 8192}); err != 0 {
		t.Fatalf("SysUnmap: %v", err)
	}
	if _, ok := ctx.Proc.PageMap.GetPhys(base); ok {
		t.Fatalf("page still mapped after SysUnmap")
	}
}

func TestSysSharedMemShareIndependentHandles(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	ret, err := k.Dispatch(ctx, SysSharedMemAlloc, Args{defs.PageSize})
	if err != 0 {
		t.Fatalf("SysSharedMemAlloc: %v", err)
	}
	h1 := defs.Handle_t(ret)

	ret, err = k.Dispatch(ctx, SysSharedMemShare, Args{uint64(h1)})
	if err != 0 {
		t.Fatalf("SysSharedMemShare: %v", err)
	}
	h2 := defs.Handle_t(ret)
	if h2 == h1 {
		t.Fatalf("share returned the same handle")
	}

	if _, err := k.Dispatch(ctx, SysSharedMemMap, Args{uint64(h1)}); err != 0 {
		t.Fatalf("map via h1: %v", err)
	}

	if err := ctx.Proc.Handles.Remove(h1); err != 0 {
		t.Fatalf("close h1: %v", err)
	}
	// h2 still references the object: mapping through it must succeed
	// even though h1 has been closed, proving the object-level refcount
	// outlived the first handle-table slot.
	if _, err := k.Dispatch(ctx, SysSharedMemMap, Args{uint64(h2)}); err != 0 {
		t.Fatalf("map via h2 after h1 closed: %v", err)
	}
}

func TestSysPipeCreateReadWrite(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	mapRet, err := k.Dispatch(ctx, SysMap, Args{defs.PageSize, ProtWrite})
	if err != 0 {
		t.Fatalf("SysMap scratch page: %v", err)
	}
	scratch := uintptr(mapRet)

	if _, err := k.Dispatch(ctx, SysPipeCreate, Args{uint64(scratch)}); err != 0 {
		t.Fatalf("SysPipeCreate: %v", err)
	}

	acc := ctx.Accessor(k)
	hdr := make([]byte, 16)
	if cerr := acc.CopyIn(scratch, hdr); cerr != 0 {
		t.Fatalf("CopyIn handle pair: %v", cerr)
	}
	rh := defs.Handle_t(uint64(hdr[0]) | uint64(hdr[1])<<8 | uint64(hdr[2])<<16 | uint64(hdr[3])<<24)
	wh := defs.Handle_t(uint64(hdr[8]) | uint64(hdr[9])<<8 | uint64(hdr[10])<<16 | uint64(hdr[11])<<24)

	writeBuf := scratch + defs.PageSize/2
	msg := []byte("hello")
	if cerr := acc.CopyOut(writeBuf, msg); cerr != 0 {
		t.Fatalf("CopyOut message: %v", cerr)
	}
	if _, err := k.Dispatch(ctx, SysWrite, Args{uint64(wh), uint64(writeBuf), uint64(len(msg))}); err != 0 {
		t.Fatalf("SysWrite: %v", err)
	}

	readBuf := scratch + defs.PageSize/2 + 256
	ret, err := k.Dispatch(ctx, SysRead, Args{uint64(rh), uint64(readBuf), uint64(len(msg))})
	if err != 0 {
		t.Fatalf("SysRead: %v", err)
	}
	if int(ret) != len(msg) {
		t.Fatalf("SysRead returned %d bytes, want %d", ret, len(msg))
	}
	got := make([]byte, len(msg))
	if cerr := acc.CopyIn(readBuf, got); cerr != 0 {
		t.Fatalf("CopyIn readback: %v", cerr)
	}
	if string(got) != "hello" {
		t.Fatalf("pipe roundtrip got %q, want %q", got, "hello")
	}
}

func TestSysCloseHandleRejectsReuse(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	ret, err := k.Dispatch(ctx, SysSharedMemAlloc, Args{defs.PageSize})
	if err != 0 {
		t.Fatalf("SysSharedMemAlloc: %v", err)
	}
	h := defs.Handle_t(ret)

	if _, err := k.Dispatch(ctx, SysCloseHandle, Args{uint64(h)}); err != 0 {
		t.Fatalf("SysCloseHandle: %v", err)
	}
	if _, err := ctx.Proc.Handles.Get(h); err == 0 {
		t.Fatalf("handle still resolvable after close")
	}
}

func TestSysFutexWaitWrongValueReturnsImmediately(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	mapRet, err := k.Dispatch(ctx, SysMap, Args{defs.PageSize, ProtWrite})
	if err != 0 {
		t.Fatalf("SysMap: %v", err)
	}
	word := uintptr(mapRet)

	acc := ctx.Accessor(k)
	if cerr := acc.CopyOut(word, []byte{5, 0, 0, 0}); cerr != 0 {
		t.Fatalf("CopyOut seed value: %v", cerr)
	}

	// expected (7) does not match the stored value (5): Wait must
	// return ERR_TRY_AGAIN without blocking.
	if _, err := k.Dispatch(ctx, SysFutexWait, Args{uint64(word), 7, 0}); err != defs.ErrTryAgain {
		t.Fatalf("SysFutexWait mismatched value: got %v, want ErrTryAgain", err)
	}
}

func TestSysProcessCreateExitObservedViaGetStatus(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	ret, err := k.Dispatch(ctx, SysProcessCreate, Args{0})
	if err != 0 {
		t.Fatalf("SysProcessCreate: %v", err)
	}
	descHandle := defs.Handle_t(ret)
	if _, err := ctx.Proc.Handles.Get(descHandle); err != 0 {
		t.Fatalf("descriptor handle not resolvable: %v", err)
	}

	obj, _ := ctx.Proc.Handles.Get(descHandle)
	waiter, ok := obj.(interface{ Wait() int32 })
	if !ok {
		t.Fatalf("process descriptor does not expose Wait")
	}

	childPid, childProc := findOtherProcess(t, k, ctx.Proc.Pid)
	childCtx := &Context{Proc: childProc, Thread: childProc.Threads()[0]}
	if _, err := k.Dispatch(childCtx, SysProcessExit, Args{42}); err != 0 {
		t.Fatalf("SysProcessExit: %v", err)
	}

	if status := waiter.Wait(); status != 42 {
		t.Fatalf("descriptor Wait returned %d, want 42", status)
	}

	if ret, err := k.Dispatch(ctx, SysGetStatus, Args{uint64(childPid)}); err != 0 || ret != 2 {
		t.Fatalf("SysGetStatus after exit = (%d, %v), want (2, 0)", ret, err)
	}
}

func findOtherProcess(t *testing.T, k *Kernel, exclude defs.Pid_t) (defs.Pid_t, *proc.Process) {
	t.Helper()
	k.mu.Lock()
	defer k.mu.Unlock()
	for pid, p := range k.processes {
		if pid != exclude {
			return pid, p
		}
	}
	t.Fatalf("no other process registered")
	return 0, nil
}

func TestSysSocketIPCSendReceive(t *testing.T) {
	k := newTestKernel(t)
	serverCtx, _ := newTestProc(t, k)
	clientCtx, _ := newTestProc(t, k)

	ret, err := k.Dispatch(serverCtx, SysSocketCreate, Args{SocketIPC})
	if err != 0 {
		t.Fatalf("server SysSocketCreate: %v", err)
	}
	serverHandle := defs.Handle_t(ret)
	obj, _ := serverCtx.Proc.Handles.Get(serverHandle)
	binder, ok := obj.(interface{ Bind(string) defs.Err_t })
	if !ok {
		t.Fatalf("IPC socket does not expose Bind")
	}
	if err := binder.Bind("test-echo"); err != 0 {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := k.Dispatch(serverCtx, SysSocketListen, Args{uint64(serverHandle), 4}); err != 0 {
		t.Fatalf("SysSocketListen: %v", err)
	}

	ret, err = k.Dispatch(clientCtx, SysSocketCreate, Args{SocketIPC})
	if err != 0 {
		t.Fatalf("client SysSocketCreate: %v", err)
	}
	clientHandle := defs.Handle_t(ret)

	mapRet, err := k.Dispatch(clientCtx, SysMap, Args{defs.PageSize, ProtWrite})
	if err != 0 {
		t.Fatalf("client SysMap: %v", err)
	}
	addrVA := uintptr(mapRet)
	addrBuf := encodeAddr(socket.Addr{Kind: socket.AddrIPC, Token: "test-echo"})
	if cerr := clientCtx.Accessor(k).CopyOut(addrVA, addrBuf); cerr != 0 {
		t.Fatalf("CopyOut addr: %v", cerr)
	}

	done := make(chan defs.Err_t, 1)
	go func() {
		_, cerr := k.Dispatch(clientCtx, SysSocketConnect, Args{uint64(clientHandle), uint64(addrVA)})
		done <- cerr
	}()

	ret, err = k.Dispatch(serverCtx, SysSocketAccept, Args{uint64(serverHandle)})
	if err != 0 {
		t.Fatalf("SysSocketAccept: %v", err)
	}
	peerHandle := defs.Handle_t(ret)
	if cerr := <-done; cerr != 0 {
		t.Fatalf("client Connect: %v", cerr)
	}

	mapRet, err = k.Dispatch(clientCtx, SysMap, Args{defs.PageSize, ProtWrite})
	if err != 0 {
		t.Fatalf("client scratch SysMap: %v", err)
	}
	msgVA := uintptr(mapRet)
	msg := []byte("ping")
	if cerr := clientCtx.Accessor(k).CopyOut(msgVA, msg); cerr != 0 {
		t.Fatalf("CopyOut msg: %v", cerr)
	}
	if _, err := k.Dispatch(clientCtx, SysSocketSend, Args{uint64(clientHandle), uint64(msgVA), uint64(len(msg))}); err != 0 {
		t.Fatalf("SysSocketSend: %v", err)
	}

	mapRet, err = k.Dispatch(serverCtx, SysMap, Args{defs.PageSize, ProtWrite})
	if err != 0 {
		t.Fatalf("server scratch SysMap: %v", err)
	}
	rxVA := uintptr(mapRet)
	ret, err = k.Dispatch(serverCtx, SysSocketReceive, Args{uint64(peerHandle), uint64(rxVA), uint64(len(msg))})
	if err != 0 {
		t.Fatalf("SysSocketReceive: %v", err)
	}
	got := make([]byte, int(ret))
	if cerr := serverCtx.Accessor(k).CopyIn(rxVA, got); cerr != 0 {
		t.Fatalf("CopyIn received: %v", cerr)
	}
	if string(got) != "ping" {
		t.Fatalf("received %q, want %q", got, "ping")
	}
}

func TestSysSyslogAppendRecentAndProfileDump(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := newTestProc(t, k)

	mapRet, err := k.Dispatch(ctx, SysMap, Args{defs.PageSize, ProtWrite})
	if err != 0 {
		t.Fatalf("SysMap scratch page: %v", err)
	}
	scratch := uintptr(mapRet)
	acc := ctx.Accessor(k)

	msg := []byte("hello from init")
	if cerr := acc.CopyOut(scratch, msg); cerr != 0 {
		t.Fatalf("CopyOut message: %v", cerr)
	}
	if _, err := k.Dispatch(ctx, SysSyslog, Args{uint64(scratch), 0, 0}); err != 0 {
		t.Fatalf("SysSyslog append: %v", err)
	}

	recentVA := scratch + 1024
	ret, err := k.Dispatch(ctx, SysSyslog, Args{uint64(recentVA), 1, 8})
	if err != 0 {
		t.Fatalf("SysSyslog recent: %v", err)
	}
	if ret == 0 {
		t.Fatalf("expected some recent log bytes back")
	}
	got := make([]byte, int(ret))
	if cerr := acc.CopyIn(recentVA, got); cerr != 0 {
		t.Fatalf("CopyIn recent log: %v", cerr)
	}
	if !bytes.Contains(got, msg) {
		t.Fatalf("recent log %q does not contain appended message %q", got, msg)
	}

	profileVA := scratch + 2048
	ret, err = k.Dispatch(ctx, SysSyslog, Args{uint64(profileVA), 2, uint64(defs.PageSize / 2)})
	if err != 0 {
		t.Fatalf("SysSyslog profile dump: %v", err)
	}
	if ret == 0 {
		t.Fatalf("expected a non-empty profile dump")
	}
}
