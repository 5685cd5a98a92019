package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Qwinci/crescent-sub002/acpi"
	"github.com/Qwinci/crescent-sub002/bootinfo"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/device"
	"github.com/Qwinci/crescent-sub002/device/fb"
	"github.com/Qwinci/crescent-sub002/device/pci"
	"github.com/Qwinci/crescent-sub002/device/ps2"
	"github.com/Qwinci/crescent-sub002/device/sound"
	"github.com/Qwinci/crescent-sub002/hostio"
	"github.com/Qwinci/crescent-sub002/kheap"
	"github.com/Qwinci/crescent-sub002/klog"
	"github.com/Qwinci/crescent-sub002/net"
	"github.com/Qwinci/crescent-sub002/pagemap"
	kpanic "github.com/Qwinci/crescent-sub002/panic"
	"github.com/Qwinci/crescent-sub002/pmm"
	"github.com/Qwinci/crescent-sub002/proc"
	"github.com/Qwinci/crescent-sub002/sched"
	"github.com/Qwinci/crescent-sub002/syscall"
	"github.com/Qwinci/crescent-sub002/vfs"
	"github.com/Qwinci/crescent-sub002/vfs/tarfs"
)

// bootConfig is the host-level configuration this command is invoked
// with, standing in for whatever the real boot firmware (§1's "TAR
// initramfs producer and boot firmware", an external collaborator)
// would otherwise pass the kernel directly in memory.
type bootConfig struct {
	InitramfsPath string
	MemMB         int
	NCPU          int
	SerialPath    string
	QemuDebugPath string
}

// lowMemoryReserve is the span of the synthesized physical arena kept
// for the RSDP/ACPI tables, below acpi.New's [0xE0000,0xFFFFF] scan
// window, mirroring real firmware's convention of reserving the first
// megabyte of RAM.
const lowMemoryReserve = 1 << 20

// heapArenaSize bounds the kernel heap's Large (vmem-backed) path,
// standing in for the slice of kernel virtual address space a real
// boot would reserve for kmalloc's oversized allocations.
const heapArenaSize = 16 << 20

// boot runs every control-flow stage in §2's order, returning once the
// scheduler has drained the placeholder init thread (there is no real
// bin/init binary to keep running — see package doc).
func boot(cfg bootConfig) error {
	closeSinks := wireLogging(cfg)
	defer closeSinks()

	klog.Infof("booting", map[string]interface{}{"mem_mb": cfg.MemMB, "ncpu": cfg.NCPU})

	arena, err := hostio.NewArena(cfg.MemMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("arch bring-up: allocate physical arena: %w", err)
	}

	rsdpAddr := synthesizeACPI(arena)

	alloc := pmm.New()
	npages := (cfg.MemMB*1024*1024 - lowMemoryReserve) / pmm.PageSize
	alloc.AddRegion(pmm.Pa_t(lowMemoryReserve), npages, arena)
	kernelMap := pagemap.New(nil)
	klog.Infof("memory online", map[string]interface{}{"pages": npages})

	heapArena, err := hostio.NewArena(heapArenaSize)
	if err != nil {
		return fmt.Errorf("memory: allocate kernel heap arena: %w", err)
	}
	heap := kheap.New(alloc, heapArena)

	acpiDrv, err := acpi.New(arena)
	if err != nil {
		klog.Warnf("acpi bring-up failed, continuing without table data", map[string]interface{}{"err": err.Error()})
	} else if fadtTable, ok := acpiDrv.Lookup("FACP"); ok {
		if fadt, ok := acpi.ParseFADT(fadtTable.Raw); ok {
			klog.Infof("acpi FADT parsed", map[string]interface{}{"sci_int": fadt.SCIInterrupt})
		}
	}

	info := &bootinfo.Info{
		Framebuffer: bootinfo.Framebuffer{Width: 1024, Height: 768, Bpp: 32, Pitch: 1024 * 4},
		RSDP:        uint64(rsdpAddr),
		MemoryMap: []bootinfo.MemRegion{
			{Base: 0, Length: lowMemoryReserve, Kind: bootinfo.RegionReserved},
			{Base: lowMemoryReserve, Length: uint64(cfg.MemMB*1024*1024 - lowMemoryReserve), Kind: bootinfo.RegionUsable},
		},
	}

	cpus, err := onlineCPUs(cfg.NCPU)
	if err != nil {
		return fmt.Errorf("cpu onlining: %w", err)
	}
	klog.Infof("cpus online", map[string]interface{}{"count": len(cpus)})

	registry := discoverDevices(info)

	root, module, err := mountInitramfs(cfg.InitramfsPath)
	if err != nil {
		return fmt.Errorf("vfs: %w", err)
	}
	info.Modules = []bootinfo.Module{module}
	info.Freeze()
	klog.Infof("initramfs mounted", map[string]interface{}{"bytes": module.Size})

	k := syscall.NewKernel(kernelMap, alloc)
	k.Heap = heap
	k.Devices = registry
	k.Root = root
	k.Nic = bringUpNic()
	k.CPU = cpus[0]
	k.Boot = info

	initThread := spawnInitProcess(k)

	runScheduler(cpus, initThread)

	klog.Infof("system halted", nil)
	return nil
}

// wireLogging installs the ambient logging sinks named in §1: stdout
// always, plus a serial-style and a qemu-debugcon-style sink when a
// destination file is configured. The returned func closes whichever
// files were opened.
func wireLogging(cfg bootConfig) func() {
	klog.Default.AddSink(klog.NewSerialSink(os.Stdout))

	var closers []io.Closer
	if cfg.SerialPath != "" {
		if f, err := os.Create(cfg.SerialPath); err == nil {
			klog.Default.AddSink(klog.NewSerialSink(f))
			closers = append(closers, f)
		} else {
			fmt.Fprintln(os.Stderr, "serial sink:", err)
		}
	}
	if cfg.QemuDebugPath != "" {
		if f, err := os.Create(cfg.QemuDebugPath); err == nil {
			klog.Default.AddSink(klog.NewQemuDebugSink(f))
			closers = append(closers, f)
		} else {
			fmt.Fprintln(os.Stderr, "qemu-debug sink:", err)
		}
	}

	return func() {
		for _, c := range closers {
			c.Close()
		}
	}
}

// synthesizeACPI writes a minimal, checksummed RSDP -> RSDT -> FADT
// chain into arena's reserved low-memory region, the data a real
// firmware's ACPI tables would already occupy. Grounded directly on
// acpi's own test fixtures (acpi_test.go's writeRSDP/writeChecksummedTable),
// using only the field layout ACPI itself defines (acpi.go keeps the
// exact offsets private, so this rewrite spells them out again rather
// than reaching into the package's internals).
func synthesizeACPI(arena *hostio.Arena) int {
	const (
		fadtAddr = 0xE2000
		rsdtAddr = 0xE3000
		rsdpAddr = 0xE1000
		rsdpLen  = 20
	)

	fadtBody := make([]byte, 96)
	writeChecksummedTable(arena, fadtAddr, "FACP", fadtBody)

	rsdtBody := make([]byte, 4)
	binary.LittleEndian.PutUint32(rsdtBody, uint32(fadtAddr))
	writeChecksummedTable(arena, rsdtAddr, "RSDT", rsdtBody)

	b := arena.Slice(rsdpAddr, rsdpLen)
	copy(b[0:8], "RSD PTR ")
	copy(b[9:15], "CRSCNT")
	b[15] = 0 // revision 0: ACPI 1.0, RSDT-only
	binary.LittleEndian.PutUint32(b[16:20], uint32(rsdtAddr))
	var sum byte
	for i, c := range b {
		if i == 8 {
			continue
		}
		sum += c
	}
	b[8] = byte(0 - int(sum))

	return rsdpAddr
}

func writeChecksummedTable(arena *hostio.Arena, addr int, signature string, body []byte) {
	length := 36 + len(body)
	raw := arena.Slice(addr, length)
	copy(raw[0:4], signature)
	binary.LittleEndian.PutUint32(raw[4:8], uint32(length))
	raw[8] = 1 // revision
	copy(raw[36:], body)

	var sum byte
	for i, b := range raw {
		if i == 9 {
			continue
		}
		sum += b
	}
	raw[9] = byte(0 - int(sum))
}

// onlineCPUs brings n simulated CPUs up in parallel via errgroup, each
// with its own idle thread, mirroring §2's "CPU onlining" stage —
// every core runs this same bring-up independently of the others.
func onlineCPUs(n int) ([]*sched.CPU, error) {
	if n < 1 {
		n = 1
	}
	cpus := make([]*sched.CPU, n)
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			c := sched.NewCPU(int32(i))
			idle := &proc.Thread{Tid: defs.Tid_t(-(i + 1)), PinCPU: int32(i)}
			c.SetIdle(idle)
			cpus[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cpus, nil
}

// discoverDevices enumerates PCI functions (§2's "device discovery"
// stage) and registers the three driver-table devices this rewrite
// models, seeded from the firmware framebuffer descriptor where one
// is available.
func discoverDevices(info *bootinfo.Info) *device.Registry {
	ecam, err := hostio.NewArena(1 << 20)
	var fns []pci.Function
	if err == nil {
		fns = pci.Enumerate(ecam)
	}
	displays := pci.FindByClass(fns, 0x03, 0x00)
	klog.Infof("pci enumerated", map[string]interface{}{"functions": len(fns), "display_functions": len(displays)})

	registry := device.NewRegistry()

	fbDriver := fb.NewDriver()
	fbDriver.Add(fb.New("fb0", info.Framebuffer.Width, info.Framebuffer.Height, uint32(info.Framebuffer.Bpp), true))
	registry.RegisterDriver(fbDriver)

	soundDriver := sound.NewDriver()
	soundDriver.Add(sound.New("pcm0", sound.NewOutput("out0", 4096, 0)))
	registry.RegisterDriver(soundDriver)

	ps2Driver := ps2.NewDriver()
	ps2Driver.Add("kbd0", ps2.New())
	registry.RegisterDriver(ps2Driver)

	return registry
}

// mountInitramfs reads path and parses it as the boot module's
// TAR-formatted read-only filesystem (§2's "VFS with initramfs
// mounted" stage).
func mountInitramfs(path string) (vfs.VNode_i, bootinfo.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bootinfo.Module{}, fmt.Errorf("read initramfs: %w", err)
	}
	fs, ferr := tarfs.New(bytes.NewReader(data))
	if ferr != 0 {
		return nil, bootinfo.Module{}, fmt.Errorf("parse initramfs: err_t=%d", ferr)
	}
	return fs.Root(), bootinfo.Module{Name: "initramfs.tar", Size: uint64(len(data))}, nil
}

// bringUpNic constructs a Nic with no backing physical link — this
// rewrite's PCI enumeration has no network-class driver table (§4.12's
// stack is exercised by syscall/socket.go regardless of whether a real
// link exists), so outbound frames are logged and dropped rather than
// sent anywhere.
func bringUpNic() *net.Nic {
	hw := net.MAC{0x52, 0x54, 0x00, 0x00, 0x00, 0x01}
	return net.NewNic(hw, func(frame []byte) defs.Err_t {
		klog.Debugf("nic: no link, dropping outbound frame", map[string]interface{}{"len": len(frame)})
		return 0
	})
}

// spawnInitProcess constructs the first process and its single
// thread, the kernel-side half of §2's "first user process" stage.
// Loading and exec'ing the actual bin/init ELF plus its dynamic linker
// is the external collaborator's job (§1); this only wires up the
// three standard handles a real exec would inherit and queues the
// thread onto the scheduler.
func spawnInitProcess(k *syscall.Kernel) *proc.Thread {
	p := k.NewProcess()

	stdinReadEnd, _ := vfs.NewPipe()
	stdoutReadEnd, stdoutWriteEnd := vfs.NewPipe()
	stderrReadEnd, stderrWriteEnd := vfs.NewPipe()

	stdinH, _ := p.Handles.Insert(vfs.NewOpenFile(stdinReadEnd, vfs.ModeRead))
	stdoutH, _ := p.Handles.Insert(vfs.NewOpenFile(stdoutWriteEnd, vfs.ModeWrite))
	stderrH, _ := p.Handles.Insert(vfs.NewOpenFile(stderrWriteEnd, vfs.ModeWrite))
	p.StdHandles[proc.Stdin] = stdinH
	p.StdHandles[proc.Stdout] = stdoutH
	p.StdHandles[proc.Stderr] = stderrH

	go pumpConsole("init: stdout", stdoutReadEnd)
	go pumpConsole("init: stderr", stderrReadEnd)

	return k.NewThread(p)
}

// pumpConsole copies data out of a standard-handle pipe into klog, the
// hosted stand-in for a real console device backing bin/init's
// inherited stdout/stderr. Pipe reads never block (§8 scenario 2), so
// an empty-but-open pipe is retried on a short interval instead.
func pumpConsole(label string, node vfs.VNode_i) {
	buf := make([]byte, 512)
	for {
		n, err := node.Read(buf, 0)
		switch err {
		case defs.ErrTryAgain:
			time.Sleep(5 * time.Millisecond)
			continue
		case 0:
			if n == 0 {
				return // write end closed: EOF
			}
			klog.Infof(label, map[string]interface{}{"data": string(buf[:n])})
		default:
			return
		}
	}
}

// runScheduler drives cpus[0] until the init placeholder thread has
// been destroyed, logging each scheduling decision — §2's "scheduler
// drives everything" stage. There being no real bin/init to keep
// running (see spawnInitProcess), the placeholder exits immediately
// once scheduled once, so this loop always terminates.
func runScheduler(cpus []*sched.CPU, initThread *proc.Thread) {
	cpu := cpus[0]
	const tick = time.Millisecond
	exited := false

	for i := 0; i < 1000 && !exited; i++ {
		cpu.TickWake(time.Now())
		next := cpu.UpdateSchedule(tick)
		if next == initThread {
			klog.Infof("init thread scheduled, exiting placeholder", map[string]interface{}{"tid": initThread.Tid})
			cpu.Exit(initThread, 0)
			exited = true
		}
		n := cpu.DrainDestroyed(func(t *proc.Thread) {
			t.Proc.RemoveThread(t)
		})
		if n > 0 {
			klog.Infof("destroyer drained threads", map[string]interface{}{"count": n})
		}
	}

	if !exited {
		kpanic.Fatal(kpanic.Other, "init thread never scheduled")
	}
}
