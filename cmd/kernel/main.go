// Command kernel is the image's entry point: it runs the control flow
// described in §2 — firmware hand-off, arch bring-up, memory, ACPI
// tables, CPU onlining, PCI device discovery, the initramfs-backed
// root filesystem, the first user process, and finally the scheduler
// loop that drives everything else. bin/init and its dynamic linker
// are external collaborators (§1, §6); this command only constructs
// the process/thread that would exec them and hands it to the
// scheduler.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	initramfsPath := flag.String("initramfs", "initramfs.tar", "path to the TAR initramfs image")
	memMB := flag.Int("mem", 256, "usable RAM in MiB, standing in for the firmware memory map")
	ncpu := flag.Int("ncpu", 1, "number of CPUs to online")
	serialPath := flag.String("serial", "", "file to mirror kernel log lines to, in place of a real serial port (empty: none)")
	qemuDebugPath := flag.String("qemu-debug", "", "file to mirror kernel log lines to, in place of qemu's -debugcon sink (empty: none)")
	flag.Parse()

	cfg := bootConfig{
		InitramfsPath: *initramfsPath,
		MemMB:         *memMB,
		NCPU:          *ncpu,
		SerialPath:    *serialPath,
		QemuDebugPath: *qemuDebugPath,
	}

	if err := boot(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "boot failed:", err)
		os.Exit(1)
	}
}
