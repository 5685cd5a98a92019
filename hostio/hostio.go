// Package hostio stands in for physical RAM and for the "hardware"
// register windows the rest of the kernel manipulates (PCI ECAM space,
// the EVM guest-physical arena, framebuffer memory). On real hardware
// these are raw physical addresses; hosted under this kernel's
// goroutine-simulated model they are backed by an anonymous mmap
// region so every subsystem still works with stable byte-addressable
// memory and can hand out "physical addresses" as offsets into it.
//
// Grounded on the mmap-for-guest-memory pattern shown by both
// avagin-gvisor's pkg/sentry/platform/kvm/kvm.go (mmap'd run struct)
// and BigBossBoolingB-VDATABPro's core_engine/vcpu.go (mmap'd
// kvm_run), generalized here to back all of physical memory rather
// than just one vcpu's exit struct.
package hostio

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Arena is a single anonymous-mmap-backed byte arena addressed by
// offset ("physical address") from its base.
type Arena struct {
	mu   sync.Mutex
	mem  []byte
	size int
}

// NewArena allocates an arena of the given size via mmap
// (MAP_ANONYMOUS|MAP_PRIVATE), matching the allocation call the pack's
// hypervisor code uses for guest memory.
func NewArena(size int) (*Arena, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hostio: mmap %d bytes: %w", size, err)
	}
	return &Arena{mem: mem, size: size}, nil
}

// Close unmaps the arena's backing memory.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Size returns the arena's capacity in bytes.
func (a *Arena) Size() int { return a.size }

// Slice returns the byte window [off, off+n) backing a physical
// address range. Out-of-range requests return ErrFault-worthy nil;
// callers (pmm, pagemap) are expected to bounds-check against the
// region list before calling.
func (a *Arena) Slice(off, n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil || off < 0 || n < 0 || off+n > a.size {
		return nil
	}
	return a.mem[off : off+n]
}

// Poison overwrites a byte range with a recognizable pattern, used by
// pmm on both alloc and free to catch use-after-free/use-before-init,
// per §4.1's "pops a page, poisons its contents".
func Poison(b []byte) {
	for i := range b {
		b[i] = 0xFA
	}
}
