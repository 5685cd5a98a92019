// Package bootinfo models the firmware hand-off described in §6.5: a
// Limine-style info block containing a framebuffer descriptor, an
// RSDP pointer, a module list, and a memory map. cmd/kernel populates
// one of these at startup and freezes it before proceeding, per §6.5
// ("Kernel reads these, freezes the loader's info region").
package bootinfo

// MemRegionKind distinguishes usable RAM from reserved/ACPI regions
// in the firmware memory map.
type MemRegionKind int

const (
	RegionUsable MemRegionKind = iota
	RegionReserved
	RegionACPIReclaimable
	RegionACPINVS
	RegionBadMemory
)

// MemRegion is one entry of the firmware-supplied memory map.
type MemRegion struct {
	Base   uint64
	Length uint64
	Kind   MemRegionKind
}

// Framebuffer is the firmware-provided boot framebuffer descriptor,
// later wrapped by device/fb once a user opens the framebuffer device.
type Framebuffer struct {
	Addr   uint64
	Pitch  uint32
	Width  uint32
	Height uint32
	Bpp    uint8
}

// Module is one entry of the module list; the only module the kernel
// requires is "initramfs.tar" per §6.5.
type Module struct {
	Name string
	Addr uint64
	Size uint64
}

// Info is the complete, immutable-after-boot firmware hand-off block.
type Info struct {
	Framebuffer Framebuffer
	RSDP        uint64
	Modules     []Module
	MemoryMap   []MemRegion
	frozen      bool
}

// Freeze marks the info block as final, matching §6.5's "freezes the
// loader's info region" step. It only sets the flag Frozen reports:
// Info has no mutating methods and its exported fields stay writable.
func (i *Info) Freeze() { i.frozen = true }

// Frozen reports whether Freeze has been called.
func (i *Info) Frozen() bool { return i.frozen }

// InitramfsModule finds the required initramfs module, returning
// ok=false if the firmware did not supply one.
func (i *Info) InitramfsModule() (Module, bool) {
	for _, m := range i.Modules {
		if m.Name == "initramfs.tar" {
			return m, true
		}
	}
	return Module{}, false
}

// UsableMemory returns the total bytes of RegionUsable memory in the
// map, the input pmm.AddRegion iterates over at boot.
func (i *Info) UsableMemory() uint64 {
	var total uint64
	for _, r := range i.MemoryMap {
		if r.Kind == RegionUsable {
			total += r.Length
		}
	}
	return total
}
