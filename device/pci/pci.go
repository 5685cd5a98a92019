// Package pci implements PCI Express Configuration Access Mechanism
// (ECAM) enumeration: walking every bus/device/function slot in a
// memory-mapped config space region and reading each function's
// vendor/device/class identity and BARs.
//
// Grounded on biscuit/src/pci's use of a flat enumerate-then-dispatch
// table (olddiski.go's disk-controller probe loop) generalized from a
// hardcoded IDE probe to a full ECAM bus walk, and on hostio.Arena for
// the "memory-mapped config space" the walk reads from.
package pci

import (
	"encoding/binary"

	"github.com/Qwinci/crescent-sub002/hostio"
)

const (
	maxBus      = 256
	maxDevice   = 32
	maxFunction = 8
	fnECAMSize  = 4096 // one function's config space window under ECAM
)

// Address identifies one PCI function's slot.
type Address struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

// Function is one enumerated PCI(e) function's identity and decoded
// BARs.
type Function struct {
	Addr       Address
	VendorID   uint16
	DeviceID   uint16
	Class      uint8
	Subclass   uint8
	ProgIF     uint8
	Revision   uint8
	HeaderType uint8
	BAR        [6]uint32
}

// offset returns addr's byte offset into the ECAM region, per the PCIe
// base spec's "bus, device, function, register" address decomposition.
func offset(addr Address) int {
	return (int(addr.Bus)<<20 | int(addr.Device)<<15 | int(addr.Function)<<12)
}

// Enumerate walks every bus/device/function slot in ecam (a
// hostio.Arena covering one MCFG segment's config space, sized
// maxBus*fnECAMSize*maxDevice*maxFunction bytes) and returns every
// function whose vendor ID is present (0xFFFF, what real hardware
// reads back, or 0x0000, what a freshly mapped arena holds, means
// "not populated").
func Enumerate(ecam *hostio.Arena) []Function {
	var found []Function
	for bus := 0; bus < maxBus; bus++ {
		for dev := 0; dev < maxDevice; dev++ {
			nFns := 1
			for fn := 0; fn < nFns; fn++ {
				addr := Address{Bus: uint8(bus), Device: uint8(dev), Function: uint8(fn)}
				cfg := ecam.Slice(offset(addr), fnECAMSize)
				if cfg == nil {
					continue
				}
				vendor := binary.LittleEndian.Uint16(cfg[0:2])
				if vendor == 0xFFFF || vendor == 0x0000 {
					continue
				}
				f := readFunction(addr, cfg)
				found = append(found, f)

				if fn == 0 && f.HeaderType&0x80 != 0 {
					nFns = maxFunction
				}
			}
		}
	}
	return found
}

func readFunction(addr Address, cfg []byte) Function {
	f := Function{
		Addr:       addr,
		VendorID:   binary.LittleEndian.Uint16(cfg[0:2]),
		DeviceID:   binary.LittleEndian.Uint16(cfg[2:4]),
		Revision:   cfg[8],
		ProgIF:     cfg[9],
		Subclass:   cfg[10],
		Class:      cfg[11],
		HeaderType: cfg[14],
	}
	if f.HeaderType&0x7F == 0 { // type-0 (non-bridge) header: 6 BARs at 0x10..0x27
		for i := 0; i < 6; i++ {
			off := 0x10 + i*4
			f.BAR[i] = binary.LittleEndian.Uint32(cfg[off : off+4])
		}
	}
	return f
}

// FindByClass returns every enumerated function matching class and
// subclass, for the driver table to hand each device to its owning
// driver (e.g. mass-storage/SATA, multimedia/HD-audio).
func FindByClass(fns []Function, class, subclass uint8) []Function {
	var out []Function
	for _, f := range fns {
		if f.Class == class && f.Subclass == subclass {
			out = append(out, f)
		}
	}
	return out
}
