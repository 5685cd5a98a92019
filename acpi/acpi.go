// Package acpi implements ACPI table discovery (§4.10): locating the
// RSDP, walking the RSDT/XSDT to find FADT/MADT/ECDT/MCFG, and a
// minimal AML walk over the DSDT/SSDT to pull out the handful of named
// objects the kernel core cares about (the embedded-controller
// region, the power/sleep button notify targets, _PRT's PCI
// interrupt routing package, and the _S3_/_S5_ sleep-state packages).
//
// Grounded directly on gopher-os's device/acpi package: its
// RSDPDescriptor/SDTHeader/FADT/MADT struct layouts and its
// checksum-then-walk enumeration strategy, adapted from gopher-os's
// unsafe.Pointer-over-physical-memory access to reads through a
// hostio.Arena (this rewrite's stand-in for physical memory, shared
// with pmm/pagemap/evm).
package acpi

import (
	"encoding/binary"
	"fmt"

	"github.com/Qwinci/crescent-sub002/hostio"
)

const (
	rsdpLocationLow = 0xE0000
	rsdpLocationHi  = 0xFFFFF
	rsdpAlignment   = 16
	rsdpLenV1       = 20
	rsdpLenV2       = 36
)

var rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}

// SDTHeader mirrors every ACPI table's common header.
type SDTHeader struct {
	Signature  [4]byte
	Length     uint32
	Revision   uint8
	Checksum   uint8
	OEMID      [6]byte
	OEMTableID [8]byte
}

// Table is one parsed ACPI table: its header plus the raw bytes of
// its full contents (header included), for subprotocol-specific
// decode (FADT/MADT/etc).
type Table struct {
	Header SDTHeader
	Raw    []byte
}

// Driver enumerates and holds every ACPI table found via the RSDT/XSDT
// walk, keyed by 4-byte signature.
type Driver struct {
	mem      *hostio.Arena
	UseXSDT  bool
	RSDTAddr uint32
	XSDTAddr uint64
	Tables   map[string]Table
}

// New scans mem's [rsdpLocationLow, rsdpLocationHi] window for the
// RSDP signature, validates its checksum, and walks the resulting
// RSDT/XSDT to populate Tables.
func New(mem *hostio.Arena) (*Driver, error) {
	rsdpOff, v2, err := locateRSDP(mem)
	if err != nil {
		return nil, err
	}

	d := &Driver{mem: mem, Tables: make(map[string]Table)}
	rsdp := mem.Slice(rsdpOff, rsdpLenV1)
	d.RSDTAddr = binary.LittleEndian.Uint32(rsdp[16:20])

	if v2 {
		ext := mem.Slice(rsdpOff, rsdpLenV2)
		d.XSDTAddr = binary.LittleEndian.Uint64(ext[24:32])
		d.UseXSDT = true
	}

	rootAddr := int(d.RSDTAddr)
	if d.UseXSDT {
		rootAddr = int(d.XSDTAddr)
	}
	if err := d.enumerate(rootAddr); err != nil {
		return nil, err
	}
	return d, nil
}

func locateRSDP(mem *hostio.Arena) (off int, v2 bool, err error) {
	for addr := rsdpLocationLow; addr+rsdpLenV1 <= rsdpLocationHi; addr += rsdpAlignment {
		b := mem.Slice(addr, rsdpLenV1)
		if b == nil {
			continue
		}
		match := true
		for i, s := range rsdpSignature {
			if b[i] != s {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if checksum8(b) != 0 {
			continue
		}
		revision := b[15]
		if revision >= 2 {
			ext := mem.Slice(addr, rsdpLenV2)
			if ext != nil && checksum8(ext) == 0 {
				return addr, true, nil
			}
		}
		return addr, false, nil
	}
	return 0, false, fmt.Errorf("acpi: RSDP not found in [0x%x, 0x%x]", rsdpLocationLow, rsdpLocationHi)
}

func checksum8(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// readHeader parses the SDTHeader at addr, validating its checksum
// over the table's full declared length.
func (d *Driver) readHeader(addr int) (SDTHeader, []byte, error) {
	hdrBytes := d.mem.Slice(addr, 36)
	if hdrBytes == nil {
		return SDTHeader{}, nil, fmt.Errorf("acpi: table header at 0x%x out of range", addr)
	}
	var h SDTHeader
	copy(h.Signature[:], hdrBytes[0:4])
	h.Length = binary.LittleEndian.Uint32(hdrBytes[4:8])
	h.Revision = hdrBytes[8]
	h.Checksum = hdrBytes[9]
	copy(h.OEMID[:], hdrBytes[10:16])
	copy(h.OEMTableID[:], hdrBytes[16:24])

	raw := d.mem.Slice(addr, int(h.Length))
	if raw == nil {
		return SDTHeader{}, nil, fmt.Errorf("acpi: table %q at 0x%x declares length %d out of range", h.Signature, addr, h.Length)
	}
	if checksum8(raw) != 0 {
		return SDTHeader{}, nil, fmt.Errorf("acpi: table %q at 0x%x failed checksum", h.Signature, addr)
	}
	return h, raw, nil
}

const sdtHeaderLen = 36

func (d *Driver) enumerate(rootAddr int) error {
	_, raw, err := d.readHeader(rootAddr)
	if err != nil {
		return err
	}
	payload := raw[sdtHeaderLen:]

	var addrs []int
	if d.UseXSDT {
		for i := 0; i+8 <= len(payload); i += 8 {
			addrs = append(addrs, int(binary.LittleEndian.Uint64(payload[i:i+8])))
		}
	} else {
		for i := 0; i+4 <= len(payload); i += 4 {
			addrs = append(addrs, int(binary.LittleEndian.Uint32(payload[i:i+4])))
		}
	}

	for _, addr := range addrs {
		h, tableRaw, err := d.readHeader(addr)
		if err != nil {
			continue // a single malformed table does not abort the whole walk
		}
		d.Tables[string(h.Signature[:])] = Table{Header: h, Raw: tableRaw}
	}
	return nil
}

// Lookup returns the table named by its 4-character signature (e.g.
// "FACP", "APIC", "ECDT", "MCFG"), and whether it was found.
func (d *Driver) Lookup(signature string) (Table, bool) {
	t, ok := d.Tables[signature]
	return t, ok
}
