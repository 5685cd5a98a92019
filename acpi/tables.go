package acpi

import "encoding/binary"

// FADT is the subset of the Fixed ACPI Description Table's fields the
// kernel core needs: the PM1x control blocks and SCI vector used for
// the power/sleep button path, the PM timer, and the reset register
// (§4.10's "S3/S5 transitions").
type FADT struct {
	DsdtAddr         uint32
	SCIInterrupt     uint16
	SMICommandPort   uint32
	PM1aEventBlock   uint32
	PM1bEventBlock   uint32
	PM1aControlBlock uint32
	PM1bControlBlock uint32
	PMTimerBlock     uint32
	ResetRegAddr     uint64
	ResetRegSpace    uint8
	ResetValue       uint8
	Flags            uint32
}

// ParseFADT decodes FADT from its raw table bytes (header included),
// at the byte offsets the ACPI specification fixes for this table
// (gopher-os's table.FADT struct embeds the same layout field-for-
// field via Go struct alignment; this rewrite reads it explicitly by
// offset instead, since it has no unsafe.Pointer-over-physical-memory
// cast to lean on).
func ParseFADT(raw []byte) (FADT, bool) {
	if len(raw) < 116 {
		return FADT{}, false
	}
	var f FADT
	f.DsdtAddr = binary.LittleEndian.Uint32(raw[40:44])
	f.SCIInterrupt = binary.LittleEndian.Uint16(raw[46:48])
	f.SMICommandPort = binary.LittleEndian.Uint32(raw[48:52])
	f.PM1aEventBlock = binary.LittleEndian.Uint32(raw[56:60])
	f.PM1bEventBlock = binary.LittleEndian.Uint32(raw[60:64])
	f.PM1aControlBlock = binary.LittleEndian.Uint32(raw[64:68])
	f.PM1bControlBlock = binary.LittleEndian.Uint32(raw[68:72])
	f.PMTimerBlock = binary.LittleEndian.Uint32(raw[76:80])
	f.Flags = binary.LittleEndian.Uint32(raw[112:116])
	if len(raw) >= 128 {
		f.ResetRegSpace = raw[116]
		f.ResetRegAddr = binary.LittleEndian.Uint64(raw[120:128])
	}
	if len(raw) >= 129 {
		f.ResetValue = raw[128]
	}
	return f, true
}

// MADTEntryType mirrors the MADT record discriminant.
type MADTEntryType uint8

const (
	MADTEntryLocalAPIC MADTEntryType = iota
	MADTEntryIOAPIC
	MADTEntryIntSrcOverride
	MADTEntryNMI
)

// MADTEntry is one decoded interrupt-controller record from the MADT.
type MADTEntry struct {
	Type MADTEntryType

	// LocalAPIC
	ProcessorID uint8
	APICID      uint8
	LocalFlags  uint32

	// IOAPIC
	IOAPICAddr       uint32
	SysInterruptBase uint32

	// IntSrcOverride
	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32
	OverrideFlags   uint16
}

// MADT is the parsed Multiple APIC Description Table: the local APIC
// base address plus every variable-length interrupt-controller
// record that follows the header.
type MADT struct {
	LocalControllerAddress uint32
	Entries                []MADTEntry
}

// ParseMADT walks MADT's variable-length entry list, matching
// gopher-os's MADTEntry union-by-type decode.
func ParseMADT(raw []byte) (MADT, bool) {
	if len(raw) < sdtHeaderLen+8 {
		return MADT{}, false
	}
	m := MADT{LocalControllerAddress: binary.LittleEndian.Uint32(raw[sdtHeaderLen : sdtHeaderLen+4])}

	i := sdtHeaderLen + 8
	for i+2 <= len(raw) {
		typ := MADTEntryType(raw[i])
		length := int(raw[i+1])
		if length < 2 || i+length > len(raw) {
			break
		}
		body := raw[i+2 : i+length]
		e := MADTEntry{Type: typ}
		switch typ {
		case MADTEntryLocalAPIC:
			if len(body) >= 6 {
				e.ProcessorID = body[0]
				e.APICID = body[1]
				e.LocalFlags = binary.LittleEndian.Uint32(body[2:6])
			}
		case MADTEntryIOAPIC:
			if len(body) >= 10 {
				e.APICID = body[0]
				e.IOAPICAddr = binary.LittleEndian.Uint32(body[2:6])
				e.SysInterruptBase = binary.LittleEndian.Uint32(body[6:10])
			}
		case MADTEntryIntSrcOverride:
			if len(body) >= 8 {
				e.BusSrc = body[0]
				e.IRQSrc = body[1]
				e.GlobalInterrupt = binary.LittleEndian.Uint32(body[2:6])
				e.OverrideFlags = binary.LittleEndian.Uint16(body[6:8])
			}
		}
		m.Entries = append(m.Entries, e)
		i += length
	}
	return m, true
}

// MCFGEntry is one PCIe ECAM segment descriptor from the MCFG table.
type MCFGEntry struct {
	BaseAddress  uint64
	SegmentGroup uint16
	StartBus     uint8
	EndBus       uint8
}

// ParseMCFG walks MCFG's array of 16-byte segment-group descriptors,
// each naming one memory-mapped config-space window for
// device/pci.Enumerate to walk.
func ParseMCFG(raw []byte) []MCFGEntry {
	const entryLen = 16
	base := sdtHeaderLen + 8 // header + 8 reserved bytes
	var entries []MCFGEntry
	for i := base; i+entryLen <= len(raw); i += entryLen {
		entries = append(entries, MCFGEntry{
			BaseAddress:  binary.LittleEndian.Uint64(raw[i : i+8]),
			SegmentGroup: binary.LittleEndian.Uint16(raw[i+8 : i+10]),
			StartBus:     raw[i+10],
			EndBus:       raw[i+11],
		})
	}
	return entries
}

// ECDT is the decoded Embedded Controller Boot Resources Table: the
// EC's command/data port addresses and its ACPI namespace path, per
// §4.10's "embedded controller."
type ECDT struct {
	ECControlAddr uint64
	ECDataAddr    uint64
	UID           uint32
	GPEBit        uint8
	NamespacePath string
}

// ParseECDT decodes ECDT. GenericAddress fields are 12 bytes
// (1 space + 1 width + 1 offset + 1 access-size + 8 address); this
// rewrite only needs the address field from each.
func ParseECDT(raw []byte) (ECDT, bool) {
	if len(raw) < sdtHeaderLen+12+12+1+4 {
		return ECDT{}, false
	}
	var e ECDT
	off := sdtHeaderLen
	e.ECControlAddr = binary.LittleEndian.Uint64(raw[off+4 : off+12])
	off += 12
	e.ECDataAddr = binary.LittleEndian.Uint64(raw[off+4 : off+12])
	off += 12
	e.UID = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	e.GPEBit = raw[off]
	off++
	end := off
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	e.NamespacePath = string(raw[off:end])
	return e, true
}
