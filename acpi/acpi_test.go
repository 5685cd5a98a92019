package acpi

import (
	"encoding/binary"
	"testing"

	"github.com/Qwinci/crescent-sub002/hostio"
)

func writeChecksummedTable(mem *hostio.Arena, addr int, signature string, body []byte) {
	length := 36 + len(body)
	cfg := mem.Slice(addr, length)
	copy(cfg[0:4], signature)
	binary.LittleEndian.PutUint32(cfg[4:8], uint32(length))
	cfg[8] = 1 // revision
	copy(cfg[36:], body)

	var sum byte
	for i, b := range cfg {
		if i == 9 {
			continue
		}
		sum += b
	}
	cfg[9] = byte(0 - int(sum))
}

func writeRSDP(mem *hostio.Arena, addr int, rsdtAddr uint32) {
	b := mem.Slice(addr, rsdpLenV1)
	copy(b[0:8], rsdpSignature[:])
	copy(b[9:15], "CRSCNT")
	b[15] = 0 // revision 0 => ACPI 1.0, RSDT only
	binary.LittleEndian.PutUint32(b[16:20], rsdtAddr)

	var sum byte
	for i, c := range b {
		if i == 8 {
			continue
		}
		sum += c
	}
	b[8] = byte(0 - int(sum))
}

func TestLocateAndEnumerateRSDT(t *testing.T) {
	mem, err := hostio.NewArena(2 * 1024 * 1024)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	defer mem.Close()

	const fadtAddr = 0x20000
	const rsdtAddr = 0x30000
	const rsdpAddr = 0xE1000

	fadtBody := make([]byte, 200)
	writeChecksummedTable(mem, fadtAddr, "FACP", fadtBody)

	rsdtBody := make([]byte, 4)
	binary.LittleEndian.PutUint32(rsdtBody, fadtAddr)
	writeChecksummedTable(mem, rsdtAddr, "RSDT", rsdtBody)

	writeRSDP(mem, rsdpAddr, rsdtAddr)

	d, err := New(mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.UseXSDT {
		t.Fatalf("expected RSDT-only ACPI 1.0 path")
	}
	tbl, ok := d.Lookup("FACP")
	if !ok {
		t.Fatalf("expected FACP to be enumerated")
	}
	if string(tbl.Header.Signature[:]) != "FACP" {
		t.Fatalf("unexpected signature: %q", tbl.Header.Signature)
	}
}

func TestParseMADTEntries(t *testing.T) {
	body := make([]byte, 8) // LocalControllerAddress + flags
	binary.LittleEndian.PutUint32(body[0:4], 0xFEE00000)

	// one LocalAPIC entry: type=0, len=8, procid=0, apicid=1, flags=1
	localAPIC := []byte{0, 8, 0, 1, 1, 0, 0, 0}
	// one IOAPIC entry: type=1, len=12, apicid=2, reserved, addr, gsibase
	ioapic := make([]byte, 12)
	ioapic[0] = 1
	ioapic[1] = 12
	ioapic[2] = 2
	binary.LittleEndian.PutUint32(ioapic[4:8], 0xFEC00000)
	binary.LittleEndian.PutUint32(ioapic[8:12], 0)

	raw := append([]byte{}, make([]byte, 36)...) // header placeholder
	raw = append(raw, body...)
	raw = append(raw, localAPIC...)
	raw = append(raw, ioapic...)

	madt, ok := ParseMADT(raw)
	if !ok {
		t.Fatalf("expected MADT to parse")
	}
	if madt.LocalControllerAddress != 0xFEE00000 {
		t.Fatalf("unexpected local controller address: 0x%x", madt.LocalControllerAddress)
	}
	if len(madt.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(madt.Entries))
	}
	if madt.Entries[0].Type != MADTEntryLocalAPIC || madt.Entries[0].APICID != 1 {
		t.Fatalf("unexpected local apic entry: %+v", madt.Entries[0])
	}
	if madt.Entries[1].Type != MADTEntryIOAPIC || madt.Entries[1].IOAPICAddr != 0xFEC00000 {
		t.Fatalf("unexpected ioapic entry: %+v", madt.Entries[1])
	}
}

func TestWalkNamesDecodesDWordConstant(t *testing.T) {
	// header (36 bytes, content irrelevant to the walk) + "NameOp _FOO DWordPrefix 0x12345678"
	raw := make([]byte, 36)
	raw = append(raw, amlNameOp)
	raw = append(raw, []byte("_FOO")...)
	raw = append(raw, amlDWordPrefix)
	raw = append(raw, 0x78, 0x56, 0x34, 0x12)

	found := WalkNames(raw, []string{"_FOO"})
	obj, ok := found["_FOO"]
	if !ok {
		t.Fatalf("expected _FOO to be found")
	}
	if obj.Integer != 0x12345678 {
		t.Fatalf("unexpected value: 0x%x", obj.Integer)
	}
}

func TestSleepStatesDecodesS5Package(t *testing.T) {
	raw := make([]byte, 36)
	raw = append(raw, amlNameOp)
	raw = append(raw, []byte("_S5_")...)
	// PackageOp, PkgLength=6 (1-byte form: 1 len-byte + 1 NumElements + 2x2-byte ByteConst), NumElements=2, Byte(5), Byte(5)
	raw = append(raw, amlPackageOp, 0x06, 0x02, amlBytePrefix, 0x05, amlBytePrefix, 0x05)

	states := SleepStates(raw)
	s5, ok := states["_S5_"]
	if !ok {
		t.Fatalf("expected _S5_ to be found")
	}
	if s5.PM1aSlpTyp != 5 || s5.PM1bSlpTyp != 5 {
		t.Fatalf("unexpected sleep type values: %+v", s5)
	}
}
