package pci

import (
	"encoding/binary"
	"testing"

	"github.com/Qwinci/crescent-sub002/hostio"
)

func writeFunction(ecam *hostio.Arena, addr Address, vendor, device uint16, class, subclass, progif byte) {
	cfg := ecam.Slice(offset(addr), fnECAMSize)
	binary.LittleEndian.PutUint16(cfg[0:2], vendor)
	binary.LittleEndian.PutUint16(cfg[2:4], device)
	cfg[9] = progif
	cfg[10] = subclass
	cfg[11] = class
}

func TestEnumerateFindsPopulatedFunction(t *testing.T) {
	ecam, err := hostio.NewArena(maxBus * maxDevice * fnECAMSize)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	defer ecam.Close()

	addr := Address{Bus: 0, Device: 3, Function: 0}
	writeFunction(ecam, addr, 0x8086, 0x100E, 0x02, 0x00, 0x00) // a network controller

	found := Enumerate(ecam)
	if len(found) != 1 {
		t.Fatalf("expected 1 populated function, got %d", len(found))
	}
	if found[0].VendorID != 0x8086 || found[0].Addr != addr {
		t.Fatalf("unexpected function: %+v", found[0])
	}
}

func TestFindByClassFilters(t *testing.T) {
	ecam, err := hostio.NewArena(maxBus * maxDevice * fnECAMSize)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	defer ecam.Close()

	writeFunction(ecam, Address{Bus: 0, Device: 1, Function: 0}, 0x1234, 0x1, 0x01, 0x06, 0x00) // SATA
	writeFunction(ecam, Address{Bus: 0, Device: 2, Function: 0}, 0x1234, 0x2, 0x04, 0x03, 0x00) // HD audio

	found := Enumerate(ecam)
	sata := FindByClass(found, 0x01, 0x06)
	if len(sata) != 1 || sata[0].DeviceID != 0x1 {
		t.Fatalf("unexpected sata filter result: %+v", sata)
	}
}
