package main

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/acpi"
	"github.com/Qwinci/crescent-sub002/bootinfo"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/hostio"
)

func TestSynthesizeACPIIsDiscoverable(t *testing.T) {
	arena, err := hostio.NewArena(2 * 1024 * 1024)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	defer arena.Close()

	synthesizeACPI(arena)

	drv, err := acpi.New(arena)
	if err != nil {
		t.Fatalf("acpi.New: %v", err)
	}
	if drv.UseXSDT {
		t.Fatalf("synthesized RSDP should take the RSDT-only v1 path")
	}
	tbl, ok := drv.Lookup("FACP")
	if !ok {
		t.Fatalf("expected FACP to be discoverable")
	}
	if _, ok := acpi.ParseFADT(tbl.Raw); !ok {
		t.Fatalf("expected FADT to parse")
	}
}

func TestOnlineCPUsBringsUpRequestedCount(t *testing.T) {
	cpus, err := onlineCPUs(4)
	if err != nil {
		t.Fatalf("onlineCPUs: %v", err)
	}
	if len(cpus) != 4 {
		t.Fatalf("expected 4 cpus, got %d", len(cpus))
	}
	for i, c := range cpus {
		if c == nil {
			t.Fatalf("cpu %d is nil", i)
		}
		if c.ID != int32(i) {
			t.Fatalf("cpu %d has ID %d", i, c.ID)
		}
	}
}

func TestOnlineCPUsClampsBelowOne(t *testing.T) {
	cpus, err := onlineCPUs(0)
	if err != nil {
		t.Fatalf("onlineCPUs: %v", err)
	}
	if len(cpus) != 1 {
		t.Fatalf("expected clamping to 1 cpu, got %d", len(cpus))
	}
}

func TestDiscoverDevicesRegistersAllDriverKinds(t *testing.T) {
	info := &bootinfo.Info{Framebuffer: bootinfo.Framebuffer{Width: 800, Height: 600, Bpp: 32}}
	registry := discoverDevices(info)

	for _, kind := range []defs.DeviceKind{defs.DeviceFramebuffer, defs.DeviceSound, defs.DevicePS2} {
		resp := registry.HandleGetDevices(kind)
		if len(resp.DeviceNames) == 0 {
			t.Fatalf("expected at least one device registered for kind %v", kind)
		}
	}
}
