package device

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/handle"
)

type fakeDriver struct {
	kind  defs.DeviceKind
	names []string
}

func (f *fakeDriver) Kind() defs.DeviceKind { return f.kind }
func (f *fakeDriver) Names() []string       { return f.names }
func (f *fakeDriver) Open(name string) (DeviceHandle, defs.Err_t) {
	for _, n := range f.names {
		if n == name {
			return &fakeHandle{}, 0
		}
	}
	return nil, defs.ErrNotExists
}

type fakeHandle struct{ closed bool }

func (h *fakeHandle) Close() defs.Err_t { h.closed = true; return 0 }
func (h *fakeHandle) Specific(op int, payload []byte) ([]byte, defs.Err_t) {
	return append([]byte{byte(op)}, payload...), 0
}

func TestGetDevicesListsSortedNames(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver(&fakeDriver{kind: defs.DeviceFramebuffer, names: []string{"fb1", "fb0"}})

	resp := r.HandleGetDevices(defs.DeviceFramebuffer)
	if len(resp.DeviceNames) != 2 || resp.DeviceNames[0] != "fb0" || resp.DeviceNames[1] != "fb1" {
		t.Fatalf("unexpected names: %v", resp.DeviceNames)
	}
}

func TestOpenUnknownKindReturnsNotExists(t *testing.T) {
	r := NewRegistry()
	handles := handle.New()
	if _, err := r.HandleOpenDevice(defs.DeviceSound, "x", handles); err != defs.ErrNotExists {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}
}

func TestOpenAndDispatchSpecific(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver(&fakeDriver{kind: defs.DeviceFramebuffer, names: []string{"fb0"}})
	handles := handle.New()

	resp, err := r.HandleOpenDevice(defs.DeviceFramebuffer, "fb0", handles)
	if err != 0 {
		t.Fatalf("open: %v", err)
	}

	specResp, err := r.HandleSpecific(resp.Handle, 7, []byte("hi"), handles)
	if err != 0 {
		t.Fatalf("specific: %v", err)
	}
	if len(specResp.Payload) != 3 || specResp.Payload[0] != 7 || string(specResp.Payload[1:]) != "hi" {
		t.Fatalf("unexpected payload: %v", specResp.Payload)
	}
}

func TestVectorAllocatorExclusiveExcludesOthers(t *testing.T) {
	v := NewVectorAllocator()
	vec, err := v.AllocExclusive(func() bool { return true })
	if err != 0 {
		t.Fatalf("alloc exclusive: %v", err)
	}

	shared, err := v.AllocShared(func() bool { return false })
	if err != 0 {
		t.Fatalf("alloc shared: %v", err)
	}
	if shared == vec {
		t.Fatalf("shared handler was installed on exclusive vector %d", vec)
	}

	d := &Deferred{}
	if claimed := v.Dispatch(vec, d); !claimed {
		t.Fatalf("expected handler to claim the interrupt")
	}
}

func TestDeferredDrainRunsAllQueuedWork(t *testing.T) {
	d := &Deferred{}
	n := 0
	d.Push(func() { n++ })
	d.Push(func() { n++ })
	d.Drain()
	if n != 2 {
		t.Fatalf("expected 2 deferred items run, got %d", n)
	}
	d.Drain()
	if n != 2 {
		t.Fatalf("expected drain to clear the queue, got %d", n)
	}
}
