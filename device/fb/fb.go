// Package fb implements the framebuffer devlink subprotocol (§4.9,
// §6.2): GetInfo, Map, and Flip against a host-backed pixel buffer.
//
// Grounded on original_source/kernel/src/dev/fb.c/fb.h (FbLink's
// GetInfo/Map/Flip op set and the double-buffer flag) and, for the
// pixel storage itself, on hostio's host-memory-arena idiom (a []byte
// slice standing in for a mapped MMIO/linear-framebuffer region).
package fb

import (
	"encoding/binary"
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/device"
)

// Op codes for device.Request.Op when Type is RequestSpecific,
// mirroring FbLinkOp in original_source/include/crescent/devlink.h.
const (
	OpGetInfo = iota
	OpMap
	OpFlip
)

// DoubleBuffer mirrors FB_LINK_DOUBLE_BUFFER: the device exposes two
// equally-sized buffers and Flip swaps which one is the one mapped as
// "front."
const DoubleBuffer uint32 = 1 << 0

// Info is FbLinkResponse's GetInfo payload.
type Info struct {
	Pitch  uint32
	Width  uint32
	Height uint32
	Bpp    uint32
	Flags  uint32
}

func (i Info) marshal() []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:4], i.Pitch)
	binary.LittleEndian.PutUint32(b[4:8], i.Width)
	binary.LittleEndian.PutUint32(b[8:12], i.Height)
	binary.LittleEndian.PutUint32(b[12:16], i.Bpp)
	binary.LittleEndian.PutUint32(b[16:20], i.Flags)
	return b
}

// Device is one framebuffer's backing state: a host-side pixel buffer
// standing in for a mapped linear framebuffer, with an optional
// second buffer when DoubleBuffer is set.
type Device struct {
	mu      sync.Mutex
	name    string
	info    Info
	front   []byte
	back    []byte // nil unless info.Flags&DoubleBuffer != 0
	flipped bool
}

// New constructs a single-buffered or double-buffered framebuffer of
// the given geometry. bpp is bits per pixel; pitch is computed as
// width*bpp/8, matching fb.c's tightly packed layout (no row padding).
func New(name string, width, height, bpp uint32, doubleBuffer bool) *Device {
	pitch := width * bpp / 8
	size := int(pitch) * int(height)
	flags := uint32(0)
	var back []byte
	if doubleBuffer {
		flags |= DoubleBuffer
		back = make([]byte, size)
	}
	return &Device{
		name:  name,
		info:  Info{Pitch: pitch, Width: width, Height: height, Bpp: bpp, Flags: flags},
		front: make([]byte, size),
		back:  back,
	}
}

// Driver registers a named set of framebuffer devices under the
// device registry.
type Driver struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewDriver constructs an empty framebuffer driver.
func NewDriver() *Driver { return &Driver{devices: make(map[string]*Device)} }

// Add registers dev under its own name.
func (d *Driver) Add(dev *Device) {
	d.mu.Lock()
	d.devices[dev.name] = dev
	d.mu.Unlock()
}

func (d *Driver) Kind() defs.DeviceKind { return defs.DeviceFramebuffer }

func (d *Driver) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.devices))
	for n := range d.devices {
		names = append(names, n)
	}
	return names
}

func (d *Driver) Open(name string) (device.DeviceHandle, defs.Err_t) {
	d.mu.RLock()
	dev, ok := d.devices[name]
	d.mu.RUnlock()
	if !ok {
		return nil, defs.ErrNotExists
	}
	return &handleImpl{dev: dev}, 0
}

// handleImpl is the open-file-equivalent object installed into a
// process's handle table by device.Registry.HandleOpenDevice.
type handleImpl struct {
	dev *Device
}

func (h *handleImpl) Close() defs.Err_t { return 0 }

// Specific dispatches GetInfo/Map/Flip, matching FbLink's op
// discriminant.
func (h *handleImpl) Specific(op int, payload []byte) ([]byte, defs.Err_t) {
	switch op {
	case OpGetInfo:
		h.dev.mu.Lock()
		info := h.dev.info
		h.dev.mu.Unlock()
		return info.marshal(), 0
	case OpMap:
		// A real kernel would map the buffer into the caller's address
		// space and return the mapping's user virtual address; here the
		// "mapping" is the buffer contents themselves, since this rewrite
		// has no MMU-backed user address space to map into.
		h.dev.mu.Lock()
		buf := h.dev.front
		if h.dev.info.Flags&DoubleBuffer != 0 && h.dev.flipped {
			buf = h.dev.back
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		h.dev.mu.Unlock()
		return out, 0
	case OpFlip:
		h.dev.mu.Lock()
		if h.dev.info.Flags&DoubleBuffer == 0 {
			h.dev.mu.Unlock()
			return nil, defs.ErrUnsupported
		}
		if len(payload) > 0 {
			target := h.dev.back
			if h.dev.flipped {
				target = h.dev.front
			}
			copy(target, payload)
		}
		h.dev.flipped = !h.dev.flipped
		h.dev.mu.Unlock()
		return nil, 0
	default:
		return nil, defs.ErrInvalidArgument
	}
}
