// Package sound implements the sound devlink subprotocol (§4.9,
// §6.2): querying output devices, selecting and configuring the
// active output, and queuing/playing/draining PCM buffers.
//
// Grounded on original_source/include/crescent/devlink.h's SoundLink
// op set (GetInfo/GetOutputInfo/SetActiveOutput/SetOutputParams/
// QueueOutput/Play/WaitUntilConsumed) and SoundOutputParams/
// SoundOutputInfo/SoundDeviceType/SoundFormat layouts, with queued PCM
// data held in a circbuf ring per biscuit's device-buffer idiom.
package sound

import (
	"encoding/binary"
	"sync"

	"github.com/Qwinci/crescent-sub002/circbuf"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/device"
)

// Op codes, mirroring SoundLinkOp.
const (
	OpGetInfo = iota
	OpGetOutputInfo
	OpSetActiveOutput
	OpSetOutputParams
	OpQueueOutput
	OpPlay
	OpWaitUntilConsumed
)

// Format mirrors SoundFormat.
type Format uint32

const (
	FormatNone Format = iota
	FormatPcmU8
	FormatPcmU16
	FormatPcmU20
	FormatPcmU24
	FormatPcmU32
)

// DeviceType mirrors SoundDeviceType.
type DeviceType uint32

const (
	DeviceHeadphone DeviceType = iota
	DeviceSpeaker
	DeviceLineOut
	DeviceUnknown
)

// OutputParams mirrors SoundOutputParams.
type OutputParams struct {
	SampleRate uint32
	Channels   uint32
	Fmt        Format
}

func (p OutputParams) marshal() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], p.SampleRate)
	binary.LittleEndian.PutUint32(b[4:8], p.Channels)
	binary.LittleEndian.PutUint32(b[8:12], uint32(p.Fmt))
	return b
}

func unmarshalOutputParams(b []byte) (OutputParams, defs.Err_t) {
	if len(b) < 12 {
		return OutputParams{}, defs.ErrInvalidArgument
	}
	return OutputParams{
		SampleRate: binary.LittleEndian.Uint32(b[0:4]),
		Channels:   binary.LittleEndian.Uint32(b[4:8]),
		Fmt:        Format(binary.LittleEndian.Uint32(b[8:12])),
	}, 0
}

// Output is one sound output (headphone jack, speaker, line-out).
type Output struct {
	Name       string
	BufferSize int
	Type       DeviceType

	mu     sync.Mutex
	params OutputParams
	ring   *circbuf.Circbuf_t
}

// NewOutput constructs an output whose queued-PCM ring holds
// bufferSize bytes.
func NewOutput(name string, bufferSize int, typ DeviceType) *Output {
	return &Output{
		Name:       name,
		BufferSize: bufferSize,
		Type:       typ,
		ring:       circbuf.Mkcircbuf(bufferSize),
	}
}

func (o *Output) infoPayload() []byte {
	nameBytes := []byte(o.Name)
	if len(nameBytes) > 127 {
		nameBytes = nameBytes[:127]
	}
	b := make([]byte, 128+8+8+4)
	copy(b[0:128], nameBytes)
	binary.LittleEndian.PutUint64(b[128:136], uint64(len(nameBytes)))
	binary.LittleEndian.PutUint64(b[136:144], uint64(o.BufferSize))
	binary.LittleEndian.PutUint32(b[144:148], uint32(o.Type))
	return b
}

// Device is one sound card: a fixed set of outputs, one of them
// active at a time.
type Device struct {
	mu      sync.Mutex
	name    string
	outputs []*Output
	active  int // index into outputs, -1 if none selected
}

// New constructs a sound device over the given outputs.
func New(name string, outputs ...*Output) *Device {
	active := -1
	if len(outputs) > 0 {
		active = 0
	}
	return &Device{name: name, outputs: outputs, active: active}
}

// Driver registers named sound devices under the device registry.
type Driver struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewDriver() *Driver { return &Driver{devices: make(map[string]*Device)} }

func (d *Driver) Add(dev *Device) {
	d.mu.Lock()
	d.devices[dev.name] = dev
	d.mu.Unlock()
}

func (d *Driver) Kind() defs.DeviceKind { return defs.DeviceSound }

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

type handleImpl struct {
	dev *Device
}

func (h *handleImpl) Close() defs.Err_t { return 0 }

// Specific dispatches the seven SoundLink ops.
func (h *handleImpl) Specific(op int, payload []byte) ([]byte, defs.Err_t) {
	d := h.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	switch op {
	case OpGetInfo:
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(len(d.outputs)))
		return out, 0

	case OpGetOutputInfo:
		if len(payload) < 8 {
			return nil, defs.ErrInvalidArgument
		}
		idx := int(binary.LittleEndian.Uint64(payload[0:8]))
		if idx < 0 || idx >= len(d.outputs) {
			return nil, defs.ErrInvalidArgument
		}
		return d.outputs[idx].infoPayload(), 0

	case OpSetActiveOutput:
		if len(payload) < 8 {
			return nil, defs.ErrInvalidArgument
		}
		idx := int(binary.LittleEndian.Uint64(payload[0:8]))
		if idx < 0 || idx >= len(d.outputs) {
			return nil, defs.ErrInvalidArgument
		}
		d.active = idx
		return nil, 0

	case OpSetOutputParams:
		if d.active < 0 {
			return nil, defs.ErrInvalidArgument
		}
		params, err := unmarshalOutputParams(payload)
		if err != 0 {
			return nil, err
		}
		out := d.outputs[d.active]
		out.mu.Lock()
		out.params = params
		out.mu.Unlock()
		return params.marshal(), 0

	case OpQueueOutput:
		if d.active < 0 {
			return nil, defs.ErrInvalidArgument
		}
		out := d.outputs[d.active]
		out.mu.Lock()
		n := out.ring.Write(payload)
		out.mu.Unlock()
		if n < len(payload) {
			return nil, defs.ErrNoMem
		}
		return nil, 0

	case OpPlay:
		// playback draining is modeled as immediate consumption, since
		// this rewrite has no real audio clock to pace against.
		if d.active < 0 {
			return nil, defs.ErrInvalidArgument
		}
		if len(payload) < 1 {
			return nil, defs.ErrInvalidArgument
		}
		play := payload[0] != 0
		out := d.outputs[d.active]
		out.mu.Lock()
		if play {
			out.ring.Discard(out.ring.Len())
		}
		out.mu.Unlock()
		return nil, 0

	case OpWaitUntilConsumed:
		if d.active < 0 {
			return nil, defs.ErrInvalidArgument
		}
		out := d.outputs[d.active]
		out.mu.Lock()
		remaining := out.ring.Len()
		out.mu.Unlock()
		resp := make([]byte, 8)
		binary.LittleEndian.PutUint64(resp, uint64(remaining))
		return resp, 0

	default:
		return nil, defs.ErrInvalidArgument
	}
}
