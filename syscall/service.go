package syscall

import (
	"bytes"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/device"
	"github.com/Qwinci/crescent-sub002/klog"
	"github.com/Qwinci/crescent-sub002/klog/profile"
	"github.com/Qwinci/crescent-sub002/util"
)

// sysServiceCreate registers the calling process as a provider of the
// feature list read from args[0] (a newline-separated NUL-terminated
// string, max 1024 bytes), with endpoint handle args[2] as
// the advertised rendezvous point (SYS_SERVICE_CREATE). The token is
// copied out to args[3].
func (k *Kernel) sysServiceCreate(ctx *Context, args Args) (int64, defs.Err_t) {
	raw, err := ctx.Accessor(k).CopyInString(uintptr(args[0]), 1024)
	if err != 0 {
		return 0, err
	}
	features := splitLines(raw)
	tok := k.Services.Create(ctx.Proc.Pid, features, defs.Handle_t(args[2]))

	if args[3] != 0 {
		b, merr := tok.MarshalBinary()
		if merr != nil {
			return 0, defs.ErrInvalidArgument
		}
		if cerr := ctx.Accessor(k).CopyOut(uintptr(args[3]), b); cerr != 0 {
			return 0, cerr
		}
	}
	return 0, 0
}

// sysServiceGet finds a registration advertising every feature in the
// newline-separated list at args[0] (max 1024 bytes), copying the
// winner's token out to args[1] (if non-zero) and returning its
// endpoint handle (SYS_SERVICE_GET).
func (k *Kernel) sysServiceGet(ctx *Context, args Args) (int64, defs.Err_t) {
	raw, err := ctx.Accessor(k).CopyInString(uintptr(args[0]), 1024)
	if err != 0 {
		return 0, err
	}
	want := splitLines(raw)
	reg, err := k.Services.Get(want)
	if err != 0 {
		return 0, err
	}

	if args[1] != 0 {
		b, _ := reg.Token.MarshalBinary()
		if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), b); cerr != 0 {
			return 0, cerr
		}
	}
	return int64(reg.Endpoint), 0
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// devlink wire layout: a fixed 40-byte header (type, handle, kind, op,
// payload length, all uint64) followed by payload bytes and, for
// RequestOpenDevice, a NUL-terminated device name appended after the
// header.
const devlinkHeaderSize = 40

// sysDevlink marshals a device.Request from user memory at args[0],
// dispatches it against the device registry, and copies the resulting
// device.Response back out to args[1] (SYS_DEVLINK). This rewrite has
// no fixed wire codec of its own for the request/response envelope
// (the retrieval pack's device registry is driven in Go by typed
// structs, not bytes), so the header layout here is new, grounded on
// the fixed six-register syscall ABI's own "small struct over raw
// bytes" convention used throughout this package.
func (k *Kernel) sysDevlink(ctx *Context, args Args) (int64, defs.Err_t) {
	acc := ctx.Accessor(k)
	hdr := make([]byte, devlinkHeaderSize)
	if err := acc.CopyIn(uintptr(args[0]), hdr); err != 0 {
		return 0, err
	}

	req := device.Request{
		Type:       device.RequestType(util.Readn64(hdr, 0)),
		Handle:     defs.Handle_t(util.Readn64(hdr, 8)),
		DeviceKind: defs.DeviceKind(util.Readn64(hdr, 16)),
		Op:         int(util.Readn64(hdr, 24)),
	}
	payloadLen := int(util.Readn64(hdr, 32))

	switch req.Type {
	case device.RequestGetDevices:
		resp := k.Devices.HandleGetDevices(req.DeviceKind)
		return 0, k.writeDevlinkNames(acc, args[1], resp.DeviceNames)

	case device.RequestOpenDevice:
		name, err := acc.CopyInString(uintptr(args[0])+devlinkHeaderSize, 256)
		if err != 0 {
			return 0, err
		}
		req.DeviceName = name
		resp, err := k.Devices.HandleOpenDevice(req.DeviceKind, req.DeviceName, ctx.Proc.Handles)
		if err != 0 {
			return 0, err
		}
		return int64(resp.Handle), 0

	case device.RequestSpecific:
		payload, release, err := k.stageBuffer(payloadLen)
		if err != 0 {
			return 0, err
		}
		defer release()
		if payloadLen > 0 {
			if err := acc.CopyIn(uintptr(args[0])+devlinkHeaderSize, payload); err != 0 {
				return 0, err
			}
		}
		resp, err := k.Devices.HandleSpecific(req.Handle, req.Op, payload, ctx.Proc.Handles)
		if err != 0 {
			return 0, err
		}
		if len(resp.Payload) > 0 && args[1] != 0 {
			if cerr := acc.CopyOut(uintptr(args[1]), resp.Payload); cerr != 0 {
				return 0, cerr
			}
		}
		return int64(len(resp.Payload)), 0

	default:
		return 0, defs.ErrInvalidArgument
	}
}

func (k *Kernel) writeDevlinkNames(acc *UserAccessor, dst uint64, names []string) defs.Err_t {
	if dst == 0 {
		return 0
	}
	var buf []byte
	for _, n := range names {
		buf = append(buf, n...)
		buf = append(buf, 0)
	}
	if len(buf) == 0 {
		return 0
	}
	return acc.CopyOut(uintptr(dst), buf)
}

// sysSyslog appends a user-supplied message (args[1]=0), copies the n
// most recent ring entries out as newline-joined text (args[1]=1, n in
// args[2]), or dumps a pprof snapshot of scheduler/memory counters
// (args[1]=2, destination capacity in args[2]) (SYS_SYSLOG).
func (k *Kernel) sysSyslog(ctx *Context, args Args) (int64, defs.Err_t) {
	acc := ctx.Accessor(k)
	switch args[1] {
	case 0:
		msg, err := acc.CopyInString(uintptr(args[0]), 1024)
		if err != 0 {
			return 0, err
		}
		klog.Default.KV(klog.Info, msg, map[string]interface{}{"pid": ctx.Proc.Pid})
		return 0, 0
	case 1:
		recs := klog.Default.Recent(int(args[2]))
		var buf []byte
		for _, r := range recs {
			buf = append(buf, r.Msg...)
			buf = append(buf, '\n')
		}
		if len(buf) == 0 {
			return 0, 0
		}
		if cerr := acc.CopyOut(uintptr(args[0]), buf); cerr != 0 {
			return 0, cerr
		}
		return int64(len(buf)), 0
	case 2:
		samples := []profile.Sample{
			{Name: "runqueue-depth", Value: int64(k.CPU.QueueDepth())},
			{Name: "frames-free", Value: int64(k.PMM.Cardinality())},
			{Name: "processes", Value: int64(k.processCount())},
		}
		var out bytes.Buffer
		if err := profile.Dump(&out, samples); err != nil {
			return 0, defs.ErrFault
		}
		n := out.Len()
		if cap := int(args[2]); n > cap {
			n = cap
		}
		if n > 0 {
			if cerr := acc.CopyOut(uintptr(args[0]), out.Bytes()[:n]); cerr != 0 {
				return 0, cerr
			}
		}
		return int64(n), 0
	default:
		return 0, defs.ErrInvalidArgument
	}
}

// sysShutdown marks the system for teardown; actual power-off is a
// firmware concern outside this package (SYS_SHUTDOWN).
func (k *Kernel) sysShutdown(ctx *Context, args Args) (int64, defs.Err_t) {
	klog.Default.KV(klog.Info, "shutdown requested", map[string]interface{}{"pid": ctx.Proc.Pid})
	return 0, 0
}
