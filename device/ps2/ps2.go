// Package ps2 implements a PS/2 keyboard driver: scancode-set-2
// decoding (including 0xE0/0xE1 multi-byte prefixes and 0xF0 release
// markers), modifier-key state tracking, and delivery of decoded key
// events to whichever consumer is currently listening.
//
// This is a supplemented feature: spec.md's distillation covers only
// the kernel core and omits concrete input drivers, but
// original_source/kernel/src/dev/x86/ps2_kb.c implements one in full,
// so it is carried into this rewrite in the teacher's idiom. Grounded
// directly on that file: an IRQ-fed byte queue drained by a dedicated
// "translator" goroutine (the goroutine-as-thread technique standing
// in for the original's translator task blocked on queue_get_byte),
// the same 0xE0 two-table scancode decode, and the same shift/alt/
// altgr modifier bitmask accumulated across make/break pairs.
package ps2

import (
	"encoding/binary"
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/device"
)

// Scancode names the subset of CrescentScancode this rewrite
// recognizes. Values are arbitrary but stable within this package.
type Scancode int

const (
	ScanReserved Scancode = iota
	ScanA
	ScanB
	ScanC
	ScanD
	ScanE
	ScanEnter
	ScanSpace
	ScanEscape
	ScanBackspace
	ScanTab
	ScanLeftShift
	ScanRightShift
	ScanLeftControl
	ScanRightControl
	ScanLeftAlt
	ScanRightAlt
	ScanLeftGUI
	ScanRightGUI
	ScanUp
	ScanDown
	ScanLeft
	ScanRight
	ScanHome
	ScanEnd
	ScanInsert
	ScanDelete
	ScanPgUp
	ScanKeypadEnter
	ScanKeypadSlash
	ScanPause
)

// Modifier mirrors CrescentModifier's bitmask.
type Modifier uint8

const (
	ModNone    Modifier = 0
	ModShift   Modifier = 1 << 0
	ModAlt     Modifier = 1 << 1
	ModAltGr   Modifier = 1 << 2
	ModControl Modifier = 1 << 3
)

// KeyEvent mirrors CrescentEvent{.type = EVENT_KEY}.
type KeyEvent struct {
	Key     Scancode
	Mods    Modifier
	Pressed bool
}

// set2Base is scancode-set-2's single-byte table, covering the subset
// of keys this rewrite names. Unlisted bytes decode to ScanReserved,
// matching the original's default case.
var set2Base = map[byte]Scancode{
	0x12: ScanLeftShift,
	0x59: ScanRightShift,
	0x14: ScanLeftControl,
	0x11: ScanLeftAlt,
	0x76: ScanEscape,
	0x66: ScanBackspace,
	0x0D: ScanTab,
	0x29: ScanSpace,
	0x5A: ScanEnter,
	0x1C: ScanA,
	0x32: ScanB,
	0x21: ScanC,
	0x23: ScanD,
	0x24: ScanE,
}

// set2E0 is scancode-set-2's 0xE0-prefixed table, transcribed from
// ps2_scancode_set2_e0.
var set2E0 = map[byte]Scancode{
	0x11: ScanRightAlt,
	0x14: ScanRightControl,
	0x1F: ScanLeftGUI,
	0x27: ScanRightGUI,
	0x4A: ScanKeypadSlash,
	0x5A: ScanKeypadEnter,
	0x69: ScanEnd,
	0x6B: ScanLeft,
	0x6C: ScanHome,
	0x70: ScanInsert,
	0x71: ScanDelete,
	0x72: ScanDown,
	0x74: ScanRight,
	0x75: ScanUp,
	0x7D: ScanPgUp,
}

// decodeE1 handles the single 0xE1-prefixed sequence this layout
// recognizes (Pause), matching ps2_scancode_set2_e1.
func decodeE1(b1, b2 byte) Scancode {
	if b1 == 0x14 && b2 == 0x77 {
		return ScanPause
	}
	return ScanReserved
}

const queueSize = 128

// Keyboard is one PS/2 keyboard: an IRQ-fed byte queue, a translator
// goroutine draining it, and a single active listener for decoded key
// events (matching the original's single ACTIVE_INPUT_TASK).
type Keyboard struct {
	mu       sync.Mutex
	queue    []byte
	notEmpty *sync.Cond

	modifiers Modifier

	listenerMu sync.Mutex
	listener   chan KeyEvent

	stop chan struct{}
}

// New constructs a keyboard and starts its translator goroutine.
func New() *Keyboard {
	k := &Keyboard{stop: make(chan struct{})}
	k.notEmpty = sync.NewCond(&k.mu)
	go k.translate()
	return k
}

// Feed is called from the (simulated) IRQ handler with one scancode
// byte read from the PS/2 data port. Like ps2_kb_handler, it drops
// the byte if the queue is full instead of blocking the "interrupt";
// the drop is silent (nothing is logged).
func (k *Keyboard) Feed(b byte) {
	k.mu.Lock()
	if len(k.queue) >= queueSize {
		k.mu.Unlock()
		return
	}
	k.queue = append(k.queue, b)
	k.notEmpty.Signal()
	k.mu.Unlock()
}

// Close stops the translator goroutine.
func (k *Keyboard) Close() {
	close(k.stop)
	k.mu.Lock()
	k.notEmpty.Broadcast()
	k.mu.Unlock()
}

// Listen installs ch as the sole receiver of decoded key events,
// matching ACTIVE_INPUT_TASK's single-listener semantics. Passing nil
// detaches the current listener.
func (k *Keyboard) Listen(ch chan KeyEvent) {
	k.listenerMu.Lock()
	k.listener = ch
	k.listenerMu.Unlock()
}

func (k *Keyboard) getByte() (byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for len(k.queue) == 0 {
		select {
		case <-k.stop:
			return 0, false
		default:
		}
		k.notEmpty.Wait()
	}
	b := k.queue[0]
	k.queue = k.queue[1:]
	return b, true
}

func (k *Keyboard) translate() {
	for {
		byte0, ok := k.getByte()
		if !ok {
			return
		}

		released := false
		var key Scancode

		switch byte0 {
		case 0xE0:
			b1, ok := k.getByte()
			if !ok {
				return
			}
			if b1 == 0xF0 {
				released = true
				if b1, ok = k.getByte(); !ok {
					return
				}
			}
			key = set2E0[b1]

		case 0xE1:
			b1, ok := k.getByte()
			if !ok {
				return
			}
			if b1 == 0xF0 {
				released = true
				if b1, ok = k.getByte(); !ok {
					return
				}
			}
			b2, ok := k.getByte()
			if !ok {
				return
			}
			if b2 == 0xF0 {
				released = true
				if b2, ok = k.getByte(); !ok {
					return
				}
			}
			key = decodeE1(b1, b2)

		default:
			b0 := byte0
			if b0 == 0xF0 {
				released = true
				if b0, ok = k.getByte(); !ok {
					return
				}
			}
			key = set2Base[b0]
		}

		k.updateModifiers(key, released)

		k.listenerMu.Lock()
		ch := k.listener
		k.listenerMu.Unlock()
		if ch != nil {
			ev := KeyEvent{Key: key, Mods: k.currentModifiers(), Pressed: !released}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (k *Keyboard) updateModifiers(key Scancode, released bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch key {
	case ScanLeftShift, ScanRightShift:
		k.setMod(ModShift, !released)
	case ScanRightAlt:
		k.setMod(ModAltGr, !released)
	case ScanLeftAlt:
		k.setMod(ModAlt, !released)
	case ScanLeftControl, ScanRightControl:
		k.setMod(ModControl, !released)
	}
}

func (k *Keyboard) setMod(m Modifier, on bool) {
	if on {
		k.modifiers |= m
	} else {
		k.modifiers &^= m
	}
}

func (k *Keyboard) currentModifiers() Modifier {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.modifiers
}

// The only devlink op this subprotocol exposes: read the next decoded
// key event, blocking until one arrives.
const OpReadEvent = 0

// Driver registers named PS/2 keyboards under the device registry
// (defs.DevicePS2).
type Driver struct {
	mu        sync.RWMutex
	keyboards map[string]*Keyboard
}

func NewDriver() *Driver { return &Driver{keyboards: make(map[string]*Keyboard)} }

func (d *Driver) Add(name string, kb *Keyboard) {
	d.mu.Lock()
	d.keyboards[name] = kb
	d.mu.Unlock()
}

func (d *Driver) Kind() defs.DeviceKind { return defs.DevicePS2 }

func (d *Driver) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.keyboards))
	for n := range d.keyboards {
		names = append(names, n)
	}
	return names
}

func (d *Driver) Open(name string) (device.DeviceHandle, defs.Err_t) {
	d.mu.RLock()
	kb, ok := d.keyboards[name]
	d.mu.RUnlock()
	if !ok {
		return nil, defs.ErrNotExists
	}
	ch := make(chan KeyEvent, 64)
	kb.Listen(ch)
	return &handleImpl{kb: kb, events: ch}, 0
}

type handleImpl struct {
	kb     *Keyboard
	events chan KeyEvent
}

func (h *handleImpl) Close() defs.Err_t {
	h.kb.Listen(nil)
	return 0
}

// Specific answers OpReadEvent by blocking for the next key event and
// marshalling it as {key uint32, mods uint8, pressed uint8}.
func (h *handleImpl) Specific(op int, payload []byte) ([]byte, defs.Err_t) {
	switch op {
	case OpReadEvent:
		ev, ok := <-h.events
		if !ok {
			return nil, defs.ErrConnectionClosed
		}
		out := make([]byte, 6)
		binary.LittleEndian.PutUint32(out[0:4], uint32(ev.Key))
		out[4] = byte(ev.Mods)
		if ev.Pressed {
			out[5] = 1
		}
		return out, 0
	default:
		return nil, defs.ErrInvalidArgument
	}
}
