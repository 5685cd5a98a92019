// Package limits tracks system-wide resource ceilings for the objects
// named throughout the spec: handles, futexes, sockets, pipes, evm
// vcpus, arp entries.
//
// Grounded on biscuit/src/limits/limits.go: Sysatomic_t's take/give
// pattern is kept verbatim; the field set is renumbered to this
// kernel's subsystems.
package limits

import "sync/atomic"

// Sysatomic_t is a numeric limit that can be atomically taken from and
// given back to, saturating at zero rather than going negative.
type Sysatomic_t struct {
	v int64
}

// Taken tries to decrement the limit by n; returns false (and leaves
// the limit unchanged) if that would drive it negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	d := int64(n)
	g := atomic.AddInt64(&s.v, -d)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(&s.v, d)
	return false
}

// Take takes one unit.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Given returns n units to the limit.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(&s.v, int64(n))
}

// Give returns one unit.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Remaining reports the current headroom, for diagnostics only.
func (s *Sysatomic_t) Remaining() int64 { return atomic.LoadInt64(&s.v) }

// Syslimit_t is the full set of system-wide ceilings.
type Syslimit_t struct {
	Handles   Sysatomic_t
	Futexes   Sysatomic_t
	Arpents   Sysatomic_t
	Routes    Sysatomic_t
	Sockets   Sysatomic_t
	Pipes     Sysatomic_t
	Processes Sysatomic_t
	Vcpus     Sysatomic_t
	Frames    Sysatomic_t
}

// Syslimit is the default configured system-wide limit set, sized
// after biscuit's MkSysLimit defaults.
var Syslimit = MkSysLimit()

// MkSysLimit builds a fresh Syslimit_t populated with the defaults.
func MkSysLimit() *Syslimit_t {
	s := &Syslimit_t{}
	s.Handles.Given(1 << 20)
	s.Futexes.Given(1024)
	s.Arpents.Given(1024)
	s.Routes.Given(32)
	s.Sockets.Given(1e5)
	s.Pipes.Given(1e4)
	s.Processes.Given(1e4)
	s.Vcpus.Given(256)
	s.Frames.Given(1 << 21)
	return s
}
