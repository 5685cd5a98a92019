// Package net implements §4.12's network stack: ethernet dispatch by
// EtherType, an ARP cache, IPv4 (fragments dropped and logged, no
// reassembly), UDP, TCP, and a DHCP client.
//
// Grounded on gvisor's transport_demuxer.go demux-by-endpoint idiom
// (map keyed by a protocol+port tuple, guarded by one RWMutex per
// protocol rather than one global lock) and biscuit's src/inet/bnet
// package shape (stub-only in the retrieval pack, confirming only
// the package name and its place alongside the device layer).
package net

import (
	"encoding/binary"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/klog"
	"github.com/Qwinci/crescent-sub002/socket"
)

// MAC is a 6-byte ethernet hardware address.
type MAC [6]byte

func (m MAC) String() string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 17)
	for i, o := range m {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, hex[o>>4], hex[o&0xf])
	}
	return string(b)
}

// EtherType values dispatched by Nic.Input.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

const ethHeaderLen = 14

// LinkSend is how a Nic hands a fully-formed ethernet frame to the
// device driver; device/* implements this against a real NIC.
type LinkSend func(frame []byte) defs.Err_t

// Nic is one network interface: its hardware address, assigned IPv4
// configuration (set by DHCP or statically), and the protocol state
// that shares it (ARP cache, IPv4 dispatch, UDP/TCP demux tables).
type Nic struct {
	HWAddr MAC
	Send   LinkSend

	IP      [4]byte
	Netmask [4]byte
	Gateway [4]byte

	arp *arpCache
	udp *udpDemux
	tcp *tcpDemux

	ipAvailable chan struct{} // closed once DHCP (or static config) assigns IP
	ipSet       bool
}

// NewNic constructs a Nic around a driver send function.
func NewNic(hw MAC, send LinkSend) *Nic {
	n := &Nic{
		HWAddr:      hw,
		Send:        send,
		arp:         newARPCache(),
		ipAvailable: make(chan struct{}),
	}
	n.udp = newUDPDemux(n)
	n.tcp = newTCPDemux(n)
	return n
}

// SetIP assigns static (or DHCP-leased) IPv4 configuration and signals
// any blocked "ip_available" waiters (§4.12: DHCP client blocks other
// startup steps on an ip_available_event).
func (n *Nic) SetIP(ip, netmask, gateway [4]byte) {
	n.IP, n.Netmask, n.Gateway = ip, netmask, gateway
	if !n.ipSet {
		n.ipSet = true
		close(n.ipAvailable)
	}
}

// WaitIPAvailable blocks until SetIP has been called once.
func (n *Nic) WaitIPAvailable() { <-n.ipAvailable }

// BindUDP binds a UDP endpoint on port, exported so SYS_SOCKET_CREATE
// (§6.1) can hand a UDP-kind socket straight to the syscall dispatcher
// without reaching into the unexported demux table itself.
func (n *Nic) BindUDP(port uint16) (socket.Socket_i, defs.Err_t) {
	return n.udp.Bind(port)
}

// Input dispatches one received ethernet frame by EtherType.
func (n *Nic) Input(frame []byte) {
	if len(frame) < ethHeaderLen {
		klog.Warnf("net: runt frame dropped", map[string]interface{}{"len": len(frame)})
		return
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	payload := frame[ethHeaderLen:]
	var srcMAC MAC
	copy(srcMAC[:], frame[6:12])

	switch etherType {
	case EtherTypeARP:
		n.arp.handleFrame(n, srcMAC, payload)
	case EtherTypeIPv4:
		n.handleIPv4(srcMAC, payload)
	default:
		// unrecognized EtherType; not an error, just unhandled.
	}
}

func writeEthHeader(buf []byte, dst, src MAC, etherType uint16) {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
}

// ipKey adapts a [4]byte IPv4 address into a hashtable key (the
// hashtable package only natively hashes string/[]byte/int/uint64/
// uintptr, per its own grounding in the pack's hash-probing idiom).
func ipKey(ip [4]byte) uint64 {
	return uint64(binary.BigEndian.Uint32(ip[:]))
}
