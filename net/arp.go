package net

import (
	"encoding/binary"
	"sync"

	"github.com/Qwinci/crescent-sub002/hashtable"
)

const (
	arpHwTypeEthernet = 1
	arpOpRequest      = 1
	arpOpReply        = 2
)

// arpCache maps an IPv4 address to its resolved MAC, backed by the
// same FNV-hashed hashtable as vmem's live-allocation index (§4.2's
// hash-probing idiom reused here for the ARP table per §4.12).
type arpCache struct {
	mu      sync.Mutex
	entries *hashtable.Hashtable_t

	pendingMu sync.Mutex
	pending   map[uint64][]chan MAC // resolution waiters per IP
}

func newARPCache() *arpCache {
	return &arpCache{
		entries: hashtable.Mkhashtable(64),
		pending: make(map[uint64][]chan MAC),
	}
}

func (c *arpCache) lookup(ip [4]byte) (MAC, bool) {
	v, ok := c.entries.Get(ipKey(ip))
	if !ok {
		return MAC{}, false
	}
	return v.(MAC), true
}

func (c *arpCache) insert(ip [4]byte, mac MAC) {
	c.entries.Set(ipKey(ip), mac)

	c.pendingMu.Lock()
	waiters := c.pending[ipKey(ip)]
	delete(c.pending, ipKey(ip))
	c.pendingMu.Unlock()
	for _, ch := range waiters {
		ch <- mac
	}
}

// resolve returns a one-slot channel that receives ip's MAC: filled
// immediately when the MAC is cached, otherwise an ARP request is sent
// and the channel is filled when the reply arrives. resolve itself
// never blocks and applies no timeout.
func (c *arpCache) resolve(n *Nic, ip [4]byte) chan MAC {
	ch := make(chan MAC, 1)
	if mac, ok := c.lookup(ip); ok {
		ch <- mac
		return ch
	}

	c.pendingMu.Lock()
	c.pending[ipKey(ip)] = append(c.pending[ipKey(ip)], ch)
	c.pendingMu.Unlock()

	sendARPRequest(n, ip)
	return ch
}

// arp packet layout (RFC 826, ethernet/IPv4 fixed case): hw type(2),
// proto type(2), hw len(1), proto len(1), op(2), sha(6), spa(4),
// tha(6), tpa(4) = 28 bytes.
const arpPacketLen = 28

func sendARPRequest(n *Nic, target [4]byte) {
	frame := make([]byte, ethHeaderLen+arpPacketLen)
	writeEthHeader(frame, MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, n.HWAddr, EtherTypeARP)
	p := frame[ethHeaderLen:]
	binary.BigEndian.PutUint16(p[0:2], arpHwTypeEthernet)
	binary.BigEndian.PutUint16(p[2:4], EtherTypeIPv4)
	p[4] = 6
	p[5] = 4
	binary.BigEndian.PutUint16(p[6:8], arpOpRequest)
	copy(p[8:14], n.HWAddr[:])
	copy(p[14:18], n.IP[:])
	copy(p[24:28], target[:])
	n.Send(frame)
}

func (c *arpCache) handleFrame(n *Nic, _ MAC, p []byte) {
	if len(p) < arpPacketLen {
		return
	}
	op := binary.BigEndian.Uint16(p[6:8])
	var sha MAC
	copy(sha[:], p[8:14])
	var spa, tpa [4]byte
	copy(spa[:], p[14:18])
	copy(tpa[:], p[24:28])

	c.insert(spa, sha)

	if op == arpOpRequest && tpa == n.IP {
		reply := make([]byte, ethHeaderLen+arpPacketLen)
		writeEthHeader(reply, sha, n.HWAddr, EtherTypeARP)
		rp := reply[ethHeaderLen:]
		binary.BigEndian.PutUint16(rp[0:2], arpHwTypeEthernet)
		binary.BigEndian.PutUint16(rp[2:4], EtherTypeIPv4)
		rp[4] = 6
		rp[5] = 4
		binary.BigEndian.PutUint16(rp[6:8], arpOpReply)
		copy(rp[8:14], n.HWAddr[:])
		copy(rp[14:18], n.IP[:])
		copy(rp[18:24], sha[:])
		copy(rp[24:28], spa[:])
		n.Send(reply)
	}
}
