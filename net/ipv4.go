package net

import (
	"encoding/binary"

	"github.com/Qwinci/crescent-sub002/klog"
)

const (
	ipProtoUDP = 17
	ipProtoTCP = 6
)

const ipv4MinHeaderLen = 20

// handleIPv4 parses the IPv4 header and dispatches by protocol.
// Fragmented datagrams are dropped and logged rather than reassembled
// — §4.12/Non-goals: "IPv4 (fragmentation dropped/logged, no
// reassembly)".
func (n *Nic) handleIPv4(_ MAC, p []byte) {
	if len(p) < ipv4MinHeaderLen {
		return
	}
	ihl := int(p[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || len(p) < ihl {
		return
	}

	flagsFrag := binary.BigEndian.Uint16(p[6:8])
	moreFragments := flagsFrag&0x2000 != 0
	fragOffset := flagsFrag & 0x1fff
	if moreFragments || fragOffset != 0 {
		klog.Warnf("net: fragmented ipv4 datagram dropped", nil)
		return
	}

	totalLen := int(binary.BigEndian.Uint16(p[2:4]))
	if totalLen > len(p) {
		return
	}
	proto := p[9]
	var src, dst [4]byte
	copy(src[:], p[12:16])
	copy(dst[:], p[16:20])
	payload := p[ihl:totalLen]

	switch proto {
	case ipProtoUDP:
		n.udp.handle(src, payload)
	case ipProtoTCP:
		n.tcp.handle(src, payload)
	}
}

// ipv4Checksum computes the standard one's-complement checksum used by
// IPv4, UDP, and TCP headers alike.
func ipv4Checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func writeIPv4Header(buf []byte, src, dst [4]byte, proto byte, payloadLen int) {
	buf[0] = 0x45 // version 4, IHL 5 (no options)
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(ipv4MinHeaderLen+payloadLen))
	binary.BigEndian.PutUint16(buf[4:6], 0) // identification
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/frag: no flags (DF clear), offset 0
	buf[8] = 64                              // TTL
	buf[9] = proto
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum placeholder
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])
	csum := ipv4Checksum(buf[:ipv4MinHeaderLen])
	binary.BigEndian.PutUint16(buf[10:12], csum)
}

// pseudoHeaderChecksum computes the running checksum seed UDP/TCP
// checksums are built on top of (RFC 793/768's pseudo-header).
func pseudoHeaderChecksum(src, dst [4]byte, proto byte, length int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(src[0:2]))
	sum += uint32(binary.BigEndian.Uint16(src[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dst[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dst[2:4]))
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}

func finishChecksum(seed uint32, data []byte) uint16 {
	sum := seed
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// resolveAndSend looks up the ethernet destination (via gateway if dst
// isn't on-link) and transmits an already-built IPv4 datagram.
func (n *Nic) resolveAndSend(dst [4]byte, datagram []byte) {
	target := dst
	if !n.onLink(dst) {
		target = n.Gateway
	}
	mac := <-n.arp.resolve(n, target)
	frame := make([]byte, ethHeaderLen+len(datagram))
	writeEthHeader(frame, mac, n.HWAddr, EtherTypeIPv4)
	copy(frame[ethHeaderLen:], datagram)
	n.Send(frame)
}

func (n *Nic) onLink(ip [4]byte) bool {
	for i := 0; i < 4; i++ {
		if ip[i]&n.Netmask[i] != n.IP[i]&n.Netmask[i] {
			return false
		}
	}
	return true
}
