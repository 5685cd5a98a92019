package net

import (
	"encoding/binary"
	"time"

	"github.com/Qwinci/crescent-sub002/klog"
	"github.com/Qwinci/crescent-sub002/socket"
)

// DHCP client per §4.12: "DHCP client blocking on ip_available_event."
// A minimal DISCOVER/OFFER/REQUEST/ACK exchange over UDP port 67/68,
// enough to assign Nic.IP/Netmask/Gateway and unblock WaitIPAvailable.

const (
	dhcpServerPort = 67
	dhcpClientPort = 68

	dhcpMsgDiscover = 1
	dhcpMsgOffer    = 2
	dhcpMsgRequest  = 3
	dhcpMsgAck      = 5

	dhcpOptSubnetMask = 1
	dhcpOptRouter     = 3
	dhcpOptRequestIP  = 50
	dhcpOptMsgType    = 53
	dhcpOptServerID   = 54
	dhcpOptEnd        = 255
)

const dhcpFixedLen = 236 // op..file fields, before the 4-byte magic cookie + options

// RunDHCP performs a blocking DHCP DISCOVER/REQUEST exchange on nic
// and assigns the leased configuration via SetIP. Intended to run on
// its own goroutine during boot; the rest of boot blocks on
// Nic.WaitIPAvailable rather than on this function directly.
func RunDHCP(nic *Nic, timeout time.Duration) {
	ep, err := nic.udp.Bind(dhcpClientPort)
	if err != 0 {
		klog.Errorf("net: dhcp client bind failed", map[string]interface{}{"err": err.String()})
		return
	}
	defer ep.Close()

	xid := uint32(0x1234abcd)
	broadcast := socket.Addr{Kind: socket.AddrIPv4, IP: [4]byte{255, 255, 255, 255}, Port: dhcpServerPort}

	sendDHCP(ep, broadcast, nic.HWAddr, xid, dhcpMsgDiscover, nil)

	buf := make([]byte, 600)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, _, rerr := ep.ReceiveFrom(buf)
		if rerr == 0 && n > 0 {
			msgType, yourIP, serverID, ok := parseDHCPReply(buf[:n], xid)
			if ok && msgType == dhcpMsgOffer {
				sendDHCP(ep, broadcast, nic.HWAddr, xid, dhcpMsgRequest, map[byte][]byte{
					dhcpOptRequestIP: yourIP[:],
					dhcpOptServerID:  serverID[:],
				})
			}
			if ok && msgType == dhcpMsgAck {
				mask, router := parseDHCPOptions(buf[:n])
				nic.SetIP(yourIP, mask, router)
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	klog.Warnf("net: dhcp lease not acquired before timeout", nil)
}

func sendDHCP(ep *udpEndpoint, dst socket.Addr, hw MAC, xid uint32, msgType byte, extraOpts map[byte][]byte) {
	pkt := make([]byte, dhcpFixedLen+4, dhcpFixedLen+64)
	pkt[0] = 1 // op: BOOTREQUEST
	pkt[1] = 1 // htype: ethernet
	pkt[2] = 6 // hlen
	binary.BigEndian.PutUint32(pkt[4:8], xid)
	copy(pkt[28:34], hw[:])
	copy(pkt[236:240], []byte{99, 130, 83, 99}) // magic cookie

	pkt = append(pkt, dhcpOptMsgType, 1, msgType)
	for opt, val := range extraOpts {
		pkt = append(pkt, opt, byte(len(val)))
		pkt = append(pkt, val...)
	}
	pkt = append(pkt, dhcpOptEnd)

	ep.SendTo(pkt, dst)
}

// parseDHCPReply extracts the message type and offered/assigned IP
// (the "yiaddr" field) plus the server-id option, verifying xid
// matches our transaction.
func parseDHCPReply(pkt []byte, wantXID uint32) (msgType byte, yourIP [4]byte, serverID [4]byte, ok bool) {
	if len(pkt) < dhcpFixedLen+4 {
		return 0, yourIP, serverID, false
	}
	if binary.BigEndian.Uint32(pkt[4:8]) != wantXID {
		return 0, yourIP, serverID, false
	}
	copy(yourIP[:], pkt[16:20])

	opts := pkt[dhcpFixedLen+4:]
	for i := 0; i+1 < len(opts); {
		opt := opts[i]
		if opt == dhcpOptEnd {
			break
		}
		if i+1 >= len(opts) {
			break
		}
		l := int(opts[i+1])
		if i+2+l > len(opts) {
			break
		}
		val := opts[i+2 : i+2+l]
		switch opt {
		case dhcpOptMsgType:
			if l == 1 {
				msgType = val[0]
			}
		case dhcpOptServerID:
			if l == 4 {
				copy(serverID[:], val)
			}
		}
		i += 2 + l
	}
	return msgType, yourIP, serverID, msgType != 0
}

func parseDHCPOptions(pkt []byte) (mask, router [4]byte) {
	mask = [4]byte{255, 255, 255, 0}
	if len(pkt) < dhcpFixedLen+4 {
		return mask, router
	}
	opts := pkt[dhcpFixedLen+4:]
	for i := 0; i+1 < len(opts); {
		opt := opts[i]
		if opt == dhcpOptEnd {
			break
		}
		l := int(opts[i+1])
		if i+2+l > len(opts) {
			break
		}
		val := opts[i+2 : i+2+l]
		switch opt {
		case dhcpOptSubnetMask:
			if l == 4 {
				copy(mask[:], val)
			}
		case dhcpOptRouter:
			if l == 4 {
				copy(router[:], val)
			}
		}
		i += 2 + l
	}
	return mask, router
}
