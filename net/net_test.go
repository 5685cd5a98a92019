package net

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/socket"
)

func wireUDPLoop(t *testing.T) (a, b *Nic) {
	t.Helper()
	aIP := [4]byte{192, 168, 1, 1}
	bIP := [4]byte{192, 168, 1, 2}
	mask := [4]byte{255, 255, 255, 0}

	a = NewNic(MAC{1, 1, 1, 1, 1, 1}, func(frame []byte) defs.Err_t { b.Input(frame); return 0 })
	b = NewNic(MAC{2, 2, 2, 2, 2, 2}, func(frame []byte) defs.Err_t { a.Input(frame); return 0 })
	a.SetIP(aIP, mask, aIP)
	b.SetIP(bIP, mask, bIP)
	a.arp.insert(bIP, b.HWAddr)
	b.arp.insert(aIP, a.HWAddr)
	return a, b
}

func TestUDPSendToReceiveFrom(t *testing.T) {
	a, b := wireUDPLoop(t)

	serverEP, err := a.udp.Bind(5353)
	if err != 0 {
		t.Fatalf("bind: %v", err)
	}
	clientEP, err := b.udp.Bind(6000)
	if err != 0 {
		t.Fatalf("bind: %v", err)
	}

	if _, err := clientEP.SendTo([]byte("hi"), socket.Addr{Kind: socket.AddrIPv4, IP: a.IP, Port: 5353}); err != 0 {
		t.Fatalf("sendto: %v", err)
	}

	buf := make([]byte, 16)
	n, from, err := serverEP.ReceiveFrom(buf)
	if err != 0 {
		t.Fatalf("receivefrom: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("unexpected payload: %q", buf[:n])
	}
	if from.Port != 6000 || from.IP != b.IP {
		t.Fatalf("unexpected source addr: %+v", from)
	}
}

func TestUDPBindSamePortTwiceFails(t *testing.T) {
	a, _ := wireUDPLoop(t)
	if _, err := a.udp.Bind(1234); err != 0 {
		t.Fatalf("first bind: %v", err)
	}
	if _, err := a.udp.Bind(1234); err != defs.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on rebind, got %v", err)
	}
}

func TestARPResolvesFromCacheWithoutBlocking(t *testing.T) {
	a, b := wireUDPLoop(t)
	mac, ok := a.arp.lookup(b.IP)
	if !ok || mac != b.HWAddr {
		t.Fatalf("expected pre-seeded arp entry, got mac=%v ok=%v", mac, ok)
	}
}

func TestARPRequestReplyPopulatesCache(t *testing.T) {
	aIP := [4]byte{10, 1, 1, 1}
	bIP := [4]byte{10, 1, 1, 2}
	mask := [4]byte{255, 255, 255, 0}
	var a, b *Nic
	a = NewNic(MAC{9, 9, 9, 9, 9, 1}, func(frame []byte) defs.Err_t { b.Input(frame); return 0 })
	b = NewNic(MAC{9, 9, 9, 9, 9, 2}, func(frame []byte) defs.Err_t { a.Input(frame); return 0 })
	a.SetIP(aIP, mask, aIP)
	b.SetIP(bIP, mask, bIP)

	ch := a.arp.resolve(a, bIP)
	mac := <-ch
	if mac != b.HWAddr {
		t.Fatalf("expected to resolve b's MAC via request/reply, got %v", mac)
	}
	if cached, ok := a.arp.lookup(bIP); !ok || cached != b.HWAddr {
		t.Fatalf("expected b's MAC cached after the reply, got mac=%v ok=%v", cached, ok)
	}
}
