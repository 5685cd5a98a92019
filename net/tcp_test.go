package net

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/socket"
)

func TestTCPEchoScenario(t *testing.T) {
	aIP := [4]byte{10, 0, 0, 1}
	bIP := [4]byte{10, 0, 0, 2}
	mask := [4]byte{255, 255, 255, 0}

	// Two Nics whose Send functions feed each other's Input directly,
	// simulating a point-to-point ethernet link with no loss or
	// reordering.
	var a, b *Nic
	a = NewNic(MAC{0, 0, 0, 0, 0, 1}, func(frame []byte) defs.Err_t { b.Input(frame); return 0 })
	b = NewNic(MAC{0, 0, 0, 0, 0, 2}, func(frame []byte) defs.Err_t { a.Input(frame); return 0 })
	a.SetIP(aIP, mask, aIP)
	b.SetIP(bIP, mask, bIP)

	// pre-seed ARP so resolveAndSend never blocks on a real exchange.
	a.arp.insert(bIP, b.HWAddr)
	b.arp.insert(aIP, a.HWAddr)

	listener := NewTCPSocket(a)
	listener.BindPort(9000)
	if err := listener.Listen(1); err != 0 {
		t.Fatalf("listen: %v", err)
	}

	client := NewTCPSocket(b)
	client.BindPort(41000)
	if err := client.Connect(socket.Addr{Kind: socket.AddrIPv4, IP: aIP, Port: 9000}); err != 0 {
		t.Fatalf("connect: %v", err)
	}

	acceptedI, err := listener.Accept()
	if err != 0 {
		t.Fatalf("accept: %v", err)
	}
	accepted := acceptedI.(*TCPSocket)

	if _, err := client.Send([]byte("AB")); err != 0 {
		t.Fatalf("client send: %v", err)
	}

	buf := make([]byte, 8)
	n, err := accepted.Receive(buf)
	if err != 0 || string(buf[:n]) != "AB" {
		t.Fatalf("server receive: n=%d err=%v buf=%q", n, err, buf[:n])
	}

	if _, err := accepted.Send(buf[:n]); err != 0 {
		t.Fatalf("server send: %v", err)
	}
	n, err = client.Receive(buf)
	if err != 0 || string(buf[:n]) != "AB" {
		t.Fatalf("client receive: n=%d err=%v", n, err)
	}

	if err := accepted.Disconnect(); err != 0 {
		t.Fatalf("disconnect: %v", err)
	}
	n, err = client.Receive(buf)
	if n != 0 || err != 0 {
		t.Fatalf("expected EOF on client after server disconnect, got n=%d err=%v", n, err)
	}
}
