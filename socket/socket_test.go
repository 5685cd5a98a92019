package socket

import (
	"testing"
	"time"

	"github.com/Qwinci/crescent-sub002/defs"
)

func TestIPCConnectAcceptSendReceive(t *testing.T) {
	listener := NewIPCSocket()
	if err := listener.Listen(4); err != 0 {
		t.Fatalf("listen: %v", err)
	}
	if err := listener.Bind("echo-service"); err != 0 {
		t.Fatalf("bind: %v", err)
	}

	client := NewIPCSocket()
	var connectErr int
	go func() {
		connectErr = int(client.Connect(Addr{Kind: AddrIPC, Token: "echo-service"}))
	}()

	time.Sleep(5 * time.Millisecond)
	accepted, err := listener.Accept()
	if err != 0 {
		t.Fatalf("accept: %v", err)
	}
	if connectErr != 0 {
		t.Fatalf("connect: %v", connectErr)
	}

	if _, err := client.Send([]byte("AB")); err != 0 {
		t.Fatalf("client send: %v", err)
	}
	buf := make([]byte, 8)
	n, err := accepted.Receive(buf)
	if err != 0 || string(buf[:n]) != "AB" {
		t.Fatalf("accepted receive: n=%d err=%v buf=%q", n, err, buf[:n])
	}

	if _, err := accepted.Send(buf[:n]); err != 0 {
		t.Fatalf("accepted send: %v", err)
	}
	n, err = client.Receive(buf)
	if err != 0 || string(buf[:n]) != "AB" {
		t.Fatalf("client receive: n=%d err=%v", n, err)
	}
}

func TestDisconnectClosesPeer(t *testing.T) {
	listener := NewIPCSocket()
	listener.Listen(1)
	listener.Bind("svc")
	client := NewIPCSocket()

	go client.Connect(Addr{Kind: AddrIPC, Token: "svc"})
	time.Sleep(5 * time.Millisecond)
	accepted, err := listener.Accept()
	if err != 0 {
		t.Fatalf("accept: %v", err)
	}

	accepted.Disconnect()
	buf := make([]byte, 8)
	n, err := client.Receive(buf)
	if n != 0 || err != 0 {
		t.Fatalf("expected EOF after peer disconnect, got n=%d err=%v", n, err)
	}
}

func TestConnectToUnknownTokenReturnsNotExists(t *testing.T) {
	client := NewIPCSocket()
	if err := client.Connect(Addr{Kind: AddrIPC, Token: "nope"}); err != defs.ErrNotExists {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}
}
