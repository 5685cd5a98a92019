package vfs

import (
	"testing"

	"github.com/Qwinci/crescent-sub002/defs"
)

func TestPipePingPong(t *testing.T) {
	r, w := NewPipe()
	rf := NewOpenFile(r, ModeRead)
	wf := NewOpenFile(w, ModeWrite)

	msg := []byte("ping")
	n, err := wf.Write(msg)
	if err != 0 || n != len(msg) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	n, err = rf.Read(buf)
	if err != 0 || string(buf[:n]) != "ping" {
		t.Fatalf("read: n=%d err=%v buf=%q", n, err, buf[:n])
	}

	reply := []byte("pong")
	n, err = wf.Write(reply)
	if err != 0 || n != len(reply) {
		t.Fatalf("reply write: n=%d err=%v", n, err)
	}
	n, err = rf.Read(buf)
	if err != 0 || string(buf[:n]) != "pong" {
		t.Fatalf("reply read: n=%d err=%v", n, err)
	}
}

func TestEmptyPipeNonBlockingReadTriesAgain(t *testing.T) {
	r, w := NewPipe()
	rf := NewOpenFile(r, ModeRead|ModeNonblock)
	_ = w

	buf := make([]byte, 8)
	_, err := rf.Read(buf)
	if err != defs.ErrTryAgain {
		t.Fatalf("expected ErrTryAgain on empty pipe read, got %v", err)
	}
}

func TestReadReturnsEOFAfterWriteEndClosed(t *testing.T) {
	r, w := NewPipe()
	rf := NewOpenFile(r, ModeRead)
	wf := NewOpenFile(w, ModeWrite)

	if err := wf.Close(); err != 0 {
		t.Fatalf("close write end: %v", err)
	}

	buf := make([]byte, 8)
	n, err := rf.Read(buf)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (n=0,err=0), got n=%d err=%v", n, err)
	}
}

func TestWriteToClosedReadEndReturnsConnectionClosed(t *testing.T) {
	r, w := NewPipe()
	rf := NewOpenFile(r, ModeRead)
	wf := NewOpenFile(w, ModeWrite)

	if err := rf.Close(); err != 0 {
		t.Fatalf("close read end: %v", err)
	}
	_, err := wf.Write([]byte("x"))
	if err != defs.ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}
