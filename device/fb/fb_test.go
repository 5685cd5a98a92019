package fb

import (
	"bytes"
	"testing"
)

func TestGetInfoReportsGeometry(t *testing.T) {
	d := New("fb0", 4, 2, 32, false)
	drv := NewDriver()
	drv.Add(d)

	h, err := drv.Open("fb0")
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	resp, err := h.Specific(OpGetInfo, nil)
	if err != 0 {
		t.Fatalf("getinfo: %v", err)
	}
	info := resp
	if len(info) != 20 {
		t.Fatalf("unexpected info length: %d", len(info))
	}
}

func TestFlipSwapsBuffers(t *testing.T) {
	d := New("fb0", 2, 2, 32, true)
	drv := NewDriver()
	drv.Add(d)
	h, _ := drv.Open("fb0")

	payload := bytes.Repeat([]byte{0xAB}, len(d.front))
	if _, err := h.Specific(OpFlip, payload); err != 0 {
		t.Fatalf("flip: %v", err)
	}
	mapped, err := h.Specific(OpMap, nil)
	if err != 0 {
		t.Fatalf("map: %v", err)
	}
	if !bytes.Equal(mapped, payload) {
		t.Fatalf("expected mapped buffer to be the flipped-to buffer")
	}
}

func TestFlipWithoutDoubleBufferUnsupported(t *testing.T) {
	d := New("fb0", 2, 2, 32, false)
	drv := NewDriver()
	drv.Add(d)
	h, _ := drv.Open("fb0")
	if _, err := h.Specific(OpFlip, nil); err == 0 {
		t.Fatalf("expected flip to fail on a single-buffered device")
	}
}
