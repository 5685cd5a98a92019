package sound

import (
	"encoding/binary"
	"testing"
)

func TestGetInfoReportsOutputCount(t *testing.T) {
	out := NewOutput("speaker", 4096, DeviceSpeaker)
	dev := New("card0", out)
	drv := NewDriver()
	drv.Add(dev)

	h, err := drv.Open("card0")
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	resp, err := h.Specific(OpGetInfo, nil)
	if err != 0 {
		t.Fatalf("getinfo: %v", err)
	}
	if binary.LittleEndian.Uint64(resp) != 1 {
		t.Fatalf("expected 1 output, got %d", binary.LittleEndian.Uint64(resp))
	}
}

func TestSetOutputParamsThenQueueAndWait(t *testing.T) {
	out := NewOutput("speaker", 4096, DeviceSpeaker)
	dev := New("card0", out)
	drv := NewDriver()
	drv.Add(dev)
	h, _ := drv.Open("card0")

	idx := make([]byte, 8)
	binary.LittleEndian.PutUint64(idx, 0)
	if _, err := h.Specific(OpSetActiveOutput, idx); err != 0 {
		t.Fatalf("set active: %v", err)
	}

	params := OutputParams{SampleRate: 44100, Channels: 2, Fmt: FormatPcmU16}
	if _, err := h.Specific(OpSetOutputParams, params.marshal()); err != 0 {
		t.Fatalf("set params: %v", err)
	}

	pcm := make([]byte, 256)
	if _, err := h.Specific(OpQueueOutput, pcm); err != 0 {
		t.Fatalf("queue output: %v", err)
	}

	resp, err := h.Specific(OpWaitUntilConsumed, nil)
	if err != 0 {
		t.Fatalf("wait: %v", err)
	}
	if binary.LittleEndian.Uint64(resp) != 256 {
		t.Fatalf("expected 256 bytes remaining before play, got %d", binary.LittleEndian.Uint64(resp))
	}

	if _, err := h.Specific(OpPlay, []byte{1}); err != 0 {
		t.Fatalf("play: %v", err)
	}
	resp, err = h.Specific(OpWaitUntilConsumed, nil)
	if err != 0 {
		t.Fatalf("wait after play: %v", err)
	}
	if binary.LittleEndian.Uint64(resp) != 0 {
		t.Fatalf("expected buffer drained after play, got %d remaining", binary.LittleEndian.Uint64(resp))
	}
}

func TestQueueOutputWithoutActiveOutputFails(t *testing.T) {
	dev := New("card0")
	drv := NewDriver()
	drv.Add(dev)
	h, _ := drv.Open("card0")
	if _, err := h.Specific(OpQueueOutput, []byte("x")); err == 0 {
		t.Fatalf("expected failure with no active output selected")
	}
}
