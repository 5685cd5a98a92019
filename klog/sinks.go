package klog

import "io"

// WriterSink adapts any io.Writer (serial port, qemu debug-exit port,
// or in tests a bytes.Buffer) into a Sink.
type WriterSink struct {
	W io.Writer
}

func (w WriterSink) Write(line string) {
	io.WriteString(w.W, line+"\n")
}

// NewSerialSink and NewQemuDebugSink name the two real collaborators
// from §1 ("The qemu-debug/serial log sinks"); both are the same
// WriterSink shape, distinguished only by the io.Writer they wrap at
// boot time in cmd/kernel.
func NewSerialSink(w io.Writer) Sink    { return WriterSink{W: w} }
func NewQemuDebugSink(w io.Writer) Sink { return WriterSink{W: w} }
