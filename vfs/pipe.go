package vfs

import (
	"sync"

	"github.com/Qwinci/crescent-sub002/circbuf"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/stat"
	"github.com/Qwinci/crescent-sub002/ustr"
)

// pipe_t is the shared state of one pipe: a bounded ring buffer and
// the readiness events both ends poll, per §3: "Pipe VNodes (read and
// write pairs sharing a bounded ring buffer and Events for wakeup)."
type pipe_t struct {
	mu    sync.Mutex
	buf   *circbuf.Circbuf_t
	readReady  *event.Event // signalled when data becomes available or the write end closes
	writeReady *event.Event // signalled when space frees up or the read end closes

	readClosed  bool
	writeClosed bool
}

const defaultPipeCapacity = 16 * defs.PageSize

// NewPipe builds a connected read/write VNode pair.
func NewPipe() (readEnd, writeEnd VNode_i) {
	p := &pipe_t{
		buf:        circbuf.Mkcircbuf(defaultPipeCapacity),
		readReady:  event.New(),
		writeReady: event.New(),
	}
	return &pipeReadEnd{p: p}, &pipeWriteEnd{p: p}
}

type pipeReadEnd struct{ p *pipe_t }
type pipeWriteEnd struct{ p *pipe_t }

func (r *pipeReadEnd) Lookup(ustr.Ustr) (VNode_i, defs.Err_t) { return nil, defs.ErrUnsupported }
func (w *pipeWriteEnd) Lookup(ustr.Ustr) (VNode_i, defs.Err_t) { return nil, defs.ErrUnsupported }

func (r *pipeReadEnd) ListDir() ([]ustr.Ustr, defs.Err_t) { return nil, defs.ErrUnsupported }
func (w *pipeWriteEnd) ListDir() ([]ustr.Ustr, defs.Err_t) { return nil, defs.ErrUnsupported }

func (r *pipeReadEnd) Write([]byte, int64) (int, defs.Err_t) { return 0, defs.ErrInvalidArgument }
func (w *pipeWriteEnd) Read([]byte, int64) (int, defs.Err_t) { return 0, defs.ErrInvalidArgument }

func (r *pipeReadEnd) Stat() (stat.Stat_t, defs.Err_t) {
	return stat.Stat_t{Kind: stat.KindPipeRead, Size: uint64(r.p.buf.Len())}, 0
}

func (w *pipeWriteEnd) Stat() (stat.Stat_t, defs.Err_t) {
	return stat.Stat_t{Kind: stat.KindPipeWrite, Size: uint64(w.p.buf.Free())}, 0
}

func (r *pipeReadEnd) Poll() *event.Event { return r.p.readReady }
func (w *pipeWriteEnd) Poll() *event.Event { return w.p.writeReady }

// Read drains up to len(dst) bytes. An empty pipe with the write end
// still open returns ErrTryAgain — §8 scenario 2: "Reading from an
// empty pipe in non-blocking mode returns TRY_AGAIN, not 0 bytes."
// Read itself never blocks, and SYS_READ passes ErrTryAgain straight
// back; a caller wanting to block waits on Poll() and retries.
func (r *pipeReadEnd) Read(dst []byte, _ int64) (int, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	n := p.buf.Read(dst)
	writeClosed := p.writeClosed
	p.mu.Unlock()

	if n > 0 {
		p.writeReady.SignalOne()
		return n, 0
	}
	if writeClosed {
		return 0, 0 // EOF
	}
	return 0, defs.ErrTryAgain
}

// Write fills as much of src as there is room for. A full pipe
// returns ErrTryAgain; writing to a pipe whose read end has closed
// returns ErrConnectionClosed.
func (w *pipeWriteEnd) Write(src []byte, _ int64) (int, defs.Err_t) {
	p := w.p
	p.mu.Lock()
	if p.readClosed {
		p.mu.Unlock()
		return 0, defs.ErrConnectionClosed
	}
	n := p.buf.Write(src)
	p.mu.Unlock()

	if n > 0 {
		p.readReady.SignalOne()
		return n, 0
	}
	if len(src) == 0 {
		return 0, 0
	}
	return 0, defs.ErrTryAgain
}

// Close marks this end closed and wakes the peer so a blocked
// poll-and-retry loop observes EOF / ErrConnectionClosed promptly.
func (r *pipeReadEnd) Close() defs.Err_t {
	r.p.mu.Lock()
	r.p.readClosed = true
	r.p.mu.Unlock()
	r.p.writeReady.SignalAll()
	return 0
}

func (w *pipeWriteEnd) Close() defs.Err_t {
	w.p.mu.Lock()
	w.p.writeClosed = true
	w.p.mu.Unlock()
	w.p.readReady.SignalAll()
	return 0
}
