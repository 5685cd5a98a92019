// Package vfs implements §3's VNode/OpenFile abstraction and §4.9's
// claim that devices are VNodes too: a small set of operations
// (lookup/read/write/stat/list_dir/poll) that every backing kind
// (plain file, directory, pipe end, device) implements.
//
// Grounded on biscuit/src/fs/blk.go and fd/fd.go's Fops_i dispatch
// shape: a VNode here is the rough analogue of biscuit's Inode_i, and
// OpenFile is the analogue of Fd_t (an open file description: VNode +
// cursor + mode), kept as two separate types for the same reason
// biscuit keeps Inode_i and Fd_t separate — multiple OpenFiles can
// name one VNode concurrently.
package vfs

import (
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/stat"
	"github.com/Qwinci/crescent-sub002/ustr"
)

// VNode is the operations every filesystem/device node implements.
// Grounded on spec §3's listed VNode operations.
type VNode_i interface {
	Lookup(name ustr.Ustr) (VNode_i, defs.Err_t)
	Read(dst []byte, offset int64) (int, defs.Err_t)
	Write(src []byte, offset int64) (int, defs.Err_t)
	Stat() (stat.Stat_t, defs.Err_t)
	ListDir() ([]ustr.Ustr, defs.Err_t)
	// Poll returns an Event that becomes ready when the node's
	// readiness changes (data available, buffer space available,
	// connection state change), per §3's poll operation.
	Poll() *event.Event
}

// OpenMode is the mode an OpenFile was opened with.
type OpenMode int

const (
	ModeRead OpenMode = 1 << iota
	ModeWrite
	ModeNonblock
)

// OpenFile is one open file description: a VNode plus a private
// cursor and mode, implementing handle.Object so it can live directly
// in a process's handle table.
type OpenFile struct {
	mu     sync.Mutex
	Node   VNode_i
	Mode   OpenMode
	cursor int64
}

// NewOpenFile wraps node for a caller holding it under the given mode.
func NewOpenFile(node VNode_i, mode OpenMode) *OpenFile {
	return &OpenFile{Node: node, Mode: mode}
}

// Read reads at the file's current cursor, advancing it by the count
// actually read. Honors ModeNonblock by never blocking internally —
// callers needing blocking semantics use Poll() themselves (pipe ends
// expose readiness events for this, see pipe.go).
func (f *OpenFile) Read(dst []byte) (int, defs.Err_t) {
	if f.Mode&ModeRead == 0 {
		return 0, defs.ErrInvalidArgument
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Node.Read(dst, f.cursor)
	if err != 0 {
		return 0, err
	}
	f.cursor += int64(n)
	return n, 0
}

// Write writes at the file's current cursor, advancing it by the
// count actually written.
func (f *OpenFile) Write(src []byte) (int, defs.Err_t) {
	if f.Mode&ModeWrite == 0 {
		return 0, defs.ErrInvalidArgument
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Node.Write(src, f.cursor)
	if err != 0 {
		return 0, err
	}
	f.cursor += int64(n)
	return n, 0
}

// Seek repositions the cursor; whence follows the SYS_SEEK convention
// (§6.1): 0=set, 1=cur, 2=end (end requires a Stat).
func (f *OpenFile) Seek(offset int64, whence int) (int64, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0:
		f.cursor = offset
	case 1:
		f.cursor += offset
	case 2:
		st, err := f.Node.Stat()
		if err != 0 {
			return 0, err
		}
		f.cursor = int64(st.Size) + offset
	default:
		return 0, defs.ErrInvalidArgument
	}
	if f.cursor < 0 {
		f.cursor = 0
	}
	return f.cursor, 0
}

// Stat proxies to the underlying VNode.
func (f *OpenFile) Stat() (stat.Stat_t, defs.Err_t) { return f.Node.Stat() }

// ListDir proxies to the underlying VNode.
func (f *OpenFile) ListDir() ([]ustr.Ustr, defs.Err_t) { return f.Node.ListDir() }

// Poll proxies to the underlying VNode.
func (f *OpenFile) Poll() *event.Event { return f.Node.Poll() }

// closer is implemented by VNode kinds that need to react to their
// last OpenFile going away (pipe ends signal their peer, see pipe.go).
type closer interface {
	Close() defs.Err_t
}

// Close implements handle.Object, forwarding to the underlying VNode
// when it cares about close (pipe ends); plain files/dirs have
// nothing to release.
func (f *OpenFile) Close() defs.Err_t {
	if c, ok := f.Node.(closer); ok {
		return c.Close()
	}
	return 0
}
