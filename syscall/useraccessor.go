package syscall

import (
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/pagemap"
	"github.com/Qwinci/crescent-sub002/pmm"
)

// UserAccessor is the bounded, fault-catching copy-to/from-user
// primitive every syscall handler uses instead of touching a raw
// pointer, grounded on biscuit/src/vm/as.go's Userdmap8r: walk the
// caller's page map one virtual page at a time, translate each page
// through the physical allocator, and copy only as many bytes as
// remain before the next page boundary — never trust a single
// traversal to span two pages, since nothing guarantees they're
// physically contiguous.
//
// Real hardware catches a bad user pointer with a page fault that a
// recovery handler turns into ERR_FAULT; this rewrite has no page
// fault to catch, so the same contract is reached by checking
// PageMap.GetPhys up front for every page the copy touches.
type UserAccessor struct {
	pm    *pagemap.PageMap
	alloc *pmm.Allocator
}

// NewUserAccessor binds a copy primitive to one process's address
// space.
func NewUserAccessor(pm *pagemap.PageMap, alloc *pmm.Allocator) *UserAccessor {
	return &UserAccessor{pm: pm, alloc: alloc}
}

// window resolves up to n bytes starting at va, clipped to the end of
// va's containing page — the chunk size one copy step may safely
// touch in a single translation.
func (u *UserAccessor) window(va uintptr, n int) ([]byte, defs.Err_t) {
	phys, ok := u.pm.GetPhys(va)
	if !ok {
		return nil, defs.ErrFault
	}
	frame := u.alloc.FromPhys(phys)
	if frame == nil {
		return nil, defs.ErrFault
	}
	pageOff := int(va & (defs.PageSize - 1))
	avail := defs.PageSize - pageOff
	if n > avail {
		n = avail
	}
	if n > len(frame) {
		n = len(frame)
	}
	if n <= 0 {
		return nil, defs.ErrFault
	}
	return frame[:n], 0
}

// CopyIn copies len(dst) bytes from user address va into dst.
func (u *UserAccessor) CopyIn(va uintptr, dst []byte) defs.Err_t {
	addr := va
	remaining := dst
	for len(remaining) > 0 {
		chunk, err := u.window(addr, len(remaining))
		if err != 0 {
			return err
		}
		n := copy(remaining, chunk)
		remaining = remaining[n:]
		addr += uintptr(n)
	}
	return 0
}

// CopyOut copies src into user address va.
func (u *UserAccessor) CopyOut(va uintptr, src []byte) defs.Err_t {
	addr := va
	remaining := src
	for len(remaining) > 0 {
		chunk, err := u.window(addr, len(remaining))
		if err != 0 {
			return err
		}
		n := copy(chunk, remaining)
		remaining = remaining[n:]
		addr += uintptr(n)
	}
	return 0
}

// CopyInString reads a NUL-terminated string from user memory, up to
// max bytes (exclusive of the terminator). Returns ERR_BUFFER_TOO_SMALL
// if no terminator appears within max bytes, ERR_FAULT on any unmapped
// page along the way.
func (u *UserAccessor) CopyInString(va uintptr, max int) (string, defs.Err_t) {
	buf := make([]byte, 0, 64)
	addr := va
	for len(buf) <= max {
		chunk, err := u.window(addr, max+1-len(buf))
		if err != 0 {
			return "", err
		}
		for _, b := range chunk {
			if b == 0 {
				return string(buf), 0
			}
			buf = append(buf, b)
			if len(buf) > max {
				break
			}
		}
		addr += uintptr(len(chunk))
	}
	return "", defs.ErrBufferTooSmall
}
