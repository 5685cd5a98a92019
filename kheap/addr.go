package kheap

import "unsafe"

// addrOf returns the address of the byte p points to, used to find
// which slot within a bucket arena a freed slice came from.
func addrOf(p *byte) uintptr {
	return uintptr(unsafe.Pointer(p))
}
