// Package util holds small byte-packing helpers shared by stat, vmem,
// and the syscall marshaling code (the devlink envelope among it).
//
// Grounded on biscuit/src/util/util.go.
package util

// Writen writes the low nbytes of val into b at off, little-endian.
func Writen(b []uint8, nbytes, off, val int) {
	v := uint(val)
	for i := 0; i < nbytes; i++ {
		b[off+i] = uint8(v >> (uint(i) * 8))
	}
}

// Readn reads nbytes little-endian bytes from b at off.
func Readn(b []uint8, nbytes, off int) int {
	var v uint
	for i := 0; i < nbytes; i++ {
		v |= uint(b[off+i]) << (uint(i) * 8)
	}
	return int(v)
}

// Writen64 and Readn64 are the 8-byte-width convenience wrappers used
// throughout the syscall marshaling code.
func Writen64(b []uint8, off int, val uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = uint8(val >> (uint(i) * 8))
	}
}

func Readn64(b []uint8, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (uint(i) * 8)
	}
	return v
}

// Roundup rounds n up to the next multiple of to. to must be a power
// of two.
func Roundup(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}

// Rounddown rounds n down to a multiple of to.
func Rounddown(n, to int) int {
	return n &^ (to - 1)
}

// RoundupPtr is Roundup for uintptr-valued addresses.
func RoundupPtr(n uintptr, to uintptr) uintptr {
	return (n + to - 1) &^ (to - 1)
}
