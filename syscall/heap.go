package syscall

import "github.com/Qwinci/crescent-sub002/defs"

// stageBuffer reserves an n-byte kernel-side staging buffer for a
// syscall handler to CopyIn/CopyOut through, routing through the
// kernel heap's bucket classes or its Large path rather than handing
// every read/write/devlink call its own bare allocation. The returned
// release func must be called exactly once the handler is done with
// the buffer.
func (k *Kernel) stageBuffer(n int) ([]byte, func(), defs.Err_t) {
	if n == 0 {
		return nil, func() {}, 0
	}
	if buf, err := k.Heap.Alloc(n); err == 0 {
		return buf, func() { k.Heap.Free(buf) }, 0
	}
	buf, base, err := k.Heap.Large(n)
	if err != 0 {
		return nil, nil, err
	}
	return buf, func() { k.Heap.FreeLarge(base, n) }, 0
}
