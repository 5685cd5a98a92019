// Package rand implements the kernel entropy pool described in §4.13:
// 20 pools, folded with interrupt-derived bits, drained through
// BLAKE2b into a ChaCha20 keystream.
//
// Grounded directly on the spec's own algorithm description; the
// BLAKE2b/ChaCha20 pair is exactly golang.org/x/crypto's
// blake2b/chacha20 packages, present in the example pack via gvisor's
// (indirect) x/crypto dependency.
package rand

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

const numPools = 20

// pool_t is one entropy pool: a running BLAKE2b hash state that
// interrupt handlers fold bits into, plus a monotonic nonce counter
// for the ChaCha20 draws taken from it.
type pool_t struct {
	mu    sync.Mutex
	h     []byte // serialized running digest input, re-hashed on every fold
	nonce uint64
}

// Pool_t is the kernel-wide entropy pool set.
type Pool_t struct {
	pools [numPools]pool_t
	pick  uint64 // round-robins which pool absorbs the next event
}

// Global is the process-wide entropy pool, mirroring §5's treatment of
// global kernel singletons.
var Global = New()

// New constructs an empty pool set.
func New() *Pool_t {
	return &Pool_t{}
}

// FoldIRQ folds interrupt-derived bits into one pool, per §4.13: "IRQ
// handlers fold in bits derived from (num, cs, rip, rsp, tsc-delta)".
func (p *Pool_t) FoldIRQ(num, cs int, rip, rsp uint64, tscDelta uint64) {
	idx := atomic.AddUint64(&p.pick, 1) % numPools
	pl := &p.pools[idx]

	var buf [4*8 + 2*4]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(num))
	binary.LittleEndian.PutUint32(buf[4:], uint32(cs))
	binary.LittleEndian.PutUint64(buf[8:], rip)
	binary.LittleEndian.PutUint64(buf[16:], rsp)
	binary.LittleEndian.PutUint64(buf[24:], tscDelta)

	pl.mu.Lock()
	pl.h = append(pl.h, buf[:]...)
	pl.mu.Unlock()
}

// Generate drains nbytes of output from the next pool in round-robin
// order (the same pick counter FoldIRQ advances).
// Per §4.13: "64 bits on small requests, 128 bits for bulk" describes
// the BLAKE2b digest size drawn as the ChaCha20 key material, not the
// output length, which callers choose via nbytes.
func (p *Pool_t) Generate(nbytes int) []byte {
	idx := atomic.AddUint64(&p.pick, 1) % numPools
	pl := &p.pools[idx]

	pl.mu.Lock()
	digestSize := 8
	if nbytes > 32 {
		digestSize = 16
	}
	h, _ := blake2b.New(digestSize, nil)
	h.Write(pl.h)
	digest := h.Sum(nil)

	pl.nonce++
	nonce := pl.nonce
	pl.mu.Unlock()

	var key [32]byte
	copy(key[:], append(digest, digest...)[:32])

	var nonceBuf [chacha20.NonceSizeX]byte
	binary.LittleEndian.PutUint64(nonceBuf[:8], nonce)

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonceBuf[:chacha20.NonceSize])
	if err != nil {
		panic(err)
	}
	out := make([]byte, nbytes)
	c.XORKeyStream(out, out)
	return out
}
