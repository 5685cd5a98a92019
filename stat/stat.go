// Package stat implements the VNode stat result shared by the VFS and
// the STAT syscall.
//
// Grounded on biscuit/src/stat/stat.go, extended with a Kind field for
// the VNode kinds named in spec §3 (file, directory, pipe-end,
// socket-view).
package stat

import "github.com/Qwinci/crescent-sub002/util"

// Kind enumerates VNode kinds.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindPipeRead
	KindPipeWrite
	KindSocket
)

// Stat_t mirrors a VNode's stat information, laid out for wire
// marshaling via Bytes.
type Stat_t struct {
	Dev   uint64
	Ino   uint64
	Mode  uint64
	Size  uint64
	Kind  Kind
	Mtime int64
}

// Bytes serializes the structure for copy-out to a user buffer.
func (st *Stat_t) Bytes() []uint8 {
	b := make([]uint8, 8*6)
	util.Writen64(b, 0, st.Dev)
	util.Writen64(b, 8, st.Ino)
	util.Writen64(b, 16, st.Mode)
	util.Writen64(b, 24, st.Size)
	util.Writen64(b, 32, uint64(st.Kind))
	util.Writen64(b, 40, uint64(st.Mtime))
	return b
}
