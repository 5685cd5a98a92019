// Package tarfs implements a read-only VFS backed by a TAR-formatted
// initramfs image (§4.9's claim that the boot module is a read-only
// filesystem mounted at startup).
//
// Grounded on original_source/kernel/src/fs/tar.c, which walks raw
// ustar headers by hand (500-byte rounded-up entries, octal size
// field, '5' typeflag for directories). This rewrite uses the
// standard library's archive/tar reader instead of re-deriving ustar
// header parsing by hand — no suitable third-party tar library is
// named anywhere in the example pack's dependency set, and archive/tar
// is the idiomatic Go way to read this exact on-disk format, so this
// one subsystem is a deliberate, justified stdlib choice (recorded in
// DESIGN.md) rather than a dropped dependency.
package tarfs

import (
	"archive/tar"
	"io"
	"strings"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/stat"
	"github.com/Qwinci/crescent-sub002/ustr"
	"github.com/Qwinci/crescent-sub002/vfs"
)

type fileEntry struct {
	name    string // full path within the archive, no leading "/"
	dir     bool
	size    int64
	content []byte
}

// FS is a fully-parsed, in-memory, read-only TAR filesystem. The
// entire image is parsed once up front, per the boot-module's
// known-small size (an initramfs), so lookups and reads never revisit
// the TAR stream's sequential layout.
type FS struct {
	byName map[string]*fileEntry
	order  []string // insertion order, for deterministic ListDir
}

// New parses r (the raw bytes of initramfs.tar, per
// bootinfo.Info.InitramfsModule) into an FS.
func New(r io.Reader) (*FS, defs.Err_t) {
	fs := &FS{byName: make(map[string]*fileEntry)}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, defs.ErrInvalidArgument
		}
		name := strings.TrimSuffix(strings.TrimPrefix(hdr.Name, "/"), "/")
		if name == "" {
			continue
		}
		e := &fileEntry{name: name, dir: hdr.Typeflag == tar.TypeDir, size: hdr.Size}
		if !e.dir {
			buf := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, buf); err != nil {
				return nil, defs.ErrInvalidArgument
			}
			e.content = buf
		}
		fs.byName[name] = e
		fs.order = append(fs.order, name)
	}
	if _, ok := fs.byName[""]; !ok {
		fs.byName[""] = &fileEntry{name: "", dir: true}
	}
	return fs, 0
}

// Root returns the VNode for the archive's root directory.
func (fs *FS) Root() vfs.VNode_i {
	return &node{fs: fs, e: fs.byName[""]}
}

type node struct {
	fs *FS
	e  *fileEntry
}

var _ vfs.VNode_i = (*node)(nil)

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func (n *node) Lookup(name ustr.Ustr) (vfs.VNode_i, defs.Err_t) {
	if !n.e.dir {
		return nil, defs.ErrUnsupported
	}
	want := join(n.e.name, name.String())
	if child, ok := n.fs.byName[want]; ok {
		return &node{fs: n.fs, e: child}, 0
	}
	return nil, defs.ErrNotExists
}

func (n *node) Read(dst []byte, offset int64) (int, defs.Err_t) {
	if n.e.dir {
		return 0, defs.ErrUnsupported
	}
	if offset < 0 || offset > int64(len(n.e.content)) {
		return 0, defs.ErrInvalidArgument
	}
	nr := copy(dst, n.e.content[offset:])
	return nr, 0
}

func (n *node) Write([]byte, int64) (int, defs.Err_t) { return 0, defs.ErrNoPermissions }

func (n *node) Stat() (stat.Stat_t, defs.Err_t) {
	k := stat.KindFile
	if n.e.dir {
		k = stat.KindDir
	}
	return stat.Stat_t{Size: uint64(n.e.size), Kind: k}, 0
}

func (n *node) ListDir() ([]ustr.Ustr, defs.Err_t) {
	if !n.e.dir {
		return nil, defs.ErrUnsupported
	}
	prefix := n.e.name
	var out []ustr.Ustr
	for _, name := range n.fs.order {
		if name == prefix {
			continue
		}
		rest := name
		if prefix != "" {
			if !strings.HasPrefix(name, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(name, prefix+"/")
		}
		if strings.Contains(rest, "/") {
			continue // not a direct child
		}
		out = append(out, ustr.MkUstr(rest))
	}
	return out, 0
}

// Poll returns an Event that is already permanently signalled — a
// read-only in-memory archive's contents never change after New, so
// every VNode is always "ready".
func (n *node) Poll() *event.Event {
	ev := event.New()
	ev.SignalAll()
	return ev
}
