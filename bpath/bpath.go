// Package bpath canonicalizes VFS paths: resolves "." and ".." path
// components and collapses repeated separators, without touching the
// filesystem (no symlink resolution — the initramfs is flat TAR
// content, per §6.5).
//
// No source for this package was retrieved in the example pack (only
// its go.mod stub survives); the canonicalization algorithm below is
// written fresh in the teacher's idiom (Ustr in, Ustr out, no error
// return since a malformed path simply canonicalizes to "/").
package bpath

import "github.com/Qwinci/crescent-sub002/ustr"

// Canonicalize resolves "." and ".." components in p and returns an
// absolute, "/"-separated path with no trailing slash (except root).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := p.Split()
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch part.String() {
		case ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	out := make([]uint8, 0, len(p))
	for _, part := range stack {
		out = append(out, '/')
		out = append(out, part...)
	}
	return ustr.Ustr(out)
}
