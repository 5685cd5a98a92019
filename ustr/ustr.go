// Package ustr is a byte-slice path/name type used by the VFS lookup
// path, avoiding repeated string<->[]byte conversions on the hot path.
//
// Grounded on biscuit/src/ustr/ustr.go.
package ustr

import "bytes"

// Ustr is a path or path component stored as raw bytes.
type Ustr []uint8

// MkUstr constructs a Ustr from a Go string.
func MkUstr(s string) Ustr { return Ustr(s) }

// MkUstrRoot returns the Ustr for "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// String renders the Ustr back as a Go string, for logging.
func (u Ustr) String() string { return string(u) }

// IsAbsolute reports whether u begins with "/".
func (u Ustr) IsAbsolute() bool {
	return len(u) > 0 && u[0] == '/'
}

// Eq reports byte-for-byte equality.
func (u Ustr) Eq(o Ustr) bool { return bytes.Equal(u, o) }

// Split breaks u into "/"-separated non-empty components.
func (u Ustr) Split() []Ustr {
	parts := bytes.Split(u, []byte("/"))
	out := make([]Ustr, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		out = append(out, Ustr(p))
	}
	return out
}
