// Package panic is the kernel's panic/backtrace pretty-printer,
// companion to the kgdb stub and ubsan instrumentation named in §2's
// "misc" share. Kernel panics are reserved for invariant violations
// (§4.15: freelist double-use, page-table desync, stray freed handle)
// — never ordinary error paths, which return defs.Err_t instead.
//
// Any C/C++ runtime shim symbol that ends up on the stack (the spec
// names the C runtime shims as an external collaborator, §1) is
// mangled; demangle gives a readable backtrace instead of raw
// _ZN-prefixed symbols. Grounded on biscuit's go.mod, which depends on
// github.com/ianlancetaylor/demangle directly though no call site
// survived retrieval — this package is that call site.
package panic

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Reason names the invariant that was violated, for structured
// handling by callers that want to distinguish panic causes (e.g. the
// kgdb stub deciding whether to break into the debugger).
type Reason int

const (
	FreelistDoubleUse Reason = iota
	PageTableDesync
	StrayFreedHandle
	Other
)

func (r Reason) String() string {
	switch r {
	case FreelistDoubleUse:
		return "freelist double-use"
	case PageTableDesync:
		return "page-table desync"
	case StrayFreedHandle:
		return "stray freed handle"
	default:
		return "invariant violation"
	}
}

// Fatal captures a backtrace and panics with a readable message. Not
// every invariant panic goes through it: vmem, circbuf, pagemap,
// hashtable and rand call panic directly.
func Fatal(reason Reason, detail string) {
	panic(fmt.Sprintf("kernel panic: %s: %s\n%s", reason, detail, Backtrace(2)))
}

// Backtrace renders the current goroutine's call stack with any
// mangled (C++-origin) symbol names demangled.
func Backtrace(skip int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		f, more := frames.Next()
		sb.WriteString("  ")
		sb.WriteString(prettyName(f.Function))
		sb.WriteString(fmt.Sprintf(" (%s:%d)\n", f.File, f.Line))
		if !more {
			break
		}
	}
	return sb.String()
}

// prettyName demangles name if it looks like a mangled C++ symbol
// (the only mangled symbols that can appear on this kernel's stack
// come from the C runtime shims linked into a user process image, not
// from Go code); otherwise it is returned unchanged.
func prettyName(name string) string {
	if !strings.HasPrefix(name, "_Z") {
		return name
	}
	if out, err := demangle.ToString(name); err == nil {
		return out
	}
	return name
}
