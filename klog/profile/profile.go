// Package profile dumps scheduler and memory counters as a pprof
// profile, reachable through a SYS_SYSLOG debug subcommand (§6.1).
//
// Wired per SPEC_FULL.md's domain stack: biscuit's go.mod depends on
// github.com/google/pprof directly; this kernel is the concrete home
// for that dependency the distilled spec never named.
package profile

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"
)

// Sample is one named counter sample (e.g. "runqueue-depth",
// "frames-free") taken at dump time.
type Sample struct {
	Name  string
	Value int64
}

// Dump encodes samples as a pprof profile.Profile and writes its
// gzip-compressed wire form to w.
func Dump(w io.Writer, samples []Sample) error {
	p := &profile.Profile{
		TimeNanos: time.Now().UnixNano(),
		SampleType: []*profile.ValueType{
			{Type: "count", Unit: "count"},
		},
	}
	fn := &profile.Function{ID: 1, Name: "kernel.snapshot"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for i, s := range samples {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Value},
			Label:    map[string][]string{"name": {s.Name}},
		})
		_ = i
	}
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("klog/profile: invalid profile: %w", err)
	}
	return p.Write(w)
}
