// Package kdebug serializes kernel memory-occupancy snapshots into the
// real pprof wire format, so `go tool pprof` can visualize physical-frame
// and kernel-heap pressure during development. The source reserves device
// D_PROF for a profiling sink it never wires up; this is the debug-tooling
// analog of that reservation, built on the two occupancy snapshots §4.1
// and §4.3 already expose for tests (pfa.PFA.Dump, kheap.Heap.Walk).
package kdebug

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"

	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/pfa"
)

// occupancySample is one named region of memory and its size in bytes,
// the common shape both PFA and heap dumps reduce to before being turned
// into pprof locations/samples.
type occupancySample struct {
	name  string
	bytes int64
}

// buildProfile assigns each sample its own synthetic call stack (a single
// Location naming the region), since neither the PFA bitmap nor the heap
// block list carries real call-site information to attribute space to.
func buildProfile(samples []occupancySample) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "space", Unit: "bytes"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	for i, s := range samples {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: s.name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.bytes},
		})
	}
	return prof
}

// WritePFAProfile writes a pprof profile with one aggregate "used" and one
// "free" sample summarizing p's frame occupancy (§4.1 Dump), to w.
func WritePFAProfile(w io.Writer, p *pfa.PFA) error {
	stats := p.Dump()
	prof := buildProfile([]occupancySample{
		{name: "pfa.used", bytes: int64(stats.UsedKiB) * 1024},
		{name: "pfa.free", bytes: int64(stats.FreeKiB) * 1024},
	})
	return prof.Write(w)
}

// WriteHeapProfile writes a pprof profile with one sample per block in h's
// block list, used and free alike (§4.3 Walk), each named by its kernel-heap virtual address and
// used/free state, so `go tool pprof -top` shows fragmentation directly.
func WriteHeapProfile(w io.Writer, h *kheap.Heap) error {
	blocks := h.Walk()
	samples := make([]occupancySample, len(blocks))
	for i, b := range blocks {
		state := "used"
		if b.IsFree {
			state = "free"
		}
		samples[i] = occupancySample{
			name:  fmt.Sprintf("heap.%s@%#x", state, b.Addr),
			bytes: int64(b.Size),
		}
	}
	return buildProfile(samples).Write(w)
}
