package kdebug_test

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"

	"github.com/icarius-os/icarius/internal/kdebug"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/machine/host"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
)

func TestWritePFAProfileRoundTrips(t *testing.T) {
	p := pfa.New(1024)
	p.ClearRange(0, 1023)
	if _, err := p.AllocN(10); err != kerr.OK {
		t.Fatalf("AllocN: %v", err)
	}

	var buf bytes.Buffer
	if err := kdebug.WritePFAProfile(&buf, p); err != nil {
		t.Fatalf("WritePFAProfile: %v", err)
	}

	prof, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(prof.Sample) != 2 {
		t.Fatalf("len(Sample) = %d, want 2 (used, free)", len(prof.Sample))
	}

	var usedBytes, freeBytes int64
	for _, s := range prof.Sample {
		name := s.Location[0].Line[0].Function.Name
		switch name {
		case "pfa.used":
			usedBytes = s.Value[0]
		case "pfa.free":
			freeBytes = s.Value[0]
		default:
			t.Fatalf("unexpected sample name %q", name)
		}
	}
	if usedBytes != 10*4096 {
		t.Fatalf("pfa.used = %d, want %d", usedBytes, 10*4096)
	}
	if freeBytes != 1014*4096 {
		t.Fatalf("pfa.free = %d, want %d", freeBytes, 1014*4096)
	}
}

func TestWriteHeapProfileRoundTrips(t *testing.T) {
	m := host.New(16 * 1024 * 1024)
	p := pfa.NewDefault()
	p.ClearRange(0, p.MaxFrames()-1)
	dir, err := paging.BuildKernelDirectory(m, p, 0)
	if err != kerr.OK {
		t.Fatalf("BuildKernelDirectory: %v", err)
	}
	h := kheap.New(m, p, dir)

	a, err := h.Kmalloc(64)
	if err != kerr.OK {
		t.Fatalf("Kmalloc: %v", err)
	}
	if _, err := h.Kmalloc(128); err != kerr.OK {
		t.Fatalf("Kmalloc: %v", err)
	}
	h.Kfree(a)

	var buf bytes.Buffer
	if err := kdebug.WriteHeapProfile(&buf, h); err != nil {
		t.Fatalf("WriteHeapProfile: %v", err)
	}

	prof, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(prof.Sample) == 0 {
		t.Fatalf("expected at least one heap sample")
	}

	var sawFree bool
	for _, s := range prof.Sample {
		name := s.Location[0].Line[0].Function.Name
		if len(name) >= len("heap.free") && name[:len("heap.free")] == "heap.free" {
			sawFree = true
		}
	}
	if !sawFree {
		t.Fatalf("expected a heap.free@... sample after Kfree, samples: %+v", prof.Sample)
	}
}
