// Package pfa implements the physical frame allocator: a bitmap over the
// 4 GiB frame space (§4.1), first-fit linear scan, not reentrant across
// IRQ context without an external lock (§5).
package pfa

import (
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/kerr"
)

const bitsPerWord = 64

// PFA is the bitmap frame allocator. Bit set means USED (§3 invariant: a
// frame is either FREE or USED, never both — a single bit encodes this).
type PFA struct {
	bits      []uint64
	maxFrames uint32
	freeCount uint32
}

// New creates a PFA sized for maxFrames frames, all marked USED (§4.1
// "Initialization marks all frames USED"). Callers then Clear the frames
// the Multiboot2 memory map reports AVAILABLE.
func New(maxFrames uint32) *PFA {
	words := (maxFrames + bitsPerWord - 1) / bitsPerWord
	p := &PFA{
		bits:      make([]uint64, words),
		maxFrames: maxFrames,
	}
	for i := range p.bits {
		p.bits[i] = ^uint64(0)
	}
	return p
}

// NewDefault creates a PFA sized per bootcfg.MaxFrames, matching the
// production 4 GiB frame space.
func NewDefault() *PFA {
	return New(bootcfg.MaxFrames)
}

func (p *PFA) wordBit(frame uint32) (word uint32, bit uint32) {
	return frame / bitsPerWord, frame % bitsPerWord
}

// Test reports whether frame is USED.
func (p *PFA) Test(frame uint32) bool {
	if frame >= p.maxFrames {
		return true
	}
	w, b := p.wordBit(frame)
	return p.bits[w]&(1<<b) != 0
}

// Set marks frame USED.
func (p *PFA) Set(frame uint32) {
	if frame >= p.maxFrames {
		return
	}
	w, b := p.wordBit(frame)
	if p.bits[w]&(1<<b) == 0 {
		p.bits[w] |= 1 << b
		p.freeCount--
	}
}

// Clear marks frame FREE.
func (p *PFA) Clear(frame uint32) {
	if frame >= p.maxFrames {
		return
	}
	w, b := p.wordBit(frame)
	if p.bits[w]&(1<<b) != 0 {
		p.bits[w] &^= 1 << b
		p.freeCount++
	}
}

// ClearRange marks every frame in [first, last] FREE, used by bring-up to
// open a Multiboot2 AVAILABLE memory-map region (§4.1).
func (p *PFA) ClearRange(first, last uint32) {
	for f := first; f <= last; f++ {
		p.Clear(f)
	}
}

// Alloc scans from frame 0, finds the first clear bit, sets it, and returns
// the physical address frame*4096. It fails with ENOMEM when no frame is
// free (§4.1, §8 boundary behavior: returns 0 and ENOMEM).
func (p *PFA) Alloc() (uint32, kerr.Errno) {
	for w := range p.bits {
		if p.bits[w] == ^uint64(0) {
			continue
		}
		for b := uint32(0); b < bitsPerWord; b++ {
			frame := uint32(w)*bitsPerWord + b
			if frame >= p.maxFrames {
				break
			}
			if p.bits[w]&(1<<b) == 0 {
				p.bits[w] |= 1 << b
				p.freeCount--
				return frame * bootcfg.PageSize, kerr.OK
			}
		}
	}
	return 0, kerr.ENOMEM
}

// AllocN scans for n contiguous free frames (first-fit, same policy as
// Alloc), marks them all USED, and returns the physical address of the
// first frame. It is the extension map_between's PSE path needs: "populate
// entries ... with 4 MiB frames from the PFA" (§4.2) requires a single
// allocation of 1024 contiguous 4 KiB frames, not 1024 independent ones.
func (p *PFA) AllocN(n uint32) (uint32, kerr.Errno) {
	if n == 0 {
		return 0, kerr.EINVAL
	}
	var runStart uint32
	var runLen uint32
	for frame := uint32(0); frame < p.maxFrames; frame++ {
		if p.Test(frame) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = frame
		}
		runLen++
		if runLen == n {
			for f := runStart; f < runStart+n; f++ {
				p.Set(f)
			}
			return runStart * bootcfg.PageSize, kerr.OK
		}
	}
	return 0, kerr.ENOMEM
}

// Stats is the report produced by Dump.
type Stats struct {
	UsedFrames int
	FreeFrames int
	UsedKiB    int
	FreeKiB    int
}

// Dump reports used/free frame counts and KiB (§4.1).
func (p *PFA) Dump() Stats {
	free := int(p.freeCount)
	used := int(p.maxFrames) - free
	return Stats{
		UsedFrames: used,
		FreeFrames: free,
		UsedKiB:    used * bootcfg.PageSize / 1024,
		FreeKiB:    free * bootcfg.PageSize / 1024,
	}
}

// MaxFrames returns the size of the frame space this PFA manages.
func (p *PFA) MaxFrames() uint32 { return p.maxFrames }
