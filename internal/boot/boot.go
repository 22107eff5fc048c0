// Package boot parses the Multiboot2 information block a loader hands off
// in EAX/EBX (§6 "EXTERNAL INTERFACES"): the magic/alignment check, the tag
// walk, and the two tags this kernel actually consumes (TYPE_FRAMEBUFFER,
// TYPE_MMAP). It is grounded on original_source/src/kernel.c's
// _check_multiboot2_magic/_check_multiboot2_alignment/_read_multiboot2/
// _init_fb/_init_mmap, generalized from that file's direct struct-pointer
// walk (real memory, real pointer arithmetic) to reading tag headers out of
// a machine.RAM byte view, the same seam every other CORE package in this
// module reads physical memory through.
package boot

import (
	"encoding/binary"

	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/klog"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/pfa"
)

// Magic is the value a Multiboot2-compliant loader leaves in EAX (§6).
const Magic = 0x36d76289

// Tag types this kernel reads; every other tag is skipped (§6: "It walks
// tags looking for TYPE_FRAMEBUFFER ... and TYPE_MMAP").
const (
	tagTypeEnd         = 0
	tagTypeMmap        = 6
	tagTypeFramebuffer = 8
)

// Memory region types, the subset original_source's _init_mmap switches on.
const (
	MemoryAvailable       = 1
	MemoryReserved        = 2
	MemoryACPIReclaimable = 3
	MemoryNVS             = 4
	MemoryBadRAM          = 5
)

// Framebuffer is the subset of multiboot_tag_framebuffer_common this
// kernel's VBE/console layer needs (§6, kernel.c's kread_multiboot2_fb).
type Framebuffer struct {
	Addr   uint64
	Width  uint32
	Height uint32
	Pitch  uint32
	BPP    uint8
}

// MemoryMapEntry is one multiboot_memory_map_t record (§6, kernel.c's
// _init_mmap: addr_low/addr_high and len_low/len_high already combined
// into 64-bit values here since Go has no struct-splitting reason not to).
type MemoryMapEntry struct {
	BaseAddr uint64
	Length   uint64
	Type     uint32
}

// Info is everything boot.Parse extracts from the Mutliboot2 info block:
// at most one framebuffer tag (the first one found, matching kernel.c's
// break-on-first-match) and the memory map entries from the first TYPE_MMAP
// tag.
type Info struct {
	Framebuffer *Framebuffer
	MemoryMap   []MemoryMapEntry
}

// CheckMagic panics (§7: "Fatal conditions include: invalid Multiboot2
// magic/alignment") unless magic equals the Multiboot2 loader magic.
// original_source's kcheck_multiboot2_magic only printf's and returns; the
// specification's error-handling section upgrades this to fatal, which is
// what this function implements.
func CheckMagic(magic uint32) {
	if magic != Magic {
		klog.Panic("boot: invalid multiboot2 magic %#x, want %#x", magic, Magic)
	}
}

// CheckAlignment panics unless addr is 8-byte aligned, the Multiboot2 info
// block's mandated alignment (§6).
func CheckAlignment(addr uint32) {
	if addr&7 != 0 {
		klog.Panic("boot: unaligned multiboot2 info block at %#x", addr)
	}
}

// CheckKernelSize panics if totalSize overflows the kernel image's reserved
// window (§7 "kernel image overflowing its reserved 16 MiB window"). This
// module has no linker script to measure a real image against, so nothing
// calls this automatically during bring-up; it exists for the one caller
// that does have a real size to check (e.g. a future loader stage that
// knows how many bytes it placed at KernelImagePhysBase).
func CheckKernelSize(totalSize uint32) {
	if totalSize > bootcfg.KernelImageWindowSize {
		klog.Panic("boot: kernel image size %d overflows reserved window of %d bytes", totalSize, bootcfg.KernelImageWindowSize)
	}
}

// Parse validates magic/addr and walks the Multiboot2 tag list starting at
// addr, returning the framebuffer and memory-map data the kernel bring-up
// needs. It mirrors kernel.c's _read_multiboot2 tag-walk loop, including
// the ((tag.size + 7) & ^7) padding rule (§6) that advances to the next
// 8-byte-aligned tag.
func Parse(ram machine.RAM, magic uint32, addr uint32) *Info {
	CheckMagic(magic)
	CheckAlignment(addr)

	info := &Info{}

	// The info block itself starts with an 8-byte header (total_size,
	// reserved); tags begin immediately after it (§6, kernel.c: "tag =
	// (struct multiboot_tag*)(addr + 8)").
	tagAddr := addr + 8

	for {
		header := ram.Bytes(tagAddr, 8)
		tagType := binary.LittleEndian.Uint32(header[0:4])
		tagSize := binary.LittleEndian.Uint32(header[4:8])

		if tagType == tagTypeEnd {
			break
		}

		body := ram.Bytes(tagAddr, tagSize)

		switch tagType {
		case tagTypeFramebuffer:
			if info.Framebuffer == nil {
				info.Framebuffer = parseFramebuffer(body)
			}
		case tagTypeMmap:
			if info.MemoryMap == nil {
				info.MemoryMap = parseMmap(body)
			}
		}

		tagAddr += (tagSize + 7) &^ 7
	}

	return info
}

// parseFramebuffer reads the multiboot_tag_framebuffer_common fields
// (kernel.c's kread_multiboot2_fb): an 8-byte tag header, then 8 bytes of
// framebuffer_addr, 4 bytes each of pitch/width/height, 1 byte of bpp.
func parseFramebuffer(tag []byte) *Framebuffer {
	const headerLen = 8
	return &Framebuffer{
		Addr:   binary.LittleEndian.Uint64(tag[headerLen : headerLen+8]),
		Pitch:  binary.LittleEndian.Uint32(tag[headerLen+8 : headerLen+12]),
		Width:  binary.LittleEndian.Uint32(tag[headerLen+12 : headerLen+16]),
		Height: binary.LittleEndian.Uint32(tag[headerLen+16 : headerLen+20]),
		BPP:    tag[headerLen+20],
	}
}

// parseMmap reads a multiboot_tag_mmap: an 8-byte tag header, then 4 bytes
// entry_size, 4 bytes entry_version, then entries of entry_size bytes each
// (§6, kernel.c's _init_mmap loop, which advances by tag_mmap->entry_size
// rather than assuming a fixed 24-byte record).
func parseMmap(tag []byte) []MemoryMapEntry {
	const headerLen = 8
	entrySize := binary.LittleEndian.Uint32(tag[headerLen : headerLen+4])
	if entrySize == 0 {
		return nil
	}

	var entries []MemoryMapEntry
	for off := uint32(headerLen + 8); off+entrySize <= uint32(len(tag)); off += entrySize {
		entries = append(entries, MemoryMapEntry{
			BaseAddr: binary.LittleEndian.Uint64(tag[off : off+8]),
			Length:   binary.LittleEndian.Uint64(tag[off+8 : off+16]),
			Type:     binary.LittleEndian.Uint32(tag[off+16 : off+20]),
		})
	}
	return entries
}

// SeedPFA opens every AVAILABLE memory-map region in the PFA bitmap, then
// re-marks the kernel image and framebuffer frames USED (§4.1: "the
// bring-up code clears frames for each Multiboot2 memory-map region of
// type AVAILABLE, and re-sets frames overlapping the kernel image and
// framebuffer"). It is grounded on kernel.c's _init_mmap/_mark_kernel/
// _mark_fb, generalized to take the reserved ranges as parameters instead
// of reading linker-script symbols.
func SeedPFA(p *pfa.PFA, mm []MemoryMapEntry, kernelStart, kernelEnd, fbStart, fbEnd uint32) {
	for _, e := range mm {
		if e.Type != MemoryAvailable {
			continue
		}
		first := uint32(e.BaseAddr / pageSize)
		last := uint32((e.BaseAddr + e.Length) / pageSize)
		if last == 0 {
			continue
		}
		last--
		if last >= p.MaxFrames() {
			last = p.MaxFrames() - 1
		}
		p.ClearRange(first, last)
	}

	// Frame 0 is USED unconditionally (§3), regardless of whether the
	// memory map reports 0x0 as part of an AVAILABLE region: otherwise
	// the very first Alloc (e.g. BuildKernelDirectory's own) could return
	// physical address 0, indistinguishable from Alloc's ENOMEM sentinel.
	p.Set(0)

	markUsed(p, kernelStart, kernelEnd)
	markUsed(p, fbStart, fbEnd)
}

const pageSize = 4096

func markUsed(p *pfa.PFA, start, end uint32) {
	first := start / pageSize
	last := end / pageSize
	for f := first; f <= last && f < p.MaxFrames(); f++ {
		p.Set(f)
	}
}
