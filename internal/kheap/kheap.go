// Package kheap implements the kernel heap: a single arena expanding by
// whole 4 MiB (PSE) chunks, backed by a doubly linked, address-ordered
// block list with best-fit allocation and eager coalescing on free (§4.3).
//
// Block payloads live at virtual addresses mapped through paging, which may
// not be physically contiguous across a 4 MiB chunk boundary (each chunk's
// backing frames come from an independent pfa.AllocN call). Heap.Read/Write
// are therefore the supported way to access a kmalloc'd region: they walk
// the mapping one PSE entry at a time, the software equivalent of the MMU
// stitching a virtually-contiguous region out of discontiguous physical
// frames that real hardware gives for free.
package kheap

import (
	"encoding/binary"

	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
)

const headerSize = 20 // size, isFree, chunkSpan, prev, next: 5 x uint32

// Heap is the kernel heap arena.
type Heap struct {
	m    machine.Machine
	pfa  *pfa.PFA
	dir  *paging.Dir
	head uint32 // virtual address of the first (lowest) block, 0 if empty
	end  uint32 // next free virtual address for growth
}

// New creates an (initially empty) heap arena starting at bootcfg.KernelHeapStart,
// mapped into the kernel directory as it grows.
func New(m machine.Machine, p *pfa.PFA, kernelDir *paging.Dir) *Heap {
	return &Heap{m: m, pfa: p, dir: kernelDir, end: bootcfg.KernelHeapStart}
}

type header struct {
	size      uint32
	isFree    bool
	chunkSpan uint32
	prev      uint32
	next      uint32
}

func (h *Heap) readHeader(vaddr uint32) header {
	b := h.readBytes(vaddr, headerSize)
	return header{
		size:      binary.LittleEndian.Uint32(b[0:4]),
		isFree:    binary.LittleEndian.Uint32(b[4:8]) != 0,
		chunkSpan: binary.LittleEndian.Uint32(b[8:12]),
		prev:      binary.LittleEndian.Uint32(b[12:16]),
		next:      binary.LittleEndian.Uint32(b[16:20]),
	}
}

func (h *Heap) writeHeader(vaddr uint32, hd header) {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b[0:4], hd.size)
	free := uint32(0)
	if hd.isFree {
		free = 1
	}
	binary.LittleEndian.PutUint32(b[4:8], free)
	binary.LittleEndian.PutUint32(b[8:12], hd.chunkSpan)
	binary.LittleEndian.PutUint32(b[12:16], hd.prev)
	binary.LittleEndian.PutUint32(b[16:20], hd.next)
	h.writeBytes(vaddr, b)
}

// readBytes and writeBytes copy to/from the heap arena one PSE entry at a
// time, so a region spanning a chunk boundary is handled correctly
// regardless of the chunks' physical contiguity.
func (h *Heap) readBytes(vaddr uint32, n uint32) []byte {
	out := make([]byte, n)
	var off uint32
	for off < n {
		phys, ok := paging.GetPhysAddr(h.m, h.dir, vaddr+off)
		if !ok {
			panic("kheap: read from unmapped virtual address")
		}
		remain := bootcfg.PseSize - (vaddr+off)%bootcfg.PseSize
		take := n - off
		if take > remain {
			take = remain
		}
		copy(out[off:off+take], h.m.Bytes(phys, take))
		off += take
	}
	return out
}

func (h *Heap) writeBytes(vaddr uint32, data []byte) {
	var off uint32
	n := uint32(len(data))
	for off < n {
		phys, ok := paging.GetPhysAddr(h.m, h.dir, vaddr+off)
		if !ok {
			panic("kheap: write to unmapped virtual address")
		}
		remain := bootcfg.PseSize - (vaddr+off)%bootcfg.PseSize
		take := n - off
		if take > remain {
			take = remain
		}
		copy(h.m.Bytes(phys, take), data[off:off+take])
		off += take
	}
}

// Read copies n bytes starting at the kmalloc'd virtual address vaddr.
func (h *Heap) Read(vaddr uint32, n uint32) []byte { return h.readBytes(vaddr, n) }

// Write copies data to the kmalloc'd virtual address vaddr.
func (h *Heap) Write(vaddr uint32, data []byte) { h.writeBytes(vaddr, data) }

func alignUp8(n uint32) uint32 { return (n + 7) &^ 7 }

// grow expands the arena by enough whole 4 MiB chunks to satisfy need bytes
// (payload + header), mapping each chunk PSE into the kernel directory and
// linking a single new free block spanning the growth (§4.3 step 3).
func (h *Heap) grow(need uint32) kerr.Errno {
	chunks := (need + bootcfg.PseSize - 1) / bootcfg.PseSize
	if chunks == 0 {
		chunks = 1
	}
	vStart := h.end
	vEnd := vStart + chunks*bootcfg.PseSize
	if err := paging.MapBetween(h.m, h.pfa, h.dir, vStart, vEnd, paging.Present|paging.Writable|paging.PSE); err != kerr.OK {
		return err
	}
	h.end = vEnd

	newBlock := header{
		size:      vEnd - vStart - headerSize,
		isFree:    true,
		chunkSpan: chunks,
	}
	if h.head == 0 {
		h.head = vStart
		h.writeHeader(vStart, newBlock)
		return kerr.OK
	}
	// append at the address-ordered tail.
	tail := h.head
	for {
		th := h.readHeader(tail)
		if th.next == 0 {
			break
		}
		tail = th.next
	}
	th := h.readHeader(tail)
	th.next = vStart
	h.writeHeader(tail, th)
	newBlock.prev = tail
	h.writeHeader(vStart, newBlock)
	return kerr.OK
}

// bestFit walks the address-ordered block chain looking for the smallest
// free block that is big enough.
func (h *Heap) bestFit(size uint32) (vaddr uint32, found bool) {
	best := uint32(0)
	var bestSize uint32
	for cur := h.head; cur != 0; {
		hd := h.readHeader(cur)
		if hd.isFree && hd.size >= size && (best == 0 || hd.size < bestSize) {
			best = cur
			bestSize = hd.size
		}
		cur = hd.next
	}
	return best, best != 0
}

// Kmalloc allocates at least n bytes and returns the payload virtual
// address (§4.3).
func (h *Heap) Kmalloc(n uint32) (uint32, kerr.Errno) {
	aligned := alignUp8(n)
	for {
		if vaddr, ok := h.bestFit(aligned); ok {
			return h.carve(vaddr, aligned), kerr.OK
		}
		if err := h.grow(aligned + headerSize); err != kerr.OK {
			return 0, err
		}
	}
}

// Kzalloc allocates n zeroed bytes (§4.3).
func (h *Heap) Kzalloc(n uint32) (uint32, kerr.Errno) {
	vaddr, err := h.Kmalloc(n)
	if err != kerr.OK {
		return 0, err
	}
	h.Write(vaddr, make([]byte, alignUp8(n)))
	return vaddr, kerr.OK
}

// carve splits block (if large enough) and marks the used portion, returning
// its payload address.
func (h *Heap) carve(blockAddr, aligned uint32) uint32 {
	hd := h.readHeader(blockAddr)
	if hd.size >= aligned+headerSize+bootcfg.MinBlockSize {
		tailAddr := blockAddr + headerSize + aligned
		tail := header{
			size:   hd.size - aligned - headerSize,
			isFree: true,
			prev:   blockAddr,
			next:   hd.next,
		}
		if hd.next != 0 {
			nh := h.readHeader(hd.next)
			nh.prev = tailAddr
			h.writeHeader(hd.next, nh)
		}
		h.writeHeader(tailAddr, tail)
		hd.size = aligned
		hd.next = tailAddr
	}
	hd.isFree = false
	h.writeHeader(blockAddr, hd)
	return blockAddr + headerSize
}

// Kfree returns a kmalloc'd region to the free list, merging with
// address-adjacent free neighbors (§4.3).
func (h *Heap) Kfree(vaddr uint32) {
	if vaddr == 0 {
		return
	}
	blockAddr := vaddr - headerSize
	hd := h.readHeader(blockAddr)
	hd.isFree = true
	h.writeHeader(blockAddr, hd)

	// merge with next
	hd = h.readHeader(blockAddr)
	if hd.next != 0 {
		nh := h.readHeader(hd.next)
		if nh.isFree {
			hd.size += headerSize + nh.size
			hd.next = nh.next
			if nh.next != 0 {
				nnh := h.readHeader(nh.next)
				nnh.prev = blockAddr
				h.writeHeader(nh.next, nnh)
			}
			h.writeHeader(blockAddr, hd)
		}
	}

	// merge with prev
	hd = h.readHeader(blockAddr)
	if hd.prev != 0 {
		ph := h.readHeader(hd.prev)
		if ph.isFree {
			ph.size += headerSize + hd.size
			ph.next = hd.next
			if hd.next != 0 {
				nh := h.readHeader(hd.next)
				nh.prev = hd.prev
				h.writeHeader(hd.next, nh)
			}
			h.writeHeader(hd.prev, ph)
		}
	}
}

// BlockInfo is a read-only snapshot of one block, for tests and kdebug
// dumps.
type BlockInfo struct {
	Addr   uint32
	Size   uint32
	IsFree bool
}

// Walk returns every block in address order.
func (h *Heap) Walk() []BlockInfo {
	var out []BlockInfo
	for cur := h.head; cur != 0; {
		hd := h.readHeader(cur)
		out = append(out, BlockInfo{Addr: cur, Size: hd.size, IsFree: hd.isFree})
		cur = hd.next
	}
	return out
}
