package fat16

import (
	"encoding/binary"

	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/path"
	"github.com/icarius-os/icarius/internal/stream"
	"github.com/icarius-os/icarius/internal/vfs"
)

// FS is the FAT16 filesystem driver (§4.9), bound to one partition on one
// block device.
type FS struct {
	st     *stream.Stream
	layout Layout
	bs     *BootSector
}

// New reads and validates the boot sector at partitionOffset on dev and
// resolves the on-disk layout (§4.9, §6).
func New(dev stream.BlockDevice, partitionOffset uint32) (*FS, kerr.Errno) {
	st := stream.New(dev)
	st.Seek(uint64(partitionOffset))
	sector := make([]byte, bootSectorSize)
	if _, err := st.Read(sector, bootSectorSize); err != kerr.OK {
		return nil, err
	}
	bs := DecodeBootSector(sector)
	if err := Validate(bs); err != kerr.OK {
		return nil, err
	}
	return &FS{st: st, layout: Resolve(bs, partitionOffset), bs: bs}, kerr.OK
}

// Layout exposes the resolved on-disk layout, for tests and kdebug.
func (f *FS) Layout() Layout { return f.layout }

// dirRef names a directory: the fixed root area, or a cluster-chain
// subdirectory.
type dirRef struct {
	isRoot       bool
	clusterStart uint32
}

func (f *FS) readEntry(offset uint32) (RawDirEntry, kerr.Errno) {
	f.st.Seek(uint64(offset))
	b := make([]byte, DirEntrySize)
	if _, err := f.st.Read(b, DirEntrySize); err != kerr.OK {
		return RawDirEntry{}, err
	}
	return DecodeDirEntry(b), kerr.OK
}

func (f *FS) writeEntry(offset uint32, e RawDirEntry) kerr.Errno {
	f.st.Seek(uint64(offset))
	b := EncodeDirEntry(e)
	_, err := f.st.Write(b, len(b))
	return err
}

func (f *FS) readFatEntry(cluster uint32) (uint16, kerr.Errno) {
	f.st.Seek(uint64(f.layout.FATEntryOffset(0, cluster)))
	b := make([]byte, 2)
	if _, err := f.st.Read(b, 2); err != kerr.OK {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), kerr.OK
}

// writeFatEntry mirrors the write across every FAT copy, keeping the
// NumFATs==2 invariant the boot sector validates actually true on disk.
func (f *FS) writeFatEntry(cluster uint32, val uint16) kerr.Errno {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, val)
	for i := uint32(0); i < f.layout.NumFATs; i++ {
		f.st.Seek(uint64(f.layout.FATEntryOffset(i, cluster)))
		if _, err := f.st.Write(b, 2); err != kerr.OK {
			return err
		}
	}
	return kerr.OK
}

// dirSlots visits each directory-entry slot of ref in order, stopping when
// fn returns true, the root area or cluster chain runs out, or a
// free-marker slot ends the scan (in the root area and in subdirectories).
func (f *FS) dirSlots(ref dirRef, fn func(offset uint32, e RawDirEntry) bool) kerr.Errno {
	if ref.isRoot {
		for i := uint32(0); i < f.layout.RootEntCnt; i++ {
			off := f.layout.RootDirOffset + i*DirEntrySize
			e, err := f.readEntry(off)
			if err != kerr.OK {
				return err
			}
			if fn(off, e) {
				return kerr.OK
			}
			if e.IsEndOfDir() {
				return kerr.OK
			}
		}
		return kerr.OK
	}

	cluster := ref.clusterStart
	entriesPerCluster := f.layout.ClusterSizeBytes() / DirEntrySize
	for cluster >= 2 && cluster < FatEOCMin {
		base := f.layout.ClusterByteOffset(cluster)
		for i := uint32(0); i < entriesPerCluster; i++ {
			off := base + i*DirEntrySize
			e, err := f.readEntry(off)
			if err != kerr.OK {
				return err
			}
			if fn(off, e) {
				return kerr.OK
			}
			if e.IsEndOfDir() {
				return kerr.OK
			}
		}
		next, err := f.readFatEntry(cluster)
		if err != kerr.OK {
			return err
		}
		cluster = uint32(next)
	}
	return kerr.OK
}

func (f *FS) findInDir(ref dirRef, name [8]byte, ext [3]byte) (RawDirEntry, uint32, bool, kerr.Errno) {
	var result RawDirEntry
	var resultOff uint32
	found := false
	err := f.dirSlots(ref, func(off uint32, e RawDirEntry) bool {
		if e.IsFree() || e.IsLFN() {
			return false
		}
		if e.Name == name && e.Ext == ext {
			result, resultOff, found = e, off, true
			return true
		}
		return false
	})
	return result, resultOff, found, err
}

func (f *FS) findFreeSlot(ref dirRef) (uint32, kerr.Errno) {
	var freeOff uint32
	found := false
	err := f.dirSlots(ref, func(off uint32, e RawDirEntry) bool {
		if e.IsFree() {
			freeOff, found = off, true
			return true
		}
		return false
	})
	if err != kerr.OK {
		return 0, err
	}
	if found {
		return freeOff, kerr.OK
	}
	if ref.isRoot {
		return 0, kerr.ENOMEM
	}
	// subdirectory ran out of slots in its last cluster: extend the chain.
	cluster := ref.clusterStart
	for {
		next, err := f.readFatEntry(cluster)
		if err != kerr.OK {
			return 0, err
		}
		if uint32(next) >= FatEOCMin {
			break
		}
		cluster = uint32(next)
	}
	newCluster, err := f.findFreeCluster()
	if err != kerr.OK {
		return 0, err
	}
	if err := f.writeFatEntry(cluster, uint16(newCluster)); err != kerr.OK {
		return 0, err
	}
	if err := f.writeFatEntry(newCluster, FatEOCMin); err != kerr.OK {
		return 0, err
	}
	zero := make([]byte, f.layout.ClusterSizeBytes())
	f.st.Seek(uint64(f.layout.ClusterByteOffset(newCluster)))
	if _, err := f.st.Write(zero, len(zero)); err != kerr.OK {
		return 0, err
	}
	return f.layout.ClusterByteOffset(newCluster), kerr.OK
}

func (f *FS) findFreeCluster() (uint32, kerr.Errno) {
	maxCluster := (f.layout.TotalSectors-f.layout.DataStartSector)/f.layout.SecPerClus + 2
	for c := uint32(2); c < maxCluster; c++ {
		v, err := f.readFatEntry(c)
		if err != kerr.OK {
			return 0, err
		}
		if v == FatFree {
			return c, kerr.OK
		}
	}
	return 0, kerr.ENOMEM
}

// nodeKind tags Node's union per §3 "FAT16 node".
type nodeKind int

const (
	nodeFile nodeKind = iota
	nodeDir
)

// Node is the kernel-side tagged-union FAT16 node.
type Node struct {
	kind        nodeKind
	entry       RawDirEntry
	entryOffset uint32
	dir         dirRef
}

// Open walks p in 8.3 form, optionally creating the final component when
// mode is ModeWrite and it doesn't exist (§4.9).
func (f *FS) Open(p *path.Path, mode vfs.Mode) (vfs.Handle, kerr.Errno) {
	if p.Nodes != nil && p.Nodes.Identifier() == "/" && p.Nodes.Next == nil {
		return &Handle{fs: f, node: &Node{kind: nodeDir, dir: dirRef{isRoot: true}}}, kerr.OK
	}

	cur := dirRef{isRoot: true}
	var finalEntry RawDirEntry
	var finalOffset uint32
	var finalIsDir bool

	for n := p.Nodes; n != nil; n = n.Next {
		nameB, extB := EncodeName83(n.Identifier())
		entry, off, found, err := f.findInDir(cur, nameB, extB)
		if err != kerr.OK {
			return nil, err
		}
		last := n.Next == nil

		if !found {
			if !last || mode != vfs.ModeWrite {
				return nil, kerr.ENOENT
			}
			newOff, err := f.findFreeSlot(cur)
			if err != kerr.OK {
				return nil, err
			}
			cluster, err := f.findFreeCluster()
			if err != kerr.OK {
				return nil, err
			}
			if err := f.writeFatEntry(cluster, FatEOCMin); err != kerr.OK {
				return nil, err
			}
			entry = RawDirEntry{Name: nameB, Ext: extB, Attr: AttrArchive}
			entry.SetFirstCluster(cluster)
			if err := f.writeEntry(newOff, entry); err != kerr.OK {
				return nil, err
			}
			off = newOff
		}

		if last {
			finalEntry, finalOffset = entry, off
			finalIsDir = entry.Attr&AttrDirectory != 0
			break
		}
		if entry.Attr&AttrDirectory == 0 {
			return nil, kerr.ENOTDIR
		}
		cur = dirRef{isRoot: false, clusterStart: entry.FirstCluster()}
	}

	node := &Node{entry: finalEntry, entryOffset: finalOffset}
	if finalIsDir {
		node.kind = nodeDir
		node.dir = dirRef{isRoot: false, clusterStart: finalEntry.FirstCluster()}
	} else {
		node.kind = nodeFile
	}
	return &Handle{fs: f, node: node}, kerr.OK
}

// Handle is an open FAT16 file or directory (§3 "FAT16 open handle").
type Handle struct {
	fs   *FS
	node *Node
	pos  uint32
}

// Read implements vfs.Handle (§4.9 read algorithm).
func (h *Handle) Read(buf []byte, n int) (int, kerr.Errno) {
	if h.node.kind != nodeFile {
		return 0, kerr.EISDIR
	}
	fileSize := h.node.entry.FileSize
	if h.pos >= fileSize {
		return 0, kerr.OK
	}
	remaining := n
	if h.pos+uint32(remaining) > fileSize {
		remaining = int(fileSize - h.pos)
	}
	clusterSize := h.fs.layout.ClusterSizeBytes()
	cluster := h.node.entry.FirstCluster()

	skip := h.pos / clusterSize
	for i := uint32(0); i < skip; i++ {
		next, err := h.fs.readFatEntry(cluster)
		if err != kerr.OK {
			return 0, err
		}
		if uint32(next) >= FatEOCMin {
			return 0, kerr.OK
		}
		cluster = uint32(next)
	}

	offsetInCluster := h.pos % clusterSize
	total := 0
	for remaining > 0 {
		avail := clusterSize - offsetInCluster
		take := remaining
		if uint32(take) > avail {
			take = int(avail)
		}
		byteOff := h.fs.layout.ClusterByteOffset(cluster) + offsetInCluster
		h.fs.st.Seek(uint64(byteOff))
		got, err := h.fs.st.Read(buf[total:total+take], take)
		if err != kerr.OK {
			return total, err
		}
		total += got
		h.pos += uint32(got)
		remaining -= got
		if got < take {
			break
		}
		offsetInCluster += uint32(take)
		if offsetInCluster >= clusterSize {
			offsetInCluster = 0
			next, err := h.fs.readFatEntry(cluster)
			if err != kerr.OK {
				return total, err
			}
			if uint32(next) >= FatEOCMin {
				break
			}
			cluster = uint32(next)
		}
	}
	return total, kerr.OK
}

// Write implements vfs.Handle (§4.9 write algorithm), allocating clusters
// first-fit in the FAT and chaining them as handle.pos crosses a cluster
// boundary, always updating the directory entry's file size (Open Question
// resolved in DESIGN.md: fat16_write is implemented fully).
func (h *Handle) Write(buf []byte, n int) (int, kerr.Errno) {
	if h.node.kind != nodeFile {
		return 0, kerr.EISDIR
	}
	clusterSize := h.fs.layout.ClusterSizeBytes()
	cluster := h.node.entry.FirstCluster()
	if cluster == 0 {
		newCluster, err := h.fs.findFreeCluster()
		if err != kerr.OK {
			return 0, err
		}
		if err := h.fs.writeFatEntry(newCluster, FatEOCMin); err != kerr.OK {
			return 0, err
		}
		cluster = newCluster
		h.node.entry.SetFirstCluster(cluster)
	}

	skip := h.pos / clusterSize
	for i := uint32(0); i < skip; i++ {
		next, err := h.fs.readFatEntry(cluster)
		if err != kerr.OK {
			return 0, err
		}
		if uint32(next) >= FatEOCMin {
			nc, err := h.fs.findFreeCluster()
			if err != kerr.OK {
				return 0, err
			}
			if err := h.fs.writeFatEntry(cluster, uint16(nc)); err != kerr.OK {
				return 0, err
			}
			if err := h.fs.writeFatEntry(nc, FatEOCMin); err != kerr.OK {
				return 0, err
			}
			cluster = nc
		} else {
			cluster = uint32(next)
		}
	}

	offsetInCluster := h.pos % clusterSize
	total := 0
	remaining := n
	for remaining > 0 {
		avail := clusterSize - offsetInCluster
		take := remaining
		if uint32(take) > avail {
			take = int(avail)
		}
		byteOff := h.fs.layout.ClusterByteOffset(cluster) + offsetInCluster
		h.fs.st.Seek(uint64(byteOff))
		wrote, err := h.fs.st.Write(buf[total:total+take], take)
		if err != kerr.OK {
			return total, err
		}
		total += wrote
		h.pos += uint32(wrote)
		remaining -= wrote
		offsetInCluster += uint32(wrote)
		if offsetInCluster >= clusterSize && remaining > 0 {
			offsetInCluster = 0
			next, err := h.fs.readFatEntry(cluster)
			if err != kerr.OK {
				return total, err
			}
			if uint32(next) >= FatEOCMin {
				nc, err := h.fs.findFreeCluster()
				if err != kerr.OK {
					return total, err
				}
				if err := h.fs.writeFatEntry(cluster, uint16(nc)); err != kerr.OK {
					return total, err
				}
				if err := h.fs.writeFatEntry(nc, FatEOCMin); err != kerr.OK {
					return total, err
				}
				cluster = nc
			} else {
				cluster = uint32(next)
			}
		}
	}
	if h.pos > h.node.entry.FileSize {
		h.node.entry.FileSize = h.pos
	}
	if err := h.fs.writeEntry(h.node.entryOffset, h.node.entry); err != kerr.OK {
		return total, err
	}
	return total, kerr.OK
}

// Seek implements vfs.Handle. SEEK_END is the conventional "file size plus
// whence-offset" (see DESIGN.md Open Question decision, not the source's
// ENOENT placeholder). Any offset beyond the current file size is rejected
// with EIO (§4.9).
func (h *Handle) Seek(offset int64, whence int) (int64, kerr.Errno) {
	var np int64
	switch whence {
	case vfs.SeekSet:
		np = offset
	case vfs.SeekCur:
		np = int64(h.pos) + offset
	case vfs.SeekEnd:
		np = int64(h.node.entry.FileSize) + offset
	default:
		return int64(h.pos), kerr.EINVAL
	}
	if np < 0 {
		return int64(h.pos), kerr.EINVAL
	}
	if np > int64(h.node.entry.FileSize) {
		return int64(h.pos), kerr.EIO
	}
	h.pos = uint32(np)
	return np, kerr.OK
}

func (h *Handle) countBlocks() uint32 {
	cluster := h.node.entry.FirstCluster()
	count := uint32(0)
	for cluster >= 2 && cluster < FatEOCMin {
		count++
		next, err := h.fs.readFatEntry(cluster)
		if err != kerr.OK {
			break
		}
		cluster = uint32(next)
	}
	return count
}

// Stat implements vfs.Handle (§4.9).
func (h *Handle) Stat() (vfs.Stat, kerr.Errno) {
	return vfs.Stat{
		Size:      h.node.entry.FileSize,
		BlockSize: h.fs.layout.ClusterSizeBytes(),
		Blocks:    h.countBlocks(),
		Date:      h.node.entry.WriteDate,
		Time:      h.node.entry.WriteTime,
	}, kerr.OK
}

// Readdir implements vfs.Handle, returning the cursor-th valid (non-free,
// non-LFN) entry and the next cursor value.
func (h *Handle) Readdir(cursor int) (vfs.DirEntry, int, kerr.Errno) {
	if h.node.kind != nodeDir {
		return vfs.DirEntry{}, cursor, kerr.ENOTDIR
	}
	idx := 0
	var result vfs.DirEntry
	found := false
	err := h.fs.dirSlots(h.node.dir, func(off uint32, e RawDirEntry) bool {
		if e.IsFree() || e.IsLFN() {
			return false
		}
		if idx == cursor {
			result = vfs.DirEntry{
				Name:  DecodeName83(e.Name, e.Ext),
				Stat:  vfs.Stat{Size: e.FileSize, Date: e.WriteDate, Time: e.WriteTime},
				IsDir: e.Attr&AttrDirectory != 0,
			}
			found = true
			return true
		}
		idx++
		return false
	})
	if err != kerr.OK {
		return vfs.DirEntry{}, cursor, err
	}
	if !found {
		return vfs.DirEntry{}, cursor, kerr.ENOENT
	}
	return result, cursor + 1, kerr.OK
}

// Close implements vfs.Handle. Nodes and directory-folder descriptors are
// ordinary Go values with no explicit free; the handle simply drops its
// reference to the node.
func (h *Handle) Close() kerr.Errno {
	h.node = nil
	return kerr.OK
}
