// Package vfs is the virtual filesystem layer (§4.8): a small table of
// registered filesystem vtables keyed by drive letter, and a fixed-size
// file-descriptor table that every syscall (§4.12) indirects through.
package vfs

import (
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/path"
)

// Mode is the open mode passed to a filesystem's Open.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Stat mirrors the fields a filesystem driver can report about a file,
// grounded on stat.Stat_t's field set but using plain exported fields
// since nothing here needs the teacher's raw-bytes Stat_t.Bytes() wire
// encoding (no syscall in this spec marshals a Stat_t across the user
// boundary as raw bytes; vfs_fstat returns it as a kernel-internal value).
type Stat struct {
	Dev        uint32
	Size       uint32
	BlockSize  uint32
	Blocks     uint32
	Date, Time uint16 // raw FAT16 packed fields
}

// DirEntry is one entry yielded by Readdir. IsDir lets sysGetdents (§4.12)
// report DT_DIR/DT_REG without a second Stat call per entry.
type DirEntry struct {
	Name  string
	Stat  Stat
	IsDir bool
}

// Handle is what a filesystem's Open returns: a single open file or
// directory, positioned at 0.
type Handle interface {
	Read(buf []byte, n int) (int, kerr.Errno)
	Write(buf []byte, n int) (int, kerr.Errno)
	Seek(offset int64, whence int) (int64, kerr.Errno)
	Stat() (Stat, kerr.Errno)
	Readdir(cursor int) (DirEntry, int, kerr.Errno) // returns the next cursor
	Close() kerr.Errno
}

// FS is a filesystem driver's vtable (§4.8).
type FS interface {
	Open(path *path.Path, mode Mode) (Handle, kerr.Errno)
}

// Whence values for Seek, mirroring SEEK_SET/SEEK_CUR/SEEK_END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

type registration struct {
	drive byte
	fs    FS
	used  bool
}

type fdSlot struct {
	handle    Handle
	dirOffset int
	used      bool
}

// VFS owns the registered-filesystem table and the fd table (§4.8).
type VFS struct {
	fsTable [bootcfg.MaxFilesystems]registration
	fds     [bootcfg.MaxOpenFiles]fdSlot
}

// New creates an empty VFS.
func New() *VFS { return &VFS{} }

// Mount registers fs under drive (an uppercase letter). Fails with ENOMEM
// if the filesystem table is full.
func (v *VFS) Mount(drive byte, fs FS) kerr.Errno {
	for i := range v.fsTable {
		if !v.fsTable[i].used {
			v.fsTable[i] = registration{drive: drive, fs: fs, used: true}
			return kerr.OK
		}
	}
	return kerr.ENOMEM
}

func (v *VFS) lookup(drive byte) (FS, kerr.Errno) {
	for _, r := range v.fsTable {
		if r.used && r.drive == drive {
			return r.fs, kerr.OK
		}
	}
	return nil, kerr.EIO
}

func (v *VFS) allocFD() (int, kerr.Errno) {
	for i := range v.fds {
		if !v.fds[i].used {
			return i, kerr.OK
		}
	}
	return 0, kerr.ENOMEM
}

// Fopen parses raw, finds the registered filesystem for its drive letter,
// and opens it, returning a 1-based fd (§4.8).
func (v *VFS) Fopen(raw string, mode Mode) (int, kerr.Errno) {
	p := path.Parse(raw)
	fs, err := v.lookup(p.Drive)
	if err != kerr.OK {
		return 0, kerr.EIO
	}
	handle, err := fs.Open(p, mode)
	if err != kerr.OK {
		if err == kerr.ENOENT {
			return 0, kerr.ENOENT
		}
		return 0, err
	}
	if handle == nil {
		return 0, kerr.ENOENT
	}
	idx, err := v.allocFD()
	if err != kerr.OK {
		return 0, err
	}
	v.fds[idx] = fdSlot{handle: handle, used: true}
	return idx + 1, kerr.OK
}

// InstallFD installs h directly at fd (1-based), bypassing Fopen's
// path-based Open. Bring-up uses this to pre-open the console sink at
// fd=1/fd=2 before any task exists to open them itself (§4.13
// "VFS-provided console sink").
func (v *VFS) InstallFD(fd int, h Handle) kerr.Errno {
	i := fd - 1
	if i < 0 || i >= len(v.fds) {
		return kerr.EINVAL
	}
	v.fds[i] = fdSlot{handle: h, used: true}
	return kerr.OK
}

func (v *VFS) slot(fd int) (*fdSlot, kerr.Errno) {
	i := fd - 1
	if i < 0 || i >= len(v.fds) || !v.fds[i].used {
		return nil, kerr.EBADF
	}
	return &v.fds[i], kerr.OK
}

// Fread forwards to the fd's handle.
func (v *VFS) Fread(fd int, buf []byte, n int) (int, kerr.Errno) {
	s, err := v.slot(fd)
	if err != kerr.OK {
		return 0, err
	}
	return s.handle.Read(buf, n)
}

// Fwrite forwards to the fd's handle.
func (v *VFS) Fwrite(fd int, buf []byte, n int) (int, kerr.Errno) {
	s, err := v.slot(fd)
	if err != kerr.OK {
		return 0, err
	}
	return s.handle.Write(buf, n)
}

// Fseek forwards to the fd's handle.
func (v *VFS) Fseek(fd int, offset int64, whence int) (int64, kerr.Errno) {
	s, err := v.slot(fd)
	if err != kerr.OK {
		return 0, err
	}
	return s.handle.Seek(offset, whence)
}

// Fstat forwards to the fd's handle.
func (v *VFS) Fstat(fd int) (Stat, kerr.Errno) {
	s, err := v.slot(fd)
	if err != kerr.OK {
		return Stat{}, err
	}
	return s.handle.Stat()
}

// Readdir advances the fd's directory cursor on each successful call
// (§4.8).
func (v *VFS) Readdir(fd int) (DirEntry, kerr.Errno) {
	s, err := v.slot(fd)
	if err != kerr.OK {
		return DirEntry{}, err
	}
	entry, next, err := s.handle.Readdir(s.dirOffset)
	if err != kerr.OK {
		return DirEntry{}, err
	}
	s.dirOffset = next
	return entry, kerr.OK
}

// Fclose closes the handle and frees the fd slot.
func (v *VFS) Fclose(fd int) kerr.Errno {
	s, err := v.slot(fd)
	if err != kerr.OK {
		return err
	}
	closeErr := s.handle.Close()
	*s = fdSlot{}
	return closeErr
}
