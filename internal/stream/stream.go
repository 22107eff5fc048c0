// Package stream provides a random-access byte view over a block device
// (§4.6), translating seek/read/write at arbitrary byte offsets into
// block-aligned ata.Driver transfers, copying partial head/tail sectors
// through the driver's single device buffer.
package stream

import (
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/kerr"
)

// BlockDevice is the subset of ata.Driver a Stream needs, kept narrow so
// tests can supply a fake without touching real ports.
type BlockDevice interface {
	ReadSectorsInto(lba uint32, n uint16, dst []byte) kerr.Errno
	WriteSectors(lba uint32, n uint16, src []byte) kerr.Errno
}

const sectorSize = bootcfg.ATASectorSize

// Stream is a 0-based byte cursor over a BlockDevice.
type Stream struct {
	dev BlockDevice
	pos uint64
}

// New creates a Stream positioned at offset 0.
func New(dev BlockDevice) *Stream { return &Stream{dev: dev} }

// Seek sets the absolute byte position.
func (s *Stream) Seek(pos uint64) { s.pos = pos }

// Pos returns the current byte position.
func (s *Stream) Pos() uint64 { return s.pos }

// Read copies n bytes starting at the current position into buf (len(buf)
// must be >= n), advancing the position, and returns bytes read.
func (s *Stream) Read(buf []byte, n int) (int, kerr.Errno) {
	if n == 0 {
		return 0, kerr.OK
	}
	start := s.pos
	end := start + uint64(n)
	firstLBA := uint32(start / sectorSize)
	lastLBA := uint32((end - 1) / sectorSize)
	nSectors := lastLBA - firstLBA + 1

	tmp := make([]byte, int(nSectors)*sectorSize)
	if err := s.dev.ReadSectorsInto(firstLBA, uint16(nSectors), tmp); err != kerr.OK {
		return 0, err
	}
	skip := int(start % sectorSize)
	copy(buf[:n], tmp[skip:skip+n])
	s.pos += uint64(n)
	return n, kerr.OK
}

// Write copies n bytes from buf to the device starting at the current
// position, read-modify-writing partial head/tail sectors, and advances
// the position.
func (s *Stream) Write(buf []byte, n int) (int, kerr.Errno) {
	if n == 0 {
		return 0, kerr.OK
	}
	start := s.pos
	end := start + uint64(n)
	firstLBA := uint32(start / sectorSize)
	lastLBA := uint32((end - 1) / sectorSize)
	nSectors := lastLBA - firstLBA + 1

	tmp := make([]byte, int(nSectors)*sectorSize)
	if err := s.dev.ReadSectorsInto(firstLBA, uint16(nSectors), tmp); err != kerr.OK {
		return 0, err
	}
	skip := int(start % sectorSize)
	copy(tmp[skip:skip+n], buf[:n])
	if err := s.dev.WriteSectors(firstLBA, uint16(nSectors), tmp); err != kerr.OK {
		return 0, err
	}
	s.pos += uint64(n)
	return n, kerr.OK
}
