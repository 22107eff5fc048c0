// Package fat16test builds small in-memory FAT16 disk images for tests,
// mirroring the teacher's ufs.BootMemFS fixture-construction idiom: a
// hand-assembled image lets a test assert exact on-disk layout instead of
// formatting a real disk through the driver under test.
package fat16test

import (
	"encoding/binary"

	"github.com/icarius-os/icarius/internal/fat16"
	"github.com/icarius-os/icarius/internal/kerr"
)

// Disk is an in-memory FAT16 image plus its resolved geometry, ready to be
// wrapped in a stream.BlockDevice fake.
type Disk struct {
	Image      []byte
	SecPerClus uint32
	BytesPerSec uint32
	layout     fat16.Layout
}

// Options configures Build. Zero value yields a small but usable FAT16
// volume: 1 sector/cluster, 512 root entries, 2 FATs.
type Options struct {
	TotalSectors uint32 // defaults to 2048 (1 MiB)
	SecPerClus   uint8  // defaults to 1
	RootEntCnt   uint16 // defaults to 512
	FATSz16      uint16 // defaults to 32
}

func (o Options) withDefaults() Options {
	if o.TotalSectors == 0 {
		o.TotalSectors = 2048
	}
	if o.SecPerClus == 0 {
		o.SecPerClus = 1
	}
	if o.RootEntCnt == 0 {
		o.RootEntCnt = 512
	}
	if o.FATSz16 == 0 {
		o.FATSz16 = 32
	}
	return o
}

// Build assembles a fresh, empty FAT16 image: boot sector, two zeroed FATs
// (cluster 0/1 reserved entries written), an empty root directory, and a
// zeroed data region.
func Build(opt Options) *Disk {
	opt = opt.withDefaults()
	bytesPerSec := uint32(512)

	bs := &fat16.BootSector{
		JumpSig:     [3]byte{0xEB, 0x3C, 0x90},
		OEMName:     [8]byte{'I', 'C', 'A', 'R', 'I', 'U', 'S', ' '},
		BytesPerSec: uint16(bytesPerSec),
		SecPerClus:  opt.SecPerClus,
		RsvdSecCnt:  1,
		NumFATs:     2,
		RootEntCnt:  opt.RootEntCnt,
		TotSec16:    uint16(opt.TotalSectors),
		Media:       0xF8,
		FATSz16:     opt.FATSz16,
		SecPerTrk:   63,
		NumHeads:    16,
		DrvNum:      0x80,
		BootSig:     0x29,
		VolID:       0x12345678,
		VolLabel:    [11]byte{'I', 'C', 'A', 'R', 'I', 'U', 'S', ' ', ' ', ' ', ' '},
		FSType:      [8]byte{'F', 'A', 'T', '1', '6', ' ', ' ', ' '},
	}

	image := make([]byte, uint32(opt.TotalSectors)*bytesPerSec)
	copy(image[0:512], fat16.EncodeBootSector(bs))

	layout := fat16.Resolve(bs, 0)

	// Reserve FAT entries 0 and 1 (media descriptor + EOC marker), per the
	// FAT16 convention the driver's cluster numbering (starting at 2) relies
	// on; mirrored identically into both FAT copies.
	reserved := make([]byte, 4)
	binary.LittleEndian.PutUint16(reserved[0:2], 0xFFF8)
	binary.LittleEndian.PutUint16(reserved[2:4], 0xFFFF)
	for copyIdx := uint32(0); copyIdx < 2; copyIdx++ {
		off := layout.FATOffset + copyIdx*layout.FATSz16*layout.BytesPerSec
		copy(image[off:off+4], reserved)
	}

	return &Disk{Image: image, SecPerClus: uint32(opt.SecPerClus), BytesPerSec: bytesPerSec, layout: layout}
}

// Layout exposes the resolved layout so tests can compute expected offsets.
func (d *Disk) Layout() fat16.Layout { return d.layout }

// BlockDevice wraps Image as a stream.BlockDevice (512-byte sectors, LBA
// indexes directly into Image).
type BlockDevice struct {
	Image []byte
}

// NewBlockDevice wraps d.Image for use with stream.New / fat16.New.
func (d *Disk) NewBlockDevice() *BlockDevice { return &BlockDevice{Image: d.Image} }

const sectorSize = 512

func (b *BlockDevice) ReadSectorsInto(lba uint32, n uint16, dst []byte) kerr.Errno {
	off := uint32(lba) * sectorSize
	copy(dst, b.Image[off:off+uint32(n)*sectorSize])
	return kerr.OK
}

func (b *BlockDevice) WriteSectors(lba uint32, n uint16, src []byte) kerr.Errno {
	off := uint32(lba) * sectorSize
	copy(b.Image[off:off+uint32(n)*sectorSize], src[:uint32(n)*sectorSize])
	return kerr.OK
}
