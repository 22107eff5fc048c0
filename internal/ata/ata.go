// Package ata implements the PIO ATA driver (§4.5): IDENTIFY at
// initialization to learn LBA28 vs LBA48 addressing, then polled
// read/write of whole sectors through a single per-device 512-byte buffer.
// IRQ14 is installed by the interrupt layer but this driver never waits on
// it; every operation polls the status register directly, matching the
// spec's "polling is used for correctness" note.
package ata

import (
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/machine"
)

const (
	regData      = 0
	regError     = 1
	regFeatures  = 1
	regSecCount  = 2
	regLBALow    = 3
	regLBAMid    = 4
	regLBAHigh   = 5
	regDriveHead = 6
	regStatus    = 7
	regCommand   = 7

	statusERR  = 0x01
	statusDRQ  = 0x08
	statusDF   = 0x20
	statusBSY  = 0x80

	cmdReadSectors     = 0x20
	cmdReadSectorsExt  = 0x24
	cmdWriteSectors    = 0x30
	cmdWriteSectorsExt = 0x34
	cmdIdentify        = 0xEC
	cmdCacheFlush      = 0xE7
	cmdCacheFlushExt   = 0xEA

	sectorSize = 512
)

// Driver is the ATA PIO driver for one device on the primary channel. It
// owns a single 512-byte buffer shared by every read/write (§4.5).
type Driver struct {
	m      machine.Machine
	base   uint16
	ctrl   uint16
	lba48  bool
	buffer [sectorSize]byte
}

// New constructs a driver for the device at base/ctrl ports (conventionally
// 0x1F0 / 0x3F6 for the primary channel) and runs IDENTIFY.
func New(m machine.Machine, base, ctrl uint16) (*Driver, kerr.Errno) {
	d := &Driver{m: m, base: base, ctrl: ctrl}
	if err := d.identify(); err != kerr.OK {
		return nil, err
	}
	return d, kerr.OK
}

func (d *Driver) pollWhileBusy() {
	for d.m.In8(d.base+regStatus)&statusBSY != 0 {
	}
}

// pollReady waits for DRQ or a fault, reporting EIO on ERR/DF per §4.5.
func (d *Driver) pollReady() kerr.Errno {
	for {
		s := d.m.In8(d.base + regStatus)
		if s&(statusERR|statusDF) != 0 {
			return kerr.EIO
		}
		if s&statusDRQ != 0 {
			return kerr.OK
		}
	}
}

// identify sends IDENTIFY, polls for data, and inspects word 83 bit 10 to
// select LBA28 vs LBA48 (§4.5).
func (d *Driver) identify() kerr.Errno {
	d.m.Out8(d.base+regDriveHead, 0xA0) // master
	d.m.Out8(d.base+regSecCount, 0)
	d.m.Out8(d.base+regLBALow, 0)
	d.m.Out8(d.base+regLBAMid, 0)
	d.m.Out8(d.base+regLBAHigh, 0)
	d.m.Out8(d.base+regCommand, cmdIdentify)

	d.pollWhileBusy()
	if err := d.pollReady(); err != kerr.OK {
		return err
	}

	var words [256]uint16
	for i := range words {
		words[i] = d.m.In16(d.base + regData)
	}
	d.lba48 = words[83]&(1<<10) != 0
	return kerr.OK
}

// Buffer exposes the driver's single per-device sector buffer.
func (d *Driver) Buffer() []byte { return d.buffer[:] }

// SupportsLBA48 reports the feature bit learned during IDENTIFY.
func (d *Driver) SupportsLBA48() bool { return d.lba48 }

func (d *Driver) programLBA(lba uint32, nSectors uint16) {
	if d.lba48 {
		d.m.Out8(d.base+regSecCount, byte(nSectors>>8))
		d.m.Out8(d.base+regLBALow, byte(lba>>24))
		d.m.Out8(d.base+regLBAMid, 0)
		d.m.Out8(d.base+regLBAHigh, 0)
		d.m.Out8(d.base+regSecCount, byte(nSectors))
		d.m.Out8(d.base+regLBALow, byte(lba))
		d.m.Out8(d.base+regLBAMid, byte(lba>>8))
		d.m.Out8(d.base+regLBAHigh, byte(lba>>16))
		return
	}
	d.m.Out8(d.base+regDriveHead, 0xE0|byte(lba>>24)&0x0F)
	d.m.Out8(d.base+regSecCount, byte(nSectors))
	d.m.Out8(d.base+regLBALow, byte(lba))
	d.m.Out8(d.base+regLBAMid, byte(lba>>8))
	d.m.Out8(d.base+regLBAHigh, byte(lba>>16))
}

// ReadSector reads one 512-byte sector at lba into the driver's buffer
// (§4.5). Use ReadSectors for multi-sector transfers.
func (d *Driver) ReadSector(lba uint32) kerr.Errno {
	return d.ReadSectors(lba, 1)
}

// ReadSectors reads n consecutive sectors starting at lba; only the last
// sector's bytes remain in Buffer() (the driver owns one buffer, §4.5), so
// callers that need every sector copy out of Buffer() between calls.
func (d *Driver) ReadSectors(lba uint32, n uint16) kerr.Errno {
	if n == 0 {
		return kerr.OK
	}
	d.programLBA(lba, n)
	cmd := byte(cmdReadSectors)
	if d.lba48 {
		cmd = cmdReadSectorsExt
	}
	d.m.Out8(d.base+regCommand, cmd)

	for s := uint16(0); s < n; s++ {
		d.pollWhileBusy()
		if err := d.pollReady(); err != kerr.OK {
			return err
		}
		for i := 0; i < sectorSize/2; i++ {
			w := d.m.In16(d.base + regData)
			d.buffer[i*2] = byte(w)
			d.buffer[i*2+1] = byte(w >> 8)
		}
	}
	return kerr.OK
}

// ReadSectorsInto reads n sectors starting at lba directly into dst
// (len(dst) must be n*512), used by higher layers that need the whole
// transfer rather than just the last sector.
func (d *Driver) ReadSectorsInto(lba uint32, n uint16, dst []byte) kerr.Errno {
	if len(dst) != int(n)*sectorSize {
		return kerr.EINVAL
	}
	d.programLBA(lba, n)
	cmd := byte(cmdReadSectors)
	if d.lba48 {
		cmd = cmdReadSectorsExt
	}
	d.m.Out8(d.base+regCommand, cmd)

	for s := uint16(0); s < n; s++ {
		d.pollWhileBusy()
		if err := d.pollReady(); err != kerr.OK {
			return err
		}
		off := int(s) * sectorSize
		for i := 0; i < sectorSize/2; i++ {
			w := d.m.In16(d.base + regData)
			dst[off+i*2] = byte(w)
			dst[off+i*2+1] = byte(w >> 8)
		}
	}
	return kerr.OK
}

// WriteSectors writes n consecutive sectors from src (len(src) must be
// n*512), then CACHE_FLUSH and waits for BSY clear (§4.5).
func (d *Driver) WriteSectors(lba uint32, n uint16, src []byte) kerr.Errno {
	if len(src) != int(n)*sectorSize {
		return kerr.EINVAL
	}
	d.programLBA(lba, n)
	cmd := byte(cmdWriteSectors)
	if d.lba48 {
		cmd = cmdWriteSectorsExt
	}
	d.m.Out8(d.base+regCommand, cmd)

	for s := uint16(0); s < n; s++ {
		d.pollWhileBusy()
		if err := d.pollReady(); err != kerr.OK {
			return err
		}
		off := int(s) * sectorSize
		for i := 0; i < sectorSize/2; i++ {
			w := uint16(src[off+i*2]) | uint16(src[off+i*2+1])<<8
			d.m.Out16(d.base+regData, w)
		}
	}

	flushCmd := byte(cmdCacheFlush)
	if d.lba48 {
		flushCmd = cmdCacheFlushExt
	}
	d.m.Out8(d.base+regCommand, flushCmd)
	d.pollWhileBusy()
	return kerr.OK
}
