// Package fat16 implements the FAT16 filesystem driver (§4.9): boot-sector
// decode/validate, layout resolution, directory walking, cluster-chain
// traversal, and open/read/write/stat/seek/create.
package fat16

import (
	"encoding/binary"

	"github.com/icarius-os/icarius/internal/kerr"
)

// BootSector is the decoded BPB + EBPB read from the partition's first
// sector (§3 "FAT16 in-memory headers").
type BootSector struct {
	JumpSig        [3]byte
	OEMName        [8]byte
	BytesPerSec    uint16
	SecPerClus     uint8
	RsvdSecCnt     uint16
	NumFATs        uint8
	RootEntCnt     uint16
	TotSec16       uint16
	Media          uint8
	FATSz16        uint16
	SecPerTrk      uint16
	NumHeads       uint16
	HiddSec        uint32
	TotSec32       uint32
	DrvNum         uint8
	Reserved1      uint8
	BootSig        uint8
	VolID          uint32
	VolLabel       [11]byte
	FSType         [8]byte
}

const bootSectorSize = 512

// DecodeBootSector parses a 512-byte boot sector into a BootSector without
// validating its contents (kept separate from Validate per the original
// implementation's split of "parse" from "check", so decode/encode can be
// round-trip tested independent of validation policy).
func DecodeBootSector(sector []byte) *BootSector {
	bs := &BootSector{}
	copy(bs.JumpSig[:], sector[0:3])
	copy(bs.OEMName[:], sector[3:11])
	bs.BytesPerSec = binary.LittleEndian.Uint16(sector[11:13])
	bs.SecPerClus = sector[13]
	bs.RsvdSecCnt = binary.LittleEndian.Uint16(sector[14:16])
	bs.NumFATs = sector[16]
	bs.RootEntCnt = binary.LittleEndian.Uint16(sector[17:19])
	bs.TotSec16 = binary.LittleEndian.Uint16(sector[19:21])
	bs.Media = sector[21]
	bs.FATSz16 = binary.LittleEndian.Uint16(sector[22:24])
	bs.SecPerTrk = binary.LittleEndian.Uint16(sector[24:26])
	bs.NumHeads = binary.LittleEndian.Uint16(sector[26:28])
	bs.HiddSec = binary.LittleEndian.Uint32(sector[28:32])
	bs.TotSec32 = binary.LittleEndian.Uint32(sector[32:36])
	bs.DrvNum = sector[36]
	bs.Reserved1 = sector[37]
	bs.BootSig = sector[38]
	bs.VolID = binary.LittleEndian.Uint32(sector[39:43])
	copy(bs.VolLabel[:], sector[43:54])
	copy(bs.FSType[:], sector[54:62])
	return bs
}

// EncodeBootSector serializes bs back into a 512-byte sector, the inverse
// of DecodeBootSector.
func EncodeBootSector(bs *BootSector) []byte {
	sector := make([]byte, bootSectorSize)
	copy(sector[0:3], bs.JumpSig[:])
	copy(sector[3:11], bs.OEMName[:])
	binary.LittleEndian.PutUint16(sector[11:13], bs.BytesPerSec)
	sector[13] = bs.SecPerClus
	binary.LittleEndian.PutUint16(sector[14:16], bs.RsvdSecCnt)
	sector[16] = bs.NumFATs
	binary.LittleEndian.PutUint16(sector[17:19], bs.RootEntCnt)
	binary.LittleEndian.PutUint16(sector[19:21], bs.TotSec16)
	sector[21] = bs.Media
	binary.LittleEndian.PutUint16(sector[22:24], bs.FATSz16)
	binary.LittleEndian.PutUint16(sector[24:26], bs.SecPerTrk)
	binary.LittleEndian.PutUint16(sector[26:28], bs.NumHeads)
	binary.LittleEndian.PutUint32(sector[28:32], bs.HiddSec)
	binary.LittleEndian.PutUint32(sector[32:36], bs.TotSec32)
	sector[36] = bs.DrvNum
	sector[37] = bs.Reserved1
	sector[38] = bs.BootSig
	binary.LittleEndian.PutUint32(sector[39:43], bs.VolID)
	copy(sector[43:54], bs.VolLabel[:])
	copy(sector[54:62], bs.FSType[:])
	sector[510] = 0x55
	sector[511] = 0xAA
	return sector
}

// Validate checks the boot-sector invariants §4.9 lists (jump signature,
// sector size, FAT count, EBPB boot signature/drive, consistent total
// sector count).
func Validate(bs *BootSector) kerr.Errno {
	if bs.JumpSig[0] != 0xEB || bs.JumpSig[2] != 0x90 {
		return kerr.EINVAL
	}
	if bs.BytesPerSec != 512 {
		return kerr.EINVAL
	}
	if bs.SecPerClus < 1 {
		return kerr.EINVAL
	}
	if bs.NumFATs != 2 {
		return kerr.EINVAL
	}
	if bs.Media == 0 {
		return kerr.EINVAL
	}
	if bs.BootSig != 0x29 {
		return kerr.EINVAL
	}
	if bs.DrvNum != 0x80 {
		return kerr.EINVAL
	}
	if bs.TotSec16 == 0 && bs.TotSec32 == 0 {
		return kerr.EINVAL
	}
	return kerr.OK
}
