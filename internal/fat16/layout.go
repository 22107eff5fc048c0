package fat16

// Layout is the set of byte/sector offsets derived from a BootSector at
// resolve() time (§4.9).
type Layout struct {
	PartitionOffset uint32
	BytesPerSec     uint32
	SecPerClus      uint32
	NumFATs         uint32
	FATSz16         uint32
	RootEntCnt      uint32

	FATOffset       uint32 // byte offset of the first FAT copy
	RootDirOffset   uint32 // byte offset of the root directory area
	RootDirBytes    uint32
	DataStartSector uint32 // sector index (relative to partition start) of cluster 2
	TotalSectors    uint32
}

func ceilDiv(a, b uint32) uint32 { return (a + b - 1) / b }

// Resolve computes a Layout from a validated BootSector and the partition's
// absolute byte offset on disk (§4.9, §6).
func Resolve(bs *BootSector, partitionOffset uint32) Layout {
	bytesPerSec := uint32(bs.BytesPerSec)
	rsvd := uint32(bs.RsvdSecCnt)
	numFATs := uint32(bs.NumFATs)
	fatSz16 := uint32(bs.FATSz16)
	rootEntCnt := uint32(bs.RootEntCnt)
	secPerClus := uint32(bs.SecPerClus)

	rootDirSectors := ceilDiv(rootEntCnt*32, bytesPerSec)
	dataStart := rsvd + numFATs*fatSz16 + rootDirSectors

	totalSectors := uint32(bs.TotSec16)
	if totalSectors == 0 {
		totalSectors = bs.TotSec32
	}

	return Layout{
		PartitionOffset: partitionOffset,
		BytesPerSec:     bytesPerSec,
		SecPerClus:      secPerClus,
		NumFATs:         numFATs,
		FATSz16:         fatSz16,
		RootEntCnt:      rootEntCnt,
		FATOffset:       partitionOffset + rsvd*bytesPerSec,
		RootDirOffset:   partitionOffset + bytesPerSec*(rsvd+numFATs*fatSz16),
		RootDirBytes:    rootEntCnt * 32,
		DataStartSector: dataStart,
		TotalSectors:    totalSectors,
	}
}

// ClusterByteOffset returns the absolute byte offset of cluster (cluster
// numbering starts at 2, §4.9).
func (l Layout) ClusterByteOffset(cluster uint32) uint32 {
	sector := l.DataStartSector + (cluster-2)*l.SecPerClus
	return l.PartitionOffset + sector*l.BytesPerSec
}

// ClusterSizeBytes is sec_per_clus * bytes_per_sec.
func (l Layout) ClusterSizeBytes() uint32 { return l.SecPerClus * l.BytesPerSec }

// FATEntryOffset returns the absolute byte offset of the 16-bit FAT entry
// for cluster, within FAT copy index (0-based).
func (l Layout) FATEntryOffset(copyIdx uint32, cluster uint32) uint32 {
	return l.FATOffset + copyIdx*l.FATSz16*l.BytesPerSec + cluster*2
}
