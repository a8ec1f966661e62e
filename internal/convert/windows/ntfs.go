package windows

import "encoding/binary"

// NTFS BPB heads-byte thresholds (§4.7): the value written at partition
// offset 0x1A depends on the size of the disk the partition lives on.
const (
	ntfsHeadsOffset = 0x1A
	ntfsSigOffset   = 3
	ntfsSig         = "NTFS    "

	ntfsSmallThreshold  = 2114445312
	ntfsMediumThreshold = 4228374780
)

// HeadsValue returns the little-endian 16-bit value §4.7 requires at the
// partition's BPB heads field, given the size in bytes of the disk
// containing the partition.
func HeadsValue(diskSize int64) uint16 {
	switch {
	case diskSize < ntfsSmallThreshold:
		return 0x40
	case diskSize < ntfsMediumThreshold:
		return 0x80
	default:
		return 0xFF
	}
}

// IsNTFSBootSector reports whether the first sector of a partition (at
// least 11 bytes) carries the NTFS OEM ID at offset 3.
func IsNTFSBootSector(sector []byte) bool {
	if len(sector) < ntfsSigOffset+len(ntfsSig) {
		return false
	}
	return string(sector[ntfsSigOffset:ntfsSigOffset+len(ntfsSig)]) == ntfsSig
}

// FixHeads rewrites the heads field of an NTFS boot sector in place for
// the given containing-disk size. It is a no-op (false) if sector doesn't
// carry the NTFS signature.
func FixHeads(sector []byte, diskSize int64) bool {
	if !IsNTFSBootSector(sector) {
		return false
	}
	if len(sector) < ntfsHeadsOffset+2 {
		return false
	}
	binary.LittleEndian.PutUint16(sector[ntfsHeadsOffset:], HeadsValue(diskSize))
	return true
}
