// Package ovfdoc builds the VDSM/RHV on-disk layout of §6.3: a
// per-volume .meta sidecar file and an OVF 0.9 VM descriptor, both
// bit-sensitive formats with no corpus-library schema support, so both
// are hand-built the way govmomi's ovf package and teacher's
// network/omaha build their own XML/text wire formats: typed Go structs
// plus a narrow encoder.
package ovfdoc

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// DiskFormat is the VDSM volume's on-disk format tag.
type DiskFormat string

const (
	FormatRaw DiskFormat = "RAW"
	FormatCOW DiskFormat = "COW"
)

// AllocationType is the VDSM volume's sparse/preallocated tag.
type AllocationType string

const (
	AllocationSparse       AllocationType = "SPARSE"
	AllocationPreallocated AllocationType = "PREALLOCATED"
)

// VolumeMeta is the content of one <VOL_UUID>.meta sidecar (§4.9).
type VolumeMeta struct {
	Domain      string // SD_UUID
	VolType     string // "LEAF" for a standalone converted disk, no snapshot chain
	CTime       int64
	MTime       int64
	Image       string // IMAGE_UUID
	SizeSectors uint64 // 512-byte sectors
	Format      DiskFormat
	Type        AllocationType
	Description string
}

const zeroUUID = "00000000-0000-0000-0000-000000000000"

// Encode renders the .meta key=value line format verbatim, including the
// trailing EOF marker line.
func (m VolumeMeta) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "DOMAIN=%s\n", m.Domain)
	fmt.Fprintf(&buf, "VOLTYPE=%s\n", m.VolType)
	fmt.Fprintf(&buf, "CTIME=%d\n", m.CTime)
	fmt.Fprintf(&buf, "MTIME=%d\n", m.MTime)
	fmt.Fprintf(&buf, "IMAGE=%s\n", m.Image)
	fmt.Fprintf(&buf, "DISKTYPE=1\n")
	fmt.Fprintf(&buf, "PUUID=%s\n", zeroUUID)
	fmt.Fprintf(&buf, "LEGALITY=LEGAL\n")
	fmt.Fprintf(&buf, "POOL_UUID=\n")
	fmt.Fprintf(&buf, "SIZE=%d\n", m.SizeSectors)
	fmt.Fprintf(&buf, "FORMAT=%s\n", m.Format)
	fmt.Fprintf(&buf, "TYPE=%s\n", m.Type)
	fmt.Fprintf(&buf, "DESCRIPTION=%s\n", m.Description)
	fmt.Fprintf(&buf, "EOF\n")
	return buf.Bytes()
}

// NewUUID generates a 36-character canonical-form UUID, per §6.3's "all
// UUIDs are 36-character canonical form" requirement.
func NewUUID() string {
	return uuid.New().String()
}

// SizeSectors converts a byte size to whole 512-byte sectors, rounding up.
func SizeSectors(bytesSize uint64) uint64 {
	const sectorSize = 512
	return (bytesSize + sectorSize - 1) / sectorSize
}
