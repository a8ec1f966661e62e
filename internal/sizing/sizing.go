// Package sizing implements §4.5's pre-copy free-space check and per-target
// size estimation.
package sizing

import (
	"fmt"

	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// Stat is a statvfs-shaped summary of one mountpoint.
type Stat struct {
	Mountpoint string
	FSType     string
	BlockSize  uint64
	Blocks     uint64
	BFree      uint64
	BAvail     uint64
}

func (s Stat) totalBytes() uint64 { return s.Blocks * s.BlockSize }
func (s Stat) freeBytes() uint64  { return s.BFree * s.BlockSize }
func (s Stat) availBytes() uint64 { return s.BAvail * s.BlockSize }

const (
	minFreeRoot  = 20 * 1024 * 1024
	minFreeBoot  = 50 * 1024 * 1024
	minFreeOther = 10 * 1024 * 1024
	ignoreBelow  = 100 * 1024 * 1024
)

// CheckFreeSpace enforces §4.5's minimums, ignoring filesystems smaller
// than 100MB total.
func CheckFreeSpace(stats []Stat) error {
	for _, st := range stats {
		if st.totalBytes() < ignoreBelow {
			continue
		}
		var min uint64
		switch st.Mountpoint {
		case "/":
			min = minFreeRoot
		case "/boot":
			min = minFreeBoot
		default:
			min = minFreeOther
		}
		if st.availBytes() < min {
			return verrors.New(verrors.InspectionError, "free space check",
				fmt.Errorf("mountpoint %s has only %d bytes free, need at least %d", st.Mountpoint, st.availBytes(), min))
		}
	}
	return nil
}

// freeableFSTypes is the set of filesystems whose free blocks count toward
// the "freeable" pool (ext* and xfs can be fstrimmed; NTFS and everything
// else contribute 0, per §4.5).
var freeableFSTypes = map[string]bool{
	"ext2": true, "ext3": true, "ext4": true, "xfs": true,
}

// Estimate computes §4.5's est(t) for each overlay against the mountpoint
// stats of the sandbox the overlays were mounted into.
func Estimate(overlays []*source.Overlay, stats []Stat) map[int]uint64 {
	var totalVirtual, totalFS, freeable uint64
	for _, ov := range overlays {
		totalVirtual += ov.VirtSizeB
	}
	for _, st := range stats {
		totalFS += st.totalBytes()
		if freeableFSTypes[st.FSType] {
			freeable += st.freeBytes()
		}
	}
	out := make(map[int]uint64, len(overlays))
	if totalVirtual == 0 {
		return out // estimates stay unset
	}
	ratio := float64(totalFS) / float64(totalVirtual)
	for _, ov := range overlays {
		share := float64(ov.VirtSizeB) / float64(totalVirtual) * float64(freeable) * ratio
		est := float64(ov.VirtSizeB) - share
		if est < 0 {
			est = 0
		}
		out[ov.SourceDisk] = uint64(est)
	}
	return out
}

// ApplyEstimates fills Target.EstimatedSize from Estimate's result, keyed
// by the overlay's source disk id.
func ApplyEstimates(targets []*source.Target, estimates map[int]uint64) {
	for _, t := range targets {
		if t.Overlay == nil {
			continue
		}
		if v, ok := estimates[t.Overlay.SourceDisk]; ok {
			t.EstimatedSize = v
			t.HasEstimate = true
		}
	}
}
