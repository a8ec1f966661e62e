package sizing

import (
	"strconv"
	"strings"

	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/overlay"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// CollectStats runs statvfs against every mounted path in the sandbox and
// pairs the result with the filesystem type the inspector recorded for it.
func CollectStats(sb *overlay.Sandbox, mountpoints []inspect.Mountpoint, fsTypes map[string]string) ([]Stat, error) {
	stats := make([]Stat, 0, len(mountpoints))
	for _, mp := range mountpoints {
		out, err := sb.Run("statvfs", mp.Path)
		if err != nil {
			return nil, verrors.New(verrors.InspectionError, "statvfs "+mp.Path, err)
		}
		fields := parseStatvfs(out)
		stats = append(stats, Stat{
			Mountpoint: mp.Path,
			FSType:     fsTypes[mp.Path],
			BlockSize:  fields["bsize"],
			Blocks:     fields["blocks"],
			BFree:      fields["bfree"],
			BAvail:     fields["bavail"],
		})
	}
	return stats, nil
}

// parseStatvfs reads guestfish's "field: value" struct-dump format, the
// same shape internal/hive's hivex value decoding and
// internal/inspect.mountpoints both parse.
func parseStatvfs(out []byte) map[string]uint64 {
	fields := make(map[string]uint64)
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		val, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			continue
		}
		fields[strings.TrimSpace(parts[0])] = val
	}
	return fields
}
