// Package output implements the §4.9 output plugin model: the set of
// backends that turn converted overlays into a deployed guest, plus the
// shared copyengine.TargetProvisioner contract each backend's disk_create
// satisfies.
package output

import (
	"github.com/coreos/pkg/capnslog"
	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/source"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "output")

// Plugin is the §4.9 output plugin contract.
type Plugin interface {
	AsOptions() string
	SupportedFirmware() []source.Firmware
	InstallRhevApt() bool
	KeepSerialConsole() bool
	Precheck() error

	// PrepareTargets allocates one Target per overlay and returns them in
	// overlay order; it may attach block devices (the image-service and
	// block-storage backends do).
	PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error)

	// CheckTargetFirmware fails early if the host can't serve the
	// requested firmware (e.g. no OVMF/UEFI blobs installed).
	CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error

	// CreateMetadata emits the backend's description of the converted
	// guest (libvirt XML, OVF, image-service properties, a shell script).
	CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error
}

// DiskCreator narrows copyengine.TargetProvisioner to the single method
// every backend's Target actually needs wired.
type DiskCreator = copyengine.TargetProvisioner

// formatOrDefault returns "qcow2" unless requested is a recognized format.
func formatOrDefault(requested string) string {
	switch requested {
	case "raw", "qcow2":
		return requested
	default:
		return "qcow2"
	}
}

func gibCeil(bytesSize uint64) uint64 {
	const gib = 1024 * 1024 * 1024
	return (bytesSize + gib - 1) / gib
}
