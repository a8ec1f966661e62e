package input

import (
	"fmt"

	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/source"
)

// ResolveDisks turns the raw <disk> attributes §6.2 parsing leaves
// unresolved into canonical source.Disk URIs. resolvePath, when non-nil,
// rewrites a file-type disk's on-disk path (the libvirt-XML plugin uses
// it to anchor relative paths to the XML file's directory; the generic
// libvirt plugin passes nil since libvirt always reports absolute paths).
func ResolveDisks(raw []libvirtxml.ParsedDisk, resolvePath func(string) string) []source.Disk {
	disks := make([]source.Disk, 0, len(raw))
	for i, d := range raw {
		disk := source.Disk{ID: i, Format: d.Format, Controller: controllerFromBus(d.Bus)}
		switch d.Type {
		case "file":
			path := d.File
			if resolvePath != nil {
				path = resolvePath(path)
			}
			disk.URI = path
		case "block":
			disk.URI = d.Dev
		case "network":
			host := d.Host
			disk.URI = fmt.Sprintf("%s://%s/%s", d.Protocol, host, d.Volume)
		case "volume":
			disk.URI = fmt.Sprintf("vol:%s/%s", d.Pool, d.Volume)
		}
		disks = append(disks, disk)
	}
	return disks
}

func controllerFromBus(bus string) source.ControllerHint {
	switch bus {
	case "virtio":
		return source.ControllerVirtioBlk
	case "scsi":
		return source.ControllerSCSI
	case "sata":
		return source.ControllerSATA
	case "ide":
		return source.ControllerIDE
	default:
		return ""
	}
}
