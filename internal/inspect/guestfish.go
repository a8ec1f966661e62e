package inspect

import (
	"io"
	"strconv"
	"strings"

	"github.com/virtconv/virt2kvm/internal/overlay"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// Drive is the concrete half of this package's "delegated to the
// guest-filesystem library" doc comment: it runs inspect-os and the
// inspect-get-* family against a live sandbox, the same guestfish remote
// protocol internal/overlay.Sandbox already wraps and
// internal/hive/guestfish.go drives for hive access.
//
// It returns the converter-facing Result plus a mountpoint->fstype map,
// which internal/sizing needs and internal/copyengine's Trim uses to skip
// non-trimmable filesystems.
func Drive(sb *overlay.Sandbox, policy RootPolicy, in io.Reader, out io.Writer) (*Result, map[string]string, error) {
	candidates, err := discoverRoots(sb)
	if err != nil {
		return nil, nil, err
	}
	root, err := SelectRoot(policy, candidates, in, out)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{Root: root}
	res.Arch = firstLine(sb, "inspect-get-arch", root.Device)
	res.MajorVer = atoiLine(sb, "inspect-get-major-version", root.Device)
	res.MinorVer = atoiLine(sb, "inspect-get-minor-version", root.Device)
	res.ProductName = firstLine(sb, "inspect-get-product-name", root.Device)
	res.Variant = firstLine(sb, "inspect-get-product-variant", root.Device)
	res.PkgFormat = firstLine(sb, "inspect-get-package-format", root.Device)
	res.PkgManager = firstLine(sb, "inspect-get-package-management", root.Device)
	if appsOut, err := sb.Run("inspect-list-applications2", root.Device); err == nil {
		res.Apps = parseLines(appsOut)
	}

	mps, err := mountpoints(sb, root.Device)
	if err != nil {
		return nil, nil, err
	}
	SortMountpoints(mps)

	fsTypes := make(map[string]string, len(mps))
	for _, mp := range mps {
		if typ, err := sb.Run("vfs-type", mp.Device); err == nil {
			fsTypes[mp.Path] = strings.TrimSpace(string(typ))
		}
		if _, err := sb.Run("mount", mp.Device, mp.Path); err != nil {
			if hint, ok := NTFSUnsafeStateHint(err); ok {
				plog.Warningf("%s", hint)
			}
			return nil, nil, verrors.New(verrors.InspectionError, "mounting "+mp.Path, err)
		}
	}
	res.Mountpoints = mps

	if strings.EqualFold(root.OSType, "windows") {
		esps := espDevices(sb)
		res.Windows = &Windows{
			SystemHive:     firstLine(sb, "inspect-get-windows-system-hive", root.Device),
			SoftwareHive:   firstLine(sb, "inspect-get-windows-software-hive", root.Device),
			CurrentCtrlSet: firstLine(sb, "inspect-get-windows-current-control-set", root.Device),
			ESPDevices:     esps,
		}
		if len(esps) > 0 {
			res.Firmware = source.FirmwareUEFI
		} else {
			res.Firmware = source.FirmwareBIOS
		}
	} else {
		res.Firmware = source.FirmwareBIOS
	}

	return res, fsTypes, nil
}

func discoverRoots(sb *overlay.Sandbox) ([]Root, error) {
	out, err := sb.Run("inspect-os")
	if err != nil {
		return nil, verrors.New(verrors.InspectionError, "inspect-os", err)
	}
	var roots []Root
	for _, dev := range parseLines(out) {
		roots = append(roots, Root{
			Device: dev,
			Format: firstLine(sb, "inspect-get-format", dev),
			OSType: firstLine(sb, "inspect-get-type", dev),
			Distro: firstLine(sb, "inspect-get-distro", dev),
		})
	}
	return roots, nil
}

// mountpoints parses inspect-get-mountpoints' "path: device" lines.
func mountpoints(sb *overlay.Sandbox, root string) ([]Mountpoint, error) {
	out, err := sb.Run("inspect-get-mountpoints", root)
	if err != nil {
		return nil, verrors.New(verrors.InspectionError, "inspect-get-mountpoints", err)
	}
	var mps []Mountpoint
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		path := strings.TrimSpace(parts[0])
		mps = append(mps, Mountpoint{Path: path, Device: strings.TrimSpace(parts[1])})
	}
	return mps, nil
}

// espDevices scans every filesystem for a FAT-formatted, bootable
// partition: the ESP signature §4.7's UEFI BCD fix needs.
func espDevices(sb *overlay.Sandbox) []string {
	out, err := sb.Run("list-filesystems")
	if err != nil {
		return nil
	}
	var esps []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dev := strings.SplitN(line, ":", 2)[0]
		if typ, err := sb.Run("vfs-type", dev); err != nil || strings.TrimSpace(string(typ)) != "vfat" {
			continue
		}
		if bootable, err := sb.Run("part-get-bootable", dev); err == nil && strings.TrimSpace(string(bootable)) == "true" {
			esps = append(esps, dev)
		}
	}
	return esps
}

func parseLines(out []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func firstLine(sb *overlay.Sandbox, cmd, arg string) string {
	out, err := sb.Run(cmd, arg)
	if err != nil {
		return ""
	}
	lines := parseLines(out)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

func atoiLine(sb *overlay.Sandbox, cmd, arg string) int {
	n, _ := strconv.Atoi(firstLine(sb, cmd, arg))
	return n
}
