// Package linux implements the §4.6 Linux guest conversion contract: a
// lighter-weight, behavioural-only counterpart to internal/convert/windows
// (package/initramfs driver install, boot-loader rewrite, hypervisor
// cleanup, capability reporting).
package linux

import (
	"strings"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "convert/linux")

// InitramfsTool names the regeneration command found on the guest.
type InitramfsTool string

const (
	InitramfsDracut   InitramfsTool = "dracut"
	InitramfsMkinitrd InitramfsTool = "mkinitrd"
	InitramfsNone     InitramfsTool = ""
)

// DriverSupport reports, per the guest's installed kernel, whether the
// virtio modules are already present (built-in or an installed package)
// or need a regeneration pass to be picked up by the initramfs.
type DriverSupport struct {
	VirtioBlockAvailable bool
	VirtioSCSIAvailable  bool
	VirtioNetAvailable   bool
	BalloonAvailable     bool
	InitramfsTool        InitramfsTool
	Kernels              []string // kernel release strings needing regeneration, e.g. "5.14.0-70.el9"
}

// HypervisorCleanup lists the packages/services/modules to remove for the
// source hypervisor (§4.6 "Remove hypervisor-specific kernel modules and
// services").
type HypervisorCleanup struct {
	Packages []string
	Services []string
	Modules  []string
}

var cleanupByHypervisor = map[source.Hypervisor]HypervisorCleanup{
	source.HypervisorXen: {
		Packages: []string{"kmod-xen", "xen-guest-agent", "xe-guest-utilities"},
		Services: []string{"xenservice", "xend"},
		Modules:  []string{"xen_blkfront", "xen_netfront", "xen_scsifront"},
	},
	source.HypervisorVMware: {
		Packages: []string{"open-vm-tools", "vmware-tools", "vmware-tools-esx-nox"},
		Services: []string{"vmware-tools", "vmtoolsd"},
		Modules:  []string{"vmxnet", "vmxnet3", "vmw_pvscsi", "vmhgfs", "vmmemctl", "vmw_balloon"},
	},
}

// PlanCleanup returns the removal plan for hv, or an empty plan for
// hypervisors needing no cleanup (QEmu, KVM, Physical, Other).
func PlanCleanup(hv source.Hypervisor) HypervisorCleanup {
	return cleanupByHypervisor[hv]
}

// RemoveCleanupPackages shells out to the guest's package manager (one of
// rpm/dpkg via the overlay sandbox's chroot) to remove the packages named
// by plan.Packages. pkgManager is "rpm" or "dpkg"; missing packages are
// tolerated since not every guest carries every hypervisor's tools.
func RemoveCleanupPackages(r procutil.Runner, pkgManager string, plan HypervisorCleanup) error {
	if len(plan.Packages) == 0 {
		return nil
	}
	var args []string
	switch pkgManager {
	case "rpm":
		args = append([]string{"-e", "--nodeps"}, plan.Packages...)
	case "dpkg":
		args = append([]string{"--purge", "--force-depends"}, plan.Packages...)
	default:
		return verrors.New(verrors.ConversionError, "linux.RemoveCleanupPackages",
			errors.Errorf("unknown package manager %q", pkgManager))
	}
	if _, err := procutil.Run(r, pkgManager, args...); err != nil {
		plog.Warningf("package cleanup for %v reported errors (tolerated): %v", plan.Packages, err)
	}
	return nil
}

// RegenerateInitramfs invokes dracut or mkinitrd for each kernel release
// that needs the virtio modules pulled into its initramfs image.
func RegenerateInitramfs(r procutil.Runner, support DriverSupport) error {
	for _, kernel := range support.Kernels {
		var err error
		switch support.InitramfsTool {
		case InitramfsDracut:
			_, err = procutil.Run(r, "dracut", "-f", "--add-drivers", "virtio_blk virtio_scsi virtio_net virtio_balloon", "/boot/initramfs-"+kernel+".img", kernel)
		case InitramfsMkinitrd:
			_, err = procutil.Run(r, "mkinitrd", "-f", "/boot/initrd-"+kernel+".img", kernel)
		default:
			continue
		}
		if err != nil {
			return verrors.New(verrors.ConversionError, "linux.RegenerateInitramfs", err)
		}
	}
	return nil
}

// BootEntry is one boot-loader menu entry as parsed from grub.cfg/grub2.cfg
// or extlinux.conf.
type BootEntry struct {
	Kernel       string
	RootArg      string // the "root=..." kernel argument, rewritten in place
	DiskIdentAttr string // the disk identifier portion of RootArg ("/dev/sda1", "UUID=...", "LABEL=...")
}

// RewriteRootDevice rewrites a root= kernel argument to name the
// corresponding virtio device, preferring virtio device names while
// keeping BIOS disk identifiers (UUID=/LABEL=) stable across the rewrite,
// per §4.6's boot-loader contract.
func RewriteRootDevice(entry BootEntry, virtioDevice string) string {
	if strings.HasPrefix(entry.DiskIdentAttr, "UUID=") || strings.HasPrefix(entry.DiskIdentAttr, "LABEL=") {
		return entry.RootArg // identifier-based roots need no rewrite
	}
	return strings.Replace(entry.RootArg, entry.DiskIdentAttr, virtioDevice, 1)
}

// Convert runs the full §4.6 Linux conversion contract and returns the
// guest capabilities the output plugin should target.
func Convert(r procutil.Runner, hv source.Hypervisor, pkgManager string, support DriverSupport, keepSerialConsole bool) (source.Capabilities, error) {
	plan := PlanCleanup(hv)
	if err := RemoveCleanupPackages(r, pkgManager, plan); err != nil {
		return source.Capabilities{}, err
	}
	if err := RegenerateInitramfs(r, support); err != nil {
		return source.Capabilities{}, err
	}

	caps := source.Capabilities{
		BlockBus:      source.BlockIDE,
		NetBus:        source.NetRTL,
		ACPI:          true,
		VirtioRNG:     false,
		VirtioBalloon: support.BalloonAvailable,
		ISAPVPanic:    true,
	}
	if support.VirtioSCSIAvailable {
		caps.BlockBus = source.BlockVirtioSCSI
	} else if support.VirtioBlockAvailable {
		caps.BlockBus = source.BlockVirtioBlk
	}
	if support.VirtioNetAvailable {
		caps.NetBus = source.NetVirtio
	}
	if !keepSerialConsole {
		plog.Infof("output plugin advertises no serial console; stripping serial console configuration")
	}
	return caps, nil
}
