package windows

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/hive"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// RequiredCapabilities lets the caller insist on virtio rather than
// tolerate the IDE/rtl8139/Cirrus downgrade (§4.7.1).
type RequiredCapabilities struct {
	RequireVirtioBlock bool
	RequireVirtioNet   bool
}

// GuestInfo is the subset of inspection results the Windows converter
// needs: OS version/variant and driver-source file listing.
type GuestInfo struct {
	Arch           Arch
	Major, Minor   int
	Variant        Variant
	DriverSourceFiles []string // flattened listing of VIRTIO_WIN tree/ISO
	DataDirHasRhevApt bool
	DataDirHasVmdp    bool
}

// PreInspection is the read-only facts gathered from the SOFTWARE hive
// before any writes happen (§4.7).
type PreInspection struct {
	GroupPolicyPresent bool
	AVPresent          bool
	XenUninstall       *UninstallInfo
	ParallelsUninstalls []UninstallInfo
}

// Result is what Convert reports back to the controller: the staged
// firstboot scripts to upload and the capabilities actually achieved.
type Result struct {
	Caps       source.Capabilities
	Firstboot  []FirstbootScript
	Downgraded bool
}

// Convert runs the full §4.7 Windows byte-level procedure against an
// already-open SYSTEM and SOFTWARE hive pair, and returns the resulting
// guest capabilities plus the firstboot scripts the caller must upload.
//
// present reports, for each Windows service name, whether the SYSTEM hive
// already has a Services\<name> key (the caller supplies this since this
// package never reads a hive directly beyond the HiveHandle interface).
func Convert(system, software hive.HiveHandle, pre PreInspection, guest GuestInfo, req RequiredCapabilities, servicesPresent map[string]bool) (Result, error) {
	var systemEdits []hive.Edit
	systemEdits = append(systemEdits, DisableServiceEdits(servicesPresent)...)

	if lf, ok := readLowerFilters(system); ok {
		systemEdits = append(systemEdits, lf)
	}
	systemEdits = append(systemEdits, DisableCrashAutoReboot())

	staged := SelectDrivers(guest.DriverSourceFiles, guest.Arch, guest.Major, guest.Minor, guest.Variant)
	offered := Offered(staged)

	caps := source.Capabilities{
		BlockBus: source.BlockIDE,
		NetBus:   source.NetRTL,
		Video:    source.VideoCirrus,
	}
	downgraded := false

	if offered.ViostorSys && offered.ViostorInf {
		caps.BlockBus = source.BlockVirtioBlk
		driverEdits, err := viostorEdits(system, guest)
		if err != nil {
			return Result{}, verrors.New(verrors.ConversionError, "windows.Convert", err)
		}
		systemEdits = append(systemEdits, driverEdits...)
	} else if req.RequireVirtioBlock {
		return Result{}, verrors.New(verrors.ConversionError, "windows.Convert",
			errors.New("virtio-blk required but viostor driver not offered"))
	} else {
		downgraded = true
	}

	if offered.NetkvmInf {
		caps.NetBus = source.NetVirtio
	} else if req.RequireVirtioNet {
		return Result{}, verrors.New(verrors.ConversionError, "windows.Convert",
			errors.New("virtio-net required but netkvm driver not offered"))
	} else {
		downgraded = true
	}

	if offered.QxlInf {
		caps.Video = source.VideoQXL
	}

	if err := hive.Apply(system, systemEdits); err != nil {
		return Result{}, verrors.New(verrors.ConversionError, "windows.Convert", errors.Wrap(err, "applying SYSTEM hive edits"))
	}

	var softwareEdits []hive.Edit
	if dp, ok := readDevicePath(software); ok {
		softwareEdits = append(softwareEdits, dp)
	}
	if err := hive.Apply(software, softwareEdits); err != nil {
		return Result{}, verrors.New(verrors.ConversionError, "windows.Convert", errors.Wrap(err, "applying SOFTWARE hive edits"))
	}

	var uninstalls []UninstallInfo
	if pre.XenUninstall != nil {
		uninstalls = append(uninstalls, UninstallInfo{
			DisplayName: "xen-pv",
			Command:     FixXenUninstallString(pre.XenUninstall.Command),
		})
	}
	for _, u := range pre.ParallelsUninstalls {
		uninstalls = append(uninstalls, UninstallInfo{
			DisplayName:             u.DisplayName,
			Command:                 ParallelsUninstallCommand(u.Command),
			TolerateErrorLevel3010:  true,
		})
	}

	scripts := BuildFirstbootScripts(guest.DataDirHasRhevApt, guest.DataDirHasVmdp, uninstalls)

	return Result{Caps: caps, Firstboot: scripts, Downgraded: downgraded}, nil
}

func viostorEdits(system hive.HiveHandle, guest GuestInfo) ([]hive.Edit, error) {
	if guest.Major < 6 || (guest.Major == 6 && guest.Minor < 2) {
		return ViostorCriticalDeviceDatabaseEdits(), nil
	}
	node, err := system.Node([]string{"DriverDatabase", "DeviceIds", "{4d36e97b-e325-11ce-bfc1-08002be10318}"})
	if err != nil {
		return nil, fmt.Errorf("reading DriverDatabase\\DeviceIds: %w", err)
	}
	existing := map[string]bool{}
	for n := 1; n <= 4096; n++ {
		name := fmt.Sprintf("oem%d.inf", n)
		if _, ok, _ := node.GetValue(name); ok {
			existing[name] = true
		}
	}
	oemInf := AllocateOEMInfName(existing)
	return ViostorDriverDatabaseEdits(oemInf, guest.Arch), nil
}

func readLowerFilters(system hive.HiveHandle) (hive.Edit, bool) {
	node, err := system.Node([]string{"Control", "Class", "{4d36e967-e325-11ce-bfc1-08002be10318}"})
	if err != nil {
		return hive.Edit{}, false
	}
	data, ok, err := node.GetValue("LowerFilters")
	if err != nil || !ok {
		return hive.Edit{}, false
	}
	return LowerFiltersEdit(data), true
}

func readDevicePath(software hive.HiveHandle) (hive.Edit, bool) {
	node, err := software.Node([]string{"Microsoft", "Windows", "CurrentVersion"})
	if err != nil {
		return hive.Edit{}, false
	}
	data, ok, err := node.GetValue("DevicePath")
	if err != nil || !ok {
		return hive.Edit{}, false
	}
	return DevicePathEdit(decodeSZ(data)), true
}

func decodeSZ(data []byte) string {
	s := hive.DecodeMultiSZ(append(append([]byte{}, data...), 0, 0), false)
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
