package windows

import (
	"fmt"

	"github.com/virtconv/virt2kvm/internal/hive"
)

// parallelsServices is the fixed list of Parallels/Virtuozzo services to
// disable in the SYSTEM hive (§4.7).
var parallelsServices = []string{
	"prl_boot", "prl_dd", "prl_eth5", "prl_fs", "prl_memdev", "prl_mouf",
	"prl_pv32", "prl_pv64", "prl_scsi", "prl_sound", "prl_strg", "prl_tg",
	"prl_time", "prl_uprof", "prl_va",
}

// DisableServiceEdits disables rhelscsi and the Parallels service list by
// setting Start=4 (Disabled) wherever the service key exists (§4.7). The
// caller is expected to have already checked presence against the hive
// (this package doesn't read the source hive, only shapes the writes).
func DisableServiceEdits(present map[string]bool) []hive.Edit {
	var edits []hive.Edit
	services := append([]string{"rhelscsi"}, parallelsServices...)
	for _, svc := range services {
		if !present[svc] {
			continue
		}
		edits = append(edits, hive.Edit{
			Path:   []string{"Services", svc},
			Values: []hive.Value{{Name: "Start", Type: hive.REG_DWORD, DW: 4}},
		})
	}
	return edits
}

// LowerFiltersEdit rewrites the SCSI/RAID controller class's LowerFilters
// REG_MULTI_SZ, removing prl_strg and empty entries (§4.7).
func LowerFiltersEdit(existing []byte) hive.Edit {
	strs := hive.DecodeMultiSZ(existing, false)
	strs = hive.RemoveFromMultiSZ(strs, "prl_strg")
	return hive.Edit{
		Path: []string{"Control", "Class", "{4d36e967-e325-11ce-bfc1-08002be10318}"},
		Values: []hive.Value{
			{Name: "LowerFilters", Type: hive.REG_MULTI_SZ, Multi: strs},
		},
	}
}

// DisableCrashAutoReboot is §4.7's CrashControl\AutoReboot=0 edit.
func DisableCrashAutoReboot() hive.Edit {
	return hive.Edit{
		Path:   []string{"Control", "CrashControl"},
		Values: []hive.Value{{Name: "AutoReboot", Type: hive.REG_DWORD, DW: 0}},
	}
}

// DevicePathEdit appends %SystemRoot%\Drivers\VirtIO to the
// CurrentVersion\DevicePath value, preserving any existing contents
// (§4.7's SOFTWARE-hive write).
func DevicePathEdit(existing string) hive.Edit {
	updated := hive.AppendToExpandSZPath(existing, `;%SystemRoot%\Drivers\VirtIO`)
	return hive.Edit{
		Path:   []string{"Microsoft", "Windows", "CurrentVersion"},
		Values: []hive.Value{{Name: "DevicePath", Type: hive.REG_EXPAND_SZ, SZ: updated}},
	}
}

const viostorPCIID = "VEN_1AF4&DEV_1001&SUBSYS_00021AF4&REV_00"

// critDBToken has no known semantic beyond identifying the generated
// driver-package configuration node; preserved byte-for-byte per §9.
const critDBToken = "c86329aaeb0a7904"

// ViostorCriticalDeviceDatabaseEdits writes the Windows<=7
// CriticalDeviceDatabase + service entries for viostor (§4.7.1).
func ViostorCriticalDeviceDatabaseEdits() []hive.Edit {
	cddKey := "pci#ven_1af4&dev_1001&subsys_00021af4&rev_00"
	return []hive.Edit{
		{
			Path: []string{"Control", "CriticalDeviceDatabase", cddKey},
			Values: []hive.Value{
				{Name: "Service", Type: hive.REG_SZ, SZ: "viostor"},
				{Name: "ClassGUID", Type: hive.REG_SZ, SZ: "{4D36E97B-E325-11CE-BFC1-08002BE10318}"},
			},
		},
		{
			Path: []string{"Services", "viostor"},
			Values: []hive.Value{
				{Name: "Type", Type: hive.REG_DWORD, DW: 1},
				{Name: "Start", Type: hive.REG_DWORD, DW: 0},
				{Name: "Group", Type: hive.REG_SZ, SZ: "SCSI miniport"},
				{Name: "ErrorControl", Type: hive.REG_DWORD, DW: 1},
				{Name: "ImagePath", Type: hive.REG_EXPAND_SZ, SZ: `system32\drivers\viostor.sys`},
			},
		},
	}
}

// AllocateOEMInfName scans existing oemN.inf names already present under
// DeviceIds and returns the first unused one, per §4.7.1's
// "allocate a fresh oem<N>.inf name" rule.
func AllocateOEMInfName(existing map[string]bool) string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("oem%d.inf", n)
		if !existing[name] {
			return name
		}
	}
}

// ViostorDriverDatabaseEdits writes the Windows>=8 DriverDatabase entries
// for viostor under the allocated oem<N>.inf name (§4.7.1).
func ViostorDriverDatabaseEdits(oemInf string, arch Arch) []hive.Edit {
	classGUID := "{4d36e97b-e325-11ce-bfc1-08002be10318}"
	configKey := fmt.Sprintf("viostor.inf_%s_%s", archToken(arch), critDBToken)
	return []hive.Edit{
		{
			Path: []string{"Services", "viostor"},
			Values: []hive.Value{
				{Name: "Type", Type: hive.REG_DWORD, DW: 1},
				{Name: "Start", Type: hive.REG_DWORD, DW: 0},
				{Name: "Group", Type: hive.REG_SZ, SZ: "SCSI miniport"},
				{Name: "ErrorControl", Type: hive.REG_DWORD, DW: 1},
				{Name: "ImagePath", Type: hive.REG_EXPAND_SZ, SZ: `system32\drivers\viostor.sys`},
			},
		},
		{
			Path: []string{"DriverDatabase", "DriverInfFiles", oemInf},
			Values: []hive.Value{
				{Name: "", Type: hive.REG_MULTI_SZ, Multi: []string{classGUID}},
			},
		},
		{
			Path: []string{"DriverDatabase", "DeviceIds", "PCI", viostorPCIID, oemInf},
			Values: []hive.Value{
				{Name: "", Type: hive.REG_DWORD, DW: 0},
			},
		},
		{
			Path: []string{"DriverDatabase", "DriverPackages", configKey, "Configurations", "rhelscsi_inst"},
			Values: []hive.Value{
				{Name: "ConfigFlags", Type: hive.REG_DWORD, DW: 0},
			},
		},
		{
			Path: []string{"DriverDatabase", "DriverPackages", configKey, "Configurations", "rhelscsi_inst",
				"Device", "Interrupt Management", "Affinity Policy"},
			Values: []hive.Value{
				{Name: "DevicePolicy", Type: hive.REG_DWORD, DW: 5},
			},
		},
		{
			Path: []string{"DriverDatabase", "DriverPackages", configKey, "Configurations", "rhelscsi_inst",
				"Services", "viostor", "Parameters", "PnpInterface"},
			Values: []hive.Value{
				{Name: "5", Type: hive.REG_DWORD, DW: 1},
			},
		},
		{
			Path: []string{"DriverDatabase", "DeviceIds", classGUID, "Descriptors",
				"PCI", viostorPCIID},
			Values: []hive.Value{
				{Name: oemInf, Type: hive.REG_SZ, SZ: oemInf},
			},
		},
	}
}

func archToken(a Arch) string {
	if a == ArchX86_64 {
		return "amd64"
	}
	return "x86"
}
