// Package windows implements the byte-level Windows guest conversion
// procedure of §4.7: registry surgery against the SYSTEM/SOFTWARE hives,
// virtio driver staging, firstboot script injection, the NTFS BPB heads
// fix, and the UEFI BCD edit.
package windows

import (
	"path"
	"strings"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "convert/windows")

// Arch is the guest's virtio driver architecture bucket.
type Arch string

const (
	ArchI386   Arch = "i386"
	ArchX86_64 Arch = "x86_64"
)

// Variant distinguishes client (workstation) from server Windows editions.
type Variant string

const (
	VariantClient Variant = "client"
	VariantServer Variant = "server"
	VariantAny    Variant = "any"
)

// osRule is one row of §4.7.1's path-pattern table.
type osRule struct {
	patterns []string
	major    int
	minor    int
	variant  Variant
}

var osTable = []osRule{
	{[]string{"xp", "winxp"}, 5, 1, VariantAny},
	{[]string{"2k3", "win2003"}, 5, 2, VariantAny},
	{[]string{"vista"}, 6, 0, VariantClient},
	{[]string{"2k8", "win2008"}, 6, 0, VariantServer},
	{[]string{"w7", "win7"}, 6, 1, VariantClient},
	{[]string{"2k8r2", "win2008r2"}, 6, 1, VariantServer},
	{[]string{"w8", "win8"}, 6, 2, VariantClient},
	{[]string{"2k12", "win2012"}, 6, 2, VariantServer},
	{[]string{"w8.1", "win8.1"}, 6, 3, VariantClient},
	{[]string{"2k12r2", "win2012r2"}, 6, 3, VariantServer},
	{[]string{"w10", "win10"}, 10, 0, VariantClient},
	{[]string{"2k16", "win2016"}, 10, 0, VariantServer},
}

var driverExts = map[string]bool{"cat": true, "inf": true, "pdb": true, "sys": true}

// MatchesGuestOS implements §8's virtio_iso_path_matches_guest_os: does a
// driver-source path match the guest's architecture, major.minor, and
// client/server variant?
func MatchesGuestOS(p string, arch Arch, major, minor int, variant Variant) bool {
	lower := strings.ToLower(filepathToSlash(p))
	var wantArch Arch
	switch {
	case strings.Contains(lower, "/x86/"), strings.Contains(lower, "/i386/"):
		wantArch = ArchI386
	case strings.Contains(lower, "/amd64/"):
		wantArch = ArchX86_64
	default:
		return false
	}
	if wantArch != arch {
		return false
	}
	for _, rule := range osTable {
		if rule.major != major || rule.minor != minor {
			continue
		}
		if rule.variant != VariantAny && rule.variant != variant {
			continue
		}
		for _, pat := range rule.patterns {
			if containsComponent(lower, pat) {
				return true
			}
		}
	}
	return false
}

func filepathToSlash(p string) string { return strings.ReplaceAll(p, `\`, "/") }

// containsComponent checks pat appears as a substring of some path
// component (case already lowered by the caller), matching §4.7.1's
// "case-insensitive substring in a path component" rule.
func containsComponent(lowerPath, pat string) bool {
	for _, comp := range strings.Split(lowerPath, "/") {
		if strings.Contains(comp, pat) {
			return true
		}
	}
	return false
}

// IsDriverFile reports whether p should be copied into the guest's
// %SystemRoot%\Drivers\VirtIO, per §4.7.1's extension allowlist.
func IsDriverFile(p string) bool {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return driverExts[strings.ToLower(ext)]
}

// StagedDriver is one file selected for copy into the guest.
type StagedDriver struct {
	SourcePath string
	DestName   string // lower-cased basename, per §4.7.1
}

// SelectDrivers walks candidatePaths (already a flattened file listing of
// the driver source tree or mounted ISO) and returns the files that match
// the guest and carry an allowed extension.
func SelectDrivers(candidatePaths []string, arch Arch, major, minor int, variant Variant) []StagedDriver {
	var out []StagedDriver
	for _, p := range candidatePaths {
		if !IsDriverFile(p) {
			continue
		}
		if !MatchesGuestOS(p, arch, major, minor, variant) {
			continue
		}
		out = append(out, StagedDriver{
			SourcePath: p,
			DestName:   strings.ToLower(path.Base(filepathToSlash(p))),
		})
	}
	return out
}

// OfferedDrivers summarises which virtio drivers were actually staged, to
// drive the capability downgrade logic in convert.go.
type OfferedDrivers struct {
	ViostorSys bool
	ViostorInf bool
	NetkvmInf  bool
	QxlInf     bool
}

func Offered(staged []StagedDriver) OfferedDrivers {
	var o OfferedDrivers
	for _, d := range staged {
		switch d.DestName {
		case "viostor.sys":
			o.ViostorSys = true
		case "viostor.inf":
			o.ViostorInf = true
		case "netkvm.inf":
			o.NetkvmInf = true
		case "qxl.inf":
			o.QxlInf = true
		}
	}
	return o
}
