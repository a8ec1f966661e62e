// Package inspect mounts the guest root(s) selected from the sandbox and
// collects the inspection facts the converters need (§4.4). The actual
// filesystem inspection (root discovery, OS detection, hive enumeration)
// is delegated to the guest-filesystem library (out of scope per §1); this
// package owns only the root-selection policy, mount ordering, and the
// typed result the converters consume.
package inspect

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/coreos/pkg/capnslog"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

var plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "inspect")

// RootPolicyKind selects among §4.4's root selection policies.
type RootPolicyKind int

const (
	PolicyAsk RootPolicyKind = iota
	PolicySingle
	PolicyFirst
	PolicyDev
)

// RootPolicy configures root selection; Dev is set when Kind == PolicyDev.
type RootPolicy struct {
	Kind RootPolicyKind
	Dev  string
}

// Root is one candidate filesystem root as reported by the inspection
// library, prior to selection.
type Root struct {
	Device  string
	Format  string // must be "installed" to be eligible
	OSType  string
	Distro  string
}

// Mountpoint is one filesystem to be mounted into the sandbox, in the
// root's mount plan.
type Mountpoint struct {
	Path   string
	Device string
	FSType string
}

// Windows carries Windows-specific inspection facts.
type Windows struct {
	SystemHive      string
	SoftwareHive    string
	CurrentCtrlSet  string
	ESPDevices      []string // UEFI ESP partitions, if any
}

// Result is the converter-facing inspection outcome for one selected root.
type Result struct {
	Root        Root
	Arch        string
	MajorVer    int
	MinorVer    int
	ProductName string
	Variant     string // "client" or "server", Windows only
	PkgFormat   string
	PkgManager  string
	Apps        []string
	Mountpoints []Mountpoint
	Windows     *Windows
	Firmware    source.Firmware
}

// SelectRoot applies §4.4's policy to a list of candidate roots.
// in is consulted only for PolicyAsk.
func SelectRoot(policy RootPolicy, roots []Root, in io.Reader, out io.Writer) (Root, error) {
	installed := make([]Root, 0, len(roots))
	for _, r := range roots {
		if r.Format == "installed" {
			installed = append(installed, r)
		}
	}
	if len(installed) == 0 {
		return Root{}, verrors.New(verrors.InspectionError, "select root", fmt.Errorf("no installed root found"))
	}

	switch policy.Kind {
	case PolicySingle:
		if len(installed) > 1 {
			return Root{}, verrors.New(verrors.InspectionError, "select root",
				fmt.Errorf("multi-boot system found, --root single requires exactly one root"))
		}
		return installed[0], nil

	case PolicyFirst:
		return installed[0], nil

	case PolicyDev:
		for _, r := range installed {
			if r.Device == policy.Dev {
				return r, nil
			}
		}
		return Root{}, verrors.New(verrors.InspectionError, "select root",
			fmt.Errorf("device %q not found among roots", policy.Dev))

	case PolicyAsk:
		return askRoot(installed, in, out)
	}
	return Root{}, verrors.New(verrors.InspectionError, "select root", fmt.Errorf("unknown root policy"))
}

func askRoot(roots []Root, in io.Reader, out io.Writer) (Root, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintln(out, "Multiple roots found; please select one:")
		for i, r := range roots {
			fmt.Fprintf(out, "  [%d] %s (%s %s)\n", i+1, r.Device, r.OSType, r.Distro)
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return Root{}, verrors.New(verrors.InspectionError, "select root", fmt.Errorf("no input available"))
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "exit", "q", "quit":
			return Root{}, verrors.New(verrors.InspectionError, "select root", fmt.Errorf("aborted by user"))
		}
		var idx int
		if _, err := fmt.Sscanf(line, "%d", &idx); err == nil && idx >= 1 && idx <= len(roots) {
			return roots[idx-1], nil
		}
		fmt.Fprintln(out, "invalid selection")
	}
}

// SortMountpoints orders mountpoints by ascending path length, the order
// §4.4 and §8 require them to be mounted in (shortest first, so "/" mounts
// before "/boot" before "/boot/efi").
func SortMountpoints(mps []Mountpoint) {
	sort.SliceStable(mps, func(i, j int) bool {
		return len(mps[i].Path) < len(mps[j].Path)
	})
}

// NTFSUnsafeStateHint recognises the unmountable-NTFS diagnostic §4.4 calls
// out by name and augments it with a pointer to the real cause.
const ntfsUnsafeMarker = "NTFS partition is in an unsafe state"

func NTFSUnsafeStateHint(mountErr error) (string, bool) {
	if mountErr == nil || !strings.Contains(mountErr.Error(), ntfsUnsafeMarker) {
		return "", false
	}
	return "NTFS partition is in an unsafe state; the Windows guest likely has " +
		"Hibernation or Fast Startup enabled. Boot it once normally and shut it " +
		"down fully before converting.", true
}
