package controller

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/virtconv/virt2kvm/internal/convert/linux"
	"github.com/virtconv/virt2kvm/internal/convert/windows"
	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/hive"
	"github.com/virtconv/virt2kvm/internal/input"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/netmap"
	"github.com/virtconv/virt2kvm/internal/output"
	"github.com/virtconv/virt2kvm/internal/overlay"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/sizing"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// Config is everything Run needs to drive one conversion, gathered from
// the CLI layer's flag parsing.
type Config struct {
	Runner procutil.Runner

	Input  input.Plugin
	Output output.Plugin

	NetmapRules []netmap.Rule

	CacheDir       string
	DebugOverlays  bool
	RootPolicy     inspect.RootPolicy
	AskIn          io.Reader
	AskOut         io.Writer
	RequiredCaps   windows.RequiredCapabilities
	VirtioWinFiles []string // flattened VIRTIO_WIN tree/ISO listing, host-side

	Preallocation string // -oa: "" (sparse) or "full" (preallocated)
	OutputName    string // -on: overrides the source name output plugins key target filenames on
	NoCopy        bool   // --no-copy: stop after inspection/conversion, skip §4.8
}

// Result is what a completed run reports back to the CLI layer.
type Result struct {
	Source  *source.Source
	Caps    source.Capabilities
	Insp    *inspect.Result
	Targets []*source.Target
	Copies  []copyengine.CopyResult
}

// Run drives the full §2 pipeline: input, overlay, inspection, conversion,
// copy, metadata, with an at-exit cleanup stack that runs LIFO regardless
// of how the run ends (§5).
func Run(ctx context.Context, cfg Config) (*Result, error) {
	cleanup := NewCleanupStack()
	defer cleanup.Run()

	src, err := cfg.Input.Source(ctx)
	if err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, verrors.New(verrors.InvalidArgument, "validating source", err)
	}
	if cfg.OutputName != "" {
		src.Name = cfg.OutputName
	}

	input.PreserveOrigVnet(src)
	netmap.Map(src.NICs, cfg.NetmapRules)

	engine := overlay.New(cfg.Runner, cfg.CacheDir, cfg.DebugOverlays)
	overlays, err := engine.Create(src.Disks)
	if err != nil {
		return nil, err
	}
	cleanup.Push("remove overlays", func() error { engine.Cleanup(); return nil })

	sb, err := overlay.Launch(cfg.Runner, overlays)
	if err != nil {
		return nil, err
	}
	cleanup.Push("shut down sandbox", func() error { sb.Shutdown(); return nil })

	insp, fsTypes, err := inspect.Drive(sb, cfg.RootPolicy, cfg.AskIn, cfg.AskOut)
	if err != nil {
		return nil, err
	}

	stats, err := sizing.CollectStats(sb, insp.Mountpoints, fsTypes)
	if err != nil {
		return nil, err
	}
	if err := sizing.CheckFreeSpace(stats); err != nil {
		return nil, err
	}
	estimates := sizing.Estimate(overlays, stats)

	var caps source.Capabilities
	keepSerial := cfg.Output.KeepSerialConsole()

	if strings.EqualFold(insp.Root.OSType, "windows") {
		caps, err = convertWindows(sb, src, insp, cfg)
	} else {
		caps, err = convertLinux(cfg.Runner, src, insp, keepSerial)
	}
	if err != nil {
		return nil, err
	}

	finishCapabilities(&caps, src, insp)

	mountpointPaths := make([]string, 0, len(insp.Mountpoints))
	for _, mp := range insp.Mountpoints {
		mountpointPaths = append(mountpointPaths, mp.Path)
	}
	copyengine.Trim(sb, mountpointPaths, fsTypes)

	buses := BuildBusPlan(src, caps)
	if err := buses.Validate(src); err != nil {
		return nil, verrors.New(verrors.ConversionError, "validating bus plan", err)
	}

	targets, err := cfg.Output.PrepareTargets(src, overlays, buses, caps, insp, insp.Firmware)
	if err != nil {
		return nil, err
	}
	sizing.ApplyEstimates(targets, estimates)
	for _, t := range targets {
		if err := t.Validate(src); err != nil {
			return nil, verrors.New(verrors.OutputError, "validating target", err)
		}
	}
	cleanup.Push("remove incomplete targets", func() error {
		for _, t := range targets {
			if t.DeleteOnExit {
				plog.Warningf("leaving incomplete target in place for manual cleanup: %s", t.Location)
			}
		}
		return nil
	})

	if err := cfg.Output.CheckTargetFirmware(caps, insp.Firmware); err != nil {
		return nil, err
	}

	result := &Result{Source: src, Caps: caps, Insp: insp, Targets: targets}
	if cfg.NoCopy {
		return result, nil
	}

	plans := make([]copyengine.CopyPlan, 0, len(targets))
	for _, t := range targets {
		plans = append(plans, copyengine.CopyPlan{
			Target: t,
			Params: copyengine.DiskCreateParams{
				Path:          t.Location,
				Format:        t.Format,
				Size:          t.Overlay.VirtSizeB,
				Preallocation: cfg.Preallocation,
			},
		})
	}
	copies, err := copyengine.CopyAll(cfg.Runner, cfg.Output.(output.DiskCreator), plans, func() int64 { return time.Now().UnixNano() })
	if err != nil {
		return nil, err
	}
	result.Copies = copies

	if err := cfg.Output.CreateMetadata(src, targets, buses, caps, insp, insp.Firmware); err != nil {
		return nil, err
	}

	return result, nil
}

// convertLinux builds a conservative DriverSupport from what the
// inspector already reported and hands off to linux.Convert. It assumes
// no virtio modules are present yet and that the guest's package manager
// implies its initramfs tool, which is the same "always regenerate"
// posture §4.6's behavioural contract describes as the safe default.
func convertLinux(r procutil.Runner, src *source.Source, insp *inspect.Result, keepSerial bool) (source.Capabilities, error) {
	tool := linux.InitramfsDracut
	if insp.PkgManager == "up2date" || insp.PkgManager == "rpm" && insp.MajorVer < 6 {
		tool = linux.InitramfsMkinitrd
	}
	support := linux.DriverSupport{InitramfsTool: tool}
	return linux.Convert(r, src.Hypervisor, insp.PkgManager, support, keepSerial)
}

// convertWindows opens the SYSTEM/SOFTWARE hives the inspector located,
// scans the SOFTWARE hive for the pre-inspection facts §4.7's later edits
// need, and runs windows.Convert.
func convertWindows(sb *overlay.Sandbox, src *source.Source, insp *inspect.Result, cfg Config) (source.Capabilities, error) {
	if insp.Windows == nil {
		return source.Capabilities{}, verrors.New(verrors.InspectionError, "convertWindows",
			fmt.Errorf("root reported as windows but no Windows inspection facts present"))
	}

	system, err := hive.OpenGuestfishHive(sb, insp.Windows.SystemHive)
	if err != nil {
		return source.Capabilities{}, err
	}
	software, err := hive.OpenGuestfishHive(sb, insp.Windows.SoftwareHive)
	if err != nil {
		return source.Capabilities{}, err
	}

	present := make(map[string]bool)
	if names, err := system.Children([]string{"Services"}); err == nil {
		for _, n := range names {
			present[n] = true
		}
	}

	pre, err := windows.BuildPreInspection(software, antivirusPresent(insp))
	if err != nil {
		return source.Capabilities{}, err
	}

	arch := windows.ArchX86_64
	if insp.Arch == "i386" || insp.Arch == "i686" {
		arch = windows.ArchI386
	}
	variant := windows.VariantClient
	if strings.EqualFold(insp.Variant, "server") {
		variant = windows.VariantServer
	}

	guest := windows.GuestInfo{
		Arch:              arch,
		Major:             insp.MajorVer,
		Minor:             insp.MinorVer,
		Variant:           variant,
		DriverSourceFiles: cfg.VirtioWinFiles,
		DataDirHasRhevApt: hasSuffix(cfg.VirtioWinFiles, "rhev-apt.exe"),
		DataDirHasVmdp:    hasSuffix(cfg.VirtioWinFiles, "vmdp.exe"),
	}

	res, err := windows.Convert(system, software, pre, guest, cfg.RequiredCaps, present)
	if err != nil {
		return source.Capabilities{}, err
	}
	if res.Downgraded {
		plog.Warningf("guest %q: virtio drivers not fully available, some devices downgraded", src.Name)
	}
	return res.Caps, nil
}

func antivirusPresent(insp *inspect.Result) bool {
	for _, app := range insp.Apps {
		lower := strings.ToLower(app)
		if strings.Contains(lower, "antivirus") || strings.Contains(lower, "defender") {
			return true
		}
	}
	return false
}

func hasSuffix(files []string, name string) bool {
	for _, f := range files {
		if strings.EqualFold(path.Base(f), name) {
			return true
		}
	}
	return false
}

// finishCapabilities fills in the fields neither converter sets: effective
// architecture, target machine type, and secure-boot's forced q35+smm
// (§3's "Guest capabilities" invariant). ACPI is left as the converter
// reported it for Linux (§4.6 negotiates it explicitly); Windows guests
// always get ACPI since §4.7 never negotiates it away.
func finishCapabilities(caps *source.Capabilities, src *source.Source, insp *inspect.Result) {
	caps.Arch = insp.Arch
	if caps.Arch == "" {
		caps.Arch = "x86_64"
	}
	caps.Machine = source.MachineI440FX
	if strings.HasPrefix(caps.Arch, "aarch64") || strings.HasPrefix(caps.Arch, "arm") {
		caps.Machine = source.MachineVirt
	}
	if strings.EqualFold(insp.Root.OSType, "windows") {
		caps.ACPI = true
	}
	if src.Firmware == source.FirmwareUEFI && src.SecureBoot {
		features := source.ApplySecureBoot(caps, src.Features)
		plog.Infof("guest %q: secure boot requires q35+smm, features now %v", src.Name, features)
	}
}
