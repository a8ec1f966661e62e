package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// QemuPlugin is the §4.9 "QEMU" output: a shell script that invokes
// qemu-kvm directly instead of going through libvirt.
type QemuPlugin struct {
	Dir       string
	Format    string
	BootNow   bool // --qemu-boot
	RunnerRef procutil.Runner
}

func (p *QemuPlugin) AsOptions() string { return "qemu:" + p.Dir }

func (p *QemuPlugin) SupportedFirmware() []source.Firmware {
	return []source.Firmware{source.FirmwareBIOS, source.FirmwareUEFI}
}

func (p *QemuPlugin) InstallRhevApt() bool   { return false }
func (p *QemuPlugin) KeepSerialConsole() bool { return true }
func (p *QemuPlugin) Precheck() error         { return nil }

func (p *QemuPlugin) PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error) {
	format := formatOrDefault(p.Format)
	ext := ".qcow2"
	if format == "raw" {
		ext = ".img"
	}
	targets := make([]*source.Target, len(overlays))
	for i, ov := range overlays {
		targets[i] = &source.Target{
			Location: filepath.Join(p.Dir, fmt.Sprintf("%s-sd%d%s", src.Name, i, ext)),
			Format:   format, Overlay: ov,
		}
	}
	return targets, nil
}

func (p *QemuPlugin) CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error {
	if firmware != source.FirmwareUEFI {
		return nil
	}
	if _, err := os.Stat("/usr/share/OVMF/OVMF_CODE.fd"); err != nil {
		return verrors.New(verrors.OutputError, "output.QemuPlugin: checking UEFI firmware", err)
	}
	return nil
}

func (p *QemuPlugin) DiskCreate(params copyengine.DiskCreateParams) error {
	return qemuImgCreate(p.RunnerRef, params)
}

// CreateMetadata writes the launch script. Every boot of a UEFI guest
// copies a fresh vars template so the guest never shares persistent
// NVRAM state with the script itself.
func (p *QemuPlugin) CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error {
	var b strings.Builder
	fmt.Fprintln(&b, "#!/bin/sh")
	fmt.Fprintln(&b, "set -e")

	if firmware == source.FirmwareUEFI {
		varsTemplate := "/usr/share/OVMF/OVMF_VARS.fd"
		runtimeVars := filepath.Join(p.Dir, src.Name+"-vars.fd")
		fmt.Fprintf(&b, "cp %s %s\n", shq(varsTemplate), shq(runtimeVars))
	}

	args := []string{"qemu-kvm"}
	args = append(args, "-name", src.Name)
	args = append(args, "-m", fmt.Sprintf("%d", src.MemoryBytes/1024/1024))
	args = append(args, "-smp", fmt.Sprintf("%d", src.VCPUs))
	args = append(args, "-machine", string(caps.Machine))

	if firmware == source.FirmwareUEFI {
		args = append(args, "-drive", "if=pflash,format=raw,readonly=on,file=/usr/share/OVMF/OVMF_CODE.fd")
		args = append(args, "-drive", fmt.Sprintf("if=pflash,format=raw,file=%s-vars.fd", filepath.Join(p.Dir, src.Name)))
	}

	ifaceBus := busIfaceFor(caps.BlockBus)
	for _, arr := range [][]source.BusSlot{buses.VirtioBlk, buses.IDE, buses.SCSI} {
		for idx, slot := range arr {
			if slot.Kind != source.SlotDisk {
				continue
			}
			var loc string
			for _, t := range targets {
				if t.Overlay != nil && t.Overlay.SourceDisk == slot.DiskID {
					loc = t.Location
				}
			}
			args = append(args, "-drive", fmt.Sprintf("if=%s,file=%s,media=disk,index=%d", ifaceBus, loc, idx))
		}
	}

	for i, nic := range src.NICs {
		args = append(args, "-netdev", fmt.Sprintf("user,id=net%d", i))
		args = append(args, "-device", fmt.Sprintf("%s,netdev=net%d", string(caps.NetBus), i))
		_ = nic
	}

	if caps.VirtioRNG {
		args = append(args, "-device", "virtio-rng-pci")
	}
	if caps.VirtioBalloon {
		args = append(args, "-device", "virtio-balloon-pci")
	}
	if src.HasSound {
		args = append(args, "-soundhw", string(src.Sound))
	}
	if src.Display != nil {
		switch src.Display.Type {
		case source.DisplaySpice:
			args = append(args, "-spice", "port=5900,disable-ticketing=on")
		case source.DisplayVNC:
			args = append(args, "-vnc", ":0")
		default:
			args = append(args, "-display", "gtk")
		}
	}
	if insp != nil && insp.Windows == nil {
		args = append(args, "-serial", "stdio")
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shq(a)
	}
	fmt.Fprintln(&b, strings.Join(quoted, " \\\n  "))

	path := filepath.Join(p.Dir, src.Name+".sh")
	if err := os.WriteFile(path, []byte(b.String()), 0755); err != nil {
		return verrors.New(verrors.OutputError, "output.QemuPlugin: writing "+path, err)
	}

	if p.BootNow {
		if _, err := procutil.Run(p.RunnerRef, "sh", path); err != nil {
			return verrors.New(verrors.OutputError, "output.QemuPlugin: running "+path, err)
		}
	}
	return nil
}

func busIfaceFor(bus source.BlockBus) string {
	switch bus {
	case source.BlockVirtioBlk:
		return "virtio"
	case source.BlockVirtioSCSI:
		return "scsi"
	default:
		return "ide"
	}
}

func shq(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
