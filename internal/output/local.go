package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/libvirtxml"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// LocalPlugin is the §4.9 "Local directory" output: files named
// <dir>/<name>-sd<x>[.<ext>], metadata at <dir>/<name>.xml.
type LocalPlugin struct {
	Dir       string
	Format    string // "raw" or "qcow2"
	RunnerRef procutil.Runner
}

func (p *LocalPlugin) AsOptions() string { return "local:" + p.Dir }

func (p *LocalPlugin) SupportedFirmware() []source.Firmware {
	return []source.Firmware{source.FirmwareBIOS, source.FirmwareUEFI}
}

func (p *LocalPlugin) InstallRhevApt() bool   { return false }
func (p *LocalPlugin) KeepSerialConsole() bool { return true }

func (p *LocalPlugin) Precheck() error {
	info, err := os.Stat(p.Dir)
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LocalPlugin: precheck", err)
	}
	if !info.IsDir() {
		return verrors.New(verrors.OutputError, "output.LocalPlugin: precheck", fmt.Errorf("%s is not a directory", p.Dir))
	}
	return nil
}

func (p *LocalPlugin) ext() string {
	if p.Format == "raw" {
		return ".img"
	}
	return ".qcow2"
}

func (p *LocalPlugin) PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error) {
	format := formatOrDefault(p.Format)
	targets := make([]*source.Target, len(overlays))
	for i, ov := range overlays {
		loc := filepath.Join(p.Dir, fmt.Sprintf("%s-sd%d%s", src.Name, i, p.ext()))
		targets[i] = &source.Target{Location: loc, Format: format, Overlay: ov}
	}
	return targets, nil
}

func (p *LocalPlugin) CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error {
	if firmware != source.FirmwareUEFI {
		return nil
	}
	if _, err := os.Stat("/usr/share/OVMF/OVMF_CODE.fd"); err != nil {
		return verrors.New(verrors.OutputError, "output.LocalPlugin: checking UEFI firmware", err)
	}
	return nil
}

func (p *LocalPlugin) CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error {
	disks := make(map[int]string, len(targets))
	for i, t := range targets {
		if t.Overlay != nil {
			disks[t.Overlay.SourceDisk] = t.Location
		} else {
			disks[i] = t.Location
		}
	}
	doc, err := libvirtxml.Render(libvirtxml.RenderInput{Src: src, Caps: caps, Plan: buses, Disks: disks})
	if err != nil {
		return verrors.New(verrors.OutputError, "output.LocalPlugin: rendering domain XML", err)
	}
	path := filepath.Join(p.Dir, src.Name+".xml")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		return verrors.New(verrors.OutputError, "output.LocalPlugin: writing "+path, err)
	}
	return nil
}

// DiskCreate shells out to qemu-img create with the exact parameters §4.9
// names, matching the copy engine's TargetProvisioner contract.
func (p *LocalPlugin) DiskCreate(params copyengine.DiskCreateParams) error {
	return qemuImgCreate(p.RunnerRef, params)
}

func qemuImgCreate(r procutil.Runner, params copyengine.DiskCreateParams) error {
	args := []string{"create", "-f", params.Format}
	var opts []string
	if params.Preallocation != "" {
		opts = append(opts, "preallocation="+params.Preallocation)
	}
	if params.Compat != "" {
		opts = append(opts, "compat="+params.Compat)
	}
	if params.ClusterSize != 0 {
		opts = append(opts, fmt.Sprintf("cluster_size=%d", params.ClusterSize))
	}
	if params.BackingFile != "" {
		args = append(args, "-b", params.BackingFile)
		if params.BackingFormat != "" {
			args = append(args, "-F", params.BackingFormat)
		}
	}
	if len(opts) > 0 {
		args = append(args, "-o", joinComma(opts))
	}
	args = append(args, params.Path, fmt.Sprintf("%d", params.Size))
	if _, err := procutil.Run(r, "qemu-img", args...); err != nil {
		return verrors.New(verrors.OutputError, "qemu-img create "+params.Path, err)
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}
