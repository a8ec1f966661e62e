package output

import (
	"os"
	"path/filepath"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/ovfdoc"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// VDSMPlugin is the §4.9 "OVF/VDSM" output: builds an RHV-flavour VM
// descriptor per §6.3 and places disk blobs under the storage-domain
// layout internal/ovfdoc computes.
type VDSMPlugin struct {
	Layout      ovfdoc.Layout
	VMUUID      string
	OSToken     string
	CreationUTC func() string // caller-supplied, never time.Now inside this package
	SoundDevice string
	RunnerRef   procutil.Runner

	// RHVClusterUUID is -oo rhv-cluster-uuid; StorageDomainUUID is
	// already covered by Layout.SDUUID (-oo rhv-storage-domain-uuid).
	RHVClusterUUID string

	diskUUIDs map[int]struct{ image, vol string }
}

func (p *VDSMPlugin) AsOptions() string {
	return "vdsm:" + p.Layout.MountPoint + ",sd=" + p.Layout.SDUUID
}

func (p *VDSMPlugin) SupportedFirmware() []source.Firmware {
	return []source.Firmware{source.FirmwareBIOS}
}

func (p *VDSMPlugin) InstallRhevApt() bool   { return true }
func (p *VDSMPlugin) KeepSerialConsole() bool { return false }

func (p *VDSMPlugin) Precheck() error {
	info, err := os.Stat(p.Layout.MountPoint)
	if err != nil {
		return verrors.New(verrors.OutputError, "output.VDSMPlugin: precheck", err)
	}
	if !info.IsDir() {
		return verrors.New(verrors.OutputError, "output.VDSMPlugin: precheck", notADirErr(p.Layout.MountPoint))
	}
	return nil
}

type notADirErr string

func (e notADirErr) Error() string { return string(e) + " is not a directory" }

func (p *VDSMPlugin) PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error) {
	p.diskUUIDs = make(map[int]struct{ image, vol string }, len(overlays))
	targets := make([]*source.Target, len(overlays))
	for i, ov := range overlays {
		imageUUID, volUUID := ovfdoc.NewUUID(), ovfdoc.NewUUID()
		p.diskUUIDs[ov.SourceDisk] = struct{ image, vol string }{imageUUID, volUUID}
		targets[i] = &source.Target{
			Location: p.Layout.VolumePath(imageUUID, volUUID),
			Format:   "raw",
			Overlay:  ov,
		}
	}
	return targets, nil
}

func (p *VDSMPlugin) CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error {
	if firmware == source.FirmwareUEFI {
		return verrors.New(verrors.OutputError, "output.VDSMPlugin", unsupportedFirmwareErr{})
	}
	return nil
}

type unsupportedFirmwareErr struct{}

func (unsupportedFirmwareErr) Error() string { return "VDSM output does not support UEFI targets" }

func (p *VDSMPlugin) DiskCreate(params copyengine.DiskCreateParams) error {
	if err := qemuImgCreate(p.RunnerRef, params); err != nil {
		return err
	}
	for diskID, ids := range p.diskUUIDs {
		if filepath.Base(params.Path) != ids.vol {
			continue
		}
		meta := ovfdoc.VolumeMeta{
			Domain:      p.Layout.SDUUID,
			VolType:     "LEAF",
			Image:       ids.image,
			SizeSectors: ovfdoc.SizeSectors(params.Size),
			Format:      ovfdoc.FormatRaw,
			Type:        allocationFromParams(params),
		}
		metaPath := p.Layout.VolumeMetaPath(ids.image, ids.vol)
		if err := os.WriteFile(metaPath, meta.Encode(), 0644); err != nil {
			return verrors.New(verrors.OutputError, "output.VDSMPlugin: writing "+metaPath, err)
		}
		_ = diskID
	}
	return nil
}

func allocationFromParams(params copyengine.DiskCreateParams) ovfdoc.AllocationType {
	if params.Preallocation == "full" || params.Preallocation == "falloc" {
		return ovfdoc.AllocationPreallocated
	}
	return ovfdoc.AllocationSparse
}

func (p *VDSMPlugin) CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error {
	disks := make([]ovfdoc.DiskEntry, 0, len(targets))
	for _, t := range targets {
		if t.Overlay == nil {
			continue
		}
		ids, ok := p.diskUUIDs[t.Overlay.SourceDisk]
		if !ok {
			continue
		}
		entry := ovfdoc.DiskEntry{
			DiskID:    t.Overlay.SourceDisk,
			ImageUUID: ids.image,
			VolUUID:   ids.vol,
			SizeGiB:   gibCeil(t.Overlay.VirtSizeB),
		}
		if t.HasActual {
			entry.ActualSizeGiB = gibCeil(t.ActualSize)
			entry.HasActual = true
		}
		disks = append(disks, entry)
	}

	nics := make([]ovfdoc.NICEntry, 0, len(src.NICs))
	for _, n := range src.NICs {
		nics = append(nics, ovfdoc.NICEntry{Model: n.Model})
	}

	creationUTC := ""
	if p.CreationUTC != nil {
		creationUTC = p.CreationUTC()
	}
	doc, err := ovfdoc.Build(ovfdoc.BuildParams{
		Src:          src,
		VMUUID:       p.VMUUID,
		SDUUID:       p.Layout.SDUUID,
		VmType:       ovfdoc.VmTypeServer,
		Origin:       ovfdoc.OriginFromHypervisor(src.Hypervisor),
		OSToken:      p.OSToken,
		CreationUTC:  creationUTC,
		VmSnapshotID: ovfdoc.NewUUID(),
		Disks:        disks,
		NICs:         nics,
		SoundDevice:  p.SoundDevice,
		ClusterUUID:  p.RHVClusterUUID,
	})
	if err != nil {
		return verrors.New(verrors.OutputError, "output.VDSMPlugin: building OVF", err)
	}

	ovfPath := p.Layout.OVFPath(p.VMUUID)
	if err := os.MkdirAll(filepath.Dir(ovfPath), 0755); err != nil {
		return verrors.New(verrors.OutputError, "output.VDSMPlugin: creating vm dir", err)
	}
	if err := os.WriteFile(ovfPath, doc, 0644); err != nil {
		return verrors.New(verrors.OutputError, "output.VDSMPlugin: writing "+ovfPath, err)
	}
	return nil
}
