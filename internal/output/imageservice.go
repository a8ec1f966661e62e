package output

import (
	"fmt"
	"os"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/imagedata"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/inspect"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
	"github.com/virtconv/virt2kvm/internal/verrors"
)

// ImageServicePlugin is the §4.9/§12 Glance-flavoured output: it stages
// overlays to a local scratch directory with qemu-img as usual, then
// uploads the finished disk to an OpenStack image service and tags it
// with the hw_* properties that make the image bootable as KVM/HVM.
// Grounded on mantle's platform/api/openstack.API.UploadImage, the one
// place in the corpus that drives this exact images/imagedata pair.
type ImageServicePlugin struct {
	Client     *gophercloud.ServiceClient
	ScratchDir string
	Format     string
	MinRAMMiB  int
	RunnerRef  procutil.Runner

	imageIDs map[int]string
}

func (p *ImageServicePlugin) AsOptions() string { return "imageservice:" + p.Client.Endpoint }

func (p *ImageServicePlugin) SupportedFirmware() []source.Firmware {
	return []source.Firmware{source.FirmwareBIOS, source.FirmwareUEFI}
}

func (p *ImageServicePlugin) InstallRhevApt() bool   { return false }
func (p *ImageServicePlugin) KeepSerialConsole() bool { return true }

func (p *ImageServicePlugin) Precheck() error {
	pager := images.List(p.Client, images.ListOpts{Limit: 1})
	if err := pager.Err; err != nil {
		return verrors.New(verrors.OutputError, "output.ImageServicePlugin: precheck", err)
	}
	return nil
}

func (p *ImageServicePlugin) PrepareTargets(src *source.Source, overlays []*source.Overlay, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) ([]*source.Target, error) {
	format := formatOrDefault(p.Format)
	targets := make([]*source.Target, len(overlays))
	for i, ov := range overlays {
		ext := ".qcow2"
		if format == "raw" {
			ext = ".img"
		}
		targets[i] = &source.Target{
			Location: fmt.Sprintf("%s/%s-sd%d%s", p.ScratchDir, src.Name, i, ext),
			Format:   format,
			Overlay:  ov,
		}
	}
	return targets, nil
}

func (p *ImageServicePlugin) CheckTargetFirmware(caps source.Capabilities, firmware source.Firmware) error {
	return nil
}

func (p *ImageServicePlugin) DiskCreate(params copyengine.DiskCreateParams) error {
	return qemuImgCreate(p.RunnerRef, params)
}

// CreateMetadata uploads each staged disk as a separate Glance image,
// named <vm>-sd<N>, tagged with the hw_* and os_* properties §12
// requires for the image to boot correctly as a KVM/HVM guest.
func (p *ImageServicePlugin) CreateMetadata(src *source.Source, targets []*source.Target, buses *source.BusPlan, caps source.Capabilities, insp *inspect.Result, firmware source.Firmware) error {
	p.imageIDs = make(map[int]string, len(targets))

	for i, t := range targets {
		if t.Overlay == nil {
			continue
		}
		props := map[string]string{
			"hw_disk_bus":     string(caps.BlockBus),
			"hw_vif_model":    nicModelName(src),
			"hw_machine_type": string(caps.Machine),
			"os_type":         osType(insp),
			"os_distro":       osDistro(insp),
			"architecture":    insp.Arch,
			"hypervisor_type": "kvm",
			"vm_mode":         "hvm",
		}
		if caps.VirtioRNG {
			props["hw_rng_model"] = "virtio"
		}
		if firmware == source.FirmwareUEFI {
			props["hw_firmware_type"] = "uefi"
		}
		if insp != nil && insp.ProductName != "" {
			props["os_version"] = insp.ProductName
		}

		diskFormat := "qcow2"
		if t.Format == "raw" {
			diskFormat = "raw"
		}

		image, err := images.Create(p.Client, images.CreateOpts{
			Name:            fmt.Sprintf("%s-sd%d", src.Name, i),
			ContainerFormat: "bare",
			DiskFormat:      diskFormat,
			Tags:            []string{"virt2kvm"},
			MinRAM:          p.MinRAMMiB,
			Properties:      props,
		}).Extract()
		if err != nil {
			return verrors.New(verrors.OutputError, "output.ImageServicePlugin: creating image", err)
		}

		data, err := os.Open(t.Location)
		if err != nil {
			p.rollback(image.ID)
			return verrors.New(verrors.OutputError, "output.ImageServicePlugin: opening "+t.Location, err)
		}
		err = imagedata.Upload(p.Client, image.ID, data).ExtractErr()
		data.Close()
		if err != nil {
			p.rollback(image.ID)
			return verrors.New(verrors.OutputError, "output.ImageServicePlugin: uploading image data", err)
		}

		p.imageIDs[t.Overlay.SourceDisk] = image.ID
	}
	return nil
}

func (p *ImageServicePlugin) rollback(imageID string) {
	_ = images.Delete(p.Client, imageID).ExtractErr()
}

func nicModelName(src *source.Source) string {
	if len(src.NICs) == 0 {
		return "virtio"
	}
	switch src.NICs[0].Model {
	case source.NICE1000:
		return "e1000"
	case source.NICRTL:
		return "rtl8139"
	default:
		return "virtio"
	}
}

func osType(insp *inspect.Result) string {
	if insp != nil && insp.Windows != nil {
		return "windows"
	}
	return "linux"
}

func osDistro(insp *inspect.Result) string {
	if insp == nil {
		return ""
	}
	if insp.Windows != nil {
		return "windows"
	}
	return insp.PkgFormat
}
