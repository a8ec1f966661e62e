package libvirtxml

import (
	"encoding/xml"

	"github.com/pkg/errors"

	"github.com/virtconv/virt2kvm/internal/source"
)

type renderDomain struct {
	XMLName  xml.Name        `xml:"domain"`
	Type     string          `xml:"type,attr"`
	Name     string          `xml:"name"`
	Memory   renderUnit      `xml:"memory"`
	VCPU     int             `xml:"vcpu"`
	OS       renderOS        `xml:"os"`
	Features *renderFeatures `xml:"features"`
	Devices  renderDevices   `xml:"devices"`
}

type renderUnit struct {
	Unit  string `xml:"unit,attr"`
	Value uint64 `xml:",chardata"`
}

type renderOS struct {
	Type   renderOSType  `xml:"type"`
	Loader *renderLoader `xml:"loader,omitempty"`
	NVRAM  *renderNVRAM  `xml:"nvram,omitempty"`
}

type renderOSType struct {
	Arch    string `xml:"arch,attr"`
	Machine string `xml:"machine,attr"`
	Value   string `xml:",chardata"`
}

type renderLoader struct {
	Readonly string `xml:"readonly,attr"`
	Type     string `xml:"type,attr"`
	Path     string `xml:",chardata"`
}

type renderNVRAM struct {
	Template string `xml:"template,attr"`
}

type renderFeatures struct {
	ACPI *struct{} `xml:"acpi,omitempty"`
	APIC *struct{} `xml:"apic,omitempty"`
	PAE  *struct{} `xml:"pae,omitempty"`
	SMM  *struct{} `xml:"smm,omitempty"`
}

type renderDevices struct {
	Disk      []renderDisk      `xml:"disk"`
	Interface []renderInterface `xml:"interface"`
	Graphics  renderGraphics    `xml:"graphics"`
	Video     renderVideo       `xml:"video"`
}

type renderDisk struct {
	Type   string `xml:"type,attr"`
	Device string `xml:"device,attr"`
	Source struct {
		File string `xml:"file,attr"`
	} `xml:"source"`
	Target struct {
		Dev string `xml:"dev,attr"`
		Bus string `xml:"bus,attr"`
	} `xml:"target"`
}

type renderInterface struct {
	Type  string `xml:"type,attr"`
	MAC   *struct {
		Address string `xml:"address,attr"`
	} `xml:"mac,omitempty"`
	Source struct {
		Network string `xml:"network,attr,omitempty"`
		Bridge  string `xml:"bridge,attr,omitempty"`
	} `xml:"source"`
	Model struct {
		Type string `xml:"type,attr"`
	} `xml:"model"`
}

type renderGraphics struct {
	Type string `xml:"type,attr"`
}

type renderVideo struct {
	Model struct {
		Type string `xml:"type,attr"`
	} `xml:"model"`
}

// RenderInput is everything Render needs beyond the Source record: the
// finalised bus plan, capabilities, and per-disk target locations.
type RenderInput struct {
	Src    *source.Source
	Caps   source.Capabilities
	Plan   *source.BusPlan
	Disks  map[int]string // disk id -> emitted <source file=...>
}

// busPrefix maps a BlockBus to the device-name prefix §6.4 specifies.
func busPrefix(bus source.ControllerHint) string {
	switch bus {
	case source.ControllerVirtioBlk, source.ControllerVirtioSCSI:
		return "vd"
	case source.ControllerSCSI:
		return "sd"
	case source.ControllerIDE, source.ControllerSATA:
		return "hd"
	default:
		return "sd"
	}
}

func busName(bus source.ControllerHint) string {
	switch bus {
	case source.ControllerVirtioBlk, source.ControllerVirtioSCSI:
		return "virtio"
	case source.ControllerSCSI:
		return "scsi"
	case source.ControllerIDE, source.ControllerSATA:
		return "ide"
	default:
		return "fdc"
	}
}

// Render emits a libvirt domain document for the converted guest, per §6.4.
func Render(in RenderInput) ([]byte, error) {
	s := in.Src
	machine := string(in.Caps.Machine)

	dom := renderDomain{
		Type:   "kvm",
		Name:   s.Name,
		Memory: renderUnit{Unit: "KiB", Value: s.MemoryBytes / 1024},
		VCPU:   s.VCPUs,
		OS: renderOS{
			Type: renderOSType{Arch: in.Caps.Arch, Machine: machine + "hvm", Value: "hvm"},
		},
	}

	if s.Firmware == source.FirmwareUEFI {
		dom.OS.Loader = &renderLoader{Readonly: "yes", Type: "pflash", Path: "/usr/share/OVMF/OVMF_CODE.fd"}
		dom.OS.NVRAM = &renderNVRAM{Template: "/usr/share/OVMF/OVMF_VARS.fd"}
	}

	// arm's "virt" machine has neither apic nor pae; everything else does.
	targetSupportsAPICPAE := in.Caps.Machine != source.MachineVirt

	feat := &renderFeatures{}
	wantACPI := in.Caps.ACPI
	wantAPIC := targetSupportsAPICPAE
	wantPAE := targetSupportsAPICPAE
	if wantACPI {
		feat.ACPI = &struct{}{}
	}
	if wantAPIC {
		feat.APIC = &struct{}{}
	}
	if wantPAE {
		feat.PAE = &struct{}{}
	}
	if s.SecureBoot {
		feat.SMM = &struct{}{}
	}
	dom.Features = feat

	for _, arr := range [][]source.BusSlot{in.Plan.VirtioBlk, in.Plan.IDE, in.Plan.SCSI, in.Plan.Floppy} {
		for idx, slot := range arr {
			if slot.Kind != source.SlotDisk {
				continue
			}
			disk, ok := s.DiskByID(slot.DiskID)
			if !ok {
				return nil, errors.Errorf("libvirtxml.Render: bus plan references unknown disk %d", slot.DiskID)
			}
			bus := diskBus(in.Caps.BlockBus, disk.Controller)
			rd := renderDisk{Type: "file", Device: "disk"}
			rd.Source.File = in.Disks[slot.DiskID]
			rd.Target.Bus = busName(bus)
			rd.Target.Dev = busPrefix(bus) + letter(idx)
			dom.Devices.Disk = append(dom.Devices.Disk, rd)
		}
	}

	for _, nic := range s.NICs {
		ri := renderInterface{Type: string(nic.VnetKind)}
		if nic.MAC != "" {
			ri.MAC = &struct {
				Address string `xml:"address,attr"`
			}{Address: nic.MAC}
		}
		switch nic.VnetKind {
		case source.VnetNetwork:
			ri.Source.Network = nic.Vnet
		case source.VnetBridge:
			ri.Source.Bridge = nic.Vnet
		}
		ri.Model.Type = string(in.Caps.NetBus)
		dom.Devices.Interface = append(dom.Devices.Interface, ri)
	}

	dom.Devices.Graphics = renderGraphics{Type: "vnc"}
	dom.Devices.Video.Model.Type = string(in.Caps.Video)

	out, err := xml.MarshalIndent(dom, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "libvirtxml.Render: marshalling domain XML")
	}
	return append([]byte(xml.Header), out...), nil
}

func diskBus(blockBus source.BlockBus, hint source.ControllerHint) source.ControllerHint {
	switch blockBus {
	case source.BlockVirtioBlk:
		return source.ControllerVirtioBlk
	case source.BlockVirtioSCSI:
		return source.ControllerVirtioSCSI
	default:
		return source.ControllerIDE
	}
}

func letter(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return string(rune('a'+i/26-1)) + string(rune('a'+i%26))
}
