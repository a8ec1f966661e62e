package ovfdoc

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/virtconv/virt2kvm/internal/source"
)

// VmType is §6.3's Desktop/Server VM-type flag.
type VmType int

const (
	VmTypeDesktop VmType = 0
	VmTypeServer  VmType = 1
)

// Origin is the optional hypervisor-origin tag.
type Origin int

const (
	OriginNone     Origin = 0
	OriginVMware   Origin = 1
	OriginXen      Origin = 2
	OriginQEMUKVM  Origin = 7
	OriginPhysical Origin = 8
	OriginHyperV   Origin = 9
)

func OriginFromHypervisor(hv source.Hypervisor) Origin {
	switch hv {
	case source.HypervisorVMware:
		return OriginVMware
	case source.HypervisorXen:
		return OriginXen
	case source.HypervisorQEmu, source.HypervisorKVM:
		return OriginQEMUKVM
	case source.HypervisorPhysical:
		return OriginPhysical
	case source.HypervisorHyperV:
		return OriginHyperV
	default:
		return OriginNone // "Other" carries no Origin element (§13 open-question decision)
	}
}

// DiskEntry is one disk's VDSM placement plus size, rounded up to whole
// GiB per §6.3.
type DiskEntry struct {
	DiskID        int
	ImageUUID     string
	VolUUID       string
	SizeGiB       uint64
	ActualSizeGiB uint64
	HasActual     bool
}

// NICEntry is one NIC for the VirtualHardwareSection's ResourceType 10 item.
type NICEntry struct {
	Model source.NICModel
}

func nicResourceSubType(m source.NICModel) int {
	switch m {
	case source.NICRTL:
		return 1
	case source.NICE1000:
		return 2
	default:
		return 3 // virtio
	}
}

// BuildParams is everything Build needs to render one OVF document.
type BuildParams struct {
	Src         *source.Source
	VMUUID      string
	SDUUID      string
	VmType      VmType
	Origin      Origin
	OSToken     string // fixed-set OS token from the inspection tables
	CreationUTC string // "YYYY/MM/DD HH:MM:SS", caller-supplied (no time.Now in this package)
	VmSnapshotID string
	Disks       []DiskEntry
	NICs        []NICEntry
	SoundDevice string // "ac97" or "ich6"; empty if no sound

	// ClusterUUID is RHV's target-cluster hint, set via -oo
	// rhv-cluster-uuid. Omitted from the document when empty.
	ClusterUUID string
}

type ovfEnvelope struct {
	XMLName   xml.Name `xml:"ovf:Envelope"`
	XMLNSOvf  string   `xml:"xmlns:ovf,attr"`
	XMLNSRasd string   `xml:"xmlns:rasd,attr"`
	XMLNSVssd string   `xml:"xmlns:vssd,attr"`
	XMLNSXsi  string   `xml:"xmlns:xsi,attr"`
	Version   string   `xml:"ovf:version,attr"`

	References    struct{}      `xml:"References"`
	DiskSection   ovfDiskSec    `xml:"DiskSection"`
	NetworkSection ovfNetSec    `xml:"NetworkSection"`
	Content       ovfContent    `xml:"Content"`
}

type ovfDiskSec struct {
	Disks []ovfDisk `xml:"Disk"`
}

type ovfDisk struct {
	DiskId          string `xml:"ovf:diskId,attr"`
	Capacity        string `xml:"ovf:capacity,attr"`
	PopulatedSize   string `xml:"ovf:populatedSize,attr,omitempty"`
	FileRef         string `xml:"ovf:fileRef,attr"`
}

type ovfNetSec struct {
	XMLName xml.Name `xml:"NetworkSection"`
}

type ovfContent struct {
	XsiType      string `xml:"xsi:type,attr"`
	Name         string `xml:"Name"`
	TemplateId   string `xml:"TemplateId"`
	TemplateName string `xml:"TemplateName"`
	CreationDate string `xml:"CreationDate"`
	VmType       int    `xml:"VmType"`
	DefaultDisplayType int `xml:"DefaultDisplayType"`
	Origin       *int   `xml:"Origin,omitempty"`
	VmSnapshotId string `xml:"vm_snapshot_id"`
	ClusterId    string `xml:"ClusterId,omitempty"`
	OperatingSystemSection ovfOSSec `xml:"OperatingSystemSection"`
	VirtualHardwareSection ovfHWSec `xml:"VirtualHardwareSection"`
}

type ovfOSSec struct {
	Description string `xml:"Description"`
}

type ovfHWSec struct {
	Items []ovfItem `xml:"Item"`
}

type ovfItem struct {
	ResourceType    int    `xml:"rasd:ResourceType"`
	ResourceSubType string `xml:"rasd:ResourceSubType,omitempty"`
	VirtualQuantity string `xml:"rasd:VirtualQuantity,omitempty"`
	Device          string `xml:"rasd:Caption,omitempty"`
	HostResource    string `xml:"rasd:HostResource,omitempty"`
	Parent          string `xml:"rasd:Parent,omitempty"`
	StorageId       string `xml:"rasd:StorageId,omitempty"`
	AutomaticAllocation string `xml:"rasd:AutomaticAllocation,omitempty"`
	Comment         string `xml:",comment"`
}

// Build renders the §6.3 OVF 0.9 document for the converted guest.
func Build(p BuildParams) ([]byte, error) {
	env := ovfEnvelope{
		XMLNSOvf: "http://schemas.dmtf.org/ovf/envelope/1",
		XMLNSRasd: "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_ResourceAllocationSettingData",
		XMLNSVssd: "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_VirtualSystemSettingData",
		XMLNSXsi:  "http://www.w3.org/2001/XMLSchema-instance",
		Version:   "0.9",
	}

	for _, d := range p.Disks {
		env.DiskSection.Disks = append(env.DiskSection.Disks, ovfDisk{
			DiskId:        d.VolUUID,
			Capacity:      fmt.Sprintf("%d", d.SizeGiB),
			FileRef:       d.ImageUUID + "/" + d.VolUUID,
		})
	}

	content := ovfContent{
		XsiType:            "ovf:VirtualSystem_Type",
		Name:               p.Src.Name,
		TemplateId:         zeroUUID,
		TemplateName:       "Blank",
		CreationDate:       p.CreationUTC,
		VmType:             int(p.VmType),
		DefaultDisplayType: 1,
		VmSnapshotId:       p.VmSnapshotID,
		ClusterId:          p.ClusterUUID,
		OperatingSystemSection: ovfOSSec{Description: p.OSToken},
	}
	if p.Origin != OriginNone {
		o := int(p.Origin)
		content.Origin = &o
	}

	items := []ovfItem{
		{ResourceType: 3, VirtualQuantity: fmt.Sprintf("%d", p.Src.VCPUs)},
		{ResourceType: 4, VirtualQuantity: fmt.Sprintf("%d", p.Src.MemoryBytes/1024/1024)},
		{ResourceType: 23, AutomaticAllocation: "false"},
		{ResourceType: 20, Device: "qxl"},
	}
	for _, d := range p.Disks {
		item := ovfItem{
			ResourceType: 17,
			HostResource: fmt.Sprintf("%s/%s", d.ImageUUID, d.VolUUID),
			Parent:       zeroUUID,
			StorageId:    p.SDUUID,
		}
		if !d.HasActual {
			item.Comment = "actual_size estimated"
		}
		items = append(items, item)
	}
	for _, n := range p.NICs {
		items = append(items, ovfItem{ResourceType: 10, ResourceSubType: fmt.Sprintf("%d", nicResourceSubType(n.Model))})
	}
	if p.SoundDevice != "" {
		items = append(items, ovfItem{ResourceType: 0, Device: p.SoundDevice})
	}
	content.VirtualHardwareSection.Items = items
	env.Content = content

	out, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(out)
	return buf.Bytes(), nil
}
