// Package source holds the canonical, hypervisor-neutral description of a
// guest that flows through the conversion pipeline: the Source record
// produced by an input plugin, the per-disk Overlay the engine builds on
// top of it, and the Target an output plugin provisions from an Overlay.
//
// The package is pure data: it owns no file handles, spawns no processes,
// and performs no I/O. Every operation here is either a constructor or a
// validation against §3's invariants.
package source

import "fmt"

// Hypervisor tags the system the guest was converted from.
type Hypervisor string

const (
	HypervisorVMware   Hypervisor = "vmware"
	HypervisorXen      Hypervisor = "xen"
	HypervisorQEmu     Hypervisor = "qemu"
	HypervisorKVM      Hypervisor = "kvm"
	HypervisorPhysical Hypervisor = "physical"
	HypervisorHyperV   Hypervisor = "hyperv"
	HypervisorOther    Hypervisor = "other"
)

// Firmware is the guest's boot firmware kind.
type Firmware string

const (
	FirmwareBIOS    Firmware = "bios"
	FirmwareUEFI    Firmware = "uefi"
	FirmwareUnknown Firmware = "unknown"
)

// ControllerHint names the bus a source disk was attached to, when known.
type ControllerHint string

const (
	ControllerIDE        ControllerHint = "ide"
	ControllerSATA       ControllerHint = "sata"
	ControllerSCSI       ControllerHint = "scsi"
	ControllerVirtioBlk  ControllerHint = "virtio-blk"
	ControllerVirtioSCSI ControllerHint = "virtio-scsi"
)

// RemovableKind distinguishes optical from floppy media.
type RemovableKind string

const (
	RemovableCDROM  RemovableKind = "cdrom"
	RemovableFloppy RemovableKind = "floppy"
)

// NICModel is the emulated (or source-reported) network adapter model.
type NICModel string

const (
	NICVirtio NICModel = "virtio-net"
	NICE1000  NICModel = "e1000"
	NICRTL    NICModel = "rtl8139"
	NICOther  NICModel = "other"
)

// VnetKind distinguishes a libvirt network from a plain bridge.
type VnetKind string

const (
	VnetNetwork VnetKind = "network"
	VnetBridge  VnetKind = "bridge"
)

// DisplayType is the graphical console protocol requested by the guest.
type DisplayType string

const (
	DisplayWindow DisplayType = "window"
	DisplayVNC    DisplayType = "vnc"
	DisplaySpice  DisplayType = "spice"
)

// ListenKind is the graphics listen variant (libvirt's <listen> element).
type ListenKind string

const (
	ListenNone    ListenKind = "none"
	ListenAddress ListenKind = "address"
	ListenNetwork ListenKind = "network"
	ListenSocket  ListenKind = "socket"
	ListenNo      ListenKind = "no-listen"
)

// VideoModel is the emulated video device.
type VideoModel string

const (
	VideoQXL    VideoModel = "qxl"
	VideoCirrus VideoModel = "cirrus"
	VideoOther  VideoModel = "other"
)

// SoundModel is the emulated sound device.
type SoundModel string

const (
	SoundAC97     SoundModel = "ac97"
	SoundES1370   SoundModel = "es1370"
	SoundICH6     SoundModel = "ich6"
	SoundICH9     SoundModel = "ich9"
	SoundPCSpeak  SoundModel = "pcspk"
	SoundSB16     SoundModel = "sb16"
	SoundUSBAudio SoundModel = "usb-audio"
)

// CPUTopology is the optional sockets/cores/threads breakdown of vCPUs.
type CPUTopology struct {
	Sockets int
	Cores   int
	Threads int
	Vendor  string
	Model   string
}

// Display describes the graphical console, if the guest has one.
type Display struct {
	Type     DisplayType
	Keymap   string
	Password string
	Listen   ListenKind
	Address  string // set when Listen == ListenAddress
	Network  string // set when Listen == ListenNetwork
	Socket   string // set when Listen == ListenSocket
	Port     int
}

// Disk is one source disk as reported by an input plugin.
type Disk struct {
	ID         int
	URI        string
	Format     string // "raw", "qcow2", "vmdk", ... empty if undeclared
	Controller ControllerHint
}

// Removable is a CD-ROM or floppy slot with no backing image.
type Removable struct {
	Kind       RemovableKind
	Controller ControllerHint
	Slot       int
	HasSlot    bool
}

// zeroMAC is the literal all-zero MAC the spec says must be normalised away.
const zeroMAC = "00:00:00:00:00:00"

// NIC is one network interface.
type NIC struct {
	MAC        string // normalised to "" when all-zero
	Model      NICModel
	Vnet       string // current (possibly remapped) vnet name
	OrigVnet   string // pre-mapping value, preserved for comment emission
	VnetKind   VnetKind
}

// NormalizeMAC clears a literal all-zero MAC address, per §3's invariant.
func NormalizeMAC(mac string) string {
	if mac == zeroMAC {
		return ""
	}
	return mac
}

// Source is the canonical, hypervisor-neutral description of a guest.
type Source struct {
	Name         string
	OrigName     string
	MemoryBytes  uint64
	VCPUs        int
	Topology     *CPUTopology
	GenerationID string
	Firmware     Firmware
	SecureBoot   bool
	Features     []string
	Display      *Display
	Video        VideoModel
	HasVideo     bool
	Sound        SoundModel
	HasSound     bool
	Disks        []Disk
	Removables   []Removable
	NICs         []NIC
	Hypervisor   Hypervisor
}

// Validate checks §3's structural invariants. It does not check
// cross-references into overlays/targets; see Target.Validate for those.
func (s *Source) Validate() error {
	if len(s.Disks) == 0 {
		return fmt.Errorf("source: disks must be non-empty")
	}
	if s.MemoryBytes == 0 {
		return fmt.Errorf("source: memory must be > 0")
	}
	if s.VCPUs < 1 {
		return fmt.Errorf("source: vcpu must be >= 1")
	}
	seen := make(map[int]bool, len(s.Disks))
	for _, d := range s.Disks {
		if d.URI == "" {
			return fmt.Errorf("source: disk %d has empty URI", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("source: duplicate disk id %d", d.ID)
		}
		seen[d.ID] = true
	}
	for i := 0; i < len(s.Disks); i++ {
		if !seen[i] {
			return fmt.Errorf("source: disk ids are not a dense 0..n-1 set (missing %d)", i)
		}
	}
	return nil
}

// DiskByID returns the disk with the given id, or false if absent.
func (s *Source) DiskByID(id int) (Disk, bool) {
	for _, d := range s.Disks {
		if d.ID == id {
			return d, true
		}
	}
	return Disk{}, false
}
