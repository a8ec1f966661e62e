package source

import "fmt"

// Overlay is the local qcow2 working copy for one source disk (§3 "Overlay").
type Overlay struct {
	Path       string // local qcow2 file path
	Letter     string // sandbox device letter: "sda", "sdb", ...
	VirtSizeB  uint64
	SourceDisk int // Disk.ID this overlay was built from
	HasBacking bool
}

// Target is the destination for one converted disk (§3 "Target").
type Target struct {
	Location      string // filesystem path or opaque URI
	Format        string // "raw" or "qcow2"
	EstimatedSize uint64
	HasEstimate   bool
	ActualSize    uint64
	HasActual     bool
	Overlay       *Overlay
	DeleteOnExit  bool
}

// Validate checks the overlay's source id exists in src and that the
// overlay itself has a backing file, per §3's invariants and §8's
// "overlay integrity" property.
func (t *Target) Validate(src *Source) error {
	if t.Overlay == nil {
		return fmt.Errorf("target %q: no overlay", t.Location)
	}
	if !t.Overlay.HasBacking {
		return fmt.Errorf("target %q: overlay has no backing file", t.Location)
	}
	if _, ok := src.DiskByID(t.Overlay.SourceDisk); !ok {
		return fmt.Errorf("target %q: overlay source disk %d not in source.disks", t.Location, t.Overlay.SourceDisk)
	}
	return nil
}

// BlockBus is the post-conversion storage controller a guest capability
// set can report.
type BlockBus string

const (
	BlockVirtioBlk  BlockBus = "virtio-blk"
	BlockVirtioSCSI BlockBus = "virtio-scsi"
	BlockIDE        BlockBus = "ide"
)

// NetBus is the post-conversion network controller.
type NetBus string

const (
	NetVirtio NetBus = "virtio-net"
	NetE1000  NetBus = "e1000"
	NetRTL    NetBus = "rtl8139"
)

// MachineType is the target QEMU machine type.
type MachineType string

const (
	MachineI440FX MachineType = "i440fx"
	MachineQ35    MachineType = "q35"
	MachineVirt   MachineType = "virt"
)

// Capabilities is what the converter determined the converted guest can
// use, post-conversion (§3 "Guest capabilities").
type Capabilities struct {
	BlockBus      BlockBus
	NetBus        NetBus
	Video         VideoModel
	VirtioRNG     bool
	VirtioBalloon bool
	ISAPVPanic    bool
	ACPI          bool
	Arch          string
	Machine       MachineType
}

// ApplySecureBoot enforces the §3 invariant: UEFI secure-boot-required
// forces machine=q35 and an smm feature.
func ApplySecureBoot(caps *Capabilities, features []string) []string {
	caps.Machine = MachineQ35
	for _, f := range features {
		if f == "smm" {
			return features
		}
	}
	return append(features, "smm")
}

// BusSlotKind distinguishes an empty slot from an occupied one.
type BusSlotKind int

const (
	SlotEmpty BusSlotKind = iota
	SlotDisk
	SlotRemovable
)

// BusSlot is one entry in a Target bus plan slot array.
type BusSlot struct {
	Kind          BusSlotKind
	DiskID        int
	RemovableKind RemovableKind
	RemovableOpts string
}

// BusPlan is the four ordered slot arrays the converter fills and the
// output plugin consumes (§3 "Target bus plan").
type BusPlan struct {
	VirtioBlk []BusSlot
	IDE       []BusSlot
	SCSI      []BusSlot
	Floppy    []BusSlot
}

func (p *BusPlan) all() [][]BusSlot {
	return [][]BusSlot{p.VirtioBlk, p.IDE, p.SCSI, p.Floppy}
}

// Validate checks §8's bus-slot disjointness property: every source disk
// id appears in exactly one Disk slot across all four arrays.
func (p *BusPlan) Validate(src *Source) error {
	seen := make(map[int]bool)
	for _, arr := range p.all() {
		for _, slot := range arr {
			if slot.Kind != SlotDisk {
				continue
			}
			if seen[slot.DiskID] {
				return fmt.Errorf("busplan: disk %d assigned to more than one slot", slot.DiskID)
			}
			seen[slot.DiskID] = true
		}
	}
	for _, d := range src.Disks {
		if !seen[d.ID] {
			return fmt.Errorf("busplan: disk %d not assigned to any slot", d.ID)
		}
	}
	return nil
}
