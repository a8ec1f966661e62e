// Package controller drives the conversion pipeline end to end: input
// source, overlay creation, sandbox inspection, guest conversion, copy to
// target, and metadata emission, with an at-exit cleanup stack that runs
// best-effort on any failure (§2, §5).
package controller

import (
	"github.com/virtconv/virt2kvm/internal/source"
)

// BuildBusPlan assigns every source disk and removable to one of the four
// bus-slot arrays according to the capabilities the converter reported,
// satisfying §8's bus-slot disjointness invariant.
//
// Disks keep the controller hint they arrived with when it already
// matches the achieved block bus (so a disk explicitly on IDE stays on
// IDE even when the guest otherwise got virtio-blk); everything else goes
// on the achieved block bus. Removables always land on IDE, except
// floppies, which get their own array.
func BuildBusPlan(src *source.Source, caps source.Capabilities) *source.BusPlan {
	plan := &source.BusPlan{}

	for _, d := range src.Disks {
		slot := source.BusSlot{Kind: source.SlotDisk, DiskID: d.ID}
		switch {
		case d.Controller == source.ControllerIDE || d.Controller == source.ControllerSATA:
			plan.IDE = append(plan.IDE, slot)
		case caps.BlockBus == source.BlockVirtioSCSI:
			plan.SCSI = append(plan.SCSI, slot)
		case caps.BlockBus == source.BlockVirtioBlk:
			plan.VirtioBlk = append(plan.VirtioBlk, slot)
		default:
			plan.IDE = append(plan.IDE, slot)
		}
	}

	for _, r := range src.Removables {
		slot := source.BusSlot{Kind: source.SlotRemovable, RemovableKind: r.Kind}
		if r.Kind == source.RemovableFloppy {
			plan.Floppy = append(plan.Floppy, slot)
		} else {
			plan.IDE = append(plan.IDE, slot)
		}
	}

	return plan
}
