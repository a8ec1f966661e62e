package controller

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/source"
)

func TestBuildBusPlanFollowsAchievedBlockBus(t *testing.T) {
	src := &source.Source{Disks: []source.Disk{{ID: 1}, {ID: 2}}}
	caps := source.Capabilities{BlockBus: source.BlockVirtioSCSI}

	plan := BuildBusPlan(src, caps)
	if len(plan.SCSI) != 2 || len(plan.IDE) != 0 || len(plan.VirtioBlk) != 0 {
		t.Errorf("got %+v", plan)
	}
	if err := plan.Validate(src); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestBuildBusPlanHonorsExplicitControllerHint(t *testing.T) {
	src := &source.Source{Disks: []source.Disk{
		{ID: 1, Controller: source.ControllerIDE},
		{ID: 2},
	}}
	caps := source.Capabilities{BlockBus: source.BlockVirtioBlk}

	plan := BuildBusPlan(src, caps)
	if len(plan.IDE) != 1 || plan.IDE[0].DiskID != 1 {
		t.Errorf("expected disk 1 pinned to IDE, got %+v", plan.IDE)
	}
	if len(plan.VirtioBlk) != 1 || plan.VirtioBlk[0].DiskID != 2 {
		t.Errorf("expected disk 2 on virtio-blk, got %+v", plan.VirtioBlk)
	}
}

func TestBuildBusPlanDefaultsToIDEWithoutVirtioBus(t *testing.T) {
	src := &source.Source{Disks: []source.Disk{{ID: 1}}}
	caps := source.Capabilities{BlockBus: source.BlockIDE}

	plan := BuildBusPlan(src, caps)
	if len(plan.IDE) != 1 {
		t.Errorf("expected disk on IDE, got %+v", plan)
	}
}

func TestBuildBusPlanRemovables(t *testing.T) {
	src := &source.Source{Removables: []source.Removable{
		{Kind: source.RemovableCDROM},
		{Kind: source.RemovableFloppy},
	}}
	caps := source.Capabilities{BlockBus: source.BlockVirtioSCSI}

	plan := BuildBusPlan(src, caps)
	if len(plan.IDE) != 1 || plan.IDE[0].Kind != source.SlotRemovable || plan.IDE[0].RemovableKind != source.RemovableCDROM {
		t.Errorf("expected CD-ROM on IDE, got %+v", plan.IDE)
	}
	if len(plan.Floppy) != 1 || plan.Floppy[0].RemovableKind != source.RemovableFloppy {
		t.Errorf("expected floppy in its own array, got %+v", plan.Floppy)
	}
}
