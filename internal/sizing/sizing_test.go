package sizing

import (
	"testing"

	"github.com/virtconv/virt2kvm/internal/source"
)

func TestCheckFreeSpaceRootFails(t *testing.T) {
	stats := []Stat{
		{Mountpoint: "/", BlockSize: 4096, Blocks: 1000000, BFree: 10, BAvail: 10}, // way under 20MB avail
	}
	if err := CheckFreeSpace(stats); err == nil {
		t.Fatal("expected error for low free space on /")
	}
}

func TestCheckFreeSpaceIgnoresTinyFS(t *testing.T) {
	stats := []Stat{
		{Mountpoint: "/boot/efi", BlockSize: 512, Blocks: 100, BFree: 1, BAvail: 1}, // total < 100MB, ignored
	}
	if err := CheckFreeSpace(stats); err != nil {
		t.Fatalf("expected tiny filesystem to be ignored, got %v", err)
	}
}

func TestCheckFreeSpaceOK(t *testing.T) {
	gb := uint64(1024 * 1024 * 1024)
	stats := []Stat{
		{Mountpoint: "/", BlockSize: 1, Blocks: gb, BFree: gb, BAvail: gb},
		{Mountpoint: "/boot", BlockSize: 1, Blocks: gb, BFree: gb, BAvail: gb},
	}
	if err := CheckFreeSpace(stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEstimateZeroVirtualSize(t *testing.T) {
	est := Estimate(nil, nil)
	if len(est) != 0 {
		t.Errorf("expected empty estimate map, got %v", est)
	}
}

func TestEstimate(t *testing.T) {
	overlays := []*source.Overlay{
		{SourceDisk: 0, VirtSizeB: 1000},
	}
	stats := []Stat{
		{FSType: "ext4", BlockSize: 1, Blocks: 800, BFree: 400},
	}
	est := Estimate(overlays, stats)
	// ratio = 800/1000 = 0.8, freeable = 400, share = 1000/1000*400*0.8=320
	// est = 1000 - 320 = 680
	if est[0] != 680 {
		t.Errorf("got %d, want 680", est[0])
	}
}

func TestEstimateNTFSContributesZero(t *testing.T) {
	overlays := []*source.Overlay{{SourceDisk: 0, VirtSizeB: 1000}}
	stats := []Stat{{FSType: "ntfs", BlockSize: 1, Blocks: 800, BFree: 400}}
	est := Estimate(overlays, stats)
	// freeable = 0 since ntfs doesn't count, so est == virtual size.
	if est[0] != 1000 {
		t.Errorf("got %d, want 1000", est[0])
	}
}

func TestApplyEstimates(t *testing.T) {
	ov := &source.Overlay{SourceDisk: 0}
	tgt := &source.Target{Overlay: ov}
	ApplyEstimates([]*source.Target{tgt}, map[int]uint64{0: 42})
	if !tgt.HasEstimate || tgt.EstimatedSize != 42 {
		t.Errorf("got %+v", tgt)
	}
}
