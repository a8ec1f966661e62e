package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/virtconv/virt2kvm/internal/copyengine"
	"github.com/virtconv/virt2kvm/internal/ovfdoc"
	"github.com/virtconv/virt2kvm/internal/procutil"
	"github.com/virtconv/virt2kvm/internal/source"
)

func newVDSMFixture(t *testing.T) (*VDSMPlugin, string) {
	t.Helper()
	mount := t.TempDir()
	sd := "11111111-1111-1111-1111-111111111111"
	if err := os.MkdirAll(filepath.Join(mount, sd, "images"), 0755); err != nil {
		t.Fatal(err)
	}
	return &VDSMPlugin{
		Layout:    ovfdoc.Layout{MountPoint: mount, SDUUID: sd},
		VMUUID:    "22222222-2222-2222-2222-222222222222",
		OSToken:   "RHEL_9x64",
		RunnerRef: procutil.NewFakeRunner(),
	}, mount
}

func TestVDSMPluginPrecheckRequiresDir(t *testing.T) {
	p := &VDSMPlugin{Layout: ovfdoc.Layout{MountPoint: filepath.Join(t.TempDir(), "missing")}}
	if err := p.Precheck(); err == nil {
		t.Fatal("expected error for missing mount point")
	}
}

func TestVDSMPluginPrepareTargetsAssignsUUIDPaths(t *testing.T) {
	p, mount := newVDSMFixture(t)
	src := &source.Source{Name: "web1"}
	overlays := []*source.Overlay{
		{SourceDisk: 0, VirtSizeB: 10 << 30},
		{SourceDisk: 1, VirtSizeB: 20 << 30},
	}
	targets, err := p.PrepareTargets(src, overlays, nil, source.Capabilities{}, nil, source.FirmwareBIOS)
	if err != nil {
		t.Fatalf("PrepareTargets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	for i, target := range targets {
		if !strings.HasPrefix(target.Location, filepath.Join(mount, p.Layout.SDUUID, "images")) {
			t.Errorf("target %d location %q not under images dir", i, target.Location)
		}
		ids, ok := p.diskUUIDs[overlays[i].SourceDisk]
		if !ok {
			t.Fatalf("no uuid recorded for disk %d", overlays[i].SourceDisk)
		}
		if !strings.HasSuffix(target.Location, ids.vol) {
			t.Errorf("target location %q does not end in volume uuid %q", target.Location, ids.vol)
		}
	}
}

func TestVDSMPluginCheckTargetFirmwareRejectsUEFI(t *testing.T) {
	p, _ := newVDSMFixture(t)
	if err := p.CheckTargetFirmware(source.Capabilities{}, source.FirmwareUEFI); err == nil {
		t.Fatal("expected UEFI to be rejected")
	}
	if err := p.CheckTargetFirmware(source.Capabilities{}, source.FirmwareBIOS); err != nil {
		t.Errorf("BIOS should be accepted: %v", err)
	}
}

func TestVDSMPluginDiskCreateWritesMeta(t *testing.T) {
	p, _ := newVDSMFixture(t)
	src := &source.Source{Name: "web1"}
	overlays := []*source.Overlay{{SourceDisk: 0, VirtSizeB: 5 << 30}}
	targets, err := p.PrepareTargets(src, overlays, nil, source.Capabilities{}, nil, source.FirmwareBIOS)
	if err != nil {
		t.Fatalf("PrepareTargets: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(targets[0].Location), 0755); err != nil {
		t.Fatal(err)
	}
	params := copyengine.DiskCreateParams{
		Path: targets[0].Location, Format: "raw", Size: 5 << 30, Preallocation: "falloc",
	}
	if err := p.DiskCreate(params); err != nil {
		t.Fatalf("DiskCreate: %v", err)
	}

	metaPath := targets[0].Location + ".meta"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("reading .meta: %v", err)
	}
	if !strings.Contains(string(data), "FORMAT=RAW") {
		t.Errorf(".meta missing FORMAT=RAW:\n%s", data)
	}
	if !strings.Contains(string(data), "TYPE=PREALLOCATED") {
		t.Errorf(".meta missing TYPE=PREALLOCATED for falloc preallocation:\n%s", data)
	}
}

func TestVDSMPluginCreateMetadataWritesOVF(t *testing.T) {
	p, mount := newVDSMFixture(t)
	src := &source.Source{Name: "web1", MemoryBytes: 2 << 30, VCPUs: 2, Hypervisor: source.HypervisorVMware}
	overlays := []*source.Overlay{{SourceDisk: 0, VirtSizeB: 10 << 30}}
	targets, err := p.PrepareTargets(src, overlays, nil, source.Capabilities{}, nil, source.FirmwareBIOS)
	if err != nil {
		t.Fatalf("PrepareTargets: %v", err)
	}
	if err := p.CreateMetadata(src, targets, nil, source.Capabilities{}, nil, source.FirmwareBIOS); err != nil {
		t.Fatalf("CreateMetadata: %v", err)
	}
	ovfPath := filepath.Join(mount, p.Layout.SDUUID, "master", "vms", p.VMUUID, p.VMUUID+".ovf")
	data, err := os.ReadFile(ovfPath)
	if err != nil {
		t.Fatalf("reading OVF: %v", err)
	}
	if !strings.Contains(string(data), "web1") {
		t.Errorf("OVF missing guest name:\n%s", data)
	}
}
