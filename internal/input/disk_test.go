package input

import (
	"context"
	"testing"
)

func TestDiskPluginDeclaredFormat(t *testing.T) {
	p := &DiskPlugin{Path: "/tmp/disk.img", Format: "qcow2"}
	src, err := p.Source(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Disks) != 1 || src.Disks[0].Format != "qcow2" {
		t.Fatalf("got %+v", src.Disks)
	}
	if src.Name != "disk" {
		t.Errorf("name = %q, want %q", src.Name, "disk")
	}
	if src.MemoryBytes != defaultGuestMemoryBytes || src.VCPUs != defaultGuestVCPUs {
		t.Errorf("defaults not applied: %+v", src)
	}
}

func TestDiskPluginDetectsFormat(t *testing.T) {
	p := &DiskPlugin{
		Path: "/tmp/disk.img",
		Detector: func(path string) (string, error) {
			return "raw", nil
		},
	}
	src, err := p.Source(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Disks[0].Format != "raw" {
		t.Errorf("got %q", src.Disks[0].Format)
	}
}

func TestDiskPluginNoFormatNoDetector(t *testing.T) {
	p := &DiskPlugin{Path: "/tmp/disk.img"}
	if _, err := p.Source(context.Background()); err == nil {
		t.Fatal("expected error when format undeclared and no detector configured")
	}
}

func TestDiskPluginDetectorUnknown(t *testing.T) {
	p := &DiskPlugin{
		Path:     "/tmp/disk.img",
		Detector: func(path string) (string, error) { return "unknown", nil },
	}
	if _, err := p.Source(context.Background()); err == nil {
		t.Fatal("expected error for undetectable format")
	}
}

func TestDiskDefaultName(t *testing.T) {
	cases := map[string]string{
		"/var/lib/libvirt/images/win7.qcow2": "win7",
		"disk.img":                           "disk",
		"noext":                              "noext",
	}
	for in, want := range cases {
		if got := diskDefaultName(in); got != want {
			t.Errorf("diskDefaultName(%q) = %q, want %q", in, got, want)
		}
	}
}
